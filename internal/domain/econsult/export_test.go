package econsult

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/econsult/econsult/internal/platform/auth"
)

func TestExport_Workbook(t *testing.T) {
	svc, env := newTestService()
	old := env.seed(StatusSubmitted)
	old.CreatedAt = testNow.Add(-9 * 24 * time.Hour)
	old.PhysicianName = "Dana Reyes"
	env.consults.put(old)

	data, err := svc.Export(context.Background(), &auth.Session{UserID: uuid.New(), Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	if rows[0][0] != "Consult ID" {
		t.Errorf("unexpected header %v", rows[0])
	}
	row := rows[1]
	if row[0] != old.ID.String() || row[2] != "JD" {
		t.Errorf("unexpected row %v", row)
	}
	if row[6] != "Yes" || row[7] != "9" {
		t.Errorf("expected urgent at 9 days, got %v", row)
	}
	if row[8] != "Dana Reyes" {
		t.Errorf("expected physician name, got %q", row[8])
	}
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		t.Error("default sheet should be removed")
	}
}

func TestExport_AdminOnly(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Export(context.Background(), specialistSession()); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
