package econsult

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/econsult/econsult/internal/platform/auth"
)

const exportSheet = "Consults"

var exportHeaders = []string{
	"Consult ID", "Submitted", "Patient", "Age", "Condition", "Status",
	"Urgent", "Age (days)", "Referring Physician", "Next Step", "Responded",
}

var exportWidths = []float64{38, 18, 10, 6, 14, 14, 8, 10, 26, 34, 18}

// Export renders the admin view as an XLSX workbook.
func (s *Service) Export(ctx context.Context, sess *auth.Session) ([]byte, error) {
	rows, err := s.AdminConsults(ctx, sess, ListQuery{Sort: SortByDate, Desc: true})
	if err != nil {
		return nil, err
	}
	return buildWorkbook(rows)
}

func buildWorkbook(rows []AdminRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	urgentStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#B00020"},
	})
	if err != nil {
		return nil, fmt.Errorf("create urgent style: %w", err)
	}

	for col, header := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}
	for i, w := range exportWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, col, col, w); err != nil {
			return nil, err
		}
	}

	for i, r := range rows {
		line := i + 2
		values := exportValues(r)
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, line)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, err
			}
		}
		if r.Urgent {
			first, _ := excelize.CoordinatesToCellName(1, line)
			last, _ := excelize.CoordinatesToCellName(len(exportHeaders), line)
			if err := f.SetCellStyle(exportSheet, first, last, urgentStyle); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func exportValues(r AdminRow) []interface{} {
	nextStep, responded := "", ""
	if r.NextStep != nil {
		nextStep = r.NextStep.Label()
	}
	if r.RespondedAt != nil {
		responded = r.RespondedAt.Format("2006-01-02 15:04")
	}
	urgent := "No"
	if r.Urgent {
		urgent = "Yes"
	}
	return []interface{}{
		r.ID.String(),
		r.CreatedAt.Format("2006-01-02 15:04"),
		r.PatientInitials,
		r.PatientAge,
		string(r.Category),
		string(r.Status),
		urgent,
		r.AgeDays,
		r.PhysicianName,
		nextStep,
		responded,
	}
}
