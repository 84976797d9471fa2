package physician

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/econsult/econsult/internal/platform/auth"
)

type mockRepo struct {
	items map[uuid.UUID]*Physician
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Physician)}
}

func (m *mockRepo) Create(_ context.Context, p *Physician) error {
	if _, ok := m.items[p.UserID]; ok {
		return ErrAlreadyRegistered
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.items[p.UserID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Physician, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Physician) error {
	cur, ok := m.items[p.UserID]
	if !ok {
		return ErrNotFound
	}
	cp := *p
	cp.Role, cp.ClinicID = cur.Role, cur.ClinicID
	m.items[p.UserID] = &cp
	return nil
}

func (m *mockRepo) UpdateRole(_ context.Context, id uuid.UUID, role string, clinicID *uuid.UUID) error {
	p, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	p.Role, p.ClinicID = role, clinicID
	return nil
}

func (m *mockRepo) List(_ context.Context, clinicID *uuid.UUID, limit, offset int) ([]*Physician, int, error) {
	var out []*Physician
	for _, p := range m.items {
		if clinicID != nil && (p.ClinicID == nil || *p.ClinicID != *clinicID) {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func physicianSession() *auth.Session {
	return &auth.Session{UserID: uuid.New(), Role: auth.RolePhysician}
}

func TestService_Register(t *testing.T) {
	svc := NewService(newMockRepo())
	sess := physicianSession()

	p, err := svc.Register(context.Background(), sess, Profile{
		FullName: strPtr("Dana Reyes"),
		Email:    strPtr("dana@clinic.example"),
		State:    strPtr("ca"),
		NPI:      strPtr("1234567890"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != auth.RolePhysician {
		t.Errorf("expected physician role, got %s", p.Role)
	}
	if p.State == nil || *p.State != "CA" {
		t.Errorf("expected state CA, got %v", p.State)
	}
	if !p.EmailOnResponse || !p.EmailOnMessage || !p.EmailOnSubmit {
		t.Error("expected notifications on by default")
	}
}

func TestService_Register_Twice(t *testing.T) {
	svc := NewService(newMockRepo())
	sess := physicianSession()
	prof := Profile{FullName: strPtr("Dana Reyes"), Email: strPtr("dana@clinic.example")}
	if _, err := svc.Register(context.Background(), sess, prof); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Register(context.Background(), sess, prof)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestService_Register_Validation(t *testing.T) {
	svc := NewService(newMockRepo())
	tests := []struct {
		name string
		prof Profile
	}{
		{"missing name", Profile{Email: strPtr("a@b.example")}},
		{"missing email", Profile{FullName: strPtr("A")}},
		{"bad email", Profile{FullName: strPtr("A"), Email: strPtr("nope")}},
		{"bad npi", Profile{FullName: strPtr("A"), Email: strPtr("a@b.example"), NPI: strPtr("12ab")}},
		{"bad state", Profile{FullName: strPtr("A"), Email: strPtr("a@b.example"), State: strPtr("Cal")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), physicianSession(), tt.prof); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_UpdateSettings(t *testing.T) {
	svc := NewService(newMockRepo())
	sess := physicianSession()
	svc.Register(context.Background(), sess, Profile{FullName: strPtr("Dana"), Email: strPtr("d@c.example")})

	p, err := svc.UpdateSettings(context.Background(), sess, Profile{Phone: strPtr("555-0100")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Phone == nil || *p.Phone != "555-0100" {
		t.Errorf("expected phone set, got %v", p.Phone)
	}
	if p.FullName != "Dana" {
		t.Errorf("expected name unchanged, got %s", p.FullName)
	}

	if _, err := svc.UpdateSettings(context.Background(), sess, Profile{FullName: strPtr("  ")}); err == nil {
		t.Error("expected error clearing name")
	}
}

func TestService_SetNotificationPrefs(t *testing.T) {
	svc := NewService(newMockRepo())
	sess := physicianSession()
	svc.Register(context.Background(), sess, Profile{FullName: strPtr("Dana"), Email: strPtr("d@c.example")})

	p, err := svc.SetNotificationPrefs(context.Background(), sess, NotificationPrefs{EmailOnMessage: boolPtr(false)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.EmailOnMessage {
		t.Error("expected message e-mails off")
	}
	if !p.EmailOnResponse {
		t.Error("expected response e-mails unchanged")
	}

	p, err = svc.SetNotificationPrefs(context.Background(), sess, NotificationPrefs{EmailOnSubmit: boolPtr(false)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.EmailOnSubmit || !p.EmailOnResponse {
		t.Errorf("expected only submit receipts off, got %+v", p)
	}
}

func TestService_SetRole(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	user := physicianSession()
	svc.Register(context.Background(), user, Profile{FullName: strPtr("Sam"), Email: strPtr("s@c.example")})

	admin := &auth.Session{UserID: uuid.New(), Role: auth.RoleAdmin}
	p, err := svc.SetRole(context.Background(), admin, user.UserID, RoleAssignment{Role: auth.RoleSpecialist})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != auth.RoleSpecialist {
		t.Errorf("expected specialist, got %s", p.Role)
	}
}

func TestService_SetRole_Rules(t *testing.T) {
	svc := NewService(newMockRepo())
	admin := &auth.Session{UserID: uuid.New(), Role: auth.RoleAdmin}

	if _, err := svc.SetRole(context.Background(), physicianSession(), uuid.New(), RoleAssignment{Role: auth.RoleAdmin}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for non-admin, got %v", err)
	}
	if _, err := svc.SetRole(context.Background(), admin, uuid.New(), RoleAssignment{Role: "nurse"}); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := svc.SetRole(context.Background(), admin, admin.UserID, RoleAssignment{Role: auth.RolePhysician}); err == nil {
		t.Error("expected error for self demotion")
	}
	if _, err := svc.SetRole(context.Background(), admin, uuid.New(), RoleAssignment{Role: auth.RoleSpecialist}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_List_ScopedToClinic(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	clinic := uuid.New()
	repo.items[uuid.New()] = &Physician{FullName: "A", ClinicID: &clinic}
	repo.items[uuid.New()] = &Physician{FullName: "B"}

	items, total, err := svc.List(context.Background(), &auth.Session{Role: auth.RoleAdmin, ClinicID: &clinic}, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected 1 in clinic, got %d", total)
	}

	_, total, _ = svc.List(context.Background(), &auth.Session{Role: auth.RoleAdmin}, 50, 0)
	if total != 2 {
		t.Errorf("expected 2 without clinic, got %d", total)
	}
}

func TestPhysician_DisplayName(t *testing.T) {
	p := &Physician{Email: "x@y.example"}
	if p.DisplayName() != "x@y.example" {
		t.Errorf("expected email fallback, got %s", p.DisplayName())
	}
	p.FullName = "Dana Reyes"
	if p.DisplayName() != "Dana Reyes" {
		t.Errorf("expected full name, got %s", p.DisplayName())
	}
}
