package physician

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/econsult/econsult/internal/platform/auth"
)

var ErrForbidden = errors.New("only administrators may change roles")

var (
	npiPattern   = regexp.MustCompile(`^\d{10}$`)
	statePattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByID(ctx context.Context, userID uuid.UUID) (*Physician, error) {
	return s.repo.GetByID(ctx, userID)
}

// Register creates the caller's own profile. Self-registration always yields
// a referring physician; other roles are granted by an administrator.
func (s *Service) Register(ctx context.Context, sess *auth.Session, prof Profile) (*Physician, error) {
	p := &Physician{
		UserID:          sess.UserID,
		Role:            auth.RolePhysician,
		ClinicID:        sess.ClinicID,
		EmailOnResponse: true,
		EmailOnMessage:  true,
		EmailOnSubmit:   true,
	}
	if err := applyProfile(p, prof); err != nil {
		return nil, err
	}
	if p.FullName == "" {
		return nil, fmt.Errorf("full_name is required")
	}
	if p.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateSettings changes the caller's practice profile.
func (s *Service) UpdateSettings(ctx context.Context, sess *auth.Session, prof Profile) (*Physician, error) {
	p, err := s.repo.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if err := applyProfile(p, prof); err != nil {
		return nil, err
	}
	if p.FullName == "" || p.Email == "" {
		return nil, fmt.Errorf("full_name and email cannot be cleared")
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) SetNotificationPrefs(ctx context.Context, sess *auth.Session, prefs NotificationPrefs) (*Physician, error) {
	p, err := s.repo.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if prefs.EmailOnResponse != nil {
		p.EmailOnResponse = *prefs.EmailOnResponse
	}
	if prefs.EmailOnMessage != nil {
		p.EmailOnMessage = *prefs.EmailOnMessage
	}
	if prefs.EmailOnSubmit != nil {
		p.EmailOnSubmit = *prefs.EmailOnSubmit
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetRole lets an administrator change another user's role and clinic.
func (s *Service) SetRole(ctx context.Context, sess *auth.Session, userID uuid.UUID, a RoleAssignment) (*Physician, error) {
	if !sess.IsAdmin() {
		return nil, ErrForbidden
	}
	if !auth.ValidRole(a.Role) {
		return nil, fmt.Errorf("invalid role %q", a.Role)
	}
	if userID == sess.UserID && !auth.IsAdminRole(a.Role) {
		return nil, fmt.Errorf("administrators cannot remove their own admin role")
	}
	if err := s.repo.UpdateRole(ctx, userID, a.Role, a.ClinicID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, userID)
}

// List returns users in the administrator's clinic, or everyone when the
// administrator has no clinic.
func (s *Service) List(ctx context.Context, sess *auth.Session, limit, offset int) ([]*Physician, int, error) {
	return s.repo.List(ctx, sess.ClinicID, limit, offset)
}

func applyProfile(p *Physician, prof Profile) error {
	if prof.FullName != nil {
		p.FullName = strings.TrimSpace(*prof.FullName)
	}
	if prof.Email != nil {
		email := strings.TrimSpace(*prof.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return fmt.Errorf("invalid email address")
		}
		p.Email = email
	}
	if prof.Phone != nil {
		p.Phone = optional(*prof.Phone)
	}
	if prof.State != nil {
		st := strings.ToUpper(strings.TrimSpace(*prof.State))
		if st != "" && !statePattern.MatchString(st) {
			return fmt.Errorf("state must be a two-letter code")
		}
		p.State = optional(st)
	}
	if prof.NPI != nil {
		npi := strings.TrimSpace(*prof.NPI)
		if npi != "" && !npiPattern.MatchString(npi) {
			return fmt.Errorf("npi must be 10 digits")
		}
		p.NPI = optional(npi)
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
