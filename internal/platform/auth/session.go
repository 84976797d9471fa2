package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	RolePhysician  = "physician"
	RoleAdmin      = "admin"
	RoleAdminStaff = "admin_staff"
	RoleSpecialist = "specialist"
)

var validRoles = map[string]bool{
	RolePhysician:  true,
	RoleAdmin:      true,
	RoleAdminStaff: true,
	RoleSpecialist: true,
}

// ValidRole reports whether r is one of the portal roles.
func ValidRole(r string) bool {
	return validRoles[r]
}

// IsAdminRole reports whether r sees the clinic-wide admin view.
func IsAdminRole(r string) bool {
	return r == RoleAdmin || r == RoleAdminStaff
}

// Session is the authenticated caller as seen by domain services.
type Session struct {
	UserID   uuid.UUID
	Role     string
	ClinicID *uuid.UUID
	Token    string
}

func (s *Session) IsSpecialist() bool { return s != nil && s.Role == RoleSpecialist }
func (s *Session) IsAdmin() bool      { return s != nil && IsAdminRole(s.Role) }
func (s *Session) IsPhysician() bool  { return s != nil && s.Role == RolePhysician }

type sessionKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// SessionFromClaims builds a session from the identity the token middleware
// stored on ctx. The first recognised role wins; physician is assumed when
// the token carries none.
func SessionFromClaims(ctx context.Context) (*Session, error) {
	sub := UserIDFromContext(ctx)
	if sub == "" {
		return nil, fmt.Errorf("no authenticated subject")
	}
	uid, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("subject %q is not a valid user id: %w", sub, err)
	}

	role := RolePhysician
	for _, r := range RolesFromContext(ctx) {
		if ValidRole(r) {
			role = r
			break
		}
	}

	s := &Session{UserID: uid, Role: role, Token: TokenFromContext(ctx)}
	if cid := ClinicIDFromContext(ctx); cid != "" {
		if parsed, err := uuid.Parse(cid); err == nil {
			s.ClinicID = &parsed
		}
	}
	return s, nil
}
