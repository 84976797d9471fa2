package physician

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("physician not found")
	ErrAlreadyRegistered = errors.New("account is already registered")
)

type Repository interface {
	Create(ctx context.Context, p *Physician) error
	GetByID(ctx context.Context, userID uuid.UUID) (*Physician, error)
	// Update writes the profile and notification fields, never role or clinic.
	Update(ctx context.Context, p *Physician) error
	UpdateRole(ctx context.Context, userID uuid.UUID, role string, clinicID *uuid.UUID) error
	List(ctx context.Context, clinicID *uuid.UUID, limit, offset int) ([]*Physician, int, error)
}
