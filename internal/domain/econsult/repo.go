package econsult

import (
	"context"

	"github.com/google/uuid"
)

// ConsultFilter narrows List. Nil fields do not filter.
type ConsultFilter struct {
	PhysicianID *uuid.UUID
	ClinicID    *uuid.UUID
}

type ConsultRepository interface {
	// Create assigns the id and timestamps. Status is always written as submitted.
	Create(ctx context.Context, c *Consult) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consult, error)
	List(ctx context.Context, f ConsultFilter) ([]*Consult, error)
	// UpdateResponse writes status, response_notes, responded_at and responded_by only.
	UpdateResponse(ctx context.Context, c *Consult) error
	// UpdateNextStep writes next_step only. It returns ErrCompleted when the
	// consult has been completed since it was read.
	UpdateNextStep(ctx context.Context, id uuid.UUID, step *NextStep) error
}

type AttachmentRepository interface {
	Create(ctx context.Context, a *Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error)
	ListByConsult(ctx context.Context, consultID uuid.UUID) ([]*Attachment, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByConsult(ctx context.Context, consultID uuid.UUID) ([]*Message, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

type HistoryRepository interface {
	Record(ctx context.Context, h *StatusChange) error
	ListByConsult(ctx context.Context, consultID uuid.UUID) ([]*StatusChange, error)
}
