package econsult

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("consult not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCompleted         = errors.New("consult is completed and can no longer be changed")
	ErrEmptyResponse     = errors.New("enter a response before submitting")
	ErrEmptyMessage      = errors.New("message body is required")
	ErrBusy              = errors.New("another request for this consult is still in progress")
	ErrForbidden         = errors.New("not permitted for this consult")
	ErrInvalidNextStep   = errors.New("invalid next step")
)

// ValidationError is a wizard step gate failure.
type ValidationError struct {
	Step    Step   `json:"step"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Step, e.Field, e.Message)
}
