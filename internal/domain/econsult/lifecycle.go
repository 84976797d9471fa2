package econsult

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// transitions lists every status change an operation may make. The empty
// status stands for "not yet created". Nothing moves a consult into
// awaiting_info and nothing leaves completed.
var transitions = map[Status]map[Status]bool{
	"":                 {StatusSubmitted: true},
	StatusSubmitted:    {StatusUnderReview: true, StatusCompleted: true},
	StatusUnderReview:  {StatusUnderReview: true, StatusCompleted: true},
	StatusAwaitingInfo: {StatusUnderReview: true, StatusCompleted: true},
	StatusCompleted:    {},
}

// CanTransition reports whether a consult in from may move to to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func (c *Consult) transition(to Status) error {
	if c.Status == StatusCompleted {
		return ErrCompleted
	}
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

// SaveDraft stores text as the working response and moves the consult to
// under_review. responded_at and responded_by are left alone.
func (c *Consult) SaveDraft(text string) error {
	if err := c.transition(StatusUnderReview); err != nil {
		return err
	}
	c.ResponseNotes = &text
	return nil
}

// SubmitResponse completes the consult with text as the final response.
// Blank text is rejected before anything changes.
func (c *Consult) SubmitResponse(text string, specialistID uuid.UUID, now time.Time) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyResponse
	}
	if err := c.transition(StatusCompleted); err != nil {
		return err
	}
	c.ResponseNotes = &text
	c.RespondedAt = &now
	c.RespondedBy = &specialistID
	return nil
}

// ToggleNextStep applies a next-step selection: choosing the current value
// clears it, choosing another replaces it, nil clears. The prior value is
// returned so a failed write can be undone.
func (c *Consult) ToggleNextStep(choice *NextStep) (prior *NextStep, err error) {
	if c.Status == StatusCompleted {
		return c.NextStep, ErrCompleted
	}
	if choice != nil && !choice.Valid() {
		return c.NextStep, fmt.Errorf("%w: %q", ErrInvalidNextStep, *choice)
	}

	prior = c.NextStep
	switch {
	case choice == nil:
		c.NextStep = nil
	case prior != nil && *prior == *choice:
		c.NextStep = nil
	default:
		v := *choice
		c.NextStep = &v
	}
	return prior, nil
}
