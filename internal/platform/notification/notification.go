// Package notification renders and sends e-mail notifications to physicians
// about their consults, keeping a bounded in-memory log of what was sent.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Template ids for the built-in consult notifications.
const (
	TemplateResponseReady = "consult-response-ready"
	TemplateNewMessage    = "consult-new-message"
	TemplateSubmitted     = "consult-submitted"
)

// Notification is a single outbound e-mail.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender delivers one message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

// Bodies never carry patient details beyond initials; recipients log in to read more.
func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateResponseReady,
			Name:    "Consult Response Ready",
			Subject: "Specialist response for e-consult {{patient_initials}}",
			Body:    "Dear Dr. {{physician_name}}, a specialist has responded to your e-consult for patient {{patient_initials}} ({{condition}}). Recommended next step: {{next_step}}. Sign in to the portal to read the full response.",
		},
		{
			ID:      TemplateNewMessage,
			Name:    "New Consult Message",
			Subject: "New message on e-consult {{patient_initials}}",
			Body:    "Dear Dr. {{physician_name}}, there is a new message on your e-consult for patient {{patient_initials}}. Sign in to the portal to reply.",
		},
		{
			ID:      TemplateSubmitted,
			Name:    "Consult Submitted",
			Subject: "E-consult {{patient_initials}} received",
			Body:    "Dear Dr. {{physician_name}}, your e-consult for patient {{patient_initials}} ({{condition}}) was received and is awaiting specialist review.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render substitutes data into the template. Placeholders without a value are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

const defaultHistoryLimit = 1000

// Manager sends notifications and keeps the most recent ones for inspection
// and retry.
type Manager struct {
	sender    EmailSender
	templates *TemplateEngine

	mu            sync.RWMutex
	notifications map[string]*Notification
	order         []string
	limit         int
}

func NewManager(sender EmailSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		sender:        sender,
		templates:     tpl,
		notifications: make(map[string]*Notification),
		limit:         defaultHistoryLimit,
	}
}

func (m *Manager) remember(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		m.order = append(m.order, n.ID)
	}
	m.notifications[n.ID] = n
	for len(m.order) > m.limit {
		delete(m.notifications, m.order[0])
		m.order = m.order[1:]
	}
}

// Send delivers n and records the outcome. The send error is returned as well
// as stored on n.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Recipient == "" {
		return fmt.Errorf("notification has no recipient")
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending

	sendErr := m.sender.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	m.remember(n)
	return sendErr
}

// SendFromTemplate renders a template and sends the result.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.notifications[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return n, nil
}

// ListByRecipient returns up to limit notifications for recipient, newest first.
func (m *Manager) ListByRecipient(_ context.Context, recipient string, limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Notification
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		if n := m.notifications[m.order[i]]; n.Recipient == recipient {
			result = append(result, n)
		}
	}
	return result
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) error {
	n, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	status := n.Status
	m.mu.RUnlock()
	if status != StatusFailed {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, status)
	}

	sendErr := m.sender.SendEmail(ctx, n.Recipient, n.Subject, n.Body)

	m.mu.Lock()
	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
		n.Error = ""
	}
	m.mu.Unlock()

	return sendErr
}

// Stats counts remembered notifications by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}
