package econsult

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/econsult/econsult/internal/domain/physician"
	"github.com/econsult/econsult/internal/platform/auth"
	"github.com/econsult/econsult/internal/platform/blobstore"
	"github.com/econsult/econsult/internal/platform/db"
	"github.com/econsult/econsult/internal/platform/inflight"
	"github.com/econsult/econsult/internal/platform/notification"
)

// Drafter is the external drafting service.
type Drafter interface {
	Process(ctx context.Context, token, consultID string) (string, error)
	Feedback(ctx context.Context, token, consultID string) error
}

// PhysicianLookup resolves referring physicians for display and e-mail.
type PhysicianLookup interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*physician.Physician, error)
}

// Notifier sends templated e-mail.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// Deps are the collaborators a Service needs. Guard, Tx and Logger have
// usable defaults; Notifier and Physicians may be nil.
type Deps struct {
	Consults        ConsultRepository
	Attachments     AttachmentRepository
	Messages        MessageRepository
	History         HistoryRepository
	Tx              db.TxRunner
	Guard           inflight.Guard
	Drafter         Drafter
	Blobs           blobstore.Store
	Physicians      PhysicianLookup
	Notifier        Notifier
	Logger          zerolog.Logger
	UrgentAfter     time.Duration
	FeedbackTimeout time.Duration
}

type aiKey struct {
	consult    uuid.UUID
	specialist uuid.UUID
}

type Service struct {
	consults    ConsultRepository
	attachments AttachmentRepository
	messages    MessageRepository
	history     HistoryRepository
	tx          db.TxRunner
	guard       inflight.Guard
	drafter     Drafter
	blobs       blobstore.Store
	physicians  PhysicianLookup
	notifier    Notifier
	logger      zerolog.Logger

	urgentAfter     time.Duration
	feedbackTimeout time.Duration
	now             func() time.Time

	aiMu   sync.Mutex
	aiUsed map[aiKey]bool

	bg sync.WaitGroup
}

type directTx struct{}

func (directTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func NewService(d Deps) *Service {
	s := &Service{
		consults:        d.Consults,
		attachments:     d.Attachments,
		messages:        d.Messages,
		history:         d.History,
		tx:              d.Tx,
		guard:           d.Guard,
		drafter:         d.Drafter,
		blobs:           d.Blobs,
		physicians:      d.Physicians,
		notifier:        d.Notifier,
		logger:          d.Logger,
		urgentAfter:     d.UrgentAfter,
		feedbackTimeout: d.FeedbackTimeout,
		now:             time.Now,
		aiUsed:          make(map[aiKey]bool),
	}
	if s.tx == nil {
		s.tx = directTx{}
	}
	if s.guard == nil {
		s.guard = inflight.NewMemoryGuard(30 * time.Second)
	}
	if s.urgentAfter <= 0 {
		s.urgentAfter = 5 * 24 * time.Hour
	}
	if s.feedbackTimeout <= 0 {
		s.feedbackTimeout = 30 * time.Second
	}
	return s
}

// Wait blocks until background feedback and e-mail dispatches finish.
func (s *Service) Wait() { s.bg.Wait() }

func (s *Service) canView(sess *auth.Session, c *Consult) error {
	switch {
	case sess == nil:
		return ErrForbidden
	case sess.IsSpecialist():
		return nil
	case sess.IsAdmin():
		if sess.ClinicID == nil || (c.ClinicID != nil && *c.ClinicID == *sess.ClinicID) {
			return nil
		}
	case sess.IsPhysician():
		if c.PhysicianID == sess.UserID {
			return nil
		}
	}
	return ErrForbidden
}

func (s *Service) load(ctx context.Context, sess *auth.Session, id uuid.UUID) (*Consult, error) {
	c, err := s.consults.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(sess, c); err != nil {
		return nil, err
	}
	return c, nil
}

func requireSpecialist(sess *auth.Session) error {
	if !sess.IsSpecialist() {
		return ErrForbidden
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, action string, id uuid.UUID) (func(), error) {
	release, err := s.guard.Acquire(ctx, inflight.Key(action, id.String()))
	if errors.Is(err, inflight.ErrBusy) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s guard: %w", action, err)
	}
	return release, nil
}

// -- Submission --

// Submit walks the form through every wizard step and stores the result as
// a new consult owned by the caller.
func (s *Service) Submit(ctx context.Context, sess *auth.Session, form *SubmissionForm) (*Consult, error) {
	if !sess.IsPhysician() {
		return nil, ErrForbidden
	}
	w := NewWizard(form)
	for !w.AtReview() {
		if err := w.Next(); err != nil {
			return nil, err
		}
	}
	c, err := w.Build(sess.UserID, sess.ClinicID, s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.consults.Create(ctx, c); err != nil {
			return fmt.Errorf("create consult: %w", err)
		}
		return s.history.Record(ctx, &StatusChange{ConsultID: c.ID, ToStatus: StatusSubmitted, ChangedBy: sess.UserID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("consult_id", c.ID.String()).Str("category", string(c.Category)).Msg("consult submitted")
	s.notifyPhysician(c, notification.TemplateSubmitted, func(p *physician.Physician) bool { return p.EmailOnSubmit })
	return c, nil
}

// -- Views --

// View returns the consult with its referring physician and attachments.
func (s *Service) View(ctx context.Context, sess *auth.Session, id uuid.UUID) (*ConsultDetail, error) {
	c, err := s.load(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	atts, err := s.attachments.ListByConsult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return &ConsultDetail{
		Consult:            c,
		ReferringPhysician: s.referrerName(ctx, c),
		Attachments:        atts,
		AIDraftUsed:        s.aiFlag(id, sess.UserID),
	}, nil
}

func (s *Service) referrerName(ctx context.Context, c *Consult) string {
	if c.PhysicianName != "" {
		return c.PhysicianName
	}
	if s.physicians != nil {
		if p, err := s.physicians.GetByID(ctx, c.PhysicianID); err == nil {
			return p.DisplayName()
		}
	}
	return "Unknown physician"
}

// ProviderConsults is the caller's own referrals.
func (s *Service) ProviderConsults(ctx context.Context, sess *auth.Session) ([]*Consult, error) {
	all, err := s.consults.List(ctx, ConsultFilter{PhysicianID: &sess.UserID})
	if err != nil {
		return nil, err
	}
	return ProviderView(all, sess.UserID), nil
}

// AdminConsults is the clinic-wide view with urgency flags, judged against
// the service clock.
func (s *Service) AdminConsults(ctx context.Context, sess *auth.Session, q ListQuery) ([]AdminRow, error) {
	if !sess.IsAdmin() {
		return nil, ErrForbidden
	}
	all, err := s.consults.List(ctx, ConsultFilter{ClinicID: sess.ClinicID})
	if err != nil {
		return nil, err
	}
	rows := AdminView(q.Arrange(all), sess.ClinicID, s.now(), s.urgentAfter)
	if !q.UrgentOnly {
		return rows, nil
	}
	urgent := make([]AdminRow, 0, len(rows))
	for _, r := range rows {
		if r.Urgent {
			urgent = append(urgent, r)
		}
	}
	return urgent, nil
}

// SpecialistConsults partitions every consult for review.
func (s *Service) SpecialistConsults(ctx context.Context, sess *auth.Session) (Partitions, error) {
	if err := requireSpecialist(sess); err != nil {
		return Partitions{}, err
	}
	all, err := s.consults.List(ctx, ConsultFilter{})
	if err != nil {
		return Partitions{}, err
	}
	return Partition(all), nil
}

// Visible lists what the caller's role may see, flattened.
func (s *Service) Visible(ctx context.Context, sess *auth.Session) ([]*Consult, error) {
	switch {
	case sess.IsSpecialist():
		return s.consults.List(ctx, ConsultFilter{})
	case sess.IsAdmin():
		return s.consults.List(ctx, ConsultFilter{ClinicID: sess.ClinicID})
	case sess.IsPhysician():
		return s.ProviderConsults(ctx, sess)
	}
	return nil, ErrForbidden
}

// Summary counts the caller's visible consults for the dashboard tiles.
func (s *Service) Summary(ctx context.Context, sess *auth.Session) (Summary, error) {
	list, err := s.Visible(ctx, sess)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(list, s.now(), s.urgentAfter), nil
}

func (s *Service) History(ctx context.Context, sess *auth.Session, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.load(ctx, sess, id); err != nil {
		return nil, err
	}
	return s.history.ListByConsult(ctx, id)
}

// -- Response --

func (s *Service) aiFlag(consultID, specialistID uuid.UUID) bool {
	s.aiMu.Lock()
	defer s.aiMu.Unlock()
	return s.aiUsed[aiKey{consultID, specialistID}]
}

func (s *Service) takeAIFlag(consultID, specialistID uuid.UUID) bool {
	s.aiMu.Lock()
	defer s.aiMu.Unlock()
	k := aiKey{consultID, specialistID}
	used := s.aiUsed[k]
	delete(s.aiUsed, k)
	return used
}

// GenerateDraft asks the drafting service for a proposed response. The
// consult is not modified; the draft is returned for the specialist to edit.
func (s *Service) GenerateDraft(ctx context.Context, sess *auth.Session, id uuid.UUID) (string, error) {
	if err := requireSpecialist(sess); err != nil {
		return "", err
	}
	c, err := s.consults.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if c.Status == StatusCompleted {
		return "", ErrCompleted
	}

	release, err := s.acquire(ctx, "generate", id)
	if err != nil {
		return "", err
	}
	defer release()

	draft, err := s.drafter.Process(ctx, sess.Token, id.String())
	if err != nil {
		return "", err
	}

	s.aiMu.Lock()
	s.aiUsed[aiKey{id, sess.UserID}] = true
	s.aiMu.Unlock()
	return draft, nil
}

// SaveDraft stores a working response and moves the consult to under_review.
func (s *Service) SaveDraft(ctx context.Context, sess *auth.Session, id uuid.UUID, text string) (*Consult, error) {
	if err := requireSpecialist(sess); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx, "respond", id)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.consults.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := next.SaveDraft(text); err != nil {
		return nil, err
	}
	if err := s.persistResponse(ctx, sess, cur.Status, next); err != nil {
		return nil, err
	}
	return next, nil
}

// SubmitResponse completes the consult. A blank response is rejected before
// the store is touched. When the specialist generated a draft for this
// consult, the drafting service is told in the background.
func (s *Service) SubmitResponse(ctx context.Context, sess *auth.Session, id uuid.UUID, text string) (*Consult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	if err := requireSpecialist(sess); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx, "respond", id)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.consults.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := next.SubmitResponse(text, sess.UserID, s.now()); err != nil {
		return nil, err
	}
	if err := s.persistResponse(ctx, sess, cur.Status, next); err != nil {
		return nil, err
	}

	s.logger.Info().Str("consult_id", id.String()).Str("specialist_id", sess.UserID.String()).Msg("consult completed")
	if s.takeAIFlag(id, sess.UserID) {
		s.sendFeedback(ctx, sess.Token, id)
	}
	s.notifyPhysician(next, notification.TemplateResponseReady, func(p *physician.Physician) bool { return p.EmailOnResponse })
	return next, nil
}

func (s *Service) persistResponse(ctx context.Context, sess *auth.Session, from Status, c *Consult) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.consults.UpdateResponse(ctx, c); err != nil {
			return fmt.Errorf("update consult: %w", err)
		}
		if from == c.Status {
			return nil
		}
		prev := from
		return s.history.Record(ctx, &StatusChange{ConsultID: c.ID, FromStatus: &prev, ToStatus: c.Status, ChangedBy: sess.UserID})
	})
}

// sendFeedback is fire-and-forget. It outlives the request and only logs failure.
func (s *Service) sendFeedback(ctx context.Context, token string, id uuid.UUID) {
	bgCtx := context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(bgCtx, s.feedbackTimeout)
		defer cancel()
		if err := s.drafter.Feedback(ctx, token, id.String()); err != nil {
			s.logger.Warn().Err(err).Str("consult_id", id.String()).Msg("draft feedback failed")
		}
	}()
}

// SetNextStep toggles the recommended next step. On a failed write the
// previous value is restored and returned with the error.
func (s *Service) SetNextStep(ctx context.Context, sess *auth.Session, id uuid.UUID, choice *NextStep) (*Consult, error) {
	if err := requireSpecialist(sess); err != nil {
		return nil, err
	}
	c, err := s.consults.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prior, err := c.ToggleNextStep(choice)
	if err != nil {
		return nil, err
	}
	if err := s.consults.UpdateNextStep(ctx, id, c.NextStep); err != nil {
		c.NextStep = prior
		return c, fmt.Errorf("update next step: %w", err)
	}
	return c, nil
}

// -- Attachments --

func (s *Service) UploadAttachment(ctx context.Context, sess *auth.Session, consultID uuid.UUID, fileName, contentType string, content io.Reader) (*Attachment, error) {
	if _, err := s.load(ctx, sess, consultID); err != nil {
		return nil, err
	}
	if err := blobstore.CheckContentType(contentType); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("file name is required")
	}

	a := &Attachment{
		ID:         uuid.New(),
		ConsultID:  consultID,
		FileName:   fileName,
		FileType:   contentType,
		UploadedBy: sess.UserID,
	}
	a.FilePath = consultID.String() + "/" + a.ID.String()

	info, err := s.blobs.Put(ctx, a.FilePath, content)
	if err != nil {
		return nil, err
	}
	a.FileSize = info.Size
	a.SHA256 = info.Hash

	if err := s.attachments.Create(ctx, a); err != nil {
		if derr := s.blobs.Delete(ctx, a.FilePath); derr != nil {
			s.logger.Warn().Err(derr).Str("key", a.FilePath).Msg("orphaned attachment blob")
		}
		return nil, fmt.Errorf("save attachment: %w", err)
	}
	return a, nil
}

func (s *Service) ListAttachments(ctx context.Context, sess *auth.Session, consultID uuid.UUID) ([]*Attachment, error) {
	if _, err := s.load(ctx, sess, consultID); err != nil {
		return nil, err
	}
	return s.attachments.ListByConsult(ctx, consultID)
}

// OpenAttachment returns the metadata and content. The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, sess *auth.Session, id uuid.UUID) (*Attachment, io.ReadCloser, error) {
	a, err := s.attachments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.load(ctx, sess, a.ConsultID); err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, a.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return a, rc, nil
}

// -- Messages --

func (s *Service) PostMessage(ctx context.Context, sess *auth.Session, consultID uuid.UUID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	c, err := s.load(ctx, sess, consultID)
	if err != nil {
		return nil, err
	}
	m := &Message{ConsultID: consultID, SenderID: sess.UserID, Body: body}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	if sess.UserID != c.PhysicianID {
		s.notifyPhysician(c, notification.TemplateNewMessage, func(p *physician.Physician) bool { return p.EmailOnMessage })
	}
	return m, nil
}

func (s *Service) ListMessages(ctx context.Context, sess *auth.Session, consultID uuid.UUID) ([]*Message, error) {
	if _, err := s.load(ctx, sess, consultID); err != nil {
		return nil, err
	}
	return s.messages.ListByConsult(ctx, consultID)
}

// MarkMessageRead marks a message read. Senders cannot mark their own.
func (s *Service) MarkMessageRead(ctx context.Context, sess *auth.Session, id uuid.UUID) error {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.load(ctx, sess, m.ConsultID); err != nil {
		return err
	}
	if m.SenderID == sess.UserID {
		return ErrForbidden
	}
	return s.messages.MarkRead(ctx, id)
}

// -- Notifications --

// notifyPhysician e-mails the referring physician in the background when
// want approves their preferences. Failures are logged only.
func (s *Service) notifyPhysician(c *Consult, templateID string, want func(*physician.Physician) bool) {
	if s.notifier == nil || s.physicians == nil {
		return
	}
	snapshot := c.Clone()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.feedbackTimeout)
		defer cancel()

		p, err := s.physicians.GetByID(ctx, snapshot.PhysicianID)
		if err != nil {
			s.logger.Warn().Err(err).Str("consult_id", snapshot.ID.String()).Msg("notification skipped: physician lookup failed")
			return
		}
		if !want(p) || p.Email == "" {
			return
		}
		data := map[string]string{
			"physician_name":   p.DisplayName(),
			"patient_initials": snapshot.PatientInitials,
			"condition":        string(snapshot.Category),
			"next_step":        "not specified",
		}
		if snapshot.NextStep != nil {
			data["next_step"] = snapshot.NextStep.Label()
		}
		if _, err := s.notifier.SendFromTemplate(ctx, templateID, data, p.Email); err != nil {
			s.logger.Warn().Err(err).Str("consult_id", snapshot.ID.String()).Str("template", templateID).Msg("notification failed")
		}
	}()
}
