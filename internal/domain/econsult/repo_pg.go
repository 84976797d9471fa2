package econsult

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/econsult/econsult/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Consult Repository ===========

type consultRepoPG struct{ pool *pgxpool.Pool }

func NewConsultRepoPG(pool *pgxpool.Pool) ConsultRepository {
	return &consultRepoPG{pool: pool}
}

const consultCols = `c.id, c.patient_initials, c.patient_age, c.patient_dob, c.patient_gender,
	c.height_cm, c.weight_kg, c.bmi, c.condition_category, c.clinical_question,
	c.additional_notes, c.lab_results, c.is_urgent, c.physician_id, c.clinic_id,
	c.status, c.response_notes, c.responded_at, c.responded_by, c.next_step,
	c.created_at, c.updated_at, COALESCE(p.full_name, '')`

const consultFrom = ` FROM consults c LEFT JOIN physician_roles p ON p.user_id = c.physician_id`

func scanConsult(row pgx.Row) (*Consult, error) {
	var c Consult
	err := row.Scan(&c.ID, &c.PatientInitials, &c.PatientAge, &c.PatientDOB, &c.PatientGender,
		&c.HeightCM, &c.WeightKG, &c.BMI, &c.Category, &c.ClinicalQuestion,
		&c.AdditionalNotes, &c.LabResults, &c.IsUrgent, &c.PhysicianID, &c.ClinicID,
		&c.Status, &c.ResponseNotes, &c.RespondedAt, &c.RespondedBy, &c.NextStep,
		&c.CreatedAt, &c.UpdatedAt, &c.PhysicianName)
	return &c, err
}

func (r *consultRepoPG) Create(ctx context.Context, c *Consult) error {
	c.ID = uuid.New()
	c.Status = StatusSubmitted
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consults (id, patient_initials, patient_age, patient_dob, patient_gender,
			height_cm, weight_kg, bmi, condition_category, clinical_question,
			additional_notes, lab_results, is_urgent, physician_id, clinic_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientInitials, c.PatientAge, c.PatientDOB, c.PatientGender,
		c.HeightCM, c.WeightKG, c.BMI, c.Category, c.ClinicalQuestion,
		c.AdditionalNotes, c.LabResults, c.IsUrgent, c.PhysicianID, c.ClinicID, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *consultRepoPG) conn(ctx context.Context) queryable { return conn(ctx, r.pool) }

func (r *consultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consult, error) {
	c, err := scanConsult(r.conn(ctx).QueryRow(ctx, `SELECT `+consultCols+consultFrom+` WHERE c.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *consultRepoPG) List(ctx context.Context, f ConsultFilter) ([]*Consult, error) {
	var where []string
	var args []interface{}
	if f.PhysicianID != nil {
		args = append(args, *f.PhysicianID)
		where = append(where, fmt.Sprintf("c.physician_id = $%d", len(args)))
	}
	if f.ClinicID != nil {
		args = append(args, *f.ClinicID)
		where = append(where, fmt.Sprintf("c.clinic_id = $%d", len(args)))
	}
	q := `SELECT ` + consultCols + consultFrom
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY c.created_at DESC`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Consult
	for rows.Next() {
		c, err := scanConsult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *consultRepoPG) UpdateResponse(ctx context.Context, c *Consult) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE consults SET status=$2, response_notes=$3, responded_at=$4, responded_by=$5,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Status, c.ResponseNotes, c.RespondedAt, c.RespondedBy,
	).Scan(&c.UpdatedAt)
	return notFound(err)
}

func (r *consultRepoPG) UpdateNextStep(ctx context.Context, id uuid.UUID, step *NextStep) error {
	q := r.conn(ctx)
	tag, err := q.Exec(ctx,
		`UPDATE consults SET next_step=$2, updated_at=NOW() WHERE id = $1 AND status <> 'completed'`, id, step)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// nothing written: either gone or completed since it was read
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM consults WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrCompleted
}

// =========== Attachment Repository ===========

type attachmentRepoPG struct{ pool *pgxpool.Pool }

func NewAttachmentRepoPG(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepoPG{pool: pool}
}

const attachmentCols = `id, consult_id, file_name, file_path, file_type, file_size, sha256,
	uploaded_by, created_at`

func scanAttachment(row pgx.Row) (*Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.ConsultID, &a.FileName, &a.FilePath, &a.FileType, &a.FileSize,
		&a.SHA256, &a.UploadedBy, &a.CreatedAt)
	return &a, err
}

func (r *attachmentRepoPG) Create(ctx context.Context, a *Attachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consult_attachments (id, consult_id, file_name, file_path, file_type,
			file_size, sha256, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		a.ID, a.ConsultID, a.FileName, a.FilePath, a.FileType, a.FileSize, a.SHA256, a.UploadedBy,
	).Scan(&a.CreatedAt)
}

func (r *attachmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	a, err := scanAttachment(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+attachmentCols+` FROM consult_attachments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *attachmentRepoPG) ListByConsult(ctx context.Context, consultID uuid.UUID) ([]*Attachment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+attachmentCols+` FROM consult_attachments WHERE consult_id = $1 ORDER BY created_at`, consultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, consult_id, sender_id, body, is_read, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConsultID, &m.SenderID, &m.Body, &m.IsRead, &m.CreatedAt)
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consult_messages (id, consult_id, sender_id, body, is_read)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		m.ID, m.ConsultID, m.SenderID, m.Body, m.IsRead,
	).Scan(&m.CreatedAt)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+messageCols+` FROM consult_messages WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (r *messageRepoPG) ListByConsult(ctx context.Context, consultID uuid.UUID) ([]*Message, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+messageCols+` FROM consult_messages WHERE consult_id = $1 ORDER BY created_at`, consultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `UPDATE consult_messages SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Status History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) Record(ctx context.Context, h *StatusChange) error {
	h.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consult_status_history (id, consult_id, from_status, to_status, changed_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING changed_at`,
		h.ID, h.ConsultID, h.FromStatus, h.ToStatus, h.ChangedBy,
	).Scan(&h.ChangedAt)
}

func (r *historyRepoPG) ListByConsult(ctx context.Context, consultID uuid.UUID) ([]*StatusChange, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, consult_id, from_status, to_status, changed_by, changed_at
		FROM consult_status_history WHERE consult_id = $1 ORDER BY changed_at`, consultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*StatusChange{}
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.ConsultID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
