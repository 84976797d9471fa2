package physician

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/econsult/econsult/internal/platform/db"
	"github.com/econsult/econsult/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const physicianCols = `user_id, email, full_name, phone, state, npi, role, clinic_id,
	email_on_response, email_on_message, email_on_submit, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Physician, error) {
	var p Physician
	err := row.Scan(&p.UserID, &p.Email, &p.FullName, &p.Phone, &p.State, &p.NPI, &p.Role,
		&p.ClinicID, &p.EmailOnResponse, &p.EmailOnMessage, &p.EmailOnSubmit, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Physician) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO physician_roles (user_id, email, full_name, phone, state, npi, role, clinic_id,
			email_on_response, email_on_message, email_on_submit)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING created_at, updated_at`,
		p.UserID, p.Email, p.FullName, p.Phone, p.State, p.NPI, p.Role, p.ClinicID,
		p.EmailOnResponse, p.EmailOnMessage, p.EmailOnSubmit,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadyRegistered
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, userID uuid.UUID) (*Physician, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+physicianCols+` FROM physician_roles WHERE user_id = $1`, userID))
}

func (r *repoPG) Update(ctx context.Context, p *Physician) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE physician_roles SET email=$2, full_name=$3, phone=$4, state=$5, npi=$6,
			email_on_response=$7, email_on_message=$8, email_on_submit=$9, updated_at=NOW()
		WHERE user_id = $1
		RETURNING updated_at`,
		p.UserID, p.Email, p.FullName, p.Phone, p.State, p.NPI,
		p.EmailOnResponse, p.EmailOnMessage, p.EmailOnSubmit,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) UpdateRole(ctx context.Context, userID uuid.UUID, role string, clinicID *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE physician_roles SET role=$2, clinic_id=$3, updated_at=NOW() WHERE user_id = $1`,
		userID, role, clinicID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, clinicID *uuid.UUID, limit, offset int) ([]*Physician, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM physician_roles WHERE $1::uuid IS NULL OR clinic_id = $1`, clinicID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+physicianCols+` FROM physician_roles
		WHERE $1::uuid IS NULL OR clinic_id = $1
		ORDER BY full_name `+pagination.Params{Limit: limit, Offset: offset}.SQL(), clinicID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Physician
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
