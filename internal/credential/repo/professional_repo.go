package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
)

// ProfessionalEmailKey is the unique constraint on professionals.email.
const ProfessionalEmailKey = "professionals_email_key"

const professionalColumns = `id, email, password_hash, full_name, profession, registration_number,
	approval_status, patient_quota, created_at, updated_at`

// ProfessionalRepo provides data access for the professionals table using sqlx.
type ProfessionalRepo struct {
	db sqlx.ExtContext
}

func NewProfessionalRepo(db *sqlx.DB) *ProfessionalRepo { return &ProfessionalRepo{db: db} }

// WithTx returns a copy of the repo that runs its statements inside tx.
func (r *ProfessionalRepo) WithTx(tx *sqlx.Tx) *ProfessionalRepo { return &ProfessionalRepo{db: tx} }

// EnsureTable creates the professionals table if not exists (idempotent).
func (r *ProfessionalRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS professionals (
  id BIGINT PRIMARY KEY,
  email TEXT NOT NULL CONSTRAINT professionals_email_key UNIQUE,
  password_hash TEXT NOT NULL,
  full_name TEXT NOT NULL DEFAULT '',
  profession TEXT NOT NULL DEFAULT '',
  registration_number TEXT NOT NULL DEFAULT '',
  approval_status TEXT NOT NULL DEFAULT 'Pending'
    CHECK (approval_status IN ('Pending', 'Approved', 'Rejected')),
  patient_quota INT NOT NULL DEFAULT 4 CHECK (patient_quota >= 0),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_professionals_approval_status ON professionals(approval_status);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a professional. The id is assigned by the caller.
func (r *ProfessionalRepo) Create(ctx context.Context, p *entity.Professional) error {
	const q = `INSERT INTO professionals (id, email, password_hash, full_name, profession, registration_number, approval_status, patient_quota)
		VALUES (:id, :email, :password_hash, :full_name, :profession, :registration_number, :approval_status, :patient_quota)
		RETURNING created_at, updated_at`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, q, p)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetByEmail returns the professional with exactly this email or sql.ErrNoRows.
func (r *ProfessionalRepo) GetByEmail(ctx context.Context, email string) (*entity.Professional, error) {
	var p entity.Professional
	if err := sqlx.GetContext(ctx, r.db, &p, `SELECT `+professionalColumns+` FROM professionals WHERE email=$1`, email); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID fetches a full professional row.
func (r *ProfessionalRepo) GetByID(ctx context.Context, id int64) (*entity.Professional, error) {
	var p entity.Professional
	if err := sqlx.GetContext(ctx, r.db, &p, `SELECT `+professionalColumns+` FROM professionals WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns all professionals, pending ones first, newest first within a status.
func (r *ProfessionalRepo) List(ctx context.Context) ([]entity.Professional, error) {
	const q = `SELECT ` + professionalColumns + ` FROM professionals
		ORDER BY CASE approval_status WHEN 'Pending' THEN 0 WHEN 'Approved' THEN 1 ELSE 2 END, created_at DESC, id DESC`
	out := []entity.Professional{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}

// Update sets the non-nil columns in a single statement and returns the
// affected row count.
func (r *ProfessionalRepo) Update(ctx context.Context, id int64, status *identity.ApprovalStatus, quota *int) (int64, error) {
	var st sql.NullString
	if status != nil {
		st = sql.NullString{String: string(*status), Valid: true}
	}
	var q sql.NullInt64
	if quota != nil {
		q = sql.NullInt64{Int64: int64(*quota), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE professionals
		SET approval_status=COALESCE($2, approval_status), patient_quota=COALESCE($3, patient_quota), updated_at=NOW()
		WHERE id=$1`, id, st, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
