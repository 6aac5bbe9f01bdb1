package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
)

const (
	// PatientEmailKey is the unique constraint on patients.email.
	PatientEmailKey = "patients_email_key"
	// PatientInvitationKey is the unique constraint on patients.invitation_id.
	PatientInvitationKey = "patients_invitation_id_key"
)

const patientColumns = `p.id, p.email, p.password_hash, p.full_name, p.phone, p.birth_date,
	p.professional_id, p.invitation_id, p.created_at`

// PatientRepo provides data access for the patients table.
type PatientRepo struct {
	db sqlx.ExtContext
}

func NewPatientRepo(db *sqlx.DB) *PatientRepo { return &PatientRepo{db: db} }

// WithTx returns a copy of the repo that runs its statements inside tx.
func (r *PatientRepo) WithTx(tx *sqlx.Tx) *PatientRepo { return &PatientRepo{db: tx} }

// EnsureTable creates the patients table. It references professionals, so
// ProfessionalRepo.EnsureTable must run first.
func (r *PatientRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS patients (
  id BIGINT PRIMARY KEY,
  email TEXT NOT NULL CONSTRAINT patients_email_key UNIQUE,
  password_hash TEXT NOT NULL,
  full_name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  birth_date DATE,
  professional_id BIGINT REFERENCES professionals(id),
  invitation_id TEXT CONSTRAINT patients_invitation_id_key UNIQUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_patients_professional_id ON patients(professional_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a patient. The id is assigned by the caller.
func (r *PatientRepo) Create(ctx context.Context, p *entity.Patient) error {
	const q = `INSERT INTO patients (id, email, password_hash, full_name, phone, birth_date, professional_id, invitation_id)
		VALUES (:id, :email, :password_hash, :full_name, :phone, :birth_date, :professional_id, :invitation_id)`
	_, err := sqlx.NamedExecContext(ctx, r.db, q, p)
	return err
}

// EmailExists reports whether a patient already uses email.
func (r *PatientRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS (SELECT 1 FROM patients WHERE email=$1)`, email)
	return exists, err
}

// GetByEmail returns the patient with exactly this email or sql.ErrNoRows.
func (r *PatientRepo) GetByEmail(ctx context.Context, email string) (*entity.Patient, error) {
	var p entity.Patient
	if err := sqlx.GetContext(ctx, r.db, &p, `SELECT `+patientColumns+` FROM patients p WHERE p.email=$1`, email); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID fetches a patient together with its professional's name.
func (r *PatientRepo) GetByID(ctx context.Context, id int64) (*entity.PatientView, error) {
	const q = `SELECT ` + patientColumns + `, pr.full_name AS professional_name
		FROM patients p LEFT JOIN professionals pr ON pr.id = p.professional_id
		WHERE p.id=$1`
	var v entity.PatientView
	if err := sqlx.GetContext(ctx, r.db, &v, q, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// CountByProfessional counts patients bound to the professional.
func (r *PatientRepo) CountByProfessional(ctx context.Context, professionalID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM patients WHERE professional_id=$1`, professionalID)
	return n, err
}

// List returns patients, optionally restricted to one professional, newest first.
func (r *PatientRepo) List(ctx context.Context, professionalID *int64) ([]entity.PatientView, error) {
	q := `SELECT ` + patientColumns + `, pr.full_name AS professional_name
		FROM patients p LEFT JOIN professionals pr ON pr.id = p.professional_id`
	var args []any
	if professionalID != nil {
		q += ` WHERE p.professional_id=$1`
		args = append(args, *professionalID)
	}
	q += ` ORDER BY p.created_at DESC, p.id DESC`
	out := []entity.PatientView{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}
