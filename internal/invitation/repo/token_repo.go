package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	credentity "github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
	credrepo "github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation/entity"
)

const tokenColumns = `id, secret, professional_id, used, used_at, used_by, created_at, expires_at`

// TokenRepo provides data access for the invitation_tokens table.
type TokenRepo struct {
	db       *sqlx.DB
	patients *credrepo.PatientRepo
}

// NewTokenRepo builds the repo. patients is rebound to the redemption
// transaction so the patient insert commits together with the token update.
func NewTokenRepo(db *sqlx.DB, patients *credrepo.PatientRepo) *TokenRepo {
	return &TokenRepo{db: db, patients: patients}
}

// EnsureTable creates the invitation_tokens table. It references
// professionals and patients, so their EnsureTable must run first.
func (r *TokenRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS invitation_tokens (
  id TEXT PRIMARY KEY,
  secret TEXT NOT NULL CONSTRAINT invitation_tokens_secret_key UNIQUE,
  professional_id BIGINT NOT NULL REFERENCES professionals(id),
  used BOOLEAN NOT NULL DEFAULT FALSE,
  used_at TIMESTAMPTZ,
  used_by BIGINT REFERENCES patients(id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_invitation_tokens_professional_id ON invitation_tokens(professional_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts an unused token.
func (r *TokenRepo) Create(ctx context.Context, t *entity.InvitationToken) error {
	const q = `INSERT INTO invitation_tokens (id, secret, professional_id, used, created_at, expires_at)
		VALUES (:id, :secret, :professional_id, FALSE, :created_at, :expires_at)`
	_, err := r.db.NamedExecContext(ctx, q, t)
	return err
}

// ListOpen returns the unused tokens of a professional that have not expired
// at now, newest first.
func (r *TokenRepo) ListOpen(ctx context.Context, professionalID int64, now time.Time) ([]entity.InvitationToken, error) {
	const q = `SELECT ` + tokenColumns + ` FROM invitation_tokens
		WHERE professional_id=$1 AND used=FALSE AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC`
	out := []entity.InvitationToken{}
	if err := r.db.SelectContext(ctx, &out, q, professionalID, now); err != nil {
		return nil, err
	}
	return out, nil
}

// WithinRedemption runs fn in a read-committed transaction. The transaction
// commits only if fn returns nil.
func (r *TokenRepo) WithinRedemption(ctx context.Context, fn func(ctx context.Context, tx invitation.RedemptionTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin redemption: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &redemptionTx{tx: tx, patients: r.patients.WithTx(tx)}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit redemption: %w", err)
	}
	return nil
}

type redemptionTx struct {
	tx       *sqlx.Tx
	patients *credrepo.PatientRepo
}

func (t *redemptionTx) LockBySecret(ctx context.Context, secret string) (*entity.InvitationToken, error) {
	var tok entity.InvitationToken
	q := `SELECT ` + tokenColumns + ` FROM invitation_tokens WHERE secret=$1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &tok, q, secret); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (t *redemptionTx) PatientEmailExists(ctx context.Context, email string) (bool, error) {
	return t.patients.EmailExists(ctx, email)
}

func (t *redemptionTx) CreatePatient(ctx context.Context, p *credentity.Patient) error {
	return t.patients.Create(ctx, p)
}

func (t *redemptionTx) MarkUsed(ctx context.Context, tokenID string, patientID int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE invitation_tokens SET used=TRUE, used_at=$2, used_by=$3 WHERE id=$1 AND used=FALSE`,
		tokenID, at, patientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("mark token %s used: %d rows affected", tokenID, n)
	}
	return nil
}
