package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
)

// AdminRepo provides data access for the admins table.
type AdminRepo struct {
	db sqlx.ExtContext
}

func NewAdminRepo(db *sqlx.DB) *AdminRepo { return &AdminRepo{db: db} }

// EnsureTable creates the admins table if not exists (idempotent). The
// singleton column admits at most one row.
func (r *AdminRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS admins (
  id BIGINT PRIMARY KEY,
  email TEXT NOT NULL CONSTRAINT admins_email_key UNIQUE,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE admins ADD COLUMN IF NOT EXISTS singleton BOOLEAN NOT NULL DEFAULT TRUE CHECK (singleton);
CREATE UNIQUE INDEX IF NOT EXISTS admins_singleton_key ON admins(singleton);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Upsert makes a the only admin. The same email keeps its id and only gets
// the new hash; a different email replaces the row under a's id, so the old
// login and any session bound to the old id stop working. The stored id is
// written back into a.
func (r *AdminRepo) Upsert(ctx context.Context, a *entity.Admin) error {
	const q = `INSERT INTO admins (id, email, password_hash) VALUES ($1, $2, $3)
		ON CONFLICT (singleton) DO UPDATE SET
			id = CASE WHEN admins.email = EXCLUDED.email THEN admins.id ELSE EXCLUDED.id END,
			created_at = CASE WHEN admins.email = EXCLUDED.email THEN admins.created_at ELSE NOW() END,
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash
		RETURNING id, created_at`
	return r.db.QueryRowxContext(ctx, q, a.ID, a.Email, a.PasswordHash).Scan(&a.ID, &a.CreatedAt)
}

// GetByEmail returns the admin with exactly this email or sql.ErrNoRows.
func (r *AdminRepo) GetByEmail(ctx context.Context, email string) (*entity.Admin, error) {
	var a entity.Admin
	if err := sqlx.GetContext(ctx, r.db, &a, `SELECT id, email, password_hash, created_at FROM admins WHERE email=$1`, email); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID fetches an admin row.
func (r *AdminRepo) GetByID(ctx context.Context, id int64) (*entity.Admin, error) {
	var a entity.Admin
	if err := sqlx.GetContext(ctx, r.db, &a, `SELECT id, email, password_hash, created_at FROM admins WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &a, nil
}
