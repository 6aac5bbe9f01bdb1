// Package bootstrap wires repositories and services over one database pool.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential"
	credrepo "github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation"
	invrepo "github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation/repo"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/utilities"
)

// Repos are the PostgreSQL repositories.
type Repos struct {
	Admins        *credrepo.AdminRepo
	Professionals *credrepo.ProfessionalRepo
	Patients      *credrepo.PatientRepo
	Tokens        *invrepo.TokenRepo
}

func NewRepos(db *sqlx.DB) *Repos {
	patients := credrepo.NewPatientRepo(db)
	return &Repos{
		Admins:        credrepo.NewAdminRepo(db),
		Professionals: credrepo.NewProfessionalRepo(db),
		Patients:      patients,
		Tokens:        invrepo.NewTokenRepo(db, patients),
	}
}

// EnsureSchema creates every table in foreign-key order.
func (r *Repos) EnsureSchema(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"admins", r.Admins.EnsureTable},
		{"professionals", r.Professionals.EnsureTable},
		{"patients", r.Patients.EnsureTable},
		{"invitation_tokens", r.Tokens.EnsureTable},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("ensure table %s: %w", s.name, err)
		}
	}
	return nil
}

// Services are the domain services built from one Config.
type Services struct {
	Credentials *credential.Service
	Invitations *invitation.Service
	Sessions    *session.Service
}

func NewServices(cfg config.Config, r *Repos, logger *zap.SugaredLogger) (*Services, error) {
	ids, err := utilities.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		return nil, err
	}
	creds := credential.NewService(r.Professionals, r.Patients, r.Admins, ids, credential.Options{
		Hasher:  credential.BcryptHasher{Cost: cfg.BcryptCost},
		Timeout: cfg.Database.Timeout,
	})
	invs := invitation.NewService(r.Tokens, creds, logger, invitation.Options{
		TTL:        cfg.InvitationTTL,
		BaseURL:    cfg.PublicBaseURL,
		Timeout:    cfg.Database.Timeout,
		MaxRetries: 2,
	})
	sessions, err := session.NewService(creds, cfg.JWTSecret, session.Options{TTL: cfg.SessionTTL, Issuer: cfg.JWTIssuer})
	if err != nil {
		return nil, err
	}
	return &Services{Credentials: creds, Invitations: invs, Sessions: sessions}, nil
}

// EnsureAdmin creates or refreshes the configured administrator. It is a
// no-op when no admin is configured.
func (s *Services) EnsureAdmin(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	if cfg.AdminEmail == "" {
		logger.Info("no ADMIN_EMAIL configured; skipping admin bootstrap")
		return nil
	}
	id, err := s.Credentials.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	logger.Infow("admin ready", "admin_id", id)
	return nil
}
