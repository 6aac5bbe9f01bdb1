// Package config gathers every environment knob into one Config value that
// is passed to constructors.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/utilities"
)

type Config struct {
	HTTPAddr string
	Database database.Config
	Log      utilities.Config

	JWTSecret  []byte
	JWTIssuer  string
	SessionTTL time.Duration

	// InvitationTTL is negative when invitations never expire.
	InvitationTTL time.Duration
	PublicBaseURL string

	SnowflakeNode int64
	BcryptCost    int
	MaxBodyBytes  int64

	AdminEmail    string
	AdminPassword string
}

// Load reads a .env file when present, then the environment. It fails when
// DATABASE_URL or JWT_SECRET is missing.
func Load() (Config, error) {
	// best-effort: a missing .env is the normal production case
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:      env("HTTP_ADDR", "0.0.0.0:8431"),
		Database:      database.ConfigFromEnv(),
		Log:           utilities.ConfigFromEnv(),
		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),
		JWTIssuer:     env("JWT_ISSUER", "service-clinic"),
		PublicBaseURL: strings.TrimRight(env("PUBLIC_BASE_URL", "http://localhost:8431"), "/"),
		SnowflakeNode: utilities.NodeFromEnv(),
		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	var errs []error
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(cfg.JWTSecret) == 0 {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	var err error
	if cfg.SessionTTL, err = duration("SESSION_TTL", session.DefaultTTL); err != nil {
		errs = append(errs, err)
	} else if cfg.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if cfg.InvitationTTL, err = duration("INVITATION_TTL", invitation.DefaultTTL); err != nil {
		errs = append(errs, err)
	} else if cfg.InvitationTTL == 0 {
		cfg.InvitationTTL = -1
	}
	if cfg.BcryptCost, err = integer("BCRYPT_COST", 12); err != nil {
		errs = append(errs, err)
	}
	maxBody, err := integer("HTTP_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MaxBodyBytes = int64(maxBody)

	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	return cfg, errors.Join(errs...)
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func integer(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
