package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Config struct {
	DSN            string
	MaxConns       int
	Timeout        time.Duration
	TimeZone       string
	ClientEncoding string
}

// ConfigFromEnv reads DB config from environment variables.
// DSN is left empty when DATABASE_URL is unset; callers must treat that as fatal.
func ConfigFromEnv() Config {
	max := 5
	if v, err := strconv.Atoi(os.Getenv("DATABASE_MAX_CONNS")); err == nil && v > 0 {
		max = v
	}
	timeout := 5 * time.Second
	if v, err := time.ParseDuration(os.Getenv("DATABASE_TIMEOUT")); err == nil && v > 0 {
		timeout = v
	}
	return Config{
		DSN:            os.Getenv("DATABASE_URL"),
		MaxConns:       max,
		Timeout:        timeout,
		TimeZone:       os.Getenv("DATABASE_TIMEZONE"),
		ClientEncoding: os.Getenv("DATABASE_CLIENT_ENCODING"),
	}
}

// Connect opens a pool and verifies connectivity with a ping.
func Connect(cfg Config) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("open db: empty DSN")
	}
	db, err := sqlx.Open("postgres", withSessionOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// withSessionOptions appends time zone and client encoding as libpq
// connection parameters so every pooled connection gets them, not just the
// one that happened to run a SET.
func withSessionOptions(cfg Config) string {
	var opts []string
	if cfg.TimeZone != "" {
		opts = append(opts, "-c TimeZone="+cfg.TimeZone)
	}
	if cfg.ClientEncoding != "" {
		opts = append(opts, "-c client_encoding="+cfg.ClientEncoding)
	}
	if len(opts) == 0 {
		return cfg.DSN
	}
	options := strings.Join(opts, " ")
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		sep := "?"
		if strings.Contains(cfg.DSN, "?") {
			sep = "&"
		}
		return cfg.DSN + sep + "options=" + urlEscape(options)
	}
	return cfg.DSN + " options=" + quoteLiteral(options)
}

// quoteLiteral escapes single quotes and wraps the value in single quotes
// for key/value style connection strings.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func urlEscape(s string) string {
	r := strings.NewReplacer(" ", "%20", "=", "%3D", "&", "%26", "+", "%2B")
	return r.Replace(s)
}

// WithTimeout bounds a storage call. A zero timeout leaves ctx untouched.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
