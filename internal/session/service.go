package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
)

const DefaultTTL = 8 * time.Hour

// Credentials is the part of the credential store sessions depend on.
type Credentials interface {
	Authenticate(ctx context.Context, email, password string, role identity.Role) (identity.Principal, error)
	LoadPrincipal(ctx context.Context, role identity.Role, id int64) (identity.Principal, error)
}

// Claims are the JWT claims of a session token.
type Claims struct {
	Role identity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session is a signed token handed to a principal after login.
type Session struct {
	Token     string
	Principal identity.Principal
	ExpiresAt time.Time
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

// Service issues and verifies stateless HS256 session tokens.
type Service struct {
	creds  Credentials
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewService(creds Credentials, secret []byte, opts Options) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: signing secret is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Issuer == "" {
		opts.Issuer = "service-clinic"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{creds: creds, secret: secret, ttl: opts.TTL, issuer: opts.Issuer, now: opts.Now}, nil
}

// Login authenticates the pair within role and issues a session.
func (s *Service) Login(ctx context.Context, email, password string, role identity.Role) (*Session, error) {
	p, err := s.creds.Authenticate(ctx, email, password, role)
	if err != nil {
		return nil, err
	}
	return s.Issue(p)
}

// Issue signs a token for p valid for the configured TTL.
func (s *Service) Issue(p identity.Principal) (*Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &Session{Token: tok, Principal: p, ExpiresAt: exp}, nil
}

// Authorize verifies token, checks its role against required (any of them;
// none means any role) and reloads the principal from storage. A principal
// removed since login is unauthenticated; a professional no longer Approved
// is forbidden.
func (s *Service) Authorize(ctx context.Context, token string, required ...identity.Role) (identity.Principal, error) {
	claims, err := s.parse(token)
	if err != nil {
		return identity.Principal{}, err
	}
	if !claims.Role.Valid() {
		return identity.Principal{}, identity.ErrUnauthenticated
	}
	if len(required) > 0 && !hasRole(required, claims.Role) {
		return identity.Principal{}, identity.ErrForbidden
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return identity.Principal{}, identity.ErrUnauthenticated
	}

	p, err := s.creds.LoadPrincipal(ctx, claims.Role, id)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, identity.ErrNotFound):
		return identity.Principal{}, identity.ErrUnauthenticated
	case errors.Is(err, identity.ErrNotApproved):
		return identity.Principal{}, fmt.Errorf("%w: %w", identity.ErrForbidden, err)
	}
	return identity.Principal{}, err
}

func (s *Service) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, identity.ErrUnauthenticated
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrUnauthenticated, err)
	}
	return claims, nil
}

func hasRole(roles []identity.Role, r identity.Role) bool {
	for _, want := range roles {
		if want == r {
			return true
		}
	}
	return false
}
