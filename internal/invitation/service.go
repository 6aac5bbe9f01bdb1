package invitation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential"
	credentity "github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
	credrepo "github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation/entity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/utilities"
)

// SecretKey is the unique constraint on invitation_tokens.secret.
const SecretKey = "invitation_tokens_secret_key"

const DefaultTTL = 24 * time.Hour

const maxSecretAttempts = 3

// RedemptionTx is the unit of work a single redemption runs in. Every call
// shares one transaction; the token row stays locked until it ends.
type RedemptionTx interface {
	// LockBySecret selects the token row FOR UPDATE, or returns sql.ErrNoRows.
	LockBySecret(ctx context.Context, secret string) (*entity.InvitationToken, error)
	PatientEmailExists(ctx context.Context, email string) (bool, error)
	CreatePatient(ctx context.Context, p *credentity.Patient) error
	MarkUsed(ctx context.Context, tokenID string, patientID int64, at time.Time) error
}

// Store persists invitation tokens.
type Store interface {
	Create(ctx context.Context, t *entity.InvitationToken) error
	ListOpen(ctx context.Context, professionalID int64, now time.Time) ([]entity.InvitationToken, error)
	// WithinRedemption runs fn in a transaction, committing when fn returns
	// nil and rolling back everything otherwise.
	WithinRedemption(ctx context.Context, fn func(ctx context.Context, tx RedemptionTx) error) error
}

// Credentials is what the invitation flow needs from the credential store.
type Credentials interface {
	GetProfessional(ctx context.Context, id int64) (*credentity.Professional, error)
	CountPatients(ctx context.Context, professionalID int64) (int, error)
	NewPatient(in credential.PatientInput) (*credentity.Patient, error)
}

// Options tunes a Service. Zero values pick defaults; a negative TTL
// disables expiry.
type Options struct {
	TTL        time.Duration
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
	Backoff    time.Duration
	Now        func() time.Time
	Secrets    func() (string, error)
}

// Service issues and redeems single-use invitation tokens.
type Service struct {
	store   Store
	creds   Credentials
	logger  *zap.SugaredLogger
	ttl     time.Duration
	baseURL string
	timeout time.Duration
	retries uint64
	backoff time.Duration
	now     func() time.Time
	secrets func() (string, error)
}

func NewService(store Store, creds Credentials, logger *zap.SugaredLogger, opts Options) *Service {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Secrets == nil {
		opts.Secrets = func() (string, error) { return utilities.NewSecret(utilities.SecretBytes) }
	}
	return &Service{
		store:   store,
		creds:   creds,
		logger:  logger,
		ttl:     opts.TTL,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		retries: opts.MaxRetries,
		backoff: opts.Backoff,
		now:     opts.Now,
		secrets: opts.Secrets,
	}
}

// Invitation is an issued token plus the link handed to the patient.
type Invitation struct {
	Token *entity.InvitationToken
	URL   string
}

// Redemption is the outcome of a successful redemption.
type Redemption struct {
	PatientID      int64
	ProfessionalID int64
	TokenID        string
}

// MaxBatch caps how many invitations one IssueBatch call may mint.
const MaxBatch = 50

// Issue mints a token for an approved professional that is under quota.
// The quota is a point-in-time check: tokens already handed out are not
// reserved against it.
func (s *Service) Issue(ctx context.Context, professionalID int64) (*Invitation, error) {
	invs, err := s.IssueBatch(ctx, professionalID, 1)
	if err != nil {
		return nil, err
	}
	return &invs[0], nil
}

// IssueBatch mints n tokens at once. It fails with ErrQuotaExceeded unless
// the professional's current patients plus n fit in the quota.
func (s *Service) IssueBatch(ctx context.Context, professionalID int64, n int) ([]Invitation, error) {
	if n < 1 || n > MaxBatch {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", identity.ErrValidation, MaxBatch)
	}
	pro, err := s.creds.GetProfessional(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	if pro.ApprovalStatus != identity.StatusApproved {
		return nil, identity.NotApproved(pro.ApprovalStatus)
	}
	count, err := s.creds.CountPatients(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	if count+n > pro.PatientQuota {
		return nil, identity.ErrQuotaExceeded
	}

	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	out := make([]Invitation, 0, n)
	for range n {
		inv, err := s.mint(ctx, professionalID)
		if err != nil {
			return out, err
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (s *Service) mint(ctx context.Context, professionalID int64) (*Invitation, error) {
	for attempt := 1; attempt <= maxSecretAttempts; attempt++ {
		secret, err := s.secrets()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		now := s.now().UTC()
		tok := &entity.InvitationToken{
			ID:             utilities.NewKSUID(),
			Secret:         secret,
			ProfessionalID: professionalID,
			CreatedAt:      now,
		}
		if s.ttl > 0 {
			exp := now.Add(s.ttl)
			tok.ExpiresAt = &exp
		}
		err = s.store.Create(ctx, tok)
		if err == nil {
			return &Invitation{Token: tok, URL: s.link(secret)}, nil
		}
		if !database.IsUniqueViolation(err, SecretKey) {
			return nil, database.Classify(err)
		}
		s.logger.Warnw("invitation secret collision, regenerating", "attempt", attempt, "professional_id", professionalID)
	}
	return nil, fmt.Errorf("issue invitation: no unique secret after %d attempts", maxSecretAttempts)
}

// ListOpen returns the professional's unused, unexpired invitations.
func (s *Service) ListOpen(ctx context.Context, professionalID int64) ([]Invitation, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	toks, err := s.store.ListOpen(ctx, professionalID, s.now().UTC())
	if err != nil {
		return nil, database.Classify(err)
	}
	out := make([]Invitation, 0, len(toks))
	for i := range toks {
		out = append(out, Invitation{Token: &toks[i], URL: s.link(toks[i].Secret)})
	}
	return out, nil
}

// Redeem exchanges a secret for a new patient bound to the issuing
// professional. Concurrent redemptions of one secret serialize on the row
// lock: one wins, the rest see ErrTokenAlreadyUsed.
func (s *Service) Redeem(ctx context.Context, secret string, in credential.PatientInput) (*Redemption, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, identity.ErrInvalidToken
	}
	// hash before locking so the row lock is not held across bcrypt
	patient, err := s.creds.NewPatient(in)
	if err != nil {
		return nil, err
	}

	var out *Redemption
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := s.redeemOnce(ctx, secret, patient)
		if err != nil {
			if database.IsRetryableTx(err) {
				s.logger.Warnw("redemption transaction failed, retrying", "err", err)
				return retry.RetryableError(err)
			}
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, database.Classify(err)
	}
	return out, nil
}

func (s *Service) redeemOnce(ctx context.Context, secret string, patient *credentity.Patient) (*Redemption, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out *Redemption
	err := s.store.WithinRedemption(ctx, func(ctx context.Context, tx RedemptionTx) error {
		tok, err := tx.LockBySecret(ctx, secret)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return identity.ErrInvalidToken
			}
			return err
		}
		if tok.Used {
			return identity.ErrTokenAlreadyUsed
		}
		now := s.now().UTC()
		if tok.Expired(now) {
			return identity.ErrTokenExpired
		}
		exists, err := tx.PatientEmailExists(ctx, patient.Email)
		if err != nil {
			return err
		}
		if exists {
			return identity.ErrDuplicateEmail
		}

		p := *patient
		p.ProfessionalID = &tok.ProfessionalID
		p.InvitationID = &tok.ID
		if err := tx.CreatePatient(ctx, &p); err != nil {
			switch {
			case database.IsUniqueViolation(err, credrepo.PatientEmailKey):
				return identity.ErrDuplicateEmail
			case database.IsUniqueViolation(err, credrepo.PatientInvitationKey):
				return identity.ErrTokenAlreadyUsed
			}
			return err
		}
		if err := tx.MarkUsed(ctx, tok.ID, p.ID, now); err != nil {
			return err
		}
		out = &Redemption{PatientID: p.ID, ProfessionalID: tok.ProfessionalID, TokenID: tok.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) link(secret string) string {
	return s.baseURL + "/patient-registration.html?token=" + url.QueryEscape(secret)
}
