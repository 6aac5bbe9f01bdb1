package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/database"
)

// DefaultPatientQuota is the quota every new professional starts with.
const DefaultPatientQuota = 4

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation. bcrypt salts every hash on its own.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// IDSource hands out identity ids.
type IDSource interface {
	Next() int64
}

// ProfessionalStore is the storage contract for professionals.
type ProfessionalStore interface {
	Create(ctx context.Context, p *entity.Professional) error
	GetByEmail(ctx context.Context, email string) (*entity.Professional, error)
	GetByID(ctx context.Context, id int64) (*entity.Professional, error)
	List(ctx context.Context) ([]entity.Professional, error)
	// Update writes the non-nil fields in one statement and returns the
	// affected row count.
	Update(ctx context.Context, id int64, status *identity.ApprovalStatus, quota *int) (int64, error)
}

// PatientStore is the read side of patient storage; patients are only
// written inside the invitation redemption transaction.
type PatientStore interface {
	GetByEmail(ctx context.Context, email string) (*entity.Patient, error)
	GetByID(ctx context.Context, id int64) (*entity.PatientView, error)
	List(ctx context.Context, professionalID *int64) ([]entity.PatientView, error)
	CountByProfessional(ctx context.Context, professionalID int64) (int, error)
}

// AdminStore is the storage contract for the administrator account.
type AdminStore interface {
	Upsert(ctx context.Context, a *entity.Admin) error
	GetByEmail(ctx context.Context, email string) (*entity.Admin, error)
	GetByID(ctx context.Context, id int64) (*entity.Admin, error)
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	Hasher  PasswordHasher
	Timeout time.Duration
}

// Service is the credential store: identities, authentication and the
// professional approval lifecycle.
type Service struct {
	pros     ProfessionalStore
	patients PatientStore
	admins   AdminStore
	ids      IDSource
	hasher   PasswordHasher
	timeout  time.Duration
	validate *validator.Validate

	dummyOnce sync.Once
	dummyHash string
}

func NewService(pros ProfessionalStore, patients PatientStore, admins AdminStore, ids IDSource, opts Options) *Service {
	if opts.Hasher == nil {
		opts.Hasher = BcryptHasher{Cost: 12}
	}
	return &Service{
		pros:     pros,
		patients: patients,
		admins:   admins,
		ids:      ids,
		hasher:   opts.Hasher,
		timeout:  opts.Timeout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ProfessionalInput is the self-registration payload of a professional.
type ProfessionalInput struct {
	Email              string `json:"email" validate:"required,email,max=255"`
	Password           string `json:"password" validate:"required,min=8,max=72"`
	FullName           string `json:"fullName" validate:"required,max=255"`
	Profession         string `json:"profession" validate:"required,max=255"`
	RegistrationNumber string `json:"registrationNumber" validate:"required,max=64"`
}

// PatientInput is the registration payload a patient submits with an invitation.
type PatientInput struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FullName  string `json:"fullName" validate:"required,max=255"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	BirthDate string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %s", identity.ErrValidation, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", identity.ErrValidation, err)
	}
	return nil
}

// CreateProfessional registers a professional in Pending state with the
// default quota and returns its id.
func (s *Service) CreateProfessional(ctx context.Context, in ProfessionalInput) (int64, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := s.check(in); err != nil {
		return 0, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.pros.GetByEmail(ctx, in.Email); err == nil {
		return 0, identity.ErrDuplicateEmail
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, database.Classify(err)
	}

	p := &entity.Professional{
		ID:                 s.ids.Next(),
		Email:              in.Email,
		PasswordHash:       hash,
		FullName:           in.FullName,
		Profession:         strings.TrimSpace(in.Profession),
		RegistrationNumber: strings.TrimSpace(in.RegistrationNumber),
		ApprovalStatus:     identity.StatusPending,
		PatientQuota:       DefaultPatientQuota,
	}
	if err := s.pros.Create(ctx, p); err != nil {
		if database.IsUniqueViolation(err, repo.ProfessionalEmailKey) {
			return 0, identity.ErrDuplicateEmail
		}
		return 0, database.Classify(err)
	}
	return p.ID, nil
}

// NewPatient validates a registration and builds the patient row with the
// password already hashed. The professional binding and the insert happen
// inside the redemption transaction so they commit together with the token.
func (s *Service) NewPatient(in PatientInput) (*entity.Patient, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := s.check(in); err != nil {
		return nil, err
	}
	var birth *time.Time
	if in.BirthDate != "" {
		d, err := time.Parse(time.DateOnly, in.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("%w: birthDate", identity.ErrValidation)
		}
		birth = &d
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &entity.Patient{
		ID:           s.ids.Next(),
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Phone:        strings.TrimSpace(in.Phone),
		BirthDate:    birth,
	}, nil
}

// Authenticate checks an email/password pair inside the namespace of role.
// Unknown emails and wrong passwords both yield ErrInvalidCredential.
func (s *Service) Authenticate(ctx context.Context, email, password string, role identity.Role) (identity.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return identity.Principal{}, identity.ErrInvalidCredential
	}

	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		id     int64
		hash   string
		status identity.ApprovalStatus
		err    error
	)
	switch role {
	case identity.RoleAdmin:
		var a *entity.Admin
		if a, err = s.admins.GetByEmail(ctx, email); err == nil {
			id, hash = a.ID, a.PasswordHash
		}
	case identity.RoleProfessional:
		var p *entity.Professional
		if p, err = s.pros.GetByEmail(ctx, email); err == nil {
			id, hash, status = p.ID, p.PasswordHash, p.ApprovalStatus
		}
	case identity.RolePatient:
		var p *entity.Patient
		if p, err = s.patients.GetByEmail(ctx, email); err == nil {
			id, hash = p.ID, p.PasswordHash
		}
	default:
		return identity.Principal{}, identity.ErrInvalidCredential
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// burn the same bcrypt work as a real comparison
			s.hasher.Verify(s.dummy(), password)
			return identity.Principal{}, identity.ErrInvalidCredential
		}
		return identity.Principal{}, database.Classify(err)
	}
	if !s.hasher.Verify(hash, password) {
		return identity.Principal{}, identity.ErrInvalidCredential
	}
	if role == identity.RoleProfessional && status != identity.StatusApproved {
		return identity.Principal{}, identity.NotApproved(status)
	}
	return identity.Principal{ID: id, Role: role, Email: email}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

// LoadPrincipal re-reads a session's principal from storage. A professional
// that is no longer Approved fails with a NotApprovedError.
func (s *Service) LoadPrincipal(ctx context.Context, role identity.Role, id int64) (identity.Principal, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch role {
	case identity.RoleAdmin:
		a, err := s.admins.GetByID(ctx, id)
		if err != nil {
			return identity.Principal{}, notFound(err)
		}
		return identity.Principal{ID: a.ID, Role: role, Email: a.Email}, nil
	case identity.RoleProfessional:
		p, err := s.pros.GetByID(ctx, id)
		if err != nil {
			return identity.Principal{}, notFound(err)
		}
		if p.ApprovalStatus != identity.StatusApproved {
			return identity.Principal{}, identity.NotApproved(p.ApprovalStatus)
		}
		return identity.Principal{ID: p.ID, Role: role, Email: p.Email}, nil
	case identity.RolePatient:
		p, err := s.patients.GetByID(ctx, id)
		if err != nil {
			return identity.Principal{}, notFound(err)
		}
		return identity.Principal{ID: p.ID, Role: role, Email: p.Email}, nil
	}
	return identity.Principal{}, identity.ErrNotFound
}

// ProfessionalUpdate is an admin edit of a professional. Nil fields are left
// alone.
type ProfessionalUpdate struct {
	ApprovalStatus *identity.ApprovalStatus
	PatientQuota   *int
}

// UpdateProfessional validates every field of u before writing any of them,
// so a rejected update leaves the professional unchanged. No history is kept.
func (s *Service) UpdateProfessional(ctx context.Context, professionalID int64, u ProfessionalUpdate) error {
	if u.ApprovalStatus == nil && u.PatientQuota == nil {
		return fmt.Errorf("%w: nothing to update", identity.ErrValidation)
	}
	if u.ApprovalStatus != nil {
		if _, err := identity.ParseApprovalStatus(string(*u.ApprovalStatus)); err != nil {
			return err
		}
	}
	if u.PatientQuota != nil && *u.PatientQuota < 0 {
		return fmt.Errorf("%w: patientQuota must be >= 0", identity.ErrValidation)
	}
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.pros.Update(ctx, professionalID, u.ApprovalStatus, u.PatientQuota)
	if err != nil {
		return database.Classify(err)
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// SetApprovalStatus moves a professional to newStatus.
func (s *Service) SetApprovalStatus(ctx context.Context, professionalID int64, newStatus identity.ApprovalStatus) error {
	return s.UpdateProfessional(ctx, professionalID, ProfessionalUpdate{ApprovalStatus: &newStatus})
}

// SetPatientQuota changes how many patients a professional may onboard.
func (s *Service) SetPatientQuota(ctx context.Context, professionalID int64, quota int) error {
	return s.UpdateProfessional(ctx, professionalID, ProfessionalUpdate{PatientQuota: &quota})
}

// GetProfessional returns one professional.
func (s *Service) GetProfessional(ctx context.Context, id int64) (*entity.Professional, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()
	p, err := s.pros.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ListProfessionals returns every professional for the admin dashboard.
func (s *Service) ListProfessionals(ctx context.Context) ([]entity.Professional, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.pros.List(ctx)
	return out, database.Classify(err)
}

// ListPatients returns all patients, or only those of professionalID when set.
func (s *Service) ListPatients(ctx context.Context, professionalID *int64) ([]entity.PatientView, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.patients.List(ctx, professionalID)
	return out, database.Classify(err)
}

// GetPatient returns one patient with its professional's name.
func (s *Service) GetPatient(ctx context.Context, id int64) (*entity.PatientView, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// CountPatients counts the patients bound to a professional.
func (s *Service) CountPatients(ctx context.Context, professionalID int64) (int, error) {
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.patients.CountByProfessional(ctx, professionalID)
	return n, database.Classify(err)
}

// EnsureAdmin makes email the single administrator. The same email only gets
// its password hash refreshed; a new email replaces the previous admin.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (int64, error) {
	email = strings.TrimSpace(email)
	if email == "" || len(password) < 8 {
		return 0, fmt.Errorf("%w: admin email and a password of at least 8 characters are required", identity.ErrValidation)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	ctx, cancel := database.WithTimeout(ctx, s.timeout)
	defer cancel()

	a := &entity.Admin{ID: s.ids.Next(), Email: email, PasswordHash: hash}
	if err := s.admins.Upsert(ctx, a); err != nil {
		return 0, database.Classify(err)
	}
	return a.ID, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return identity.ErrNotFound
	}
	return database.Classify(err)
}
