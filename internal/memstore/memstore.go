// Package memstore keeps every table in process memory. It backs the service
// tests and mirrors the PostgreSQL behaviour the services rely on: unique
// constraints, row locks held until the end of a redemption, and rollback of
// staged writes on error.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential"
	credentity "github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
	credrepo "github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation/entity"
)

// Store is the shared state behind the typed views.
type Store struct {
	mu            sync.Mutex
	professionals map[int64]credentity.Professional
	patients      map[int64]credentity.Patient
	admins        map[int64]credentity.Admin
	tokens        map[string]entity.InvitationToken
	// reserved holds patient emails inserted by a redemption that has not
	// finished yet.
	reserved map[string]bool
	locks    map[string]*sync.Mutex
	failures []error
	now      func() time.Time
}

func New() *Store {
	return &Store{
		professionals: map[int64]credentity.Professional{},
		patients:      map[int64]credentity.Patient{},
		admins:        map[int64]credentity.Admin{},
		tokens:        map[string]entity.InvitationToken{},
		reserved:      map[string]bool{},
		locks:         map[string]*sync.Mutex{},
		now:           time.Now,
	}
}

// FailRedemptions makes the next len(errs) redemptions fail with errs, in
// order, before touching any row.
func (s *Store) FailRedemptions(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Token returns a copy of the token with the given id.
func (s *Store) Token(id string) (entity.InvitationToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	return t, ok
}

// PatientCount returns the number of committed patients.
func (s *Store) PatientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patients)
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint, Message: "duplicate key value violates unique constraint"}
}

func (s *Store) Professionals() *Professionals { return &Professionals{s: s} }
func (s *Store) Patients() *Patients           { return &Patients{s: s} }
func (s *Store) Admins() *Admins               { return &Admins{s: s} }
func (s *Store) Tokens() *Tokens               { return &Tokens{s: s} }

// Professionals implements credential.ProfessionalStore.
type Professionals struct{ s *Store }

func (r *Professionals) Create(_ context.Context, p *credentity.Professional) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.professionals {
		if other.Email == p.Email {
			return uniqueViolation(credrepo.ProfessionalEmailKey)
		}
	}
	now := r.s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.professionals[p.ID] = *p
	return nil
}

func (r *Professionals) GetByEmail(_ context.Context, email string) (*credentity.Professional, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.professionals {
		if p.Email == email {
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *Professionals) GetByID(_ context.Context, id int64) (*credentity.Professional, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.professionals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

// List orders Pending first, then newest first.
func (r *Professionals) List(_ context.Context) ([]credentity.Professional, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]credentity.Professional, 0, len(r.s.professionals))
	for _, p := range r.s.professionals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].ApprovalStatus == identity.StatusPending, out[j].ApprovalStatus == identity.StatusPending
		if pi != pj {
			return pi
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *Professionals) Update(_ context.Context, id int64, status *identity.ApprovalStatus, quota *int) (int64, error) {
	return r.update(id, func(p *credentity.Professional) {
		if status != nil {
			p.ApprovalStatus = *status
		}
		if quota != nil {
			p.PatientQuota = *quota
		}
	})
}

func (r *Professionals) update(id int64, fn func(*credentity.Professional)) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.professionals[id]
	if !ok {
		return 0, nil
	}
	fn(&p)
	p.UpdatedAt = r.s.now().UTC()
	r.s.professionals[id] = p
	return 1, nil
}

// Patients implements credential.PatientStore.
type Patients struct{ s *Store }

func (r *Patients) GetByEmail(_ context.Context, email string) (*credentity.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.patients {
		if p.Email == email {
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *Patients) GetByID(_ context.Context, id int64) (*credentity.PatientView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	v := r.s.view(p)
	return &v, nil
}

func (r *Patients) List(_ context.Context, professionalID *int64) ([]credentity.PatientView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []credentity.PatientView{}
	for _, p := range r.s.patients {
		if professionalID != nil && (p.ProfessionalID == nil || *p.ProfessionalID != *professionalID) {
			continue
		}
		out = append(out, r.s.view(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Patients) CountByProfessional(_ context.Context, professionalID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, p := range r.s.patients {
		if p.ProfessionalID != nil && *p.ProfessionalID == professionalID {
			n++
		}
	}
	return n, nil
}

// view must be called with s.mu held.
func (s *Store) view(p credentity.Patient) credentity.PatientView {
	v := credentity.PatientView{Patient: p}
	if p.ProfessionalID != nil {
		if pro, ok := s.professionals[*p.ProfessionalID]; ok {
			name := pro.FullName
			v.ProfessionalName = &name
		}
	}
	return v
}

// Admins implements credential.AdminStore.
type Admins struct{ s *Store }

// Upsert keeps a single admin. The same email keeps its id; any other
// email replaces the existing row.
func (r *Admins) Upsert(_ context.Context, a *credentity.Admin) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, existing := range r.s.admins {
		if existing.Email == a.Email {
			existing.PasswordHash = a.PasswordHash
			r.s.admins[id] = existing
			a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
			return nil
		}
	}
	clear(r.s.admins)
	a.CreatedAt = r.s.now().UTC()
	r.s.admins[a.ID] = *a
	return nil
}

func (r *Admins) GetByEmail(_ context.Context, email string) (*credentity.Admin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.admins {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *Admins) GetByID(_ context.Context, id int64) (*credentity.Admin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.admins[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

// Tokens implements invitation.Store.
type Tokens struct{ s *Store }

func (r *Tokens) Create(_ context.Context, t *entity.InvitationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.tokens {
		if other.Secret == t.Secret {
			return uniqueViolation(invitation.SecretKey)
		}
	}
	if _, ok := r.s.professionals[t.ProfessionalID]; !ok {
		return &pq.Error{Code: "23503", Message: "violates foreign key constraint"}
	}
	t.Used, t.UsedAt, t.UsedBy = false, nil, nil
	r.s.tokens[t.ID] = *t
	return nil
}

func (r *Tokens) ListOpen(_ context.Context, professionalID int64, now time.Time) ([]entity.InvitationToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []entity.InvitationToken{}
	for _, t := range r.s.tokens {
		if t.ProfessionalID == professionalID && !t.Used && !t.Expired(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Tokens) WithinRedemption(ctx context.Context, fn func(ctx context.Context, tx invitation.RedemptionTx) error) error {
	r.s.mu.Lock()
	if len(r.s.failures) > 0 {
		err := r.s.failures[0]
		r.s.failures = r.s.failures[1:]
		r.s.mu.Unlock()
		return err
	}
	r.s.mu.Unlock()

	tx := &redemptionTx{s: r.s}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// redemptionTx stages its writes and applies them on commit. Locks taken by
// LockBySecret are held until release.
type redemptionTx struct {
	s        *Store
	held     []*sync.Mutex
	patients []credentity.Patient
	used     []usedMark
}

type usedMark struct {
	tokenID   string
	patientID int64
	at        time.Time
}

func (t *redemptionTx) LockBySecret(ctx context.Context, secret string) (*entity.InvitationToken, error) {
	t.s.mu.Lock()
	var id string
	for _, tok := range t.s.tokens {
		if tok.Secret == secret {
			id = tok.ID
			break
		}
	}
	if id == "" {
		t.s.mu.Unlock()
		return nil, sql.ErrNoRows
	}
	lock, ok := t.s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		t.s.locks[id] = lock
	}
	t.s.mu.Unlock()

	// blocks like SELECT ... FOR UPDATE until the current holder finishes
	lock.Lock()
	t.held = append(t.held, lock)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tok := t.s.tokens[id]
	return &tok, nil
}

func (t *redemptionTx) PatientEmailExists(_ context.Context, email string) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, p := range t.s.patients {
		if p.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (t *redemptionTx) CreatePatient(_ context.Context, p *credentity.Patient) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.reserved[p.Email] {
		return uniqueViolation(credrepo.PatientEmailKey)
	}
	for _, other := range t.s.patients {
		if other.Email == p.Email {
			return uniqueViolation(credrepo.PatientEmailKey)
		}
		if p.InvitationID != nil && other.InvitationID != nil && *other.InvitationID == *p.InvitationID {
			return uniqueViolation(credrepo.PatientInvitationKey)
		}
	}
	t.s.reserved[p.Email] = true
	p.CreatedAt = t.s.now().UTC()
	t.patients = append(t.patients, *p)
	return nil
}

func (t *redemptionTx) MarkUsed(_ context.Context, tokenID string, patientID int64, at time.Time) error {
	t.used = append(t.used, usedMark{tokenID: tokenID, patientID: patientID, at: at})
	return nil
}

func (t *redemptionTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, p := range t.patients {
		t.s.patients[p.ID] = p
	}
	for _, m := range t.used {
		tok := t.s.tokens[m.tokenID]
		at, by := m.at, m.patientID
		tok.Used, tok.UsedAt, tok.UsedBy = true, &at, &by
		t.s.tokens[m.tokenID] = tok
	}
	return nil
}

// release drops email reservations and row locks, committed or not.
func (t *redemptionTx) release() {
	t.s.mu.Lock()
	for _, p := range t.patients {
		delete(t.s.reserved, p.Email)
	}
	t.s.mu.Unlock()
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

var (
	_ credential.ProfessionalStore = (*Professionals)(nil)
	_ credential.PatientStore      = (*Patients)(nil)
	_ credential.AdminStore        = (*Admins)(nil)
	_ invitation.Store             = (*Tokens)(nil)
)
