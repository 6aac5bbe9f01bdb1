package invitation

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/web"
)

// SessionIssuer signs a session for a freshly registered patient.
type SessionIssuer interface {
	Issue(p identity.Principal) (*session.Session, error)
}

// Handler exposes invitation issuing and redemption.
type Handler struct {
	svc      *Service
	sessions SessionIssuer
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, sessions SessionIssuer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, logger: logger}
}

// InvitationView is the JSON shape of an issued invitation.
type InvitationView struct {
	ID        string     `json:"id"`
	Secret    string     `json:"invitationSecret"`
	URL       string     `json:"invitationUrl"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func invitationView(inv *Invitation) InvitationView {
	return InvitationView{
		ID:        inv.Token.ID,
		Secret:    inv.Token.Secret,
		URL:       inv.URL,
		CreatedAt: inv.Token.CreatedAt,
		ExpiresAt: inv.Token.ExpiresAt,
	}
}

// Issue mints one invitation, or an array of ?count=N invitations.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	raw := r.URL.Query().Get("count")
	if raw == "" {
		inv, err := h.svc.Issue(r.Context(), id)
		if err != nil {
			web.Error(w, h.logger, err)
			return
		}
		h.logger.Infow("invitation issued", "professional_id", id, "token_id", inv.Token.ID)
		web.JSON(w, http.StatusCreated, invitationView(inv))
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		web.Error(w, h.logger, fmt.Errorf("%w: bad count", identity.ErrValidation))
		return
	}
	invs, err := h.svc.IssueBatch(r.Context(), id, n)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	h.logger.Infow("invitations issued", "professional_id", id, "count", len(invs))
	out := make([]InvitationView, 0, len(invs))
	for i := range invs {
		out = append(out, invitationView(&invs[i]))
	}
	web.JSON(w, http.StatusCreated, out)
}

func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	invs, err := h.svc.ListOpen(r.Context(), id)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	out := make([]InvitationView, 0, len(invs))
	for i := range invs {
		out = append(out, invitationView(&invs[i]))
	}
	web.JSON(w, http.StatusOK, out)
}

// RedeemResponse is returned after a successful redemption. Token is a
// patient session so the client can continue without a separate login.
type RedeemResponse struct {
	PatientID      string     `json:"patientId"`
	ProfessionalID string     `json:"professionalId"`
	Token          string     `json:"token,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var in credential.PatientInput
	if err := web.Decode(r, &in); err != nil {
		web.Error(w, h.logger, err)
		return
	}
	res, err := h.svc.Redeem(r.Context(), r.PathValue("secret"), in)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	h.logger.Infow("invitation redeemed", "token_id", res.TokenID, "patient_id", res.PatientID, "professional_id", res.ProfessionalID)

	out := RedeemResponse{
		PatientID:      strconv.FormatInt(res.PatientID, 10),
		ProfessionalID: strconv.FormatInt(res.ProfessionalID, 10),
	}
	// the patient exists now; a signing failure only costs the auto-login
	s, err := h.sessions.Issue(identity.Principal{ID: res.PatientID, Role: identity.RolePatient, Email: strings.TrimSpace(in.Email)})
	if err != nil {
		h.logger.Errorw("issue session after redemption", "patient_id", res.PatientID, "err", err)
	} else {
		exp := s.ExpiresAt.UTC()
		out.Token, out.ExpiresAt = s.Token, &exp
	}
	web.JSON(w, http.StatusCreated, out)
}
