package credential

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/web"
)

// Handler exposes professional and patient endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// ProfessionalView is the JSON shape of a professional. The hash never leaves
// the service.
type ProfessionalView struct {
	ID                 string                  `json:"id"`
	Email              string                  `json:"email"`
	FullName           string                  `json:"fullName"`
	Profession         string                  `json:"profession"`
	RegistrationNumber string                  `json:"registrationNumber"`
	ApprovalStatus     identity.ApprovalStatus `json:"approvalStatus"`
	PatientQuota       int                     `json:"patientQuota"`
	CreatedAt          time.Time               `json:"createdAt"`
}

func professionalView(p *entity.Professional) ProfessionalView {
	return ProfessionalView{
		ID:                 strconv.FormatInt(p.ID, 10),
		Email:              p.Email,
		FullName:           p.FullName,
		Profession:         p.Profession,
		RegistrationNumber: p.RegistrationNumber,
		ApprovalStatus:     p.ApprovalStatus,
		PatientQuota:       p.PatientQuota,
		CreatedAt:          p.CreatedAt,
	}
}

// PatientView is the JSON shape of a patient.
type PatientView struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FullName         string    `json:"fullName"`
	Phone            string    `json:"phone,omitempty"`
	BirthDate        string    `json:"birthDate,omitempty"`
	ProfessionalID   string    `json:"professionalId,omitempty"`
	ProfessionalName string    `json:"professionalName,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func patientView(p *entity.PatientView) PatientView {
	v := PatientView{
		ID:        strconv.FormatInt(p.ID, 10),
		Email:     p.Email,
		FullName:  p.FullName,
		Phone:     p.Phone,
		CreatedAt: p.CreatedAt,
	}
	if p.BirthDate != nil {
		v.BirthDate = p.BirthDate.Format(time.DateOnly)
	}
	if p.ProfessionalID != nil {
		v.ProfessionalID = strconv.FormatInt(*p.ProfessionalID, 10)
	}
	if p.ProfessionalName != nil {
		v.ProfessionalName = *p.ProfessionalName
	}
	return v
}

// CreatedResponse carries the id of a new record.
type CreatedResponse struct {
	ID string `json:"id"`
}

func (h *Handler) RegisterProfessional(w http.ResponseWriter, r *http.Request) {
	var in ProfessionalInput
	if err := web.Decode(r, &in); err != nil {
		web.Error(w, h.logger, err)
		return
	}
	id, err := h.svc.CreateProfessional(r.Context(), in)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	h.logger.Infow("professional registered", "professional_id", id)
	web.JSON(w, http.StatusCreated, CreatedResponse{ID: strconv.FormatInt(id, 10)})
}

func (h *Handler) ListProfessionals(w http.ResponseWriter, r *http.Request) {
	pros, err := h.svc.ListProfessionals(r.Context())
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	out := make([]ProfessionalView, 0, len(pros))
	for i := range pros {
		out = append(out, professionalView(&pros[i]))
	}
	web.JSON(w, http.StatusOK, out)
}

func (h *Handler) GetProfessional(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	p, err := h.svc.GetProfessional(r.Context(), id)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, professionalView(p))
}

// UpdateProfessionalRequest is the admin patch payload. Absent fields are
// left alone.
type UpdateProfessionalRequest struct {
	ApprovalStatus *string `json:"approvalStatus"`
	PatientQuota   *int    `json:"patientQuota"`
}

func (h *Handler) UpdateProfessional(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	var req UpdateProfessionalRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.logger, err)
		return
	}
	u := ProfessionalUpdate{PatientQuota: req.PatientQuota}
	if req.ApprovalStatus != nil {
		status, err := identity.ParseApprovalStatus(*req.ApprovalStatus)
		if err != nil {
			web.Error(w, h.logger, err)
			return
		}
		u.ApprovalStatus = &status
	}
	if err := h.svc.UpdateProfessional(r.Context(), id, u); err != nil {
		web.Error(w, h.logger, err)
		return
	}
	if u.ApprovalStatus != nil {
		h.logger.Infow("approval status changed", "professional_id", id, "status", *u.ApprovalStatus)
	}
	if u.PatientQuota != nil {
		h.logger.Infow("patient quota changed", "professional_id", id, "quota", *u.PatientQuota)
	}
	p, err := h.svc.GetProfessional(r.Context(), id)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, professionalView(p))
}

// ListPatients lists every patient, or those of the {id} professional when
// the route carries one.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	var filter *int64
	if r.PathValue("id") != "" {
		id, err := web.PathID(r, "id")
		if err != nil {
			web.Error(w, h.logger, err)
			return
		}
		filter = &id
	}
	patients, err := h.svc.ListPatients(r.Context(), filter)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	out := make([]PatientView, 0, len(patients))
	for i := range patients {
		out = append(out, patientView(&patients[i]))
	}
	web.JSON(w, http.StatusOK, out)
}

func (h *Handler) CurrentPatient(w http.ResponseWriter, r *http.Request) {
	p, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		web.Error(w, h.logger, identity.ErrUnauthenticated)
		return
	}
	v, err := h.svc.GetPatient(r.Context(), p.ID)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, patientView(v))
}
