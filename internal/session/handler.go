package session

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/web"
)

// Handler exposes the login endpoint.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Response is the JSON view of a session.
type Response struct {
	Token     string        `json:"token"`
	Role      identity.Role `json:"role"`
	UserID    string        `json:"userId"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// NewResponse renders s for the client.
func NewResponse(s *Session) Response {
	return Response{
		Token:     s.Token,
		Role:      s.Principal.Role,
		UserID:    strconv.FormatInt(s.Principal.ID, 10),
		ExpiresAt: s.ExpiresAt.UTC(),
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.logger, err)
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	s, err := h.svc.Login(r.Context(), req.Email, req.Password, role)
	if err != nil {
		web.Error(w, h.logger, err)
		return
	}
	h.logger.Infow("login", "role", role, "user_id", s.Principal.ID)
	web.JSON(w, http.StatusOK, NewResponse(s))
}
