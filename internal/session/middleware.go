package session

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/web"
)

// Middleware gates handlers behind a verified session.
type Middleware struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewMiddleware(svc *Service, logger *zap.SugaredLogger) *Middleware {
	return &Middleware{svc: svc, logger: logger}
}

// Require admits requests whose bearer token authorizes one of roles and
// stores the reloaded principal in the request context.
func (m *Middleware) Require(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := m.svc.Authorize(r.Context(), bearer(r), roles...)
			if err != nil {
				web.Error(w, m.logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireSelf is Require plus a check that the {param} path value is the
// principal's own id. Principals holding one of bypass skip that check.
func (m *Middleware) RequireSelf(param string, roles []identity.Role, bypass ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		self := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := identity.PrincipalFrom(r.Context())
			if !hasRole(bypass, p.Role) && r.PathValue(param) != strconv.FormatInt(p.ID, 10) {
				web.Error(w, m.logger, identity.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
		return m.Require(roles...)(self)
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
