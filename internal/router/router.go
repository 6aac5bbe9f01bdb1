package router

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/web"
)

// Prefix is mounted in front of every route.
const Prefix = "/api"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs requests at debug level. The query string is left
// out because redemption links carry the secret.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"route", r.Pattern,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers for a JSON API.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			// HSTS only over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 response.
func RecoverMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					web.Error(w, logger, fmt.Errorf("panic in %s %s: %v", r.Method, r.URL.Path, v))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimitMiddleware caps request bodies at n bytes.
func BodyLimitMiddleware(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers and gate the routes are built from.
type Deps struct {
	Logger       *zap.SugaredLogger
	Sessions     *session.Middleware
	Login        *session.Handler
	Credentials  *credential.Handler
	Invitations  *invitation.Handler
	MaxBodyBytes int64
}

// RegisterRoutes mounts every route on a standard library http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	admin := d.Sessions.Require(identity.RoleAdmin)
	patient := d.Sessions.Require(identity.RolePatient)
	adminOrSelf := d.Sessions.RequireSelf("id", []identity.Role{identity.RoleAdmin, identity.RoleProfessional}, identity.RoleAdmin)
	self := d.Sessions.RequireSelf("id", []identity.Role{identity.RoleProfessional})

	handle := func(pattern string, h http.HandlerFunc, gate ...func(http.Handler) http.Handler) {
		var handler http.Handler = h
		for _, g := range gate {
			handler = g(handler)
		}
		mux.Handle(pattern, handler)
	}

	// health
	handle("GET "+Prefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handle("POST "+Prefix+"/login", d.Login.Login)

	// professionals
	handle("POST "+Prefix+"/professionals", d.Credentials.RegisterProfessional)
	handle("GET "+Prefix+"/professionals", d.Credentials.ListProfessionals, admin)
	handle("GET "+Prefix+"/professionals/{id}", d.Credentials.GetProfessional, adminOrSelf)
	handle("PATCH "+Prefix+"/professionals/{id}", d.Credentials.UpdateProfessional, admin)
	handle("GET "+Prefix+"/professionals/{id}/patients", d.Credentials.ListPatients, adminOrSelf)

	// invitations
	handle("POST "+Prefix+"/professionals/{id}/invitations", d.Invitations.Issue, self)
	handle("GET "+Prefix+"/professionals/{id}/invitations", d.Invitations.ListOpen, self)
	handle("POST "+Prefix+"/invitations/{secret}/redeem", d.Invitations.Redeem)

	// patients
	handle("GET "+Prefix+"/patients", d.Credentials.ListPatients, admin)
	handle("GET "+Prefix+"/patients/me", d.Credentials.CurrentPatient, patient)

	var handler http.Handler = mux
	handler = BodyLimitMiddleware(d.MaxBodyBytes)(handler)
	handler = SecurityHeadersMiddleware()(handler)
	handler = RecoverMiddleware(d.Logger)(handler)
	handler = LoggingMiddleware(d.Logger)(handler)
	return handler
}
