// Package web holds the JSON helpers and the single error-to-status mapping
// shared by every HTTP handler.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads a JSON body into v. Failures carry identity.ErrValidation,
// or identity.ErrPayloadTooLarge once a MaxBytesReader limit trips.
func Decode(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", identity.ErrValidation)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", identity.ErrPayloadTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %v", identity.ErrValidation, err)
	}
	return nil
}

// PathID parses the {name} path value as an int64 id.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s", identity.ErrValidation, name)
	}
	return id, nil
}

// Status maps a domain error onto an HTTP status and stable error code.
func Status(err error) (int, string) {
	var notApproved *identity.NotApprovedError
	switch {
	case errors.Is(err, identity.ErrValidation):
		return http.StatusBadRequest, "invalid_payload"
	case errors.Is(err, identity.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, identity.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &notApproved):
		return http.StatusForbidden, "not_approved"
	case errors.Is(err, identity.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, identity.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email"
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, identity.ErrQuotaExceeded):
		return http.StatusConflict, "quota_exceeded"
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusNotFound, "invalid_token"
	case errors.Is(err, identity.ErrTokenAlreadyUsed):
		return http.StatusConflict, "token_already_used"
	case errors.Is(err, identity.ErrTokenExpired):
		return http.StatusGone, "token_expired"
	case errors.Is(err, identity.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// Error writes the mapped error response. Server-side failures are logged
// with the underlying cause; the client only sees the code.
func Error(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	status, code := Status(err)
	body := ErrorBody{Error: code, Message: message(err, status)}
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "status", status, "err", err)
	} else {
		logger.Debugw("request rejected", "status", status, "code", code, "err", err)
	}
	JSON(w, status, body)
}

func message(err error, status int) string {
	var notApproved *identity.NotApprovedError
	switch {
	case status == http.StatusServiceUnavailable:
		return "storage unavailable, retry later"
	case status >= http.StatusInternalServerError:
		return "internal error"
	case errors.Is(err, identity.ErrValidation):
		// the wrapped detail names the offending field, never a secret
		return strings.TrimPrefix(err.Error(), identity.ErrValidation.Error()+": ")
	case errors.As(err, &notApproved) && !errors.Is(err, identity.ErrForbidden):
		return "account is " + strings.ToLower(string(notApproved.Status))
	}
	s, _ := Status(err)
	return http.StatusText(s)
}
