package identity

import (
	"errors"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/database"
)

var (
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrNotFound          = errors.New("not found")
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrNotApproved       = errors.New("professional not approved")
	ErrQuotaExceeded     = errors.New("patient quota exceeded")
	ErrInvalidToken      = errors.New("invalid invitation token")
	ErrTokenAlreadyUsed  = errors.New("invitation token already used")
	ErrTokenExpired      = errors.New("invitation token expired")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrPayloadTooLarge   = errors.New("request body too large")

	// ErrStorageUnavailable is retryable; it is the same value database.Classify wraps.
	ErrStorageUnavailable = database.ErrUnavailable
)

// NotApprovedError carries the status that blocked a professional.
type NotApprovedError struct {
	Status ApprovalStatus
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("professional not approved: %s", e.Status)
}

// Is lets errors.Is(err, ErrNotApproved) match any NotApprovedError.
func (e *NotApprovedError) Is(target error) bool {
	return target == ErrNotApproved
}

// NotApproved builds the error for the given status.
func NotApproved(status ApprovalStatus) error {
	return &NotApprovedError{Status: status}
}
