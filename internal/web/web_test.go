package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/database"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: field Email failed email", identity.ErrValidation), http.StatusBadRequest, "invalid_payload"},
		{fmt.Errorf("%w: limit is 10 bytes", identity.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge, "payload_too_large"},
		{identity.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
		{identity.ErrNotFound, http.StatusNotFound, "not_found"},
		{identity.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credentials"},
		{identity.NotApproved(identity.StatusPending), http.StatusForbidden, "not_approved"},
		{identity.ErrQuotaExceeded, http.StatusConflict, "quota_exceeded"},
		{identity.ErrInvalidToken, http.StatusNotFound, "invalid_token"},
		{identity.ErrTokenAlreadyUsed, http.StatusConflict, "token_already_used"},
		{identity.ErrTokenExpired, http.StatusGone, "token_expired"},
		{identity.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{fmt.Errorf("%w: %w", identity.ErrForbidden, identity.NotApproved(identity.StatusRejected)), http.StatusForbidden, "forbidden"},
		{database.Classify(&pq.Error{Code: "57P01"}), http.StatusServiceUnavailable, "storage_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			status, code := Status(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestErrorWritesBody(t *testing.T) {
	logger := zap.NewNop().Sugar()

	rec := httptest.NewRecorder()
	Error(rec, logger, fmt.Errorf("%w: field Password failed min", identity.ErrValidation))
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrorBody{Error: "invalid_payload", Message: "field Password failed min"}, body)

	rec = httptest.NewRecorder()
	Error(rec, logger, database.Classify(&pq.Error{Code: "08006", Message: "connection failure at 10.0.0.5"}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	rec = httptest.NewRecorder()
	Error(rec, logger, identity.ErrUnauthenticated)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestPathID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x/123", nil)
	req.SetPathValue("id", "123")
	id, err := PathID(req, "id")
	require.NoError(t, err)
	assert.EqualValues(t, 123, id)

	req.SetPathValue("id", "12x")
	_, err = PathID(req, "id")
	assert.ErrorIs(t, err, identity.ErrValidation)
}

func TestDecode(t *testing.T) {
	var v struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com"}`))
	require.NoError(t, Decode(req, &v))
	assert.Equal(t, "a@example.com", v.Email)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	assert.ErrorIs(t, Decode(req, &v), identity.ErrValidation)

	rec := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"`+strings.Repeat("a", 64)+`"}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 16)
	err := Decode(req, &v)
	assert.ErrorIs(t, err, identity.ErrPayloadTooLarge)
	assert.NotErrorIs(t, err, identity.ErrValidation)
}
