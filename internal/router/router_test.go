package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/memstore"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/web"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Next() int64 { return s.n.Add(1) }

func newServer(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop().Sugar()
	st := memstore.New()
	creds := credential.NewService(st.Professionals(), st.Patients(), st.Admins(), &seqIDs{}, credential.Options{
		Hasher: credential.BcryptHasher{Cost: bcrypt.MinCost},
	})
	_, err := creds.EnsureAdmin(context.Background(), "admin@clinic.example", "admin password")
	require.NoError(t, err)

	invs := invitation.NewService(st.Tokens(), creds, logger, invitation.Options{BaseURL: "https://clinic.example"})
	sessions, err := session.NewService(creds, []byte("router-test-secret"), session.Options{})
	require.NoError(t, err)

	return router.RegisterRoutes(router.Deps{
		Logger:       logger,
		Sessions:     session.NewMiddleware(sessions, logger),
		Login:        session.NewHandler(sessions, logger),
		Credentials:  credential.NewHandler(creds, logger),
		Invitations:  invitation.NewHandler(invs, sessions, logger),
		MaxBodyBytes: 4 << 10,
	})
}

type client struct {
	t *testing.T
	h http.Handler
}

func (c client) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && !strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "[") {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (c client) list(path, token string) []map[string]any {
	c.t.Helper()
	rec, _ := c.do(http.MethodGet, path, token, nil)
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
	var out []map[string]any
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (c client) login(email, password, role string) string {
	c.t.Helper()
	rec, body := c.do(http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": password, "role": role})
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
	return body["token"].(string)
}

func TestHealthAndHeaders(t *testing.T) {
	c := client{t, newServer(t)}
	rec, _ := c.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestOnboardingFlow(t *testing.T) {
	c := client{t, newServer(t)}

	rec, body := c.do(http.MethodPost, "/api/professionals", "", map[string]string{
		"email": "ana@example.com", "password": "ana password", "fullName": "Dr. Ana",
		"profession": "Psychologist", "registrationNumber": "CRP-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	proID := body["id"].(string)

	rec, body = c.do(http.MethodPost, "/api/login", "", map[string]string{"email": "ana@example.com", "password": "ana password", "role": "professional"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_approved", body["error"])
	assert.Equal(t, "account is pending", body["message"])

	admin := c.login("admin@clinic.example", "admin password", "admin")
	pros := c.list("/api/professionals", admin)
	require.Len(t, pros, 1)
	assert.Equal(t, "Pending", pros[0]["approvalStatus"])
	assert.NotContains(t, pros[0], "passwordHash")

	rec, body = c.do(http.MethodPatch, "/api/professionals/"+proID, admin, map[string]any{"approvalStatus": "approved", "patientQuota": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Approved", body["approvalStatus"])
	assert.EqualValues(t, 1, body["patientQuota"])

	pro := c.login("ana@example.com", "ana password", "professional")
	rec, body = c.do(http.MethodPost, "/api/professionals/"+proID+"/invitations", pro, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	secret := body["invitationSecret"].(string)
	assert.Equal(t, "https://clinic.example/patient-registration.html?token="+secret, body["invitationUrl"])
	assert.Len(t, c.list("/api/professionals/"+proID+"/invitations", pro), 1)

	patientBody := map[string]string{"email": "pat@example.com", "password": "patient password", "fullName": "Pat", "birthDate": "1991-02-03"}
	rec, body = c.do(http.MethodPost, "/api/invitations/"+secret+"/redeem", "", patientBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, proID, body["professionalId"])
	patientToken := body["token"].(string)
	require.NotEmpty(t, patientToken)

	rec, body = c.do(http.MethodPost, "/api/invitations/"+secret+"/redeem", "", patientBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "token_already_used", body["error"])

	rec, body = c.do(http.MethodGet, "/api/patients/me", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, proID, body["professionalId"])
	assert.Equal(t, "Dr. Ana", body["professionalName"])
	assert.Equal(t, "1991-02-03", body["birthDate"])

	assert.Len(t, c.list("/api/patients", admin), 1)
	assert.Len(t, c.list("/api/professionals/"+proID+"/patients", pro), 1)
	assert.Empty(t, c.list("/api/professionals/"+proID+"/invitations", pro))

	rec, body = c.do(http.MethodPost, "/api/professionals/"+proID+"/invitations", pro, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "quota_exceeded", body["error"])

	// rejection cuts off the professional's live session
	rec, _ = c.do(http.MethodPatch, "/api/professionals/"+proID, admin, map[string]any{"approvalStatus": "Rejected"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = c.do(http.MethodGet, "/api/professionals/"+proID+"/invitations", pro, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", body["error"])
}

func registerProfessional(c client, email string) string {
	c.t.Helper()
	rec, body := c.do(http.MethodPost, "/api/professionals", "", map[string]string{
		"email": email, "password": "long password", "fullName": "Dr. " + email,
		"profession": "Dentist", "registrationNumber": "CRO-" + email,
	})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["id"].(string)
}

func TestRejectedPatchChangesNothing(t *testing.T) {
	c := client{t, newServer(t)}
	admin := c.login("admin@clinic.example", "admin password", "admin")
	id := registerProfessional(c, "patch@example.com")

	for _, payload := range []map[string]any{
		{"approvalStatus": "Approved", "patientQuota": -1},
		{"approvalStatus": "Suspended", "patientQuota": 9},
		{},
	} {
		rec, body := c.do(http.MethodPatch, "/api/professionals/"+id, admin, payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Equal(t, "invalid_payload", body["error"])
	}

	rec, body := c.do(http.MethodGet, "/api/professionals/"+id, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pending", body["approvalStatus"])
	assert.EqualValues(t, credential.DefaultPatientQuota, body["patientQuota"])
}

func TestIssueBatchRoute(t *testing.T) {
	c := client{t, newServer(t)}
	admin := c.login("admin@clinic.example", "admin password", "admin")
	id := registerProfessional(c, "batch@example.com")
	rec, _ := c.do(http.MethodPatch, "/api/professionals/"+id, admin, map[string]any{"approvalStatus": "Approved", "patientQuota": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	pro := c.login("batch@example.com", "long password", "professional")

	rec, body := c.do(http.MethodPost, "/api/professionals/"+id+"/invitations?count=4", pro, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "quota_exceeded", body["error"])

	rec, body = c.do(http.MethodPost, "/api/professionals/"+id+"/invitations?count=two", pro, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payload", body["error"])

	rec, _ = c.do(http.MethodPost, "/api/professionals/"+id+"/invitations?count=3", pro, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var invs []invitation.InvitationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invs))
	assert.Len(t, invs, 3)
	assert.Len(t, c.list("/api/professionals/"+id+"/invitations", pro), 3)
}

func TestAccessControl(t *testing.T) {
	c := client{t, newServer(t)}
	admin := c.login("admin@clinic.example", "admin password", "admin")

	ids := make([]string, 2)
	for i, email := range []string{"a@example.com", "b@example.com"} {
		rec, body := c.do(http.MethodPost, "/api/professionals", "", map[string]string{
			"email": email, "password": "long password", "fullName": "Dr. " + email,
			"profession": "Dentist", "registrationNumber": "CRO-" + email,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids[i] = body["id"].(string)
		rec, _ = c.do(http.MethodPatch, "/api/professionals/"+ids[i], admin, map[string]any{"approvalStatus": "Approved"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	proA := c.login("a@example.com", "long password", "professional")

	cases := []struct {
		name, method, path, token string
		want                      int
		code                      string
	}{
		{"anonymous list", http.MethodGet, "/api/professionals", "", http.StatusUnauthorized, "unauthenticated"},
		{"professional lists all", http.MethodGet, "/api/professionals", proA, http.StatusForbidden, "forbidden"},
		{"own profile", http.MethodGet, "/api/professionals/" + ids[0], proA, http.StatusOK, ""},
		{"other profile", http.MethodGet, "/api/professionals/" + ids[1], proA, http.StatusForbidden, "forbidden"},
		{"admin reads profile", http.MethodGet, "/api/professionals/" + ids[1], admin, http.StatusOK, ""},
		{"issue for other", http.MethodPost, "/api/professionals/" + ids[1] + "/invitations", proA, http.StatusForbidden, "forbidden"},
		{"admin cannot issue", http.MethodPost, "/api/professionals/" + ids[1] + "/invitations", admin, http.StatusForbidden, "forbidden"},
		{"professional patches", http.MethodPatch, "/api/professionals/" + ids[0], proA, http.StatusForbidden, "forbidden"},
		{"patients list", http.MethodGet, "/api/patients", proA, http.StatusForbidden, "forbidden"},
		{"patient me as professional", http.MethodGet, "/api/patients/me", proA, http.StatusForbidden, "forbidden"},
		{"admin missing professional", http.MethodGet, "/api/professionals/42424242", admin, http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/api/professionals/abc", admin, http.StatusBadRequest, "invalid_payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := c.do(tc.method, tc.path, tc.token, nil)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			if tc.code != "" {
				assert.Equal(t, tc.code, body["error"])
			}
		})
	}
}

func TestErrorResponses(t *testing.T) {
	c := client{t, newServer(t)}

	rec, body := c.do(http.MethodPost, "/api/invitations/nope/redeem", "", map[string]string{
		"email": "pat@example.com", "password": "patient password", "fullName": "Pat",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invalid_token", body["error"])

	rec, body = c.do(http.MethodPost, "/api/login", "", map[string]string{"email": "x@example.com", "password": "whatever", "role": "professional"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", body["error"])

	rec, body = c.do(http.MethodPost, "/api/login", "", map[string]string{"email": "x@example.com", "password": "whatever", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payload", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/professionals", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	c.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var eb web.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &eb))
	assert.Equal(t, "invalid_payload", eb.Error)

	huge := `{"email":"` + strings.Repeat("a", 8<<10) + `@example.com"}`
	req = httptest.NewRequest(http.MethodPost, "/api/professionals", strings.NewReader(huge))
	rr = httptest.NewRecorder()
	c.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &eb))
	assert.Equal(t, "payload_too_large", eb.Error)
}

func TestRecoverMiddleware(t *testing.T) {
	h := router.RecoverMiddleware(zap.NewNop().Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
	assert.NotContains(t, rec.Body.String(), "boom")
}
