package server

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupLoginLogout(t *testing.T) {
	ts := newTestServer(t)
	token, id := ts.signup("ana")

	resp := ts.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[map[string]any](t, resp)
	assert.Equal(t, "ana@example.com", me["email"])
	assert.EqualValues(t, id, me["id"])
	assert.NotContains(t, me, "password")

	resp = ts.do(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "ANA@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[authBody](t, resp)
	assert.Equal(t, id, login.User.ID)

	resp = ts.do(http.MethodGet, "/api/auth/me", login.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignupErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.signup("dup")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"duplicate email", fiber.Map{"email": "dup@example.com", "password": testPassword}, http.StatusConflict, "CONFLICT"},
		{"bad email", fiber.Map{"email": "not-an-email", "password": testPassword}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"weak password", fiber.Map{"email": "weak@example.com", "password": "short"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not json", "just a string", http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(http.MethodPost, "/api/auth/signup", "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[map[string]any](t, resp)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestLoginRejectsBadCredentialsUniformly(t *testing.T) {
	ts := newTestServer(t)
	ts.signup("bo")

	wrongPassword := ts.do(http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "bo@example.com", "password": "Wrong-Horse-9",
	})
	unknownEmail := ts.do(http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "nobody@example.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.StatusCode)
	assert.Equal(t,
		decode[map[string]any](t, wrongPassword)["error"],
		decode[map[string]any](t, unknownEmail)["error"])
}

func TestIssueWSTicket(t *testing.T) {
	ts := newTestServer(t)
	token, id := ts.signup("ticket")

	resp := ts.do(http.MethodPost, "/api/ws/ticket", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(http.MethodPost, "/api/ws/ticket", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}](t, resp)
	require.NotEmpty(t, body.Ticket)
	assert.Equal(t, 30, body.ExpiresIn)

	// the ticket lives in Redis so any node can redeem it
	stored, err := ts.mr.Get("ws_ticket:" + body.Ticket)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatUint(uint64(id), 10), stored)
}

func TestRealtimeEndpointRejectsPlainHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/ws?ticket=whatever", "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
