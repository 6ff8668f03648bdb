package server

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"signbridge/internal/testutil"

	"github.com/chai2010/webp"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profileBody struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func TestProfiles(t *testing.T) {
	ts := newTestServer(t)
	tokenA, idA := ts.signup("dana")
	_, idB := ts.signup("eli")

	resp := ts.do(http.MethodGet, "/api/profiles/me", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[profileBody](t, resp)
	assert.Equal(t, idA, me.ID)
	assert.Equal(t, "dana", me.DisplayName)

	resp = ts.do(http.MethodPut, "/api/profiles/me", tokenA, fiber.Map{"display_name": "Dana R."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dana R.", decode[profileBody](t, resp).DisplayName)

	// the cached read is invalidated by the update
	resp = ts.do(http.MethodGet, fmt.Sprintf("/api/profiles/%d", idA), tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dana R.", decode[profileBody](t, resp).DisplayName)

	resp = ts.do(http.MethodGet, "/api/profiles", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	others := decode[[]profileBody](t, resp)
	require.Len(t, others, 1)
	assert.Equal(t, idB, others[0].ID)

	resp = ts.do(http.MethodGet, "/api/profiles/9999", tokenA, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(http.MethodPut, "/api/profiles/me", tokenA, fiber.Map{"display_name": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func avatarRequest(t *testing.T, token, contentType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="avatar"; filename="me.png"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/profiles/me/avatar", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadAvatarServesSquareWebP(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup("pic")

	resp, err := ts.app.Test(avatarRequest(t, token, "image/png", testutil.PNG(t, 400, 300)), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decode[profileBody](t, resp)
	require.True(t, strings.HasPrefix(profile.AvatarURL, "/avatars/"), profile.AvatarURL)
	assert.True(t, strings.HasSuffix(profile.AvatarURL, ".webp"))

	resp = ts.do(http.MethodGet, profile.AvatarURL, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer func() { _ = resp.Body.Close() }()
	cfg, err := webp.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Width)
	assert.Equal(t, 256, cfg.Height)
}

func TestUploadAvatarRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup("nopic")

	resp, err := ts.app.Test(avatarRequest(t, token, "text/plain", []byte("not an image")), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/profiles/me/avatar", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreferences(t *testing.T) {
	ts := newTestServer(t)
	token, id := ts.signup("prefs")

	type prefsBody struct {
		UserID       uint   `json:"user_id"`
		Mode         string `json:"mode"`
		Language     string `json:"language"`
		SignLanguage string `json:"sign_language"`
		HighContrast bool   `json:"high_contrast"`
		VisualAlerts bool   `json:"visual_alerts"`
	}

	resp := ts.do(http.MethodGet, "/api/preferences", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defaults := decode[prefsBody](t, resp)
	assert.Equal(t, id, defaults.UserID)
	assert.Equal(t, "normal", defaults.Mode)

	resp = ts.do(http.MethodPut, "/api/preferences", token, fiber.Map{"mode": "deaf", "visual_alerts": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[prefsBody](t, resp)
	assert.Equal(t, "deaf", updated.Mode)
	assert.True(t, updated.VisualAlerts)
	assert.Equal(t, defaults.SignLanguage, updated.SignLanguage)

	resp = ts.do(http.MethodGet, "/api/preferences", token, nil)
	assert.Equal(t, "deaf", decode[prefsBody](t, resp).Mode)

	resp = ts.do(http.MethodPut, "/api/preferences", token, fiber.Map{"mode": "loud"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
