package signbridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAPIErrorCarriesBackendMessage(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/messages/1":
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Only the sender can edit this message", "code": CodeForbidden})
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down\n")
		}
	})

	_, err := c.EditMessage(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Equal(t, "Only the sender can edit this message", err.Error())
	assert.Equal(t, http.StatusForbidden, StatusOf(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeForbidden, apiErr.Code)

	_, err = c.ListConversations(context.Background())
	require.Error(t, err)
	assert.Equal(t, "upstream down", err.Error())
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.False(t, IsUnauthorized(err))
}

func TestLoginStoresTokenForLaterCalls(t *testing.T) {
	var gotAuth []string
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/auth/login":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ana@example.com", body["email"])
			writeJSON(w, http.StatusOK, AuthResult{Token: "tok-1", User: &User{ID: 3, Email: "ana@example.com"}})
		case "/api/auth/me":
			writeJSON(w, http.StatusOK, User{ID: 3})
		case "/api/auth/logout":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Token has been revoked"})
		}
	})

	res, err := c.Login(context.Background(), "ana@example.com", "pw")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.User.ID)
	assert.Equal(t, "tok-1", c.Token())

	_, err = c.Me(context.Background())
	require.NoError(t, err)

	err = c.Logout(context.Background())
	assert.True(t, IsUnauthorized(err))
	assert.Empty(t, c.Token(), "logout always clears the local token")

	assert.Equal(t, []string{"", "Bearer tok-1", "Bearer tok-1"}, gotAuth)
}

func TestStartConversationReportsCreation(t *testing.T) {
	created := true
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, Conversation{ID: 9, OtherParticipant: &Profile{ID: 2, DisplayName: "bo"}})
	})

	conv, isNew, err := c.StartConversation(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "bo", conv.Title())

	created = false
	conv, isNew, err = c.StartConversation(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.EqualValues(t, 9, conv.ID)
}

func TestListMessagesSendsLimit(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/4/messages", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `[
			{"id":1,"content":"a","reactions":null},
			{"id":2,"content":"b","reactions":"oops"},
			{"id":3,"content":"c","reactions":[1,"x",{"emoji":"👍","user_id":2,"count":1},{"emoji":"🎉","user_id":5}]}
		]`)
	})

	msgs, err := c.ListMessages(context.Background(), 4, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.NotNil(t, msgs[0].Reactions)
	assert.Empty(t, msgs[0].Reactions)
	assert.Empty(t, msgs[1].Reactions)
	require.Len(t, msgs[2].Reactions, 2)
	assert.Equal(t, "👍", msgs[2].Reactions[0].Emoji)
	assert.Equal(t, 0, msgs[2].Reactions[1].Count, "counts are normalized by consumers, not the decoder")
}

func TestUploadAvatarSendsMultipart(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/profiles/me/avatar", r.URL.Path)
		file, header, err := r.FormFile("avatar")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Equal(t, "me.png", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "PNGDATA", string(data))
		writeJSON(w, http.StatusOK, Profile{ID: 1, AvatarURL: "/avatars/1/x.webp"})
	})

	p, err := c.UploadAvatar(context.Background(), "me.png", "image/png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, "/avatars/1/x.webp", p.AvatarURL)
}

func TestWSURL(t *testing.T) {
	tests := []struct{ base, want string }{
		{"http://localhost:8375", "ws://localhost:8375/api/ws?ticket=abc"},
		{"https://chat.example.com/", "wss://chat.example.com/api/ws?ticket=abc"},
		{"https://example.com/signbridge", "wss://example.com/signbridge/api/ws?ticket=abc"},
	}
	for _, tt := range tests {
		got, err := wsURL(tt.base, "abc")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
