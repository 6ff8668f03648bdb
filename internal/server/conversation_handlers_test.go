package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summaryBody struct {
	ID               uint `json:"id"`
	IsGroup          bool `json:"is_group"`
	OtherParticipant *struct {
		ID uint `json:"id"`
	} `json:"other_participant"`
}

type messageBody struct {
	ID        uint    `json:"id"`
	SenderID  uint    `json:"sender_id"`
	Content   string  `json:"content"`
	IsPinned  bool    `json:"is_pinned"`
	IsDeleted bool    `json:"is_deleted"`
	EditedAt  *string `json:"edited_at"`
	ReplyToID *uint   `json:"reply_to_id"`
	Reactions []struct {
		UserID uint   `json:"user_id"`
		Emoji  string `json:"emoji"`
	} `json:"reactions"`
}

func (ts *testServer) startDirect(token string, other uint) (summaryBody, int) {
	ts.t.Helper()
	resp := ts.do(http.MethodPost, "/api/conversations", token, fiber.Map{"user_id": other})
	status := resp.StatusCode
	require.Contains(ts.t, []int{http.StatusOK, http.StatusCreated}, status)
	return decode[summaryBody](ts.t, resp), status
}

func TestStartDirectReusesConversationInEitherOrder(t *testing.T) {
	ts := newTestServer(t)
	tokenA, idA := ts.signup("a")
	tokenB, idB := ts.signup("b")

	first, status := ts.startDirect(tokenA, idB)
	assert.Equal(t, http.StatusCreated, status)
	require.NotNil(t, first.OtherParticipant)
	assert.Equal(t, idB, first.OtherParticipant.ID)

	again, status := ts.startDirect(tokenA, idB)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, first.ID, again.ID)

	reversed, status := ts.startDirect(tokenB, idA)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, first.ID, reversed.ID)
	assert.Equal(t, idA, reversed.OtherParticipant.ID)

	resp := ts.do(http.MethodGet, "/api/conversations", tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]summaryBody](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestCreateConversationValidation(t *testing.T) {
	ts := newTestServer(t)
	token, id := ts.signup("solo")

	resp := ts.do(http.MethodPost, "/api/conversations", token, fiber.Map{"user_id": id})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(http.MethodPost, "/api/conversations", token, fiber.Map{"user_id": 9999})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(http.MethodPost, "/api/conversations", token, fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageLifecycle(t *testing.T) {
	ts := newTestServer(t)
	tokenA, _ := ts.signup("alice")
	tokenB, idB := ts.signup("bob")
	tokenC, _ := ts.signup("carol")

	conv, _ := ts.startDirect(tokenA, idB)
	messagesPath := fmt.Sprintf("/api/conversations/%d/messages", conv.ID)

	// whitespace-only content is rejected
	resp := ts.do(http.MethodPost, messagesPath, tokenA, fiber.Map{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(http.MethodPost, messagesPath, tokenA, fiber.Map{"content": "  hello  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	hello := decode[messageBody](t, resp)
	assert.Equal(t, "hello", hello.Content)

	resp = ts.do(http.MethodPost, messagesPath, tokenB, fiber.Map{"content": "hi!", "reply_to_id": hello.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reply := decode[messageBody](t, resp)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, hello.ID, *reply.ReplyToID)

	// outsiders see nothing
	resp = ts.do(http.MethodGet, messagesPath, tokenC, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = ts.do(http.MethodPost, messagesPath, tokenC, fiber.Map{"content": "let me in"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(http.MethodGet, messagesPath, tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]messageBody](t, resp)
	require.Len(t, list, 2)
	assert.Equal(t, []uint{hello.ID, reply.ID}, []uint{list[0].ID, list[1].ID})

	resp = ts.do(http.MethodGet, messagesPath+"?limit=1", tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newest := decode[[]messageBody](t, resp)
	require.Len(t, newest, 1)
	assert.Equal(t, reply.ID, newest[0].ID)

	messagePath := fmt.Sprintf("/api/messages/%d", hello.ID)

	// edit: sender only
	resp = ts.do(http.MethodPatch, messagePath, tokenB, fiber.Map{"content": "hijacked"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = ts.do(http.MethodPatch, messagePath, tokenA, fiber.Map{"content": "hello there"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decode[messageBody](t, resp)
	assert.Equal(t, "hello there", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	// pin: any participant
	resp = ts.do(http.MethodPost, messagePath+"/pin", tokenB, fiber.Map{"pinned": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[messageBody](t, resp).IsPinned)
	resp = ts.do(http.MethodPost, messagePath+"/pin", tokenB, fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// react then unreact restores the collection
	type toggle struct {
		Message messageBody `json:"message"`
		Added   bool        `json:"added"`
	}
	resp = ts.do(http.MethodPost, messagePath+"/reactions", tokenB, fiber.Map{"emoji": "👍"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	added := decode[toggle](t, resp)
	assert.True(t, added.Added)
	require.Len(t, added.Message.Reactions, 1)
	assert.Equal(t, idB, added.Message.Reactions[0].UserID)

	resp = ts.do(http.MethodPost, messagePath+"/reactions", tokenB, fiber.Map{"emoji": "👍"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	removed := decode[toggle](t, resp)
	assert.False(t, removed.Added)
	assert.Empty(t, removed.Message.Reactions)

	// read receipts cover messages from others only
	resp = ts.do(http.MethodPost, fmt.Sprintf("/api/conversations/%d/read", conv.ID), tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	read := decode[struct {
		MessageIDs []uint `json:"message_ids"`
	}](t, resp)
	assert.Equal(t, []uint{hello.ID}, read.MessageIDs)

	// delete: sender only, then gone from the list
	resp = ts.do(http.MethodDelete, messagePath, tokenB, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = ts.do(http.MethodDelete, messagePath, tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[messageBody](t, resp).IsDeleted)

	resp = ts.do(http.MethodGet, messagesPath, tokenA, nil)
	list = decode[[]messageBody](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, reply.ID, list[0].ID)

	resp = ts.do(http.MethodPatch, messagePath, tokenA, fiber.Map{"content": "back from the dead"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvalidIDs(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup("ids")

	for _, path := range []string{"/api/conversations/abc", "/api/conversations/0/messages", "/api/profiles/-3"} {
		resp := ts.do(http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, "Invalid ID", decode[map[string]any](t, resp)["error"], path)
	}
}

func TestTypingEndpoints(t *testing.T) {
	ts := newTestServer(t)
	tokenA, idA := ts.signup("typer")
	tokenB, idB := ts.signup("watcher")
	conv, _ := ts.startDirect(tokenA, idB)
	typingPath := fmt.Sprintf("/api/conversations/%d/typing", conv.ID)

	type row struct {
		UserID uint `json:"user_id"`
	}

	resp := ts.do(http.MethodPut, typingPath, tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// a second upsert keeps a single row
	resp = ts.do(http.MethodPut, typingPath, tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(http.MethodGet, typingPath, tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decode[[]row](t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, idA, rows[0].UserID)

	resp = ts.do(http.MethodDelete, typingPath, tokenA, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(http.MethodGet, typingPath, tokenB, nil)
	assert.Empty(t, decode[[]row](t, resp))
}

func TestGroupConversations(t *testing.T) {
	ts := newTestServer(t)
	tokenA, _ := ts.signup("owner")
	tokenB, idB := ts.signup("member")
	tokenC, idC := ts.signup("latecomer")

	resp := ts.do(http.MethodPost, "/api/conversations", tokenA, fiber.Map{
		"is_group": true, "name": "Signing circle", "member_ids": []uint{idB},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	group := decode[summaryBody](t, resp)
	assert.True(t, group.IsGroup)

	participantsPath := fmt.Sprintf("/api/conversations/%d/participants", group.ID)

	resp = ts.do(http.MethodGet, fmt.Sprintf("/api/conversations/%d", group.ID), tokenC, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(http.MethodPost, participantsPath, tokenB, fiber.Map{"user_id": idC})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(http.MethodGet, participantsPath, tokenC, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	participants := decode[[]struct {
		UserID uint   `json:"user_id"`
		Role   string `json:"role"`
	}](t, resp)
	assert.Len(t, participants, 3)

	resp = ts.do(http.MethodPost, participantsPath, tokenB, fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
