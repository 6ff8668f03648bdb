package models

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_Summarize(t *testing.T) {
	conv := &Conversation{
		ID: 7,
		Participants: []ConversationParticipant{
			{UserID: 1, Profile: &Profile{UserID: 1, DisplayName: "ana"}},
			{UserID: 2, Profile: &Profile{UserID: 2, DisplayName: "ben"}},
		},
	}

	t.Run("two-party view exposes the counterpart", func(t *testing.T) {
		summary := conv.Summarize(1)
		require.NotNil(t, summary.OtherParticipant)
		assert.Equal(t, "ben", summary.OtherParticipant.DisplayName)
		assert.Len(t, summary.Participants, 2)

		summary = conv.Summarize(2)
		require.NotNil(t, summary.OtherParticipant)
		assert.Equal(t, "ana", summary.OtherParticipant.DisplayName)
	})

	t.Run("group view has no counterpart", func(t *testing.T) {
		group := *conv
		group.IsGroup = true
		assert.Nil(t, group.Summarize(1).OtherParticipant)
	})

	t.Run("missing profile still yields the id", func(t *testing.T) {
		bare := &Conversation{Participants: []ConversationParticipant{{UserID: 1}, {UserID: 3}}}
		summary := bare.Summarize(1)
		require.NotNil(t, summary.OtherParticipant)
		assert.Equal(t, uint(3), summary.OtherParticipant.UserID)
	})

	assert.True(t, conv.HasParticipant(2))
	assert.False(t, conv.HasParticipant(9))
	assert.Equal(t, []uint{1, 2}, conv.ParticipantIDs())
}

func TestDefaultDisplayName(t *testing.T) {
	assert.Equal(t, "ana", DefaultDisplayName("ana@example.com"))
	assert.Equal(t, "not-an-email", DefaultDisplayName("not-an-email"))
	assert.Equal(t, "@x", DefaultDisplayName("@x"))
}

func TestPreferenceMode_Valid(t *testing.T) {
	assert.True(t, ModeNormal.Valid())
	assert.True(t, ModeDeaf.Valid())
	assert.False(t, PreferenceMode("loud").Valid())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NewNotFoundError("Message", 1)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewValidationError("bad")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(NewForbiddenError("no")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(NewConflictError("dup", nil)))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(NewUnauthorizedError("who")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))

	wrapped := errors.Join(errors.New("context"), NewForbiddenError("no"))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(wrapped))
}
