package service

import (
	"context"
	"testing"
	"time"

	"signbridge/internal/models"
	"signbridge/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingService_Lifecycle(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	alice, bob, mallory := f.signup(t, "alice"), f.signup(t, "bob"), f.signup(t, "mallory")
	convID := f.direct(t, alice, bob)

	_, err := f.typing.Start(ctx, convID, mallory.ID)
	assert.Equal(t, 403, models.HTTPStatus(err))

	_, err = f.typing.Start(ctx, convID, alice.ID)
	require.NoError(t, err)
	_, err = f.typing.Start(ctx, convID, alice.ID)
	require.NoError(t, err)

	events := f.events.take()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.Insert, events[0].Type)
	assert.Equal(t, protocol.Update, events[1].Type)
	assert.ElementsMatch(t, []uint{alice.ID, bob.ID}, events[0].Audience)

	rows, err := f.typing.List(ctx, convID, bob.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Profile)
	assert.Equal(t, "alice", rows[0].Profile.DisplayName)

	require.NoError(t, f.typing.Stop(ctx, convID, alice.ID))
	events = f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.Delete, events[0].Type)
	assert.Nil(t, events[0].Record)
	assert.Equal(t, models.TypingIndicator{ConversationID: convID, UserID: alice.ID}, events[0].OldRecord)

	require.NoError(t, f.typing.Stop(ctx, convID, alice.ID))
	assert.Empty(t, f.events.take())
}

func TestTypingService_SweepStale(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	alice, bob := f.signup(t, "alice"), f.signup(t, "bob")
	convID := f.direct(t, alice, bob)

	now := time.Now().UTC()
	f.typing.now = func() time.Time { return now.Add(-time.Minute) }
	_, err := f.typing.Start(ctx, convID, alice.ID)
	require.NoError(t, err)
	f.typing.now = func() time.Time { return now }
	_, err = f.typing.Start(ctx, convID, bob.ID)
	require.NoError(t, err)
	f.events.take()

	n, err := f.typing.SweepStale(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.Delete, events[0].Type)
	old := events[0].OldRecord.(models.TypingIndicator)
	assert.Equal(t, alice.ID, old.UserID)
	assert.ElementsMatch(t, []uint{alice.ID, bob.ID}, events[0].Audience)

	rows, err := f.typing.List(ctx, convID, alice.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, bob.ID, rows[0].UserID)
}
