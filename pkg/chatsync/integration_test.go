package chatsync_test

import (
	"context"
	"fmt"
	"net"
	"slices"
	"testing"
	"time"

	"signbridge/internal/config"
	"signbridge/internal/server"
	"signbridge/internal/testutil"
	"signbridge/pkg/chatsync"
	"signbridge/pkg/directory"
	"signbridge/pkg/presence"
	"signbridge/pkg/signbridge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "Correct-Horse-9"

// startAPI serves a full backend on a loopback port and returns its base URL.
func startAPI(t *testing.T) string {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	db := testutil.NewSQLiteDB(t)
	rdb, _ := testutil.NewRedis(t)
	cfg := &config.Config{
		JWTSecret:           "test-secret-that-is-long-enough-123",
		Env:                 "test",
		AllowedOrigins:      "http://localhost:5173",
		FeatureFlags:        "group_conversations=on,avatar_upload=on",
		AvatarUploadDir:     t.TempDir(),
		AvatarPublicBaseURL: "/avatars",
	}
	srv, err := server.NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.StartBackground(ctx))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.App().Listener(ln) }()
	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})
	return "http://" + ln.Addr().String()
}

type participant struct {
	client *signbridge.Client
	user   *signbridge.User
	rt     *signbridge.Realtime
}

func join(t *testing.T, base, name string) *participant {
	t.Helper()
	ctx := context.Background()
	c := signbridge.New(base)
	res, err := c.Signup(ctx, fmt.Sprintf("%s@example.com", name), password)
	require.NoError(t, err)
	rt, err := c.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return &participant{client: c, user: res.User, rt: rt}
}

func (p *participant) engine(t *testing.T, convID uint) *chatsync.Engine {
	t.Helper()
	e := chatsync.New(chatsync.Config{
		ConversationID: convID,
		UserID:         p.user.ID,
		API:            p.client,
		Feed:           p.rt,
		Notifier:       chatsync.NotifierFunc(func(msg string) { t.Errorf("unexpected notification: %s", msg) }),
	})
	require.NoError(t, e.Open(context.Background()))
	require.NoError(t, e.Load(context.Background()))
	t.Cleanup(e.Close)
	return e
}

func contents(e *chatsync.Engine) []string {
	var out []string
	for _, m := range e.Messages() {
		out = append(out, m.Content)
	}
	return out
}

func TestHelloReachesPeerExactlyOnce(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	ana := join(t, base, "ana")
	bo := join(t, base, "bo")

	anaDir := directory.New(ana.user.ID, ana.client, ana.rt)
	require.NoError(t, anaDir.Open(ctx))
	defer anaDir.Close()

	conv, created, err := anaDir.Start(ctx, bo.user.ID)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := directory.New(bo.user.ID, bo.client, nil).Start(ctx, ana.user.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID, "either side reuses the pair's conversation")

	anaChat := ana.engine(t, conv.ID)
	boChat := bo.engine(t, conv.ID)

	anaChat.SetDraft("hello")
	require.NoError(t, anaChat.Send(ctx))

	assert.Eventually(t, func() bool { return slices.Equal(contents(boChat), []string{"hello"}) }, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return slices.Equal(contents(anaChat), []string{"hello"}) }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, boChat.Messages(), 1, "no duplicate delivery")

	assert.Eventually(t, func() bool {
		list := anaDir.List()
		return len(list) == 1 && list[0].LastMessageAt != nil
	}, 3*time.Second, 20*time.Millisecond, "the insert advances last_message_at")
}

func TestEditPinReactAndDeletePropagate(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	ana := join(t, base, "ana")
	bo := join(t, base, "bo")

	conv, _, err := ana.client.StartConversation(ctx, bo.user.ID)
	require.NoError(t, err)
	anaChat := ana.engine(t, conv.ID)
	boChat := bo.engine(t, conv.ID)

	anaChat.SetDraft("first draft")
	require.NoError(t, anaChat.Send(ctx))
	require.Eventually(t, func() bool { return len(boChat.Messages()) == 1 }, 3*time.Second, 20*time.Millisecond)
	id := boChat.Messages()[0].ID

	require.True(t, anaChat.BeginEdit(id))
	anaChat.SetDraft("final words")
	require.NoError(t, anaChat.Send(ctx))
	require.Eventually(t, func() bool {
		msgs := boChat.Messages()
		return len(msgs) == 1 && msgs[0].Content == "final words" && msgs[0].EditedAt != nil
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, boChat.TogglePin(ctx, id))
	require.Eventually(t, func() bool { return len(anaChat.Pinned()) == 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, boChat.ToggleReaction(ctx, id, "👍"))
	require.Eventually(t, func() bool {
		return slices.Equal(chatsync.GroupReactions(anaChat.Messages()[0].Reactions, ana.user.ID),
			[]chatsync.ReactionGroup{{Emoji: "👍", Count: 1}})
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, boChat.ToggleReaction(ctx, id, "👍"))
	require.Eventually(t, func() bool { return len(anaChat.Messages()[0].Reactions) == 0 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, anaChat.Delete(ctx, id))
	assert.Empty(t, anaChat.Messages())
	require.Eventually(t, func() bool { return len(boChat.Messages()) == 0 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, boChat.Load(ctx))
	assert.Empty(t, boChat.Messages(), "deleted messages stay gone on reload")
}

func TestTypingAndPresenceReachPeer(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	ana := join(t, base, "ana")
	bo := join(t, base, "bo")

	boPresence := presence.New(bo.user.ID, "bo", bo.rt)
	require.NoError(t, boPresence.Join(ctx))
	anaPresence := presence.New(ana.user.ID, "ana", ana.rt)
	require.NoError(t, anaPresence.Join(ctx))
	assert.Eventually(t, func() bool { return boPresence.IsOnline(ana.user.ID) && !boPresence.IsOnline(bo.user.ID) },
		3*time.Second, 20*time.Millisecond)

	conv, _, err := ana.client.StartConversation(ctx, bo.user.ID)
	require.NoError(t, err)
	anaChat := ana.engine(t, conv.ID)
	boChat := bo.engine(t, conv.ID)

	anaChat.Keystroke(ctx, "hel")
	require.Eventually(t, func() bool { return slices.Equal(boChat.Typing(), []string{"ana"}) }, 3*time.Second, 20*time.Millisecond)
	assert.Empty(t, anaChat.Typing(), "own typing row is not shown")

	anaChat.SetDraft("hello")
	require.NoError(t, anaChat.Send(ctx))
	assert.Eventually(t, func() bool { return len(boChat.Typing()) == 0 }, 3*time.Second, 20*time.Millisecond)
}
