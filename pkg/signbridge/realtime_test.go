package signbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"signbridge/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRealtime is a websocket endpoint speaking just enough of the protocol.
type fakeRealtime struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []protocol.Frame
	tracked  map[string][]protocol.PresenceMeta
}

func (f *fakeRealtime) handler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/ws/ticket":
		writeJSON(w, http.StatusOK, map[string]any{"ticket": "t-1", "expires_in": 30})
		return
	case "/api/ws":
	default:
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("ticket") != "t-1" {
		http.Error(w, "bad ticket", http.StatusUnauthorized)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		var in protocol.Frame
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, in)
		f.mu.Unlock()

		switch in.Type {
		case protocol.FrameSubscribe:
			if in.Table == "nope" {
				_ = conn.WriteJSON(protocol.Frame{Type: protocol.FrameError, Ref: in.Ref, Error: "unknown table nope"})
				continue
			}
			_ = conn.WriteJSON(protocol.Frame{Type: protocol.FrameSubscribed, Ref: in.Ref, Table: in.Table})
			record, _ := json.Marshal(map[string]any{"id": 1, "conversation_id": 5, "content": "hi"})
			_ = conn.WriteJSON(protocol.Frame{Type: protocol.FrameChange, Ref: in.Ref, Table: in.Table,
				Event: &protocol.ChangeEvent{Table: in.Table, Type: protocol.Insert, Record: record}})
		case protocol.FramePresenceJoin:
			_ = conn.WriteJSON(protocol.Frame{Type: protocol.FrameSubscribed, Ref: in.Ref, Channel: in.Channel})
			_ = conn.WriteJSON(protocol.Frame{Type: protocol.FramePresenceSync, Channel: in.Channel})
		case protocol.FrameTrack:
			f.mu.Lock()
			f.tracked["7"] = []protocol.PresenceMeta{*in.Meta}
			state := f.tracked
			f.mu.Unlock()
			_ = conn.WriteJSON(protocol.Frame{Type: protocol.FramePresenceSync, Channel: in.Channel, State: state})
		}
	}
}

func (f *fakeRealtime) frames() []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Frame(nil), f.received...)
}

func newFakeRealtime(t *testing.T) (*fakeRealtime, *Client) {
	t.Helper()
	f := &fakeRealtime{t: t, tracked: map[string][]protocol.PresenceMeta{}}
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return f, New(srv.URL, WithToken("tok"))
}

func TestRealtimeSubscribeDeliversChanges(t *testing.T) {
	f, c := newFakeRealtime(t)
	ctx := context.Background()

	rt, err := c.Connect(ctx)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	events := make(chan protocol.ChangeEvent, 1)
	unsubscribe, err := rt.Subscribe(ctx, protocol.TableMessages, protocol.Eq("conversation_id", 5), func(ev protocol.ChangeEvent) {
		events <- ev
	})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, protocol.Insert, ev.Type)
		assert.JSONEq(t, `{"id":1,"conversation_id":5,"content":"hi"}`, string(ev.Record))
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
	}

	unsubscribe()
	unsubscribe()
	assert.Eventually(t, func() bool {
		var subs, unsubs int
		for _, fr := range f.frames() {
			switch fr.Type {
			case protocol.FrameSubscribe:
				subs++
				assert.Equal(t, "conversation_id=eq.5", fr.Filter)
			case protocol.FrameUnsubscribe:
				unsubs++
			}
		}
		return subs == 1 && unsubs == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRealtimeSubscribeSurfacesServerError(t *testing.T) {
	_, c := newFakeRealtime(t)
	rt, err := c.Connect(context.Background())
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	_, err = rt.Subscribe(context.Background(), "nope", protocol.Filter{}, func(protocol.ChangeEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table nope")
}

func TestRealtimePresence(t *testing.T) {
	_, c := newFakeRealtime(t)
	ctx := context.Background()
	rt, err := c.Connect(ctx)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	syncs := make(chan map[string][]protocol.PresenceMeta, 4)
	ch, err := rt.JoinPresence(ctx, protocol.PresenceChannel, func(state map[string][]protocol.PresenceMeta) {
		syncs <- state
	})
	require.NoError(t, err)

	initial := <-syncs
	assert.NotNil(t, initial)
	assert.Empty(t, initial)

	require.NoError(t, ch.Track(ctx, protocol.PresenceMeta{UserID: 7, DisplayName: "gus"}))
	select {
	case state := <-syncs:
		require.Contains(t, state, "7")
		assert.Equal(t, "gus", state["7"][0].DisplayName)
	case <-time.After(2 * time.Second):
		t.Fatal("no presence sync after track")
	}
}

func TestRealtimeConnectRejectedTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ws/ticket" {
			writeJSON(w, http.StatusOK, map[string]string{"ticket": "stale"})
			return
		}
		http.Error(w, "Invalid or expired ticket", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithToken("tok")).Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestRealtimeCloseEndsConnection(t *testing.T) {
	_, c := newFakeRealtime(t)
	rt, err := c.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	select {
	case <-rt.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, rt.Err())
	assert.NoError(t, rt.Close())

	_, err = rt.Subscribe(context.Background(), protocol.TableMessages, protocol.Filter{}, func(protocol.ChangeEvent) {})
	assert.ErrorIs(t, err, ErrClosed)
}
