// Package presence tracks which other users are online.
package presence

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"signbridge/pkg/protocol"
	"signbridge/pkg/signbridge"
)

// Joiner joins presence channels. *signbridge.Realtime satisfies it.
type Joiner interface {
	JoinPresence(ctx context.Context, channel string, onSync signbridge.SyncHandler) (signbridge.PresenceChannel, error)
}

// Tracker joins the shared online-users channel and keeps the set of other
// users present on it.
type Tracker struct {
	self     uint
	name     string
	joiner   Joiner
	log      *slog.Logger
	now      func() time.Time
	onChange func()

	mu      sync.Mutex
	online  map[uint]protocol.PresenceMeta
	channel signbridge.PresenceChannel
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.log = l } }

// WithOnChange runs fn after every presence sync.
func WithOnChange(fn func()) Option { return func(t *Tracker) { t.onChange = fn } }

// WithClock overrides the online_at timestamp source.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// New returns a tracker announcing self under displayName.
func New(self uint, displayName string, joiner Joiner, opts ...Option) *Tracker {
	t := &Tracker{
		self:   self,
		name:   displayName,
		joiner: joiner,
		log:    slog.Default(),
		now:    time.Now,
		online: make(map[uint]protocol.PresenceMeta),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Join subscribes to the channel and, once subscribed, tracks this user.
func (t *Tracker) Join(ctx context.Context) error {
	ch, err := t.joiner.JoinPresence(ctx, protocol.PresenceChannel, t.sync)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.channel = ch
	t.mu.Unlock()

	meta := protocol.PresenceMeta{UserID: t.self, DisplayName: t.name, OnlineAt: t.now().UTC()}
	if err := ch.Track(ctx, meta); err != nil {
		t.log.Warn("presence track failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Leave departs the channel. The server untracks on disconnect as well.
func (t *Tracker) Leave() error {
	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.online = make(map[uint]protocol.PresenceMeta)
	t.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Leave()
}

// IsOnline reports whether userID is present.
func (t *Tracker) IsOnline(userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns the other users present, ordered by id.
func (t *Tracker) Online() []protocol.PresenceMeta {
	t.mu.Lock()
	out := make([]protocol.PresenceMeta, 0, len(t.online))
	for _, m := range t.online {
		out = append(out, m)
	}
	t.mu.Unlock()
	slices.SortFunc(out, func(a, b protocol.PresenceMeta) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}

// sync rebuilds the online set from the full channel state.
func (t *Tracker) sync(state map[string][]protocol.PresenceMeta) {
	online := make(map[uint]protocol.PresenceMeta, len(state))
	for key, metas := range state {
		for _, m := range metas {
			id := m.UserID
			if id == 0 {
				parsed, err := strconv.ParseUint(key, 10, 64)
				if err != nil {
					continue
				}
				id = uint(parsed)
				m.UserID = id
			}
			if id == t.self {
				continue
			}
			if prev, ok := online[id]; !ok || m.OnlineAt.Before(prev.OnlineAt) {
				online[id] = m
			}
		}
	}

	t.mu.Lock()
	t.online = online
	t.mu.Unlock()
	if t.onChange != nil {
		t.onChange()
	}
}
