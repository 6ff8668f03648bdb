// Package realtime delivers row change events and presence state to
// websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"signbridge/internal/observability"
	"signbridge/pkg/protocol"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrHubClosed       = errors.New("realtime hub is shut down")
)

// subscribable lists the tables clients may subscribe to.
var subscribable = map[string]bool{
	protocol.TableConversations: true,
	protocol.TableParticipants:  true,
	protocol.TableMessages:      true,
	protocol.TableTyping:        true,
}

// Options configures a Hub.
type Options struct {
	Logger *slog.Logger
	// Inbound frames per second per connection; zero disables throttling.
	InboundRPS   float64
	InboundBurst int
}

// Delivery is a change event plus the users allowed to receive it.
type Delivery struct {
	Event    protocol.ChangeEvent `json:"event"`
	Audience []uint               `json:"audience"`
}

// Hub maps users to their websocket clients and routes change events and
// presence syncs to them.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	channels   map[string]map[*Client]struct{}
	totalConns int
	closed     bool

	presence *Presence
	log      *observability.WSLogger
	opts     Options
}

// NewHub creates a hub. presence may be nil, in which case presence frames
// are rejected.
func NewHub(presence *Presence, opts Options) *Hub {
	h := &Hub{
		conns:    make(map[uint]map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		presence: presence,
		log:      observability.NewWSLogger("realtime", opts.Logger),
		opts:     opts,
	}
	if presence != nil {
		presence.OnChange(h.SyncPresence)
	}
	return h
}

// Name identifies the hub in logs.
func (h *Hub) Name() string { return "realtime" }

// Register adds a connection for userID.
func (h *Hub) Register(userID uint, conn Conn) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrServerConnLimit
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, ErrUserConnLimit
	}

	client := newClient(h, conn, userID, h.newLimiter())
	m[client] = struct{}{}
	h.totalConns++
	h.mu.Unlock()

	h.log.LogConnect(context.Background(), userID, client.ID)
	return client, nil
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.opts.InboundRPS <= 0 {
		return nil
	}
	burst := h.opts.InboundBurst
	if burst <= 0 {
		burst = int(h.opts.InboundRPS) + 1
	}
	return rate.NewLimiter(rate.Limit(h.opts.InboundRPS), burst)
}

// UnregisterClient drops a client and its subscriptions. Presence tracked by
// the connection is released after the grace period.
func (h *Hub) UnregisterClient(client *Client, reason string) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	subs, joined, tracked := client.detach()
	for _, ch := range joined {
		h.leaveLocked(client, ch)
	}
	h.mu.Unlock()

	client.close()
	if !removed {
		return
	}
	observability.RealtimeSubscriptions.Sub(float64(subs))
	if h.presence != nil {
		for _, ch := range tracked {
			h.presence.Untrack(context.Background(), ch, client.UserID, client.ID, true)
		}
	}
	h.log.LogDisconnect(context.Background(), client.UserID, client.ID, reason)
}

func (h *Hub) leaveLocked(client *Client, channel string) {
	if m, ok := h.channels[channel]; ok {
		delete(m, client)
		if len(m) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Deliver writes ev to every subscription that matches it and whose owner
// is in the audience.
func (h *Hub) Deliver(d Delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, uid := range uniqueIDs(d.Audience) {
		for c := range h.conns[uid] {
			for _, ref := range c.matching(d.Event) {
				ev := d.Event
				data, err := json.Marshal(protocol.Frame{Type: protocol.FrameChange, Ref: ref, Table: ev.Table, Event: &ev})
				if err != nil {
					h.log.LogError(context.Background(), uid, "encode change", err)
					return
				}
				if c.TrySend(data) {
					delivered++
				}
			}
		}
	}
	if delivered > 0 {
		observability.ChangeEventsDelivered.WithLabelValues(d.Event.Table).Add(float64(delivered))
	}
}

// SyncPresence pushes the full state of channel to every client joined to it.
func (h *Hub) SyncPresence(channel string) {
	if h.presence == nil {
		return
	}
	state := h.presence.State(context.Background(), channel)
	if channel == protocol.PresenceChannel {
		observability.PresenceOnlineUsers.Set(float64(len(state)))
	}
	data, err := json.Marshal(protocol.Frame{Type: protocol.FramePresenceSync, Channel: channel, State: state})
	if err != nil {
		h.log.LogError(context.Background(), 0, "encode presence", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		c.TrySend(data)
	}
}

// HandleFrame processes one inbound frame from client.
func (h *Hub) HandleFrame(client *Client, raw []byte) {
	if !client.allow() {
		observability.RealtimeDrops.WithLabelValues("throttled").Inc()
		client.sendError("", "rate limit exceeded")
		return
	}

	var f protocol.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		client.sendError("", "invalid frame")
		return
	}
	ctx := context.Background()

	switch f.Type {
	case protocol.FrameSubscribe:
		if !subscribable[f.Table] {
			client.sendError(f.Ref, "unknown table "+f.Table)
			return
		}
		if f.Ref == "" {
			client.sendError(f.Ref, "subscribe requires a ref")
			return
		}
		filter, err := protocol.ParseFilter(f.Filter)
		if err != nil {
			client.sendError(f.Ref, err.Error())
			return
		}
		if client.subscribe(f.Ref, subscription{table: f.Table, filter: filter}) {
			observability.RealtimeSubscriptions.Inc()
		}
		h.log.LogSubscribe(ctx, client.UserID, f.Table, filter.String(), true)
		client.sendFrame(protocol.Frame{Type: protocol.FrameSubscribed, Ref: f.Ref, Table: f.Table, Filter: filter.String()})

	case protocol.FrameUnsubscribe:
		if s, ok := client.unsubscribe(f.Ref); ok {
			observability.RealtimeSubscriptions.Dec()
			h.log.LogSubscribe(ctx, client.UserID, s.table, s.filter.String(), false)
		}

	case protocol.FramePresenceJoin:
		if h.presence == nil || f.Channel != protocol.PresenceChannel {
			client.sendError(f.Ref, "unknown presence channel "+f.Channel)
			return
		}
		h.mu.Lock()
		m, ok := h.channels[f.Channel]
		if !ok {
			m = make(map[*Client]struct{})
			h.channels[f.Channel] = m
		}
		m[client] = struct{}{}
		h.mu.Unlock()
		client.setJoined(f.Channel, true)
		client.sendFrame(protocol.Frame{Type: protocol.FrameSubscribed, Ref: f.Ref, Channel: f.Channel})
		client.sendFrame(protocol.Frame{
			Type:    protocol.FramePresenceSync,
			Channel: f.Channel,
			State:   h.presence.State(ctx, f.Channel),
		})

	case protocol.FramePresenceLeave:
		if !client.isJoined(f.Channel) {
			return
		}
		h.mu.Lock()
		h.leaveLocked(client, f.Channel)
		h.mu.Unlock()
		client.setJoined(f.Channel, false)
		h.presence.Untrack(ctx, f.Channel, client.UserID, client.ID, false)

	case protocol.FrameTrack:
		if !client.isJoined(f.Channel) || f.Meta == nil {
			client.sendError(f.Ref, "track requires a joined channel and meta")
			return
		}
		meta := *f.Meta
		// clients cannot track on behalf of someone else
		meta.UserID = client.UserID
		if meta.OnlineAt.IsZero() {
			meta.OnlineAt = time.Now().UTC()
		}
		client.setTracked(f.Channel, true)
		h.presence.Track(ctx, f.Channel, client.ID, meta)

	case protocol.FrameUntrack:
		if !client.isJoined(f.Channel) {
			return
		}
		client.setTracked(f.Channel, false)
		h.presence.Untrack(ctx, f.Channel, client.UserID, client.ID, false)

	default:
		client.sendError(f.Ref, "unknown frame type "+f.Type)
	}
}

// Shutdown closes every connection and stops presence bookkeeping.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := h.conns
	h.conns = make(map[uint]map[*Client]struct{})
	h.channels = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	h.mu.Unlock()

	if h.presence != nil {
		h.presence.Stop()
	}

	for userID, userConns := range conns {
		for client := range userConns {
			client.close()
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				h.log.LogError(ctx, userID, "close message", err)
			}
			if err := client.Conn.Close(); err != nil {
				h.log.LogError(ctx, userID, "close", err)
			}
		}
	}
	h.log.LogLifecycle(ctx, "shutdown")
	return nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
