package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"signbridge/internal/observability"
	"signbridge/pkg/protocol"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBuffer = 256
)

var dropNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// Conn is the subset of a websocket connection the pumps use.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type subscription struct {
	table  string
	filter protocol.Filter
}

// Client is one websocket connection owned by a Hub.
type Client struct {
	hub  *Hub
	Conn Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	UserID uint
	ID     string

	limiter *rate.Limiter

	mu      sync.Mutex
	subs    map[string]subscription
	joined  map[string]bool
	tracked map[string]bool

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn Conn, userID uint, limiter *rate.Limiter) *Client {
	return &Client{
		hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		UserID:  userID,
		ID:      uuid.NewString(),
		limiter: limiter,
		subs:    make(map[string]subscription),
		joined:  make(map[string]bool),
		tracked: make(map[string]bool),
		done:    make(chan struct{}),
	}
}

// ReadPump reads frames until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	reason := "closed"
	defer func() {
		c.hub.UnregisterClient(c, reason)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				reason = "read error"
				c.hub.log.LogError(context.Background(), c.UserID, "read", err)
			}
			return
		}
		c.hub.HandleFrame(c, message)
	}
}

// WritePump writes queued frames and keepalive pings until the client is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. When the buffer is full the
// message and the oldest queued frame are dropped and a messages_dropped
// notice is queued so the client can refetch.
func (c *Client) TrySend(message []byte) bool {
	select {
	case <-c.done:
		observability.RealtimeDrops.WithLabelValues("closed").Inc()
		return false
	default:
	}

	select {
	case c.Send <- message:
		return true
	default:
		observability.RealtimeDrops.WithLabelValues("buffer_full").Inc()
		// evict the oldest frame so the notice always fits
		select {
		case <-c.Send:
		default:
		}
		select {
		case c.Send <- dropNotice:
		default:
		}
		return false
	}
}

func (c *Client) sendFrame(f protocol.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.log.LogError(context.Background(), c.UserID, "encode", err)
		return
	}
	c.TrySend(data)
}

func (c *Client) sendError(ref, msg string) {
	c.sendFrame(protocol.Frame{Type: protocol.FrameError, Ref: ref, Error: msg})
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// subscribe records a table subscription under ref and reports whether ref is new.
func (c *Client) subscribe(ref string, s subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.subs[ref]
	c.subs[ref] = s
	return !existed
}

func (c *Client) unsubscribe(ref string) (subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[ref]
	delete(c.subs, ref)
	return s, ok
}

// matching returns the refs whose subscription accepts ev.
func (c *Client) matching(ev protocol.ChangeEvent) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var refs []string
	row := ev.Row()
	for ref, s := range c.subs {
		if s.table == ev.Table && s.filter.Matches(row) {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (c *Client) setJoined(channel string, joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if joined {
		c.joined[channel] = true
	} else {
		delete(c.joined, channel)
		delete(c.tracked, channel)
	}
}

func (c *Client) isJoined(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[channel]
}

func (c *Client) setTracked(channel string, tracked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tracked {
		c.tracked[channel] = true
	} else {
		delete(c.tracked, channel)
	}
}

// detach clears all subscriptions and returns what was held.
func (c *Client) detach() (subs int, joined, tracked []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs = len(c.subs)
	for ch := range c.joined {
		joined = append(joined, ch)
	}
	for ch := range c.tracked {
		tracked = append(tracked, ch)
	}
	c.subs = make(map[string]subscription)
	c.joined = make(map[string]bool)
	c.tracked = make(map[string]bool)
	return subs, joined, tracked
}
