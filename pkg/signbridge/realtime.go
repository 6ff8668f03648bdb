package signbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"signbridge/pkg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrClosed is returned by operations on a closed realtime connection.
var ErrClosed = errors.New("realtime connection closed")

// ChangeHandler receives change events for one subscription. Handlers run on
// the connection's reader goroutine, in commit order.
type ChangeHandler func(protocol.ChangeEvent)

// SyncHandler receives the full presence state of a channel after every change.
type SyncHandler func(state map[string][]protocol.PresenceMeta)

// PresenceChannel is a joined presence channel.
type PresenceChannel interface {
	Track(ctx context.Context, meta protocol.PresenceMeta) error
	Untrack(ctx context.Context) error
	Leave() error
}

// Realtime is one websocket connection carrying change feeds and presence.
type Realtime struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	subs     map[string]ChangeHandler
	syncs    map[string]SyncHandler
	pending  map[string]chan error
	closed   bool
	closeErr error

	done chan struct{}
}

// Connect exchanges the bearer token for a ticket and opens the realtime socket.
func (c *Client) Connect(ctx context.Context) (*Realtime, error) {
	ticket, err := c.IssueTicket(ctx)
	if err != nil {
		return nil, fmt.Errorf("issue realtime ticket: %w", err)
	}
	endpoint, err := wsURL(c.baseURL, ticket)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "realtime handshake rejected"}
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	r := &Realtime{
		conn:    conn,
		log:     c.log.With(slog.String("component", "realtime")),
		subs:    make(map[string]ChangeHandler),
		syncs:   make(map[string]SyncHandler),
		pending: make(map[string]chan error),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func wsURL(base, ticket string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	u.RawQuery = url.Values{"ticket": {ticket}}.Encode()
	return u.String(), nil
}

// Done is closed when the connection ends.
func (r *Realtime) Done() <-chan struct{} { return r.done }

// Err returns why the connection ended, or nil while it is open or after Close.
func (r *Realtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeErr
}

// Close ends the connection. The server untracks presence on its side.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	r.writeMu.Unlock()
	err := r.conn.Close()
	<-r.done
	return err
}

// Subscribe starts receiving change events on table rows matching filter and
// returns a function that stops them. It blocks until the server acknowledges.
func (r *Realtime) Subscribe(ctx context.Context, table string, filter protocol.Filter, fn ChangeHandler) (unsubscribe func(), err error) {
	ref := uuid.NewString()
	r.mu.Lock()
	r.subs[ref] = fn
	r.mu.Unlock()

	err = r.request(ctx, ref, protocol.Frame{Type: protocol.FrameSubscribe, Ref: ref, Table: table, Filter: filter.String()})
	if err != nil {
		r.mu.Lock()
		delete(r.subs, ref)
		r.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ref)
			r.mu.Unlock()
			_ = r.write(protocol.Frame{Type: protocol.FrameUnsubscribe, Ref: ref})
		})
	}, nil
}

// JoinPresence joins a presence channel. onSync runs with the initial state
// and again after every change.
func (r *Realtime) JoinPresence(ctx context.Context, channel string, onSync SyncHandler) (PresenceChannel, error) {
	ref := uuid.NewString()
	r.mu.Lock()
	r.syncs[channel] = onSync
	r.mu.Unlock()

	if err := r.request(ctx, ref, protocol.Frame{Type: protocol.FramePresenceJoin, Ref: ref, Channel: channel}); err != nil {
		r.mu.Lock()
		delete(r.syncs, channel)
		r.mu.Unlock()
		return nil, fmt.Errorf("join %s: %w", channel, err)
	}
	return &presenceChannel{r: r, channel: channel}, nil
}

type presenceChannel struct {
	r       *Realtime
	channel string
}

func (p *presenceChannel) Track(_ context.Context, meta protocol.PresenceMeta) error {
	return p.r.write(protocol.Frame{Type: protocol.FrameTrack, Channel: p.channel, Meta: &meta})
}

func (p *presenceChannel) Untrack(_ context.Context) error {
	return p.r.write(protocol.Frame{Type: protocol.FrameUntrack, Channel: p.channel})
}

func (p *presenceChannel) Leave() error {
	p.r.mu.Lock()
	delete(p.r.syncs, p.channel)
	p.r.mu.Unlock()
	return p.r.write(protocol.Frame{Type: protocol.FramePresenceLeave, Channel: p.channel})
}

// request writes f and waits for the matching subscribed or error frame.
func (r *Realtime) request(ctx context.Context, ref string, f protocol.Frame) error {
	ack := make(chan error, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.pending[ref] = ack
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, ref)
		r.mu.Unlock()
	}()

	if err := r.write(f); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Realtime) write(f protocol.Frame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.conn.WriteJSON(f)
}

func (r *Realtime) readLoop() {
	defer close(r.done)
	for {
		var f protocol.Frame
		if err := r.conn.ReadJSON(&f); err != nil {
			r.mu.Lock()
			if !r.closed {
				r.closeErr = err
				r.closed = true
				r.log.Warn("realtime connection lost", slog.String("error", err.Error()))
			}
			r.mu.Unlock()
			return
		}
		r.dispatch(f)
	}
}

func (r *Realtime) dispatch(f protocol.Frame) {
	switch f.Type {
	case protocol.FrameSubscribed:
		r.resolve(f.Ref, nil)

	case protocol.FrameError:
		if !r.resolve(f.Ref, errors.New(f.Error)) {
			r.log.Warn("realtime error", slog.String("ref", f.Ref), slog.String("error", f.Error))
		}

	case protocol.FrameChange:
		r.mu.Lock()
		fn := r.subs[f.Ref]
		r.mu.Unlock()
		if fn != nil && f.Event != nil {
			fn(*f.Event)
		}

	case protocol.FramePresenceSync:
		r.mu.Lock()
		fn := r.syncs[f.Channel]
		r.mu.Unlock()
		if fn != nil {
			state := f.State
			if state == nil {
				state = map[string][]protocol.PresenceMeta{}
			}
			fn(state)
		}

	case protocol.FrameDropped:
		r.log.Warn("server dropped realtime frames for this connection")

	default:
		r.log.Debug("ignoring realtime frame", slog.String("type", f.Type))
	}
}

func (r *Realtime) resolve(ref string, err error) bool {
	if ref == "" {
		return false
	}
	r.mu.Lock()
	ack, ok := r.pending[ref]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ack <- err:
	default:
	}
	return true
}
