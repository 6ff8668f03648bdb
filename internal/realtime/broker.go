package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"signbridge/internal/observability"
	"signbridge/pkg/protocol"

	"github.com/redis/go-redis/v9"
)

// ChangesChannel carries change deliveries between nodes.
const ChangesChannel = "realtime:changes"

// Change is a committed row change and the users allowed to see it.
// Record and OldRecord are marshalled to JSON as-is.
type Change struct {
	Table     string
	Type      protocol.EventType
	Record    any
	OldRecord any
	Audience  []uint
}

// Broker publishes changes to every node's hub, through Redis pub/sub when
// available and straight to the local hub otherwise.
type Broker struct {
	rdb *redis.Client
	hub *Hub
	log *slog.Logger
	now func() time.Time
}

// NewBroker returns a broker feeding hub. rdb may be nil.
func NewBroker(rdb *redis.Client, hub *Hub, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{rdb: rdb, hub: hub, log: logger, now: time.Now}
}

// PublishChange emits ch. Redis failures fall back to local delivery so
// clients on this node still see their own writes.
func (b *Broker) PublishChange(ctx context.Context, ch Change) (err error) {
	ctx, span := observability.StartChangeSpan(ctx, ch.Table, string(ch.Type), len(ch.Audience))
	defer func() { observability.EndSpan(span, err) }()

	ev := protocol.ChangeEvent{
		Table:           ch.Table,
		Type:            ch.Type,
		CommitTimestamp: b.now().UTC(),
	}
	if ch.Record != nil {
		if ev.Record, err = json.Marshal(ch.Record); err != nil {
			return fmt.Errorf("encode %s record: %w", ch.Table, err)
		}
	}
	if ch.OldRecord != nil {
		if ev.OldRecord, err = json.Marshal(ch.OldRecord); err != nil {
			return fmt.Errorf("encode %s old record: %w", ch.Table, err)
		}
	}
	observability.ChangeEventsPublished.WithLabelValues(ch.Table, string(ch.Type)).Inc()

	d := Delivery{Event: ev, Audience: ch.Audience}
	if b.rdb == nil {
		b.hub.Deliver(d)
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	if err := b.rdb.Publish(ctx, ChangesChannel, payload).Err(); err != nil {
		b.log.WarnContext(ctx, "change publish failed, delivering locally", "table", ch.Table, "error", err)
		b.hub.Deliver(d)
	}
	return nil
}

// Start subscribes to change and presence channels and forwards them to the
// hub until ctx is cancelled. Without Redis it is a no-op.
func (b *Broker) Start(ctx context.Context) error {
	if b.rdb == nil {
		return nil
	}
	patterns := []string{ChangesChannel, presenceKeyPrefix + "*"}
	sub := b.rdb.PSubscribe(ctx, patterns...)
	for range patterns {
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return fmt.Errorf("subscribe realtime channels: %w", err)
		}
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(msg.Channel, msg.Payload)
			}
		}
	}()
	return nil
}

func (b *Broker) dispatch(channel, payload string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in realtime subscriber", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if channel == ChangesChannel {
		var d Delivery
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			b.log.Warn("dropping malformed change delivery", "error", err)
			return
		}
		b.hub.Deliver(d)
		return
	}
	if name, ok := strings.CutPrefix(channel, presenceKeyPrefix); ok {
		b.hub.SyncPresence(name)
	}
}
