package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"signbridge/pkg/protocol"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix       = "realtime:presence:"
	presenceHeartbeatPrefix = "realtime:presence:hb:"
	defaultPresenceTTL      = 90 * time.Second
	defaultPresenceGrace    = 5 * time.Second
)

// PresenceConfig controls heartbeat expiry and the disconnect grace window.
type PresenceConfig struct {
	HeartbeatTTL time.Duration
	Grace        time.Duration
	Logger       *slog.Logger
}

type presenceKey struct {
	channel string
	userID  uint
	connID  string
}

// Presence tracks per-connection presence metadata per channel. Local state
// is mirrored to Redis so every node can rebuild the full channel state;
// entries whose heartbeat key expired are reaped on read.
type Presence struct {
	rdb *redis.Client
	log *slog.Logger

	mu     sync.Mutex
	local  map[string]map[presenceKey]protocol.PresenceMeta
	timers map[presenceKey]*time.Timer

	ttl   time.Duration
	grace time.Duration

	onChange func(channel string)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresence returns a tracker. rdb may be nil for single-node operation.
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	p := &Presence{
		rdb:    rdb,
		log:    cfg.Logger,
		local:  make(map[string]map[presenceKey]protocol.PresenceMeta),
		timers: make(map[presenceKey]*time.Timer),
		ttl:    defaultPresenceTTL,
		grace:  defaultPresenceGrace,
		stopCh: make(chan struct{}),
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if cfg.HeartbeatTTL > 0 {
		p.ttl = cfg.HeartbeatTTL
	}
	if cfg.Grace > 0 {
		p.grace = cfg.Grace
	}
	if p.rdb != nil {
		go p.heartbeatLoop()
	}
	return p
}

// OnChange registers the callback run when a channel's state changes
// locally and there is no Redis to carry the notification.
func (p *Presence) OnChange(fn func(channel string)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Track records meta for one connection on channel. Tracking again replaces
// the metadata and cancels any pending untrack for that connection.
func (p *Presence) Track(ctx context.Context, channel, connID string, meta protocol.PresenceMeta) {
	key := presenceKey{channel: channel, userID: meta.UserID, connID: connID}

	p.mu.Lock()
	if t, ok := p.timers[key]; ok {
		t.Stop()
		delete(p.timers, key)
	}
	entries, ok := p.local[channel]
	if !ok {
		entries = make(map[presenceKey]protocol.PresenceMeta)
		p.local[channel] = entries
	}
	entries[key] = meta
	p.mu.Unlock()

	if p.rdb != nil {
		data, _ := json.Marshal(meta)
		pipe := p.rdb.TxPipeline()
		pipe.HSet(ctx, presenceKeyPrefix+channel, fieldName(key), data)
		pipe.SetEx(ctx, heartbeatKey(key), "1", p.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			p.log.WarnContext(ctx, "presence mirror failed", "channel", channel, "user_id", meta.UserID, "error", err)
		}
	}
	p.changed(ctx, channel)
}

// Untrack removes a connection from channel. With grace the removal is
// deferred so a quick reconnect does not flap the user's presence.
func (p *Presence) Untrack(ctx context.Context, channel string, userID uint, connID string, grace bool) {
	key := presenceKey{channel: channel, userID: userID, connID: connID}
	if !grace {
		p.finalize(ctx, key)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.local[channel][key]; !ok {
		return
	}
	if t, ok := p.timers[key]; ok {
		t.Stop()
	}
	p.timers[key] = time.AfterFunc(p.grace, func() {
		p.finalize(context.Background(), key)
	})
}

func (p *Presence) finalize(ctx context.Context, key presenceKey) {
	p.mu.Lock()
	if t, ok := p.timers[key]; ok {
		t.Stop()
		delete(p.timers, key)
	}
	entries := p.local[key.channel]
	_, existed := entries[key]
	delete(entries, key)
	if len(entries) == 0 {
		delete(p.local, key.channel)
	}
	p.mu.Unlock()

	if !existed {
		return
	}
	if p.rdb != nil {
		pipe := p.rdb.TxPipeline()
		pipe.HDel(ctx, presenceKeyPrefix+key.channel, fieldName(key))
		pipe.Del(ctx, heartbeatKey(key))
		if _, err := pipe.Exec(ctx); err != nil {
			p.log.WarnContext(ctx, "presence untrack mirror failed", "channel", key.channel, "user_id", key.userID, "error", err)
		}
	}
	p.changed(ctx, key.channel)
}

// State returns the channel's presence keyed by user id. Each user maps to
// one meta per tracked connection, oldest first.
func (p *Presence) State(ctx context.Context, channel string) map[string][]protocol.PresenceMeta {
	byField := p.localState(channel)
	if p.rdb != nil {
		remote, err := p.remoteState(ctx, channel)
		if err != nil {
			p.log.WarnContext(ctx, "presence state read failed, using local state", "channel", channel, "error", err)
		}
		for field, meta := range remote {
			byField[field] = meta
		}
	}

	state := make(map[string][]protocol.PresenceMeta)
	for _, meta := range byField {
		uid := strconv.FormatUint(uint64(meta.UserID), 10)
		state[uid] = append(state[uid], meta)
	}
	for _, metas := range state {
		sort.Slice(metas, func(i, j int) bool { return metas[i].OnlineAt.Before(metas[j].OnlineAt) })
	}
	return state
}

func (p *Presence) localState(channel string) map[string]protocol.PresenceMeta {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]protocol.PresenceMeta, len(p.local[channel]))
	for key, meta := range p.local[channel] {
		out[fieldName(key)] = meta
	}
	return out
}

func (p *Presence) remoteState(ctx context.Context, channel string) (map[string]protocol.PresenceMeta, error) {
	fields, err := p.rdb.HGetAll(ctx, presenceKeyPrefix+channel).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]protocol.PresenceMeta, len(fields))
	for field, raw := range fields {
		key, ok := parseField(channel, field)
		if !ok {
			continue
		}
		alive, err := p.rdb.Exists(ctx, heartbeatKey(key)).Result()
		if err != nil {
			continue
		}
		if alive == 0 {
			// the owning node died without untracking
			_ = p.rdb.HDel(ctx, presenceKeyPrefix+channel, field).Err()
			continue
		}
		var meta protocol.PresenceMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		out[field] = meta
	}
	return out, nil
}

// Refresh extends the heartbeat of every locally tracked connection.
func (p *Presence) Refresh(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	p.mu.Lock()
	keys := make([]presenceKey, 0)
	for _, entries := range p.local {
		for key := range entries {
			keys = append(keys, key)
		}
	}
	p.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	pipe := p.rdb.Pipeline()
	for _, key := range keys {
		pipe.Expire(ctx, heartbeatKey(key), p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.WarnContext(ctx, "presence heartbeat failed", "error", err)
	}
}

func (p *Presence) heartbeatLoop() {
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Refresh(context.Background())
		}
	}
}

// changed announces a state change. With Redis the notification goes
// through pub/sub so every node, this one included, resyncs its clients.
func (p *Presence) changed(ctx context.Context, channel string) {
	if p.rdb != nil {
		err := p.rdb.Publish(ctx, presenceKeyPrefix+channel, "sync").Err()
		if err == nil {
			return
		}
		p.log.WarnContext(ctx, "presence publish failed, syncing locally", "channel", channel, "error", err)
	}
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(channel)
	}
}

// Stop cancels pending untracks and the heartbeat loop.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		for key, t := range p.timers {
			t.Stop()
			delete(p.timers, key)
		}
		p.mu.Unlock()
	})
}

func fieldName(key presenceKey) string {
	return strconv.FormatUint(uint64(key.userID), 10) + ":" + key.connID
}

func parseField(channel, field string) (presenceKey, bool) {
	uid, connID, ok := strings.Cut(field, ":")
	if !ok {
		return presenceKey{}, false
	}
	id, err := strconv.ParseUint(uid, 10, 64)
	if err != nil {
		return presenceKey{}, false
	}
	return presenceKey{channel: channel, userID: uint(id), connID: connID}, true
}

func heartbeatKey(key presenceKey) string {
	return presenceHeartbeatPrefix + key.channel + ":" + fieldName(key)
}
