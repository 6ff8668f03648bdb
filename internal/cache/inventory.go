package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ProfileKeyPrefix     = "profile:%d"
	PreferencesKeyPrefix = "prefs:%d"
	DirectoryKeyPrefix   = "directory:%d"
)

const (
	ProfileTTL     = 5 * time.Minute
	PreferencesTTL = 10 * time.Minute
	DirectoryTTL   = 30 * time.Second
)

// ErrMiss is returned by GetJSON when the key is absent or Redis is unavailable.
var ErrMiss = errors.New("cache miss")

func ProfileKey(userID uint) string {
	return fmt.Sprintf(ProfileKeyPrefix, userID)
}

func PreferencesKey(userID uint) string {
	return fmt.Sprintf(PreferencesKeyPrefix, userID)
}

func DirectoryKey(userID uint) string {
	return fmt.Sprintf(DirectoryKeyPrefix, userID)
}

// Store is a JSON cache over one Redis client. A nil client makes every
// read a miss and every write a no-op.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps rdb.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// GetJSON decodes key into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) error {
	if s == nil || s.rdb == nil {
		return ErrMiss
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// corrupt entries are dropped and treated as misses
		s.rdb.Del(ctx, key)
		return ErrMiss
	}
	return nil
}

// SetJSON stores v under key for ttl.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, ttl).Err()
}

// Invalidate deletes keys, ignoring errors.
func (s *Store) Invalidate(ctx context.Context, keys ...string) {
	if s == nil || s.rdb == nil || len(keys) == 0 {
		return
	}
	s.rdb.Del(ctx, keys...)
}

// Remember returns the cached value for key or loads, stores and returns it.
func Remember[T any](ctx context.Context, s *Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var out T
	if err := s.GetJSON(ctx, key, &out); err == nil {
		return out, nil
	}
	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	_ = s.SetJSON(ctx, key, out, ttl)
	return out, nil
}
