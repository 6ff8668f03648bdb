// Package middleware provides HTTP middleware: authentication, logging,
// metrics, tracing and rate limiting.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"signbridge/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	TokenIssuer   = "signbridge-api"
	TokenAudience = "signbridge-clients"
	TokenTTL      = 7 * 24 * time.Hour
	TicketTTL     = 30 * time.Second

	ticketKeyPrefix    = "ws_ticket:"
	blacklistKeyPrefix = "blacklist:"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrRevokedToken  = errors.New("token has been revoked")
	ErrInvalidTicket = errors.New("invalid or expired ticket")
)

// Claims is the JWT payload issued at sign-in.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 32)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

// tokenStore keeps single-use tickets and revoked token ids.
type tokenStore interface {
	put(ctx context.Context, key, value string, ttl time.Duration) error
	take(ctx context.Context, key string) (string, bool, error)
	exists(ctx context.Context, key string) (bool, error)
}

type redisTokenStore struct {
	rdb *redis.Client
}

func (s redisTokenStore) put(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s redisTokenStore) take(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s redisTokenStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// memoryTokenStore is used when Redis is not configured (single node, tests).
type memoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

func newMemoryTokenStore(now func() time.Time) *memoryTokenStore {
	return &memoryTokenStore{entries: make(map[string]memoryEntry), now: now}
}

func (s *memoryTokenStore) put(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[key] = memoryEntry{value: value, expires: s.now().Add(ttl)}
	return nil
}

func (s *memoryTokenStore) take(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, key)
	if s.now().After(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *memoryTokenStore) exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && !s.now().After(e.expires), nil
}

func (s *memoryTokenStore) sweepLocked() {
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
}

// Authenticator issues and verifies bearer tokens and realtime tickets.
type Authenticator struct {
	secret []byte
	store  tokenStore
	now    func() time.Time
}

// NewAuthenticator returns an Authenticator backed by rdb, or by process
// memory when rdb is nil.
func NewAuthenticator(cfg *config.Config, rdb *redis.Client) *Authenticator {
	a := &Authenticator{secret: []byte(cfg.JWTSecret), now: time.Now}
	if rdb != nil {
		a.store = redisTokenStore{rdb: rdb}
	} else {
		a.store = newMemoryTokenStore(func() time.Time { return a.now() })
	}
	return a
}

// IssueToken signs a token for userID.
func (a *Authenticator) IssueToken(userID uint, email string) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(TokenTTL)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken validates raw and rejects revoked tokens.
func (a *Authenticator) ParseToken(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	if claims.ID != "" {
		revoked, err := a.store.exists(ctx, blacklistKeyPrefix+claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke blacklists the token id until the token would have expired anyway.
func (a *Authenticator) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(a.now())
	}
	if ttl <= 0 {
		return nil
	}
	return a.store.put(ctx, blacklistKeyPrefix+claims.ID, "1", ttl)
}

// IssueTicket returns a single-use ticket for opening a realtime connection.
func (a *Authenticator) IssueTicket(ctx context.Context, userID uint) (string, error) {
	ticket := uuid.NewString()
	if err := a.store.put(ctx, ticketKeyPrefix+ticket, strconv.FormatUint(uint64(userID), 10), TicketTTL); err != nil {
		return "", fmt.Errorf("store ticket: %w", err)
	}
	return ticket, nil
}

// ConsumeTicket redeems ticket exactly once.
func (a *Authenticator) ConsumeTicket(ctx context.Context, ticket string) (uint, error) {
	if ticket == "" {
		return 0, ErrInvalidTicket
	}
	v, ok, err := a.store.take(ctx, ticketKeyPrefix+ticket)
	if err != nil {
		return 0, fmt.Errorf("redeem ticket: %w", err)
	}
	if !ok {
		return 0, ErrInvalidTicket
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil || id == 0 {
		return 0, ErrInvalidTicket
	}
	return uint(id), nil
}

// Required enforces a bearer token and stores userID and claims in locals.
func (a *Authenticator) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return unauthorized(c, "Authorization header required")
		}
		claims, err := a.ParseToken(c.UserContext(), raw)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrRevokedToken) {
				return unauthorized(c, err.Error())
			}
			Logger.ErrorContext(c.UserContext(), "token verification failed", "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "authentication unavailable",
				"code":  "INTERNAL",
			})
		}
		uid, _ := claims.UserID()
		c.Locals("userID", uid)
		c.Locals("claims", claims)
		c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, uid))
		return c.Next()
	}
}

// TicketRequired authenticates realtime upgrades from the ?ticket= query parameter.
func (a *Authenticator) TicketRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, err := a.ConsumeTicket(c.UserContext(), c.Query("ticket"))
		if err != nil {
			return unauthorized(c, ErrInvalidTicket.Error())
		}
		c.Locals("userID", uid)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by Required.
func ClaimsFrom(c *fiber.Ctx) (*Claims, bool) {
	claims, ok := c.Locals("claims").(*Claims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
		"code":  "UNAUTHORIZED",
	})
}
