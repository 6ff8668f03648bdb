// Package session holds the signed-in user's context and decides which
// surfaces a visitor may enter.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signbridge/pkg/signbridge"
)

// Session is the authenticated context passed to every client component.
type Session struct {
	BaseURL     string    `yaml:"base_url"`
	Token       string    `yaml:"token"`
	UserID      uint      `yaml:"user_id"`
	Email       string    `yaml:"email"`
	DisplayName string    `yaml:"display_name,omitempty"`
	ExpiresAt   time.Time `yaml:"expires_at,omitempty"`
	SignedInAt  time.Time `yaml:"signed_in_at"`
}

// Valid reports whether s carries a token that has not expired at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.Token == "" || s.UserID == 0 {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Name is what the user is called in the interface.
func (s *Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Email
}

// Authenticator is the subset of the API used to sign in and out.
type Authenticator interface {
	Signup(ctx context.Context, email, password string) (*signbridge.AuthResult, error)
	Login(ctx context.Context, email, password string) (*signbridge.AuthResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*signbridge.User, error)
	SetToken(token string)
	BaseURL() string
}

// Manager creates, restores and tears down the session.
type Manager struct {
	auth  Authenticator
	store Store
	now   func() time.Time
}

// NewManager returns a manager persisting through store. A nil store keeps
// the session in memory only.
func NewManager(auth Authenticator, store Store) *Manager {
	if store == nil {
		store = &MemoryStore{}
	}
	return &Manager{auth: auth, store: store, now: time.Now}
}

// SignIn logs in and persists the new session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	res, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.establish(res)
}

// SignUp creates an account and persists the new session.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*Session, error) {
	res, err := m.auth.Signup(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.establish(res)
}

func (m *Manager) establish(res *signbridge.AuthResult) (*Session, error) {
	if res.User == nil || res.Token == "" {
		return nil, errors.New("sign-in response carried no user")
	}
	s := &Session{
		BaseURL:    m.auth.BaseURL(),
		Token:      res.Token,
		UserID:     res.User.ID,
		Email:      res.User.Email,
		ExpiresAt:  res.ExpiresAt,
		SignedInAt: m.now().UTC(),
	}
	if res.User.Profile != nil {
		s.DisplayName = res.User.Profile.DisplayName
	}
	if err := m.store.Save(s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// Restore loads a stored session and confirms the token with the backend.
// A stored session that is expired, for another server, or rejected by the
// backend is cleared and ErrNoSession returned.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	s, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if !s.Valid(m.now()) || s.BaseURL != m.auth.BaseURL() {
		_ = m.store.Clear()
		return nil, ErrNoSession
	}

	m.auth.SetToken(s.Token)
	user, err := m.auth.Me(ctx)
	if signbridge.IsUnauthorized(err) {
		m.auth.SetToken("")
		_ = m.store.Clear()
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if user.Profile != nil && user.Profile.DisplayName != s.DisplayName {
		s.DisplayName = user.Profile.DisplayName
		_ = m.store.Save(s)
	}
	return s, nil
}

// SignOut revokes the token and forgets the session. The local session is
// removed even when the backend call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.auth.Logout(ctx)
	if clearErr := m.store.Clear(); clearErr != nil && err == nil {
		err = clearErr
	}
	if signbridge.IsUnauthorized(err) {
		return nil
	}
	return err
}
