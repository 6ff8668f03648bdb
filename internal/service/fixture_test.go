package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"signbridge/internal/cache"
	"signbridge/internal/config"
	"signbridge/internal/featureflags"
	"signbridge/internal/middleware"
	"signbridge/internal/models"
	"signbridge/internal/realtime"
	"signbridge/internal/repository"
	"signbridge/internal/testutil"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// recorder captures published changes.
type recorder struct {
	mu      sync.Mutex
	changes []realtime.Change
}

func (r *recorder) PublishChange(_ context.Context, ch realtime.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
	return nil
}

// take returns and clears the captured changes.
func (r *recorder) take() []realtime.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.changes
	r.changes = nil
	return out
}

type fixture struct {
	db     *gorm.DB
	events *recorder
	auth   *AuthService
	chat   *ChatService
	typing *TypingService
	users  repository.UserRepository
	chats  repository.ChatRepository
	msgs   repository.MessageRepository
}

func newFixture(t *testing.T, flags string) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	f := &fixture{
		db:     db,
		events: &recorder{},
		users:  repository.NewUserRepository(db),
		chats:  repository.NewChatRepository(db),
		msgs:   repository.NewMessageRepository(db),
	}
	authn := middleware.NewAuthenticator(&config.Config{JWTSecret: "test-secret"}, nil)
	f.auth = NewAuthService(f.users, authn)
	f.auth.bcryptCost = bcrypt.MinCost
	f.chat = NewChatService(f.chats, f.msgs, f.users, featureflags.NewManager(flags), cache.NewStore(nil), f.events)
	f.typing = NewTypingService(repository.NewTypingRepository(db), f.chats, f.events)
	return f
}

func (f *fixture) signup(t *testing.T, name string) *models.User {
	t.Helper()
	res, err := f.auth.Signup(context.Background(), fmt.Sprintf("%s@example.com", name), "Correct-Horse-9")
	require.NoError(t, err)
	return res.User
}

// direct starts a two-party conversation and discards the resulting events.
func (f *fixture) direct(t *testing.T, a, b *models.User) uint {
	t.Helper()
	conv, _, err := f.chat.StartDirect(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	f.events.take()
	return conv.ID
}

// tick makes successive service timestamps strictly increasing.
func tick(s *ChatService) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var n int
	var mu sync.Mutex
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}
