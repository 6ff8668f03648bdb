// Package seed populates a database with demo accounts and conversations for
// development and manual testing.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"signbridge/internal/database"
	"signbridge/internal/middleware"
	"signbridge/internal/models"

	"gorm.io/gorm"
)

// DefaultPassword is the password shared by every seeded account.
const DefaultPassword = "Signbridge-Demo-1"

// Options configures the seeder.
type Options struct {
	NumUsers        int
	NumGroups       int
	MessagesPerConv int
	MaxDays         int
	Password        string
	SkipBcrypt      bool
	ShouldClean     bool
	// Seed makes the generated content reproducible. Zero means random.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.NumUsers < 0 {
		o.NumUsers = 0
	}
	if o.MessagesPerConv < 0 {
		o.MessagesPerConv = 0
	}
	if o.MaxDays <= 0 {
		o.MaxDays = 30
	}
	if o.Password == "" {
		o.Password = DefaultPassword
	}
	return o
}

// Result summarizes what a run created.
type Result struct {
	Users         []*models.User
	Conversations []*models.Conversation
	Messages      int
}

// demoAccounts are always created so there is a known deaf/hearing pair to log in as.
var demoAccounts = []struct {
	email string
	name  string
	mode  models.PreferenceMode
}{
	{"deaf.demo@signbridge.local", "Deaf Demo", models.ModeDeaf},
	{"hearing.demo@signbridge.local", "Hearing Demo", models.ModeNormal},
}

// Seeder orchestrates a full demo dataset.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
}

// NewSeeder creates a Seeder writing to db.
func NewSeeder(db *gorm.DB, opts Options) (*Seeder, error) {
	opts = opts.withDefaults()
	f, err := NewFactory(db, opts)
	if err != nil {
		return nil, err
	}
	return &Seeder{db: db, opts: opts, factory: f}, nil
}

// Run creates the demo accounts, opts.NumUsers random users, a ring of direct
// conversations between consecutive users, opts.NumGroups groups and their
// message history.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	log := middleware.Logger.With(slog.String("component", "seed"))
	log.InfoContext(ctx, "Starting database seeding",
		slog.Int("users", s.opts.NumUsers), slog.Int("groups", s.opts.NumGroups))

	if s.opts.ShouldClean {
		if err := Clear(ctx, s.db); err != nil {
			return nil, fmt.Errorf("clear existing data: %w", err)
		}
	}

	res := &Result{}
	for _, acc := range demoAccounts {
		u, err := s.factory.CreateUser(func(u *models.User, p *models.UserPreferences) {
			u.Email = acc.email
			u.Profile.DisplayName = acc.name
			p.Mode = acc.mode
			p.VisualAlerts = acc.mode == models.ModeDeaf
		})
		if err != nil {
			return nil, err
		}
		res.Users = append(res.Users, u)
	}
	for i := 0; i < s.opts.NumUsers; i++ {
		u, err := s.factory.CreateUser()
		if err != nil {
			return nil, err
		}
		res.Users = append(res.Users, u)
	}
	log.InfoContext(ctx, "Users created", slog.Int("count", len(res.Users)))

	// ring: 0-1, 1-2, ..., n-1 - 0 (no closing edge for a single pair)
	n := len(res.Users)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		if i == j || (n == 2 && i == 1) {
			continue
		}
		conv, err := s.factory.CreateDirect(res.Users[i], res.Users[j])
		if err != nil {
			return nil, err
		}
		res.Conversations = append(res.Conversations, conv)
	}

	for g := 0; g < s.opts.NumGroups && n >= 3; g++ {
		owner := res.Users[g%n]
		members := make([]*models.User, 0, 3)
		for k := 1; k <= 3 && k < n; k++ {
			members = append(members, res.Users[(g+k)%n])
		}
		conv, err := s.factory.CreateGroup(owner, members)
		if err != nil {
			return nil, err
		}
		res.Conversations = append(res.Conversations, conv)
	}
	log.InfoContext(ctx, "Conversations created", slog.Int("count", len(res.Conversations)))

	for _, conv := range res.Conversations {
		msgs, err := s.factory.CreateMessages(conv, s.opts.MessagesPerConv)
		if err != nil {
			return nil, err
		}
		res.Messages += len(msgs)
	}

	log.InfoContext(ctx, "Database seeding completed",
		slog.Int("users", len(res.Users)),
		slog.Int("conversations", len(res.Conversations)),
		slog.Int("messages", res.Messages))
	return res, nil
}

// Clear removes every application row, children first.
func Clear(ctx context.Context, db *gorm.DB) error {
	all := database.PersistentModels()
	tx := db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for i := len(all) - 1; i >= 0; i-- {
		if err := tx.Delete(all[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
