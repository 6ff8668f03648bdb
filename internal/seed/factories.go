package seed

import (
	"fmt"
	"strings"
	"time"

	"signbridge/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// demoEmojis is the palette reactions are drawn from.
	demoEmojis = []string{"👍", "❤️", "😂", "👏", "🤟", "👋", "🎉"}

	groupTopics = []string{"ASL", "BSL", "Coffee", "Weekend", "Book", "Family", "Neighborhood", "Study"}
	groupKinds  = []string{"circle", "club", "crew", "chat", "group"}
)

// Factory builds domain rows and persists them. It is shared by the demo
// seeder and by tests that need realistic fixtures.
type Factory struct {
	db       *gorm.DB
	faker    *gofakeit.Faker
	maxDays  int
	password string
	hash     string
}

// NewFactory creates a Factory bound to db. A zero seed picks a random one.
func NewFactory(db *gorm.DB, opts Options) (*Factory, error) {
	opts = opts.withDefaults()
	cost := bcrypt.DefaultCost
	if opts.SkipBcrypt {
		cost = bcrypt.MinCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash demo password: %w", err)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		db:       db,
		faker:    gofakeit.New(seed),
		maxDays:  opts.MaxDays,
		password: opts.Password,
		hash:     string(hash),
	}, nil
}

// CreateUser persists a user together with its profile and default preferences.
func (f *Factory) CreateUser(overrides ...func(*models.User, *models.UserPreferences)) (*models.User, error) {
	first, last := f.faker.FirstName(), f.faker.LastName()
	user := &models.User{
		Email:    strings.ToLower(fmt.Sprintf("%s.%s%d@example.com", first, last, f.faker.Number(10, 9999))),
		Password: f.hash,
		Profile:  &models.Profile{DisplayName: first + " " + last},
	}
	prefs := models.DefaultPreferences(0)
	if f.faker.Number(0, 2) == 0 {
		prefs.Mode = models.ModeDeaf
		prefs.VisualAlerts = true
	}

	for _, override := range overrides {
		override(user, prefs)
	}
	user.Profile.Email = user.Email

	err := f.db.Transaction(func(tx *gorm.DB) error {
		profile := user.Profile
		user.Profile = nil
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		profile.UserID = user.ID
		if err := tx.Create(profile).Error; err != nil {
			return err
		}
		user.Profile = profile
		prefs.UserID = user.ID
		return tx.Create(prefs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Email, err)
	}
	return user, nil
}

// CreateDirect persists a two-party conversation between a and b.
func (f *Factory) CreateDirect(a, b *models.User) (*models.Conversation, error) {
	return f.createConversation(&models.Conversation{CreatedBy: a.ID}, a, []*models.User{b})
}

// CreateGroup persists a named group owned by owner.
func (f *Factory) CreateGroup(owner *models.User, members []*models.User) (*models.Conversation, error) {
	conv := &models.Conversation{
		Name:      f.faker.RandomString(groupTopics) + " " + f.faker.RandomString(groupKinds),
		IsGroup:   true,
		CreatedBy: owner.ID,
	}
	return f.createConversation(conv, owner, members)
}

func (f *Factory) createConversation(conv *models.Conversation, owner *models.User, members []*models.User) (*models.Conversation, error) {
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		rows := make([]models.ConversationParticipant, 0, len(members)+1)
		rows = append(rows, models.ConversationParticipant{ConversationID: conv.ID, UserID: owner.ID, Role: models.RoleOwner})
		for _, m := range members {
			rows = append(rows, models.ConversationParticipant{ConversationID: conv.ID, UserID: m.ID, Role: models.RoleMember})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		conv.Participants = rows
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// CreateMessages persists n messages in conv from random participants,
// spread over the configured window and ordered oldest first. Some replies,
// one pin and a scattering of reactions are mixed in.
func (f *Factory) CreateMessages(conv *models.Conversation, n int) ([]models.Message, error) {
	if n <= 0 || len(conv.Participants) == 0 {
		return nil, nil
	}

	start := time.Now().Add(-time.Duration(f.faker.Number(1, f.maxDays)) * 24 * time.Hour)
	step := time.Since(start) / time.Duration(n+1)

	out := make([]models.Message, 0, n)
	err := f.db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < n; i++ {
			sender := conv.Participants[f.faker.Number(0, len(conv.Participants)-1)].UserID
			at := start.Add(time.Duration(i+1) * step)
			msg := models.Message{
				ConversationID: conv.ID,
				SenderID:       sender,
				Content:        f.messageContent(),
				MessageType:    models.MessageTypeText,
				CreatedAt:      at,
				UpdatedAt:      at,
			}
			if i > 0 && f.faker.Number(0, 4) == 0 {
				parent := out[f.faker.Number(0, len(out)-1)].ID
				msg.ReplyToID = &parent
			}
			if i == n/2 {
				msg.IsPinned = true
			}
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
			if err := f.react(tx, &msg, conv); err != nil {
				return err
			}
			out = append(out, msg)
		}
		last := out[len(out)-1].CreatedAt
		conv.LastMessageAt = &last
		return tx.Model(conv).Update("last_message_at", last).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create messages in conversation %d: %w", conv.ID, err)
	}
	return out, nil
}

// react adds at most one reaction per participant, keeping (message, user, emoji) unique.
func (f *Factory) react(tx *gorm.DB, msg *models.Message, conv *models.Conversation) error {
	for _, p := range conv.Participants {
		if p.UserID == msg.SenderID || f.faker.Number(0, 3) != 0 {
			continue
		}
		r := models.Reaction{
			MessageID: msg.ID,
			UserID:    p.UserID,
			Emoji:     demoEmojis[f.faker.Number(0, len(demoEmojis)-1)],
			Count:     1,
		}
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
		msg.Reactions = append(msg.Reactions, r)
	}
	return nil
}

func (f *Factory) messageContent() string {
	switch f.faker.Number(0, 3) {
	case 0:
		return f.faker.Question()
	case 1:
		return f.faker.Phrase()
	default:
		return f.faker.Sentence(f.faker.Number(3, 14))
	}
}
