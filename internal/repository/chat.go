package repository

import (
	"context"
	"time"

	"signbridge/internal/models"
	"signbridge/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository persists conversations and their participant rows.
type ChatRepository interface {
	// CreateConversation inserts conv and one participant row per id in a
	// single transaction. The creator becomes owner.
	CreateConversation(ctx context.Context, conv *models.Conversation, participantIDs []uint) error
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	// FindDirectConversation returns the two-party conversation between a and
	// b regardless of order, or a NOT_FOUND error.
	FindDirectConversation(ctx context.Context, a, b uint) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error)
	IsParticipant(ctx context.Context, convID, userID uint) (bool, error)
	ParticipantIDs(ctx context.Context, convID uint) ([]uint, error)
	ListParticipants(ctx context.Context, convID uint) ([]models.ConversationParticipant, error)
	AddParticipant(ctx context.Context, convID, userID uint) (*models.ConversationParticipant, error)
	UpdateLastRead(ctx context.Context, convID, userID uint, at time.Time) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository returns a GORM-backed ChatRepository.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func withParticipantProfiles(db *gorm.DB) *gorm.DB {
	return db.Preload("Participants", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC, user_id ASC")
	}).Preload("Participants.Profile")
}

func (r *chatRepository) CreateConversation(ctx context.Context, conv *models.Conversation, participantIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants").Create(conv).Error; err != nil {
			return err
		}
		rows := make([]models.ConversationParticipant, 0, len(participantIDs))
		seen := make(map[uint]bool, len(participantIDs))
		for _, uid := range participantIDs {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			role := models.RoleMember
			if uid == conv.CreatedBy {
				role = models.RoleOwner
			}
			rows = append(rows, models.ConversationParticipant{ConversationID: conv.ID, UserID: uid, Role: role})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Omit("Profile").Create(&rows).Error
	})
	return translate(err, "Conversation", conv.ID)
}

func (r *chatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := withParticipantProfiles(r.db.WithContext(ctx)).First(&conv, id).Error; err != nil {
		return nil, translate(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *chatRepository) FindDirectConversation(ctx context.Context, a, b uint) (*models.Conversation, error) {
	var existing models.Conversation
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Select("conversations.id").
		Joins("JOIN conversation_participants cp_self ON cp_self.conversation_id = conversations.id AND cp_self.user_id = ?", a).
		Joins("JOIN conversation_participants cp_other ON cp_other.conversation_id = conversations.id AND cp_other.user_id = ?", b).
		Where("conversations.is_group = ?", false).
		Where(`NOT EXISTS (
			SELECT 1 FROM conversation_participants cp_extra
			WHERE cp_extra.conversation_id = conversations.id
			AND cp_extra.user_id NOT IN (?, ?)
		)`, a, b).
		Order("conversations.id ASC").
		Take(&existing).Error
	if err != nil {
		return nil, translate(err, "Conversation", "direct")
	}
	return r.GetConversation(ctx, existing.ID)
}

// GetUserConversations orders by most recent activity, falling back to
// creation time for conversations without messages.
func (r *chatRepository) GetUserConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	defer observability.TrackQuery("list_by_participant", "conversations")()

	var conversations []*models.Conversation
	err := withParticipantProfiles(r.db.WithContext(ctx)).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id AND cp.user_id = ?", userID).
		Order("COALESCE(conversations.last_message_at, conversations.created_at) DESC").
		Order("conversations.id DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return conversations, nil
}

func (r *chatRepository) IsParticipant(ctx context.Context, convID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *chatRepository) ParticipantIDs(ctx context.Context, convID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", convID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *chatRepository) ListParticipants(ctx context.Context, convID uint) ([]models.ConversationParticipant, error) {
	out := []models.ConversationParticipant{}
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Where("conversation_id = ?", convID).
		Order("joined_at ASC, user_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

// AddParticipant is idempotent; adding an existing member returns the stored row.
func (r *chatRepository) AddParticipant(ctx context.Context, convID, userID uint) (*models.ConversationParticipant, error) {
	row := models.ConversationParticipant{ConversationID: convID, UserID: userID, Role: models.RoleMember}
	if err := r.db.WithContext(ctx).Omit("Profile").Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, translate(err, "Participant", userID)
	}
	var stored models.ConversationParticipant
	err := r.db.WithContext(ctx).Preload("Profile").
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&stored).Error
	if err != nil {
		return nil, translate(err, "Participant", userID)
	}
	return &stored, nil
}

func (r *chatRepository) UpdateLastRead(ctx context.Context, convID, userID uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("last_read_at", at).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
