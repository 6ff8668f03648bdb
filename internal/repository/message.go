package repository

import (
	"context"
	"time"

	"signbridge/internal/models"
	"signbridge/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository persists messages and their reaction rows.
type MessageRepository interface {
	// Create inserts msg and advances the conversation's last_message_at in
	// the same transaction.
	Create(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id uint) (*models.Message, error)
	// List returns non-deleted messages oldest first. A positive limit keeps
	// only the newest limit messages.
	List(ctx context.Context, convID uint, limit int) ([]*models.Message, error)
	UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id uint, at time.Time) error
	SetPinned(ctx context.Context, id uint, pinned bool) error
	// ToggleReaction inserts the (message, user, emoji) row, or removes it if
	// present. It reports whether the reaction now exists.
	ToggleReaction(ctx context.Context, msgID, userID uint, emoji string) (bool, error)
	// MarkRead flags unread messages from other senders as read and returns
	// the ids that changed.
	MarkRead(ctx context.Context, convID, readerID uint) ([]uint, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository returns a GORM-backed MessageRepository.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func withReactions(db *gorm.DB) *gorm.DB {
	return db.Preload("Reactions", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	})
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Reactions", "ReplyTo").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Where("last_message_at IS NULL OR last_message_at < ?", msg.CreatedAt).
			Update("last_message_at", msg.CreatedAt).Error
	})
	if err != nil {
		return translate(err, "Message", msg.ID)
	}
	if msg.Reactions == nil {
		msg.Reactions = []models.Reaction{}
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := withReactions(r.db.WithContext(ctx)).First(&msg, id).Error; err != nil {
		return nil, translate(err, "Message", id)
	}
	return &msg, nil
}

func (r *messageRepository) List(ctx context.Context, convID uint, limit int) ([]*models.Message, error) {
	defer observability.TrackQuery("list_by_conversation", "messages")()

	q := withReactions(r.db.WithContext(ctx)).
		Where("conversation_id = ? AND is_deleted = ?", convID, false)

	var messages []*models.Message
	var err error
	if limit > 0 {
		err = q.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	} else {
		err = q.Order("created_at ASC, id ASC").Find(&messages).Error
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return messages, nil
}

func (r *messageRepository) update(ctx context.Context, id uint, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Message", id)
	}
	return nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) error {
	return r.update(ctx, id, map[string]any{"content": content, "edited_at": editedAt})
}

func (r *messageRepository) SoftDelete(ctx context.Context, id uint, at time.Time) error {
	return r.update(ctx, id, map[string]any{"is_deleted": true, "deleted_at": at})
}

func (r *messageRepository) SetPinned(ctx context.Context, id uint, pinned bool) error {
	return r.update(ctx, id, map[string]any{"is_pinned": pinned})
}

func (r *messageRepository) ToggleReaction(ctx context.Context, msgID, userID uint, emoji string) (bool, error) {
	var added bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.Reaction{MessageID: msgID, UserID: userID, Emoji: emoji, Count: 1}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		added = res.RowsAffected > 0
		if !added {
			if err := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", msgID, userID, emoji).
				Delete(&models.Reaction{}).Error; err != nil {
				return err
			}
		}
		// bump updated_at so the change feed carries a fresh message row
		return tx.Model(&models.Message{}).Where("id = ?", msgID).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return false, translate(err, "Reaction", msgID)
	}
	return added, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, convID, readerID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_read = ? AND is_deleted = ?", convID, readerID, false, false).
			Order("id").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Message{}).Where("id IN ?", ids).Update("is_read", true).Error
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}
