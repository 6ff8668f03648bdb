package repository

import (
	"context"
	"time"

	"signbridge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TypingRepository persists ephemeral typing indicator rows.
type TypingRepository interface {
	// Upsert records that userID is typing in convID and reports whether the
	// row is new.
	Upsert(ctx context.Context, convID, userID uint, at time.Time) (bool, error)
	// Delete removes the row and reports whether one existed.
	Delete(ctx context.Context, convID, userID uint) (bool, error)
	List(ctx context.Context, convID uint) ([]models.TypingIndicator, error)
	// DeleteStale removes rows started before cutoff and returns them.
	DeleteStale(ctx context.Context, cutoff time.Time) ([]models.TypingIndicator, error)
}

type typingRepository struct {
	db *gorm.DB
}

// NewTypingRepository returns a GORM-backed TypingRepository.
func NewTypingRepository(db *gorm.DB) TypingRepository {
	return &typingRepository{db: db}
}

func (r *typingRepository) Upsert(ctx context.Context, convID, userID uint, at time.Time) (bool, error) {
	var created bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.TypingIndicator{}).
			Where("conversation_id = ? AND user_id = ?", convID, userID).
			Count(&count).Error; err != nil {
			return err
		}
		created = count == 0
		row := models.TypingIndicator{ConversationID: convID, UserID: userID, StartedAt: at}
		return tx.Omit("Profile").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"started_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return created, nil
}

func (r *typingRepository) Delete(ctx context.Context, convID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Delete(&models.TypingIndicator{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *typingRepository) List(ctx context.Context, convID uint) ([]models.TypingIndicator, error) {
	out := []models.TypingIndicator{}
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Where("conversation_id = ?", convID).
		Order("started_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *typingRepository) DeleteStale(ctx context.Context, cutoff time.Time) ([]models.TypingIndicator, error) {
	var stale []models.TypingIndicator
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("started_at < ?", cutoff).Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		return tx.Where("started_at < ?", cutoff).Delete(&models.TypingIndicator{}).Error
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return stale, nil
}
