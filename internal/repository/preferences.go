package repository

import (
	"context"

	"signbridge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferencesRepository persists per-user accessibility preferences.
type PreferencesRepository interface {
	Get(ctx context.Context, userID uint) (*models.UserPreferences, error)
	Save(ctx context.Context, prefs *models.UserPreferences) error
}

type preferencesRepository struct {
	db *gorm.DB
}

// NewPreferencesRepository returns a GORM-backed PreferencesRepository.
func NewPreferencesRepository(db *gorm.DB) PreferencesRepository {
	return &preferencesRepository{db: db}
}

func (r *preferencesRepository) Get(ctx context.Context, userID uint) (*models.UserPreferences, error) {
	var p models.UserPreferences
	if err := r.db.WithContext(ctx).First(&p, userID).Error; err != nil {
		return nil, translate(err, "Preferences", userID)
	}
	return &p, nil
}

// Save writes every column; the last writer wins.
func (r *preferencesRepository) Save(ctx context.Context, prefs *models.UserPreferences) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "language", "sign_language", "high_contrast", "large_text", "visual_alerts", "updated_at"}),
	}).Create(prefs).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
