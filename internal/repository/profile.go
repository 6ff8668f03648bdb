package repository

import (
	"context"

	"signbridge/internal/models"

	"gorm.io/gorm"
)

// ProfileRepository persists public profiles.
type ProfileRepository interface {
	GetByID(ctx context.Context, userID uint) (*models.Profile, error)
	GetMany(ctx context.Context, userIDs []uint) ([]models.Profile, error)
	ListExcept(ctx context.Context, userID uint, limit, offset int) ([]models.Profile, error)
	UpdateFields(ctx context.Context, userID uint, fields map[string]any) (*models.Profile, error)
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository returns a GORM-backed ProfileRepository.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetByID(ctx context.Context, userID uint) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).First(&p, userID).Error; err != nil {
		return nil, translate(err, "Profile", userID)
	}
	return &p, nil
}

func (r *profileRepository) GetMany(ctx context.Context, userIDs []uint) ([]models.Profile, error) {
	out := []models.Profile{}
	if len(userIDs) == 0 {
		return out, nil
	}
	if err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Order("user_id").Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *profileRepository) ListExcept(ctx context.Context, userID uint, limit, offset int) ([]models.Profile, error) {
	out := []models.Profile{}
	err := r.db.WithContext(ctx).
		Where("user_id <> ?", userID).
		Order("LOWER(display_name) ASC, user_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *profileRepository) UpdateFields(ctx context.Context, userID uint, fields map[string]any) (*models.Profile, error) {
	res := r.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).Updates(fields)
	if res.Error != nil {
		return nil, models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("Profile", userID)
	}
	return r.GetByID(ctx, userID)
}
