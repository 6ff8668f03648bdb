package repository

import (
	"context"
	"strings"

	"signbridge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository persists authentication records.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// CreateWithDefaults inserts the user together with its profile and
	// preferences rows in one transaction.
	CreateWithDefaults(ctx context.Context, user *models.User) error
	Exists(ctx context.Context, ids ...uint) (bool, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a GORM-backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Preload("Profile").First(&user, id).Error; err != nil {
		return nil, translate(err, "User", id)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		return nil, translate(err, "User", email)
	}
	return &user, nil
}

func (r *userRepository) CreateWithDefaults(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Profile").Create(user).Error; err != nil {
			return err
		}
		// a database trigger may already have provisioned these rows
		profile := &models.Profile{
			UserID:      user.ID,
			Email:       user.Email,
			DisplayName: models.DefaultDisplayName(user.Email),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(profile).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(models.DefaultPreferences(user.ID)).Error; err != nil {
			return err
		}
		var stored models.Profile
		if err := tx.First(&stored, user.ID).Error; err != nil {
			return err
		}
		user.Profile = &stored
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return models.NewConflictError("an account with this email already exists", err)
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) Exists(ctx context.Context, ids ...uint) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	unique := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count == int64(len(unique)), nil
}
