package service

import (
	"context"
	"strings"

	"signbridge/internal/cache"
	"signbridge/internal/models"
	"signbridge/internal/repository"
)

const maxLanguageTagLen = 16

// PreferencesService reads and writes the caller's accessibility preferences.
type PreferencesService struct {
	prefs repository.PreferencesRepository
	cache *cache.Store
}

// UpdatePreferencesInput carries the fields to change; nil fields keep their
// stored value.
type UpdatePreferencesInput struct {
	Mode         *models.PreferenceMode `json:"mode"`
	Language     *string                `json:"language"`
	SignLanguage *string                `json:"sign_language"`
	HighContrast *bool                  `json:"high_contrast"`
	LargeText    *bool                  `json:"large_text"`
	VisualAlerts *bool                  `json:"visual_alerts"`
}

// NewPreferencesService returns a new PreferencesService.
func NewPreferencesService(prefs repository.PreferencesRepository, store *cache.Store) *PreferencesService {
	return &PreferencesService{prefs: prefs, cache: store}
}

// Get returns the preferences of userID.
func (s *PreferencesService) Get(ctx context.Context, userID uint) (*models.UserPreferences, error) {
	return cache.Remember(ctx, s.cache, cache.PreferencesKey(userID), cache.PreferencesTTL,
		func(ctx context.Context) (*models.UserPreferences, error) {
			return s.prefs.Get(ctx, userID)
		})
}

// Update applies in over the stored row. Concurrent saves are last writer wins.
func (s *PreferencesService) Update(ctx context.Context, userID uint, in UpdatePreferencesInput) (*models.UserPreferences, error) {
	current, err := s.prefs.Get(ctx, userID)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		current = models.DefaultPreferences(userID)
	}

	if in.Mode != nil {
		if !in.Mode.Valid() {
			return nil, models.NewValidationError("mode must be normal or deaf")
		}
		current.Mode = *in.Mode
	}
	if in.Language != nil {
		lang, err := languageTag("language", *in.Language)
		if err != nil {
			return nil, err
		}
		current.Language = lang
	}
	if in.SignLanguage != nil {
		lang, err := languageTag("sign_language", *in.SignLanguage)
		if err != nil {
			return nil, err
		}
		current.SignLanguage = lang
	}
	if in.HighContrast != nil {
		current.HighContrast = *in.HighContrast
	}
	if in.LargeText != nil {
		current.LargeText = *in.LargeText
	}
	if in.VisualAlerts != nil {
		current.VisualAlerts = *in.VisualAlerts
	}

	if err := s.prefs.Save(ctx, current); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.PreferencesKey(userID))
	return current, nil
}

func languageTag(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxLanguageTagLen {
		return "", models.NewValidationError(field + " must be 1 to 16 characters")
	}
	return v, nil
}
