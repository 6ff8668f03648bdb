package models

import "time"

// PreferenceMode selects the communication mode of the interface.
type PreferenceMode string

const (
	ModeNormal PreferenceMode = "normal"
	ModeDeaf   PreferenceMode = "deaf"
)

// Valid reports whether m is one of the known modes.
func (m PreferenceMode) Valid() bool {
	return m == ModeNormal || m == ModeDeaf
}

// UserPreferences holds the per-user accessibility settings. One row per user,
// created together with the account and only ever updated by its owner.
type UserPreferences struct {
	UserID       uint           `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Mode         PreferenceMode `gorm:"size:16;not null;default:'normal'" json:"mode"`
	Language     string         `gorm:"size:16;not null;default:'en'" json:"language"`
	SignLanguage string         `gorm:"size:16;not null;default:'ASL'" json:"sign_language"`
	HighContrast bool           `gorm:"not null;default:false" json:"high_contrast"`
	LargeText    bool           `gorm:"not null;default:false" json:"large_text"`
	VisualAlerts bool           `gorm:"not null;default:false" json:"visual_alerts"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for UserPreferences.
func (UserPreferences) TableName() string {
	return "user_preferences"
}

// DefaultPreferences returns the row provisioned for a new user.
func DefaultPreferences(userID uint) *UserPreferences {
	return &UserPreferences{
		UserID:       userID,
		Mode:         ModeNormal,
		Language:     "en",
		SignLanguage: "ASL",
	}
}
