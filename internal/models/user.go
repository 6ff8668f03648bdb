// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"
)

// User is the authentication record. Everything user-facing lives on Profile.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Profile   *Profile  `gorm:"foreignKey:UserID" json:"profile,omitempty"`
}

// Profile is the public identity of a user, provisioned on signup.
type Profile struct {
	UserID      uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Email       string    `gorm:"size:255" json:"email"`
	DisplayName string    `gorm:"size:80;not null" json:"display_name"`
	AvatarURL   string    `gorm:"size:512" json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultDisplayName derives the initial display name from an email address.
func DefaultDisplayName(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return email
	}
	return local
}

// Label returns the display name, falling back to the email.
func (p *Profile) Label() string {
	if p == nil {
		return ""
	}
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	return p.Email
}
