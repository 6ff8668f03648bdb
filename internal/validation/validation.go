// Package validation holds input rules shared by services and handlers.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength   = 12
	MaxPasswordLength   = 128
	MaxDisplayNameRunes = 50
	MaxGroupNameRunes   = 120
	MaxMessageRunes     = 4000
	MaxEmojiBytes       = 32
)

// ValidateEmail accepts a bare address such as ana@example.com.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return errors.New("email is not a valid address")
	}
	return nil
}

// NormalizeEmail lowercases and trims email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePassword requires 12-128 characters with upper, lower, digit and symbol.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case !upper:
		return errors.New("password must contain an uppercase letter")
	case !lower:
		return errors.New("password must contain a lowercase letter")
	case !digit:
		return errors.New("password must contain a digit")
	case !special:
		return errors.New("password must contain a special character")
	}
	return nil
}

// ValidateDisplayName requires a non-blank name of at most 50 characters.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("display name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameRunes {
		return fmt.Errorf("display name must be at most %d characters", MaxDisplayNameRunes)
	}
	return nil
}

// ValidateGroupName requires a non-blank name for group conversations.
func ValidateGroupName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("group name is required")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameRunes {
		return fmt.Errorf("group name must be at most %d characters", MaxGroupNameRunes)
	}
	return nil
}

// ValidateMessageContent rejects blank and oversized message bodies.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageRunes {
		return fmt.Errorf("message content must be at most %d characters", MaxMessageRunes)
	}
	return nil
}

// ValidateEmoji accepts a short token without whitespace, e.g. "👍" or ":wave:".
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return errors.New("emoji is required")
	}
	if len(emoji) > MaxEmojiBytes {
		return errors.New("emoji is too long")
	}
	if strings.IndexFunc(emoji, unicode.IsSpace) >= 0 {
		return errors.New("emoji must not contain whitespace")
	}
	return nil
}
