package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"Valid", "SecurePass12!@", false},
		{"Exactly Min Length", "Abcdefghij1!", false},
		{"Exactly Max Length", "A" + strings.Repeat("b", 125) + "1!", false},
		{"Too Short", "Small1!", true},
		{"Too Long", "A" + strings.Repeat("b", 126) + "1!", true},
		{"No Upper", "securepass12!", true},
		{"No Lower", "SECUREPASS12!", true},
		{"No Digit", "SecurePass!!", true},
		{"No Special", "SecurePass123", true},
		{"Unicode Characters", "ÅngstromPass12!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateEmail("ana@example.com"))
	assert.NoError(t, ValidateEmail("  ben.smith+tag@mail.example.org "))
	for _, bad := range []string{"", "ana", "ana@", "Ana <ana@example.com>", "ana@localhost"} {
		assert.Error(t, ValidateEmail(bad), bad)
	}
	assert.Equal(t, "ana@example.com", NormalizeEmail(" Ana@Example.COM "))
}

func TestValidateDisplayAndGroupNames(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateDisplayName("Ana"))
	assert.Error(t, ValidateDisplayName("   "))
	assert.Error(t, ValidateDisplayName(strings.Repeat("é", MaxDisplayNameRunes+1)))
	assert.NoError(t, ValidateDisplayName(strings.Repeat("é", MaxDisplayNameRunes)))

	assert.NoError(t, ValidateGroupName("ASL study group"))
	assert.Error(t, ValidateGroupName(""))
}

func TestValidateMessageContent(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.Error(t, ValidateMessageContent(" \n\t "))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", MaxMessageRunes+1)))
}

func TestValidateEmoji(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateEmoji("👍"))
	assert.NoError(t, ValidateEmoji(":wave:"))
	assert.Error(t, ValidateEmoji(""))
	assert.Error(t, ValidateEmoji("a b"))
	assert.Error(t, ValidateEmoji(strings.Repeat("x", MaxEmojiBytes+1)))
}
