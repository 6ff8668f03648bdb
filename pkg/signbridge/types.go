package signbridge

import (
	"bytes"
	"encoding/json"
	"time"
)

// User is the authenticated account.
type User struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	Profile   *Profile  `json:"profile,omitempty"`
}

// AuthResult is returned by signup and login.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Profile is the public identity of a user.
type Profile struct {
	ID          uint      `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Label returns the display name, falling back to the email.
func (p *Profile) Label() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

// ProfileUpdate carries the fields to change; nil fields are left alone.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// Mode is the communication mode of the interface.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeDeaf   Mode = "deaf"
)

// Preferences holds per-user accessibility settings.
type Preferences struct {
	UserID       uint      `json:"user_id"`
	Mode         Mode      `json:"mode"`
	Language     string    `json:"language"`
	SignLanguage string    `json:"sign_language"`
	HighContrast bool      `json:"high_contrast"`
	LargeText    bool      `json:"large_text"`
	VisualAlerts bool      `json:"visual_alerts"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PreferencesUpdate carries the fields to change; nil fields are left alone.
type PreferencesUpdate struct {
	Mode         *Mode   `json:"mode,omitempty"`
	Language     *string `json:"language,omitempty"`
	SignLanguage *string `json:"sign_language,omitempty"`
	HighContrast *bool   `json:"high_contrast,omitempty"`
	LargeText    *bool   `json:"large_text,omitempty"`
	VisualAlerts *bool   `json:"visual_alerts,omitempty"`
}

// Conversation is the directory view of a conversation. OtherParticipant is
// set for two-party conversations.
type Conversation struct {
	ID               uint       `json:"id"`
	Name             string     `json:"name,omitempty"`
	IsGroup          bool       `json:"is_group"`
	CreatedBy        uint       `json:"created_by"`
	LastMessageAt    *time.Time `json:"last_message_at"`
	CreatedAt        time.Time  `json:"created_at"`
	OtherParticipant *Profile   `json:"other_participant,omitempty"`
	Participants     []Profile  `json:"participants"`
}

// Title is what a list shows for c: the group name or the counterpart's label.
func (c *Conversation) Title() string {
	if c.IsGroup || c.OtherParticipant == nil {
		if c.Name != "" {
			return c.Name
		}
		return "Conversation"
	}
	return c.OtherParticipant.Label()
}

// Participant is one membership row.
type Participant struct {
	ConversationID uint       `json:"conversation_id"`
	UserID         uint       `json:"user_id"`
	Role           string     `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	Profile        *Profile   `json:"profile,omitempty"`
}

// Reaction is one (user, emoji) entry on a message.
type Reaction struct {
	MessageID uint      `json:"message_id,omitempty"`
	UserID    uint      `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Reactions decodes leniently: null or a non-array becomes empty and entries
// that are not objects are skipped. Stored data has been known to be ragged.
type Reactions []Reaction

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reactions) UnmarshalJSON(data []byte) error {
	*r = Reactions{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for _, item := range raw {
		var entry Reaction
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		*r = append(*r, entry)
	}
	return nil
}

// Message is a single chat message.
type Message struct {
	ID             uint       `json:"id"`
	ConversationID uint       `json:"conversation_id"`
	SenderID       uint       `json:"sender_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	Translation    *string    `json:"translation"`
	IsRead         bool       `json:"is_read"`
	EditedAt       *time.Time `json:"edited_at"`
	ReplyToID      *uint      `json:"reply_to_id"`
	IsPinned       bool       `json:"is_pinned"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at"`
	CreatedAt      time.Time  `json:"created_at"`
	Reactions      Reactions  `json:"reactions"`
}

// SendMessageInput is the body of a new message.
type SendMessageInput struct {
	Content   string `json:"content"`
	ReplyToID *uint  `json:"reply_to_id,omitempty"`
}

// TypingIndicator marks a user as typing in a conversation.
type TypingIndicator struct {
	ConversationID uint      `json:"conversation_id"`
	UserID         uint      `json:"user_id"`
	StartedAt      time.Time `json:"started_at"`
	Profile        *Profile  `json:"profile,omitempty"`
}
