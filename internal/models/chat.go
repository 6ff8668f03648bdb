package models

import "time"

// Participant roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Message types. Clients only ever produce text.
const (
	MessageTypeText = "text"
)

// Conversation groups a set of participants. A two-party conversation is a
// non-group conversation with exactly two participant rows.
type Conversation struct {
	ID            uint                      `gorm:"primaryKey" json:"id"`
	Name          string                    `gorm:"size:120" json:"name,omitempty"`
	IsGroup       bool                      `gorm:"not null;default:false" json:"is_group"`
	CreatedBy     uint                      `gorm:"not null" json:"created_by"`
	LastMessageAt *time.Time                `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Participants  []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// ConversationParticipant is one membership row.
type ConversationParticipant struct {
	ConversationID uint       `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID         uint       `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	Role           string     `gorm:"size:16;not null;default:'member'" json:"role"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	Profile        *Profile   `gorm:"foreignKey:UserID;references:UserID" json:"profile,omitempty"`
}

// ParticipantIDs returns the user ids of every participant row loaded on c.
func (c *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// HasParticipant reports whether userID is among the loaded participants.
func (c *Conversation) HasParticipant(userID uint) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Message is a single chat message. Deletion is a soft flag; deleted rows stay
// in storage and are filtered out of list reads.
type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ConversationID uint       `gorm:"not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       uint       `gorm:"not null;index" json:"sender_id"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	MessageType    string     `gorm:"size:20;not null;default:'text'" json:"message_type"`
	Translation    *string    `gorm:"type:text" json:"translation"`
	IsRead         bool       `gorm:"not null;default:false" json:"is_read"`
	EditedAt       *time.Time `json:"edited_at"`
	ReplyToID      *uint      `gorm:"index" json:"reply_to_id"`
	ReplyTo        *Message   `gorm:"foreignKey:ReplyToID;constraint:OnDelete:SET NULL" json:"-"`
	IsPinned       bool       `gorm:"not null;default:false" json:"is_pinned"`
	IsDeleted      bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at"`
	CreatedAt      time.Time  `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Reactions      []Reaction `gorm:"foreignKey:MessageID" json:"reactions"`
}

// Reaction is one (message, user, emoji) row. Toggling inserts or removes the
// row, so Count is always 1; it is kept on the wire for aggregation.
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_message_reactions_unique,priority:1" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_message_reactions_unique,priority:2" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null;uniqueIndex:idx_message_reactions_unique,priority:3" json:"emoji"`
	Count     int       `gorm:"not null;default:1" json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Reaction.
func (Reaction) TableName() string {
	return "message_reactions"
}

// TypingIndicator marks a user as currently typing in a conversation.
type TypingIndicator struct {
	ConversationID uint      `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID         uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	StartedAt      time.Time `gorm:"not null;index" json:"started_at"`
	Profile        *Profile  `gorm:"foreignKey:UserID;references:UserID" json:"profile,omitempty"`
}

// ConversationSummary is the directory view of a conversation: the row plus the
// denormalized counterpart for two-party conversations.
type ConversationSummary struct {
	ID               uint       `json:"id"`
	Name             string     `json:"name,omitempty"`
	IsGroup          bool       `json:"is_group"`
	CreatedBy        uint       `json:"created_by"`
	LastMessageAt    *time.Time `json:"last_message_at"`
	CreatedAt        time.Time  `json:"created_at"`
	OtherParticipant *Profile   `json:"other_participant,omitempty"`
	Participants     []Profile  `json:"participants"`
}

// Summarize builds the directory view of c as seen by viewerID.
func (c *Conversation) Summarize(viewerID uint) ConversationSummary {
	out := ConversationSummary{
		ID:            c.ID,
		Name:          c.Name,
		IsGroup:       c.IsGroup,
		CreatedBy:     c.CreatedBy,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		Participants:  make([]Profile, 0, len(c.Participants)),
	}
	for _, p := range c.Participants {
		profile := Profile{UserID: p.UserID}
		if p.Profile != nil {
			profile = *p.Profile
		}
		out.Participants = append(out.Participants, profile)
		if !c.IsGroup && p.UserID != viewerID && out.OtherParticipant == nil {
			other := profile
			out.OtherParticipant = &other
		}
	}
	return out
}
