package signbridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

// Signup creates an account and signs the client in.
func (c *Client) Signup(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/signup", email, password)
}

// Login signs the client in.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/login", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*AuthResult, error) {
	var res AuthResult
	body := map[string]string{"email": email, "password": password}
	if _, err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Logout revokes the current token. The client is signed out locally even
// when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// IssueTicket returns a single-use ticket for opening a realtime connection.
func (c *Client) IssueTicket(ctx context.Context) (string, error) {
	var res struct {
		Ticket string `json:"ticket"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/ws/ticket", nil, &res); err != nil {
		return "", err
	}
	return res.Ticket, nil
}

// Features returns the feature flags evaluated for the caller.
func (c *Client) Features(ctx context.Context) (map[string]bool, error) {
	var res struct {
		Flags map[string]bool `json:"flags"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/features", nil, &res); err != nil {
		return nil, err
	}
	return res.Flags, nil
}

// ListConversations returns the caller's conversations, most recent activity first.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if _, err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation returns one conversation the caller participates in.
func (c *Client) GetConversation(ctx context.Context, id uint) (*Conversation, error) {
	var out Conversation
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartConversation returns the two-party conversation with other, creating
// it when none exists. created reports which happened.
func (c *Client) StartConversation(ctx context.Context, other uint) (conv *Conversation, created bool, err error) {
	var out Conversation
	status, err := c.do(ctx, http.MethodPost, "/api/conversations", map[string]uint{"user_id": other}, &out)
	if err != nil {
		return nil, false, err
	}
	return &out, status == http.StatusCreated, nil
}

// CreateGroup creates a named group with the caller as owner.
func (c *Client) CreateGroup(ctx context.Context, name string, members []uint) (*Conversation, error) {
	body := map[string]any{"is_group": true, "name": name, "member_ids": members}
	var out Conversation
	if _, err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListParticipants returns the membership rows of a conversation.
func (c *Client) ListParticipants(ctx context.Context, convID uint) ([]Participant, error) {
	var out []Participant
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d/participants", convID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddParticipant adds userID to a group.
func (c *Client) AddParticipant(ctx context.Context, convID, userID uint) (*Participant, error) {
	var out Participant
	path := fmt.Sprintf("/api/conversations/%d/participants", convID)
	if _, err := c.do(ctx, http.MethodPost, path, map[string]uint{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages returns non-deleted messages oldest first. A positive limit
// keeps only the newest limit messages.
func (c *Client) ListMessages(ctx context.Context, convID uint, limit int) ([]Message, error) {
	path := fmt.Sprintf("/api/conversations/%d/messages", convID)
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out []Message
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a text message.
func (c *Client) SendMessage(ctx context.Context, convID uint, in SendMessageInput) (*Message, error) {
	var out Message
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/messages", convID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EditMessage replaces the content of one of the caller's messages.
func (c *Client) EditMessage(ctx context.Context, id uint, content string) (*Message, error) {
	var out Message
	if _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/messages/%d", id), map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage soft-deletes one of the caller's messages.
func (c *Client) DeleteMessage(ctx context.Context, id uint) (*Message, error) {
	var out Message
	if _, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/messages/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPinned pins or unpins a message.
func (c *Client) SetPinned(ctx context.Context, id uint, pinned bool) (*Message, error) {
	var out Message
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/pin", id), map[string]bool{"pinned": pinned}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleReaction adds the caller's emoji reaction, or removes it when present.
func (c *Client) ToggleReaction(ctx context.Context, id uint, emoji string) (msg *Message, added bool, err error) {
	var out struct {
		Message Message `json:"message"`
		Added   bool    `json:"added"`
	}
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/reactions", id), map[string]string{"emoji": emoji}, &out); err != nil {
		return nil, false, err
	}
	return &out.Message, out.Added, nil
}

// MarkRead marks every message from others in the conversation as read and
// returns the ids that changed.
func (c *Client) MarkRead(ctx context.Context, convID uint) ([]uint, error) {
	var out struct {
		MessageIDs []uint `json:"message_ids"`
	}
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/read", convID), nil, &out); err != nil {
		return nil, err
	}
	return out.MessageIDs, nil
}

// ListTyping returns who is typing in a conversation.
func (c *Client) ListTyping(ctx context.Context, convID uint) ([]TypingIndicator, error) {
	var out []TypingIndicator
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d/typing", convID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartTyping upserts the caller's typing row.
func (c *Client) StartTyping(ctx context.Context, convID uint) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/conversations/%d/typing", convID), nil, nil)
	return err
}

// StopTyping deletes the caller's typing row.
func (c *Client) StopTyping(ctx context.Context, convID uint) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/conversations/%d/typing", convID), nil, nil)
	return err
}

// GetPreferences returns the caller's preferences.
func (c *Client) GetPreferences(ctx context.Context) (*Preferences, error) {
	var out Preferences
	if _, err := c.do(ctx, http.MethodGet, "/api/preferences", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePreferences writes the non-nil fields of in.
func (c *Client) UpdatePreferences(ctx context.Context, in PreferencesUpdate) (*Preferences, error) {
	var out Preferences
	if _, err := c.do(ctx, http.MethodPut, "/api/preferences", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProfiles returns every profile except the caller's.
func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	if _, err := c.do(ctx, http.MethodGet, "/api/profiles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProfile returns one profile.
func (c *Client) GetProfile(ctx context.Context, id uint) (*Profile, error) {
	var out Profile
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/profiles/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMyProfile returns the caller's profile.
func (c *Client) GetMyProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if _, err := c.do(ctx, http.MethodGet, "/api/profiles/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMyProfile writes the non-nil fields of in.
func (c *Client) UpdateMyProfile(ctx context.Context, in ProfileUpdate) (*Profile, error) {
	var out Profile
	if _, err := c.do(ctx, http.MethodPut, "/api/profiles/me", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadAvatar sends an image; the server stores a square WebP and returns
// the updated profile.
func (c *Client) UploadAvatar(ctx context.Context, filename, contentType string, image io.Reader) (*Profile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="avatar"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/profiles/me/avatar", &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var out Profile
	if _, err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
