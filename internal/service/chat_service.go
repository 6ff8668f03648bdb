package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"signbridge/internal/cache"
	"signbridge/internal/featureflags"
	"signbridge/internal/models"
	"signbridge/internal/observability"
	"signbridge/internal/realtime"
	"signbridge/internal/repository"
	"signbridge/internal/validation"
	"signbridge/pkg/protocol"
)

// ChatService provides conversation and message business logic. Every
// operation requires the caller to be a participant of the conversation.
type ChatService struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	flags    *featureflags.Manager
	cache    *cache.Store
	events   ChangePublisher
	now      func() time.Time
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	UserID         uint
	ConversationID uint
	Content        string
	ReplyToID      *uint
}

// CreateGroupInput is the input for creating a group conversation.
type CreateGroupInput struct {
	UserID    uint
	Name      string
	MemberIDs []uint
}

// NewChatService returns a new ChatService.
func NewChatService(
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	flags *featureflags.Manager,
	store *cache.Store,
	events ChangePublisher,
) *ChatService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ChatService{
		chats:    chats,
		messages: messages,
		users:    users,
		flags:    flags,
		cache:    store,
		events:   events,
		now:      time.Now,
	}
}

func (s *ChatService) requireParticipant(ctx context.Context, convID, userID uint) error {
	ok, err := s.chats.IsParticipant(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError("You are not a participant in this conversation")
	}
	return nil
}

// conversationForUser loads the conversation with participants and checks membership.
func (s *ChatService) conversationForUser(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.chats.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, models.NewForbiddenError("You are not a participant in this conversation")
	}
	return conv, nil
}

// ListConversations returns the caller's conversations, most recent activity first.
func (s *ChatService) ListConversations(ctx context.Context, userID uint) ([]models.ConversationSummary, error) {
	return cache.Remember(ctx, s.cache, cache.DirectoryKey(userID), cache.DirectoryTTL,
		func(ctx context.Context) ([]models.ConversationSummary, error) {
			convs, err := s.chats.GetUserConversations(ctx, userID)
			if err != nil {
				return nil, err
			}
			out := make([]models.ConversationSummary, 0, len(convs))
			for _, c := range convs {
				out = append(out, c.Summarize(userID))
			}
			return out, nil
		})
}

// GetConversation returns one conversation as seen by userID.
func (s *ChatService) GetConversation(ctx context.Context, convID, userID uint) (*models.ConversationSummary, error) {
	conv, err := s.conversationForUser(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	summary := conv.Summarize(userID)
	return &summary, nil
}

// StartDirect returns the two-party conversation between userID and otherID,
// creating it if none exists. The pair is unordered.
func (s *ChatService) StartDirect(ctx context.Context, userID, otherID uint) (*models.ConversationSummary, bool, error) {
	if otherID == 0 || otherID == userID {
		return nil, false, models.NewValidationError("Choose someone else to start a conversation with")
	}
	exists, err := s.users.Exists(ctx, otherID)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, models.NewNotFoundError("User", otherID)
	}

	existing, err := s.chats.FindDirectConversation(ctx, userID, otherID)
	switch {
	case err == nil:
		summary := existing.Summarize(userID)
		return &summary, false, nil
	case !isNotFound(err):
		return nil, false, err
	}

	conv := &models.Conversation{CreatedBy: userID}
	if err := s.chats.CreateConversation(ctx, conv, []uint{userID, otherID}); err != nil {
		return nil, false, err
	}
	summary, err := s.announceConversation(ctx, conv.ID, userID)
	if err != nil {
		return nil, false, err
	}
	return summary, true, nil
}

// CreateGroup creates a named group with the caller as owner.
func (s *ChatService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.ConversationSummary, error) {
	if !s.flags.Enabled(featureflags.GroupConversations, in.UserID) {
		return nil, models.NewForbiddenError("Group conversations are not enabled")
	}
	name := strings.TrimSpace(in.Name)
	if err := validation.ValidateGroupName(name); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	members := make([]uint, 0, len(in.MemberIDs)+1)
	members = append(members, in.UserID)
	for _, id := range in.MemberIDs {
		if id != 0 && id != in.UserID {
			members = append(members, id)
		}
	}
	if len(members) < 2 {
		return nil, models.NewValidationError("A group needs at least one other member")
	}
	exists, err := s.users.Exists(ctx, members...)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.NewValidationError("One or more members do not exist")
	}

	conv := &models.Conversation{Name: name, IsGroup: true, CreatedBy: in.UserID}
	if err := s.chats.CreateConversation(ctx, conv, members); err != nil {
		return nil, err
	}
	return s.announceConversation(ctx, conv.ID, in.UserID)
}

func (s *ChatService) announceConversation(ctx context.Context, convID, viewerID uint) (*models.ConversationSummary, error) {
	conv, err := s.chats.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	audience := conv.ParticipantIDs()
	s.invalidateDirectories(ctx, audience)
	publish(ctx, s.events, realtime.Change{
		Table:    protocol.TableConversations,
		Type:     protocol.Insert,
		Record:   conversationRow(conv),
		Audience: audience,
	})
	summary := conv.Summarize(viewerID)
	return &summary, nil
}

// ListParticipants returns the participant rows of a conversation.
func (s *ChatService) ListParticipants(ctx context.Context, convID, userID uint) ([]models.ConversationParticipant, error) {
	if err := s.requireParticipant(ctx, convID, userID); err != nil {
		return nil, err
	}
	return s.chats.ListParticipants(ctx, convID)
}

// AddParticipant appends newID to a group. Two-party conversations are closed.
func (s *ChatService) AddParticipant(ctx context.Context, convID, userID, newID uint) (*models.ConversationParticipant, error) {
	conv, err := s.conversationForUser(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, models.NewValidationError("Participants cannot be added to a two-party conversation")
	}
	exists, err := s.users.Exists(ctx, newID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.NewNotFoundError("User", newID)
	}
	already := conv.HasParticipant(newID)
	row, err := s.chats.AddParticipant(ctx, convID, newID)
	if err != nil {
		return nil, err
	}
	if already {
		return row, nil
	}

	audience := append(conv.ParticipantIDs(), newID)
	s.invalidateDirectories(ctx, audience)
	publish(ctx, s.events, realtime.Change{
		Table:    protocol.TableParticipants,
		Type:     protocol.Insert,
		Record:   participantRow(row),
		Audience: audience,
	})
	return row, nil
}

// ListMessages returns non-deleted messages oldest first.
func (s *ChatService) ListMessages(ctx context.Context, convID, userID uint, limit int) ([]*models.Message, error) {
	if err := s.requireParticipant(ctx, convID, userID); err != nil {
		return nil, err
	}
	return s.messages.List(ctx, convID, limit)
}

// SendMessage inserts a text message from the caller.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if err := validation.ValidateMessageContent(content); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	conv, err := s.conversationForUser(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return nil, err
	}
	if in.ReplyToID != nil {
		parent, err := s.messages.Get(ctx, *in.ReplyToID)
		if err != nil {
			if isNotFound(err) {
				return nil, models.NewValidationError("The message being replied to does not exist")
			}
			return nil, err
		}
		if parent.ConversationID != conv.ID {
			return nil, models.NewValidationError("Replies must stay in the same conversation")
		}
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       in.UserID,
		Content:        content,
		MessageType:    models.MessageTypeText,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	observability.MessagesSent.WithLabelValues(observability.ConversationKind(conv.IsGroup)).Inc()

	audience := conv.ParticipantIDs()
	publish(ctx, s.events, realtime.Change{
		Table:    protocol.TableMessages,
		Type:     protocol.Insert,
		Record:   msg,
		Audience: audience,
	})

	// bookkeeping moved last_message_at forward
	if conv.LastMessageAt == nil || conv.LastMessageAt.Before(msg.CreatedAt) {
		old := conversationRow(conv)
		at := msg.CreatedAt
		conv.LastMessageAt = &at
		s.invalidateDirectories(ctx, audience)
		publish(ctx, s.events, realtime.Change{
			Table:     protocol.TableConversations,
			Type:      protocol.Update,
			Record:    conversationRow(conv),
			OldRecord: old,
			Audience:  audience,
		})
	}
	return msg, nil
}

// messageForUser loads a live message and checks the caller belongs to its conversation.
func (s *ChatService) messageForUser(ctx context.Context, msgID, userID uint) (*models.Message, error) {
	msg, err := s.messages.Get(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, models.NewNotFoundError("Message", msgID)
	}
	if err := s.requireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

// EditMessage replaces the content of the caller's own message.
func (s *ChatService) EditMessage(ctx context.Context, msgID, userID uint, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if err := validation.ValidateMessageContent(content); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	msg, err := s.messageForUser(ctx, msgID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, models.NewForbiddenError("You can only edit your own messages")
	}
	if err := s.messages.UpdateContent(ctx, msgID, content, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.publishMessageUpdate(ctx, msgID)
}

// DeleteMessage soft-deletes the caller's own message.
func (s *ChatService) DeleteMessage(ctx context.Context, msgID, userID uint) (*models.Message, error) {
	msg, err := s.messageForUser(ctx, msgID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, models.NewForbiddenError("You can only delete your own messages")
	}
	if err := s.messages.SoftDelete(ctx, msgID, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.publishMessageUpdate(ctx, msgID)
}

// SetPinned pins or unpins a message. Any participant may pin.
func (s *ChatService) SetPinned(ctx context.Context, msgID, userID uint, pinned bool) (*models.Message, error) {
	if _, err := s.messageForUser(ctx, msgID, userID); err != nil {
		return nil, err
	}
	if err := s.messages.SetPinned(ctx, msgID, pinned); err != nil {
		return nil, err
	}
	return s.publishMessageUpdate(ctx, msgID)
}

// ToggleReaction adds the caller's emoji reaction or removes it if present.
// It reports whether the reaction exists afterwards.
func (s *ChatService) ToggleReaction(ctx context.Context, msgID, userID uint, emoji string) (*models.Message, bool, error) {
	emoji = strings.TrimSpace(emoji)
	if err := validation.ValidateEmoji(emoji); err != nil {
		return nil, false, models.NewValidationError(err.Error())
	}
	if _, err := s.messageForUser(ctx, msgID, userID); err != nil {
		return nil, false, err
	}
	added, err := s.messages.ToggleReaction(ctx, msgID, userID, emoji)
	if err != nil {
		return nil, false, err
	}
	action := "removed"
	if added {
		action = "added"
	}
	observability.ReactionToggles.WithLabelValues(action).Inc()

	msg, err := s.publishMessageUpdate(ctx, msgID)
	if err != nil {
		return nil, false, err
	}
	return msg, added, nil
}

// MarkRead flags every message from other senders as read and records the
// caller's read position. It returns the ids that changed.
func (s *ChatService) MarkRead(ctx context.Context, convID, userID uint) ([]uint, error) {
	if err := s.requireParticipant(ctx, convID, userID); err != nil {
		return nil, err
	}
	ids, err := s.messages.MarkRead(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.chats.UpdateLastRead(ctx, convID, userID, s.now().UTC()); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := s.publishMessageUpdate(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// publishMessageUpdate reloads the message and emits it as an UPDATE.
func (s *ChatService) publishMessageUpdate(ctx context.Context, msgID uint) (*models.Message, error) {
	msg, err := s.messages.Get(ctx, msgID)
	if err != nil {
		return nil, err
	}
	audience, err := s.chats.ParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.events, realtime.Change{
		Table:    protocol.TableMessages,
		Type:     protocol.Update,
		Record:   msg,
		Audience: audience,
	})
	return msg, nil
}

func (s *ChatService) invalidateDirectories(ctx context.Context, userIDs []uint) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, cache.DirectoryKey(id))
	}
	s.cache.Invalidate(ctx, keys...)
}

// conversationRow strips loaded associations so change events carry the row only.
func conversationRow(c *models.Conversation) models.Conversation {
	row := *c
	row.Participants = nil
	return row
}

func participantRow(p *models.ConversationParticipant) models.ConversationParticipant {
	row := *p
	row.Profile = nil
	return row
}

func isNotFound(err error) bool {
	var appErr *models.AppError
	return errors.As(err, &appErr) && appErr.Code == models.CodeNotFound
}
