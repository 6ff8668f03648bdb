package service

import (
	"context"
	"time"

	"signbridge/internal/models"
	"signbridge/internal/observability"
	"signbridge/internal/realtime"
	"signbridge/internal/repository"
	"signbridge/pkg/protocol"
)

// TypingService maintains typing indicator rows.
type TypingService struct {
	typing repository.TypingRepository
	chats  repository.ChatRepository
	events ChangePublisher
	now    func() time.Time
}

// NewTypingService returns a new TypingService.
func NewTypingService(typing repository.TypingRepository, chats repository.ChatRepository, events ChangePublisher) *TypingService {
	if events == nil {
		events = NopPublisher{}
	}
	return &TypingService{typing: typing, chats: chats, events: events, now: time.Now}
}

func (s *TypingService) audience(ctx context.Context, convID, userID uint) ([]uint, error) {
	ids, err := s.chats.ParticipantIDs(ctx, convID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id == userID {
			return ids, nil
		}
	}
	return nil, models.NewForbiddenError("You are not a participant in this conversation")
}

// Start upserts the caller's typing row.
func (s *TypingService) Start(ctx context.Context, convID, userID uint) (*models.TypingIndicator, error) {
	audience, err := s.audience(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	row := models.TypingIndicator{ConversationID: convID, UserID: userID, StartedAt: s.now().UTC()}
	created, err := s.typing.Upsert(ctx, convID, userID, row.StartedAt)
	if err != nil {
		return nil, err
	}
	typ := protocol.Update
	if created {
		typ = protocol.Insert
	}
	publish(ctx, s.events, realtime.Change{
		Table:    protocol.TableTyping,
		Type:     typ,
		Record:   row,
		Audience: audience,
	})
	return &row, nil
}

// Stop deletes the caller's typing row. Stopping when not typing is a no-op.
func (s *TypingService) Stop(ctx context.Context, convID, userID uint) error {
	audience, err := s.audience(ctx, convID, userID)
	if err != nil {
		return err
	}
	existed, err := s.typing.Delete(ctx, convID, userID)
	if err != nil || !existed {
		return err
	}
	publish(ctx, s.events, realtime.Change{
		Table:     protocol.TableTyping,
		Type:      protocol.Delete,
		OldRecord: models.TypingIndicator{ConversationID: convID, UserID: userID},
		Audience:  audience,
	})
	return nil
}

// List returns who is typing in a conversation, with profiles loaded.
func (s *TypingService) List(ctx context.Context, convID, userID uint) ([]models.TypingIndicator, error) {
	if _, err := s.audience(ctx, convID, userID); err != nil {
		return nil, err
	}
	return s.typing.List(ctx, convID)
}

// SweepStale deletes typing rows older than staleAfter and announces each
// removal. It returns how many rows were removed.
func (s *TypingService) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := s.typing.DeleteStale(ctx, s.now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	audiences := make(map[uint][]uint)
	for _, row := range stale {
		audience, ok := audiences[row.ConversationID]
		if !ok {
			if audience, err = s.chats.ParticipantIDs(ctx, row.ConversationID); err != nil {
				return 0, err
			}
			audiences[row.ConversationID] = audience
		}
		row.Profile = nil
		publish(ctx, s.events, realtime.Change{
			Table:     protocol.TableTyping,
			Type:      protocol.Delete,
			OldRecord: row,
			Audience:  audience,
		})
	}
	observability.TypingIndicatorsSwept.Add(float64(len(stale)))
	return len(stale), nil
}
