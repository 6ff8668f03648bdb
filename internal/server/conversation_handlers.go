package server

import (
	"signbridge/internal/models"
	"signbridge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListConversations handles GET /api/conversations
// @Summary List the caller's conversations
// @Description Most recent activity first. Two-party conversations carry the other participant's profile.
// @Tags conversations
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.ConversationSummary
// @Router /conversations [get]
func (s *Server) ListConversations(c *fiber.Ctx) error {
	summaries, err := s.chatService.ListConversations(c.UserContext(), userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summaries)
}

// CreateConversation handles POST /api/conversations.
//
// {"user_id": N} finds or creates the two-party conversation with N and
// answers 201 only when it was created. {"is_group": true, "name": ...,
// "member_ids": [...]} creates a group.
// @Summary Start a conversation
// @Tags conversations
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body object{user_id=int,is_group=bool,name=string,member_ids=[]int} true "Conversation request"
// @Success 200 {object} models.ConversationSummary
// @Success 201 {object} models.ConversationSummary
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /conversations [post]
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req struct {
		UserID    *uint  `json:"user_id"`
		IsGroup   bool   `json:"is_group"`
		Name      string `json:"name"`
		MemberIDs []uint `json:"member_ids"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	ctx := c.UserContext()
	caller := userID(c)

	if req.IsGroup {
		summary, err := s.chatService.CreateGroup(ctx, service.CreateGroupInput{
			UserID:    caller,
			Name:      req.Name,
			MemberIDs: req.MemberIDs,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(summary)
	}

	if req.UserID == nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("user_id is required"))
	}
	summary, created, err := s.chatService.StartDirect(ctx, caller, *req.UserID)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(summary)
}

// GetConversation handles GET /api/conversations/:id
func (s *Server) GetConversation(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	summary, err := s.chatService.GetConversation(c.UserContext(), convID, userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// ListParticipants handles GET /api/conversations/:id/participants
func (s *Server) ListParticipants(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	participants, err := s.chatService.ListParticipants(c.UserContext(), convID, userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(participants)
}

// AddParticipant handles POST /api/conversations/:id/participants
func (s *Server) AddParticipant(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.UserID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("user_id is required"))
	}

	participant, err := s.chatService.AddParticipant(c.UserContext(), convID, userID(c), req.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(participant)
}

// ListMessages handles GET /api/conversations/:id/messages
// @Summary List messages
// @Description Non-deleted messages oldest first. With limit, only the newest limit messages.
// @Tags messages
// @Security BearerAuth
// @Produce json
// @Param id path int true "Conversation ID"
// @Param limit query int false "Keep only the newest N messages"
// @Success 200 {array} models.Message
// @Failure 403 {object} models.ErrorResponse
// @Router /conversations/{id}/messages [get]
func (s *Server) ListMessages(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		limit = 0
	}
	messages, err := s.chatService.ListMessages(c.UserContext(), convID, userID(c), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(messages)
}

// SendMessage handles POST /api/conversations/:id/messages
// @Summary Send a message
// @Tags messages
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Conversation ID"
// @Param request body object{content=string,reply_to_id=int} true "Message"
// @Success 201 {object} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /conversations/{id}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Content   string `json:"content"`
		ReplyToID *uint  `json:"reply_to_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.chatService.SendMessage(c.UserContext(), service.SendMessageInput{
		UserID:         userID(c),
		ConversationID: convID,
		Content:        req.Content,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkRead handles POST /api/conversations/:id/read
func (s *Server) MarkRead(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	ids, err := s.chatService.MarkRead(c.UserContext(), convID, userID(c))
	if err != nil {
		return respondError(c, err)
	}
	if ids == nil {
		ids = []uint{}
	}
	return c.JSON(fiber.Map{"message_ids": ids})
}

// ListTyping handles GET /api/conversations/:id/typing
func (s *Server) ListTyping(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	rows, err := s.typingService.List(c.UserContext(), convID, userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rows)
}

// StartTyping handles PUT /api/conversations/:id/typing
func (s *Server) StartTyping(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	row, err := s.typingService.Start(c.UserContext(), convID, userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(row)
}

// StopTyping handles DELETE /api/conversations/:id/typing
func (s *Server) StopTyping(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.typingService.Stop(c.UserContext(), convID, userID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
