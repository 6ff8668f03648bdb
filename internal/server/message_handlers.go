package server

import (
	"signbridge/internal/models"

	"github.com/gofiber/fiber/v2"
)

// EditMessage handles PATCH /api/messages/:id. Only the sender may edit.
func (s *Server) EditMessage(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.chatService.EditMessage(c.UserContext(), msgID, userID(c), req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// DeleteMessage handles DELETE /api/messages/:id. The row is kept with
// is_deleted set.
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	msg, err := s.chatService.DeleteMessage(c.UserContext(), msgID, userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// PinMessage handles POST /api/messages/:id/pin
func (s *Server) PinMessage(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Pinned *bool `json:"pinned"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.Pinned == nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("pinned is required"))
	}

	msg, err := s.chatService.SetPinned(c.UserContext(), msgID, userID(c), *req.Pinned)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msg)
}

// ToggleReaction handles POST /api/messages/:id/reactions
// @Summary Toggle a reaction
// @Description Adds the caller's emoji reaction, or removes it when already present.
// @Tags messages
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Message ID"
// @Param request body object{emoji=string} true "Reaction"
// @Success 200 {object} object{message=models.Message,added=bool}
// @Router /messages/{id}/reactions [post]
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	msgID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	msg, added, err := s.chatService.ToggleReaction(c.UserContext(), msgID, userID(c), req.Emoji)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": msg, "added": added})
}
