package server

import (
	"io"

	"signbridge/internal/models"
	"signbridge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListProfiles handles GET /api/profiles, every profile except the caller's.
func (s *Server) ListProfiles(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	profiles, err := s.profileService.ListOthers(c.UserContext(), userID(c), page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profiles)
}

// GetProfile handles GET /api/profiles/:id
func (s *Server) GetProfile(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	profile, err := s.profileService.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// GetMyProfile handles GET /api/profiles/me
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	profile, err := s.profileService.Get(c.UserContext(), userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// UpdateMyProfile handles PUT /api/profiles/me
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	var req service.UpdateProfileInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	profile, err := s.profileService.Update(c.UserContext(), userID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// UploadAvatar handles POST /api/profiles/me/avatar
// @Summary Upload an avatar
// @Description Multipart field "avatar" (JPEG, PNG or GIF). Stored as a square WebP.
// @Tags profiles
// @Security BearerAuth
// @Accept mpfd
// @Produce json
// @Param avatar formData file true "Avatar image"
// @Success 200 {object} models.Profile
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /profiles/me/avatar [post]
func (s *Server) UploadAvatar(c *fiber.Ctx) error {
	file, err := c.FormFile("avatar")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("No file uploaded"))
	}

	src, err := file.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}

	profile, err := s.profileService.UploadAvatar(c.UserContext(), userID(c), file.Header.Get("Content-Type"), content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

// GetPreferences handles GET /api/preferences
func (s *Server) GetPreferences(c *fiber.Ctx) error {
	prefs, err := s.preferencesService.Get(c.UserContext(), userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(prefs)
}

// UpdatePreferences handles PUT /api/preferences. Absent fields keep their
// stored value; concurrent saves are last writer wins.
func (s *Server) UpdatePreferences(c *fiber.Ctx) error {
	var req service.UpdatePreferencesInput
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	prefs, err := s.preferencesService.Update(c.UserContext(), userID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(prefs)
}
