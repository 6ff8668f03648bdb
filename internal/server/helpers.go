package server

import (
	"errors"
	"strings"
	"unicode"

	"signbridge/internal/middleware"
	"signbridge/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten tells a handler the helper already answered; the
// handler returns nil so the ErrorHandler leaves the response alone.
var errResponseWritten = errors.New("response already written")

// Pagination is a clamped limit/offset pair from the query string.
type Pagination struct {
	Limit  int
	Offset int
}

const maxPaginationLimit = 100

func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	p := Pagination{
		Limit:  c.QueryInt("limit", defaultLimit),
		Offset: max(c.QueryInt("offset", 0), 0),
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	p.Limit = min(p.Limit, maxPaginationLimit)
	return p
}

// parseID reads a positive route parameter, answering 400 otherwise.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseBody decodes the JSON body into dst, answering 400 otherwise.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// humanizeParam turns "messageId" into "message ID" for error messages.
func humanizeParam(param string) string {
	base, isID := strings.CutSuffix(param, "Id")
	if param == "id" {
		return "ID"
	}
	if !isID {
		return param
	}
	var b strings.Builder
	for i, r := range base {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte(' ')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String() + " ID"
}

// respondError answers with the status mapped from err's AppError code.
// Unexpected failures are logged; clients only see the generic message.
func respondError(c *fiber.Ctx, err error) error {
	status := models.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			"method", c.Method(), "route", c.Route().Path, "error", err)
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			err = models.NewInternalError(err)
		}
	}
	return models.RespondWithError(c, status, err)
}

// userID returns the authenticated caller. Only valid behind Required.
func userID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}
