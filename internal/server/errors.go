package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/notionfolio/notionfolio/internal/cache"
	"github.com/notionfolio/notionfolio/internal/content"
	"github.com/notionfolio/notionfolio/internal/notion"
)

// ErrDatabaseNotConfigured is returned by listing routes when no blog
// database ID is configured.
var ErrDatabaseNotConfigured = errors.New("blog database id not configured")

// StatusFor 把错误映射为 HTTP 状态码与 JSON 错误码。
func StatusFor(err error) (int, string) {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code, errorCode(fiberErr.Code)
	case errors.Is(err, cache.ErrInvalidID):
		return fiber.StatusBadRequest, "invalid_id"
	case errors.Is(err, ErrDatabaseNotConfigured):
		return fiber.StatusServiceUnavailable, "database_not_configured"
	case errors.Is(err, content.ErrPostNotFound), notion.IsNotFound(err):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}

func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status, code := StatusFor(err)
		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":    "http_error",
				"path":      c.Path(),
				"requestId": RequestID(c),
			}).Warn(code)
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}
