package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/notionfolio/notionfolio/internal/version"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Metrics    *HTTPMetrics
	ListenPort int
}

const contextKeyRequestID = "_notionfolio_request_id"

// NewApp builds a Fiber application with request ID, recovery, request log
// middleware and structured error handling. Callers register routes on the
// returned app.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		AppName:       "notionfolio",
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(requestContextMiddleware())
	app.Use(requestLogMiddleware(opts.Logger, opts.Metrics))
	app.Use(recover.New())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get("X-Request-ID"))
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// requestLogMiddleware 记录每个请求的状态码与耗时；错误尚未经过 ErrorHandler，
// 因此状态码按 StatusFor 推导。
func requestLogMiddleware(logger *logrus.Logger, metrics *HTTPMetrics) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status, _ = StatusFor(err)
		}
		elapsed := time.Since(started)

		route := c.Route().Path
		metrics.observe(c.Method(), route, status, elapsed)

		entry := logger.WithFields(logrus.Fields{
			"action":     "http_request",
			"method":     c.Method(),
			"path":       c.Path(),
			"route":      route,
			"status":     status,
			"durationMs": elapsed.Milliseconds(),
			"requestId":  RequestID(c),
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		if status >= fiber.StatusInternalServerError {
			entry.Warn("http_request")
		} else {
			entry.Info("http_request")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
