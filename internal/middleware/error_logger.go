package middleware

import (
	"errors"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

const maxLoggedBody = 500

var passwordField = regexp.MustCompile(`("password"\s*:\s*)"(?:[^"\\]|\\.)*"`)

type ErrorLoggerMiddleware struct {
	logger *logrus.Logger
}

func NewErrorLoggerMiddleware(logger *logrus.Logger) *ErrorLoggerMiddleware {
	return &ErrorLoggerMiddleware{
		logger: logger,
	}
}

// Handle logs 4xx and 5xx outcomes with request context. Gate rejections are
// returned as errors and rendered later, so the status comes from the error.
func (e *ErrorLoggerMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()

		err := c.Next()

		statusCode := StatusFromError(c, err)
		if statusCode < 400 {
			return err
		}

		logFields := logrus.Fields{
			"status_code": statusCode,
			"method":      c.Method(),
			"path":        c.Path(),
			"ip":          c.IP(),
			"user_agent":  c.Get(fiber.HeaderUserAgent),
			"request_id":  c.GetRespHeader(fiber.HeaderXRequestID),
			"trace_id":    TraceIDFromContext(c.UserContext()),
			"duration_ms": time.Since(startTime).Milliseconds(),
		}

		if userID := GetUserID(c); userID != 0 {
			logFields["user_id"] = userID
		}

		if idempotencyKey := c.Get(HeaderIdempotencyKey); idempotencyKey != "" {
			logFields["idempotency_key"] = idempotencyKey
		}

		if c.Method() == fiber.MethodPost {
			if body := redactBody(c.Body()); body != "" {
				logFields["request_body"] = body
			}
		}

		logEntry := e.logger.WithFields(logFields)
		if err != nil {
			logEntry = logEntry.WithError(err)
		}

		if statusCode >= 500 {
			logEntry.Error("Server error response")
		} else {
			logEntry.Warn("Client error response")
		}

		return err
	}
}

// StatusFromError resolves the status a request will be answered with.
func StatusFromError(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	if appErr, ok := apperrors.As(err); ok {
		return appErr.HTTPStatus()
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

// redactBody masks password values and truncates long bodies.
func redactBody(raw []byte) string {
	body := passwordField.ReplaceAllString(string(raw), `$1"***"`)
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody] + "...(truncated)"
	}
	return body
}
