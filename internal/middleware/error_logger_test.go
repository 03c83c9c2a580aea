package middleware

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

func TestErrorLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	app := newTestApp()
	app.Use(NewErrorLoggerMiddleware(logger).Handle())
	app.Post("/login", func(c *fiber.Ctx) error {
		return apperrors.NewAppError(apperrors.CodeInvalidCredentials, "Invalid Credentials", nil)
	})
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp := doRequest(t, app, http.MethodGet, "/ok", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, buf.String())

	resp = doRequest(t, app, http.MethodPost, "/login", `{"username":"anna","password":"hunter2"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	logged := buf.String()
	assert.Contains(t, logged, `"status_code":401`)
	assert.Contains(t, logged, `"level":"warning"`)
	assert.Contains(t, logged, "anna")
	assert.NotContains(t, logged, "hunter2")
}

func TestRedactBody(t *testing.T) {
	got := redactBody([]byte(`{"password": "a\"b", "username":"anna"}`))
	assert.Equal(t, `{"password": "***", "username":"anna"}`, got)

	long := bytes.Repeat([]byte("x"), maxLoggedBody+10)
	assert.Len(t, redactBody(long), maxLoggedBody+len("...(truncated)"))
}

func TestStatusFromError(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"app":   StatusFromError(c, apperrors.NewAppError(apperrors.CodeForbidden, "x", nil)),
			"fiber": StatusFromError(c, fiber.ErrNotFound),
			"other": StatusFromError(c, assert.AnError),
		})
	})

	resp := doRequest(t, app, http.MethodGet, "/", "", nil)
	assert.JSONEq(t, `{"app":403,"fiber":404,"other":500}`, readBody(t, resp))
}
