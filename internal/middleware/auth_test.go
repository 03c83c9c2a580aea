package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-tacos/auth-api/internal/auth"
	"github.com/traffic-tacos/auth-api/internal/models"
	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

func newGatedApp(tokens *auth.TokenService) *fiber.App {
	m := NewAuthMiddleware(tokens, quietLogger())

	app := newTestApp()
	app.Get("/me", m.Restricted(), func(c *fiber.Ctx) error {
		claims, ok := ClaimsFrom(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.JSON(fiber.Map{"user_id": claims.UserID, "role_name": claims.RoleName})
	})
	app.Get("/admin", m.Restricted(), m.Only("admin"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/misordered", m.Only("admin"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func issue(t *testing.T, tokens *auth.TokenService, id int64, role string) string {
	t.Helper()
	token, err := tokens.Issue(&models.User{UserID: id, Username: "anna", RoleName: role})
	require.NoError(t, err)
	return token
}

func TestRestricted(t *testing.T) {
	tokens := auth.NewTokenService("shh", time.Hour)
	app := newGatedApp(tokens)

	t.Run("missing header", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, MsgTokenRequired, body.Message)
		assert.Equal(t, apperrors.CodeAuthRequired, body.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/me", "", map[string]string{"Authorization": "not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, MsgTokenInvalid, decodeError(t, resp).Message)
	})

	t.Run("foreign secret", func(t *testing.T) {
		other := auth.NewTokenService("other", time.Hour)
		resp := doRequest(t, app, http.MethodGet, "/me", "", map[string]string{"Authorization": issue(t, other, 1, "student")})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, MsgTokenInvalid, decodeError(t, resp).Message)
	})

	t.Run("bearer prefix is not stripped", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/me", "", map[string]string{"Authorization": "Bearer " + issue(t, tokens, 1, "student")})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, MsgTokenInvalid, decodeError(t, resp).Message)
	})

	t.Run("valid token exposes claims", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/me", "", map[string]string{"Authorization": issue(t, tokens, 7, "student")})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"user_id":7,"role_name":"student"}`, readBody(t, resp))
	})
}

func TestOnly(t *testing.T) {
	tokens := auth.NewTokenService("shh", time.Hour)
	app := newGatedApp(tokens)

	t.Run("wrong role", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/admin", "", map[string]string{"Authorization": issue(t, tokens, 1, "student")})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, MsgForbidden, body.Message)
		assert.Equal(t, apperrors.CodeForbidden, body.Code)
	})

	t.Run("matching role", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/admin", "", map[string]string{"Authorization": issue(t, tokens, 1, "admin")})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", readBody(t, resp))
	})

	t.Run("role match is case sensitive", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/admin", "", map[string]string{"Authorization": issue(t, tokens, 1, "Admin")})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("no token short-circuits before the role gate", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/admin", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, MsgTokenRequired, decodeError(t, resp).Message)
	})

	t.Run("missing claims fail closed", func(t *testing.T) {
		resp := doRequest(t, app, http.MethodGet, "/misordered", "", map[string]string{"Authorization": issue(t, tokens, 1, "admin")})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestGetUserIDAnonymous(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": GetUserID(c)})
	})

	resp := doRequest(t, app, http.MethodGet, "/", "", nil)
	assert.JSONEq(t, `{"user_id":0}`, readBody(t, resp))
}
