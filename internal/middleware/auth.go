package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/auth-api/internal/auth"
	"github.com/traffic-tacos/auth-api/internal/metrics"
	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

const claimsKey = "auth_claims"

const (
	MsgTokenRequired = "Token required"
	MsgTokenInvalid  = "Token invalid"
	MsgForbidden     = "This is not for you"
)

// TokenVerifier decodes and validates access tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenVerifier
	logger *logrus.Logger
}

func NewAuthMiddleware(tokens TokenVerifier, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger,
	}
}

// Restricted requires a valid token in the Authorization header. The header
// carries the raw token; no scheme prefix is stripped.
func (a *AuthMiddleware) Restricted() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get(fiber.HeaderAuthorization)
		if token == "" {
			return reject("restricted", apperrors.CodeAuthRequired, MsgTokenRequired)
		}

		claims, err := a.tokens.Verify(token)
		if err != nil {
			if !errors.Is(err, auth.ErrTokenInvalid) {
				a.logger.WithError(err).Warn("Unexpected token verification error")
			}
			a.logger.WithField("path", c.Path()).Debug("Token validation failed")
			return reject("restricted", apperrors.CodeAuthRequired, MsgTokenInvalid)
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// Only admits requests whose token carries roleName. It reads the claims
// left by Restricted and must be declared after it.
func (a *AuthMiddleware) Only(roleName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := ClaimsFrom(c)
		if !ok {
			a.logger.WithField("path", c.Path()).Error("Role gate reached without claims; check route order")
			return reject("only", apperrors.CodeAuthRequired, MsgTokenRequired)
		}

		if claims.RoleName != roleName {
			a.logger.WithFields(logrus.Fields{
				"user_id":   claims.UserID,
				"role_name": claims.RoleName,
				"required":  roleName,
			}).Info("Role gate rejected request")
			return reject("only", apperrors.CodeForbidden, MsgForbidden)
		}

		return c.Next()
	}
}

// ClaimsFrom returns the claims attached by Restricted.
func ClaimsFrom(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(claimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// GetUserID extracts the authenticated user ID, or 0 for anonymous requests.
func GetUserID(c *fiber.Ctx) int64 {
	if claims, ok := ClaimsFrom(c); ok {
		return claims.UserID
	}
	return 0
}

func reject(gate string, code apperrors.ErrorCode, message string) error {
	metrics.RecordGateRejection(gate, string(code))
	return apperrors.NewAppError(code, message, nil)
}
