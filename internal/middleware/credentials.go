package middleware

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/auth-api/internal/auth"
	"github.com/traffic-tacos/auth-api/internal/metrics"
	"github.com/traffic-tacos/auth-api/internal/models"
	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

const (
	loginRequestKey    = "login_request"
	registerRequestKey = "register_request"
)

const (
	MsgInvalidBody        = "Invalid request body"
	MsgInvalidCredentials = "Invalid credentials"
)

// UserLookup is the part of the credential store the gates need.
type UserLookup interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// CredentialsMiddleware holds the gates that inspect the request body
// before login and registration.
type CredentialsMiddleware struct {
	users  UserLookup
	policy auth.RoleNamePolicy
	logger *logrus.Logger
}

func NewCredentialsMiddleware(users UserLookup, policy auth.RoleNamePolicy, logger *logrus.Logger) *CredentialsMiddleware {
	return &CredentialsMiddleware{
		users:  users,
		policy: policy,
		logger: logger,
	}
}

// CheckUsernameExists rejects logins for usernames the store does not know.
// The parsed request is handed on; the user record is not.
func (m *CredentialsMiddleware) CheckUsernameExists() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return reject("username_exists", apperrors.CodeBadRequest, MsgInvalidBody)
		}

		user, err := m.users.FindByUsername(c.UserContext(), req.Username)
		if err != nil {
			m.logger.WithError(err).WithField("username", req.Username).Error("Failed to look up user")
			return apperrors.Upstream(err)
		}
		if user == nil {
			metrics.RecordLoginAttempt("unknown_user")
			return reject("username_exists", apperrors.CodeInvalidCredentials, MsgInvalidCredentials)
		}

		c.Locals(loginRequestKey, &req)
		return c.Next()
	}
}

// ValidateRoleName normalizes the client-supplied role name before registration.
func (m *CredentialsMiddleware) ValidateRoleName() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return reject("role_name", apperrors.CodeBadRequest, MsgInvalidBody)
		}

		roleName, err := m.policy.Normalize(req.RoleName)
		if err != nil {
			var roleErr *auth.RoleNameError
			if !errors.As(err, &roleErr) {
				return apperrors.Upstream(err)
			}
			metrics.RecordRegistration("invalid_role")
			return reject("role_name", apperrors.CodeValidation, roleErr.Message)
		}

		req.RoleName = &roleName
		c.Locals(registerRequestKey, &req)
		return c.Next()
	}
}

// LoginRequestFrom returns the request parsed by CheckUsernameExists.
func LoginRequestFrom(c *fiber.Ctx) (*models.LoginRequest, bool) {
	req, ok := c.Locals(loginRequestKey).(*models.LoginRequest)
	return req, ok && req != nil
}

// RegisterRequestFrom returns the request normalized by ValidateRoleName.
// Its RoleName is never nil.
func RegisterRequestFrom(c *fiber.Ctx) (*models.RegisterRequest, bool) {
	req, ok := c.Locals(registerRequestKey).(*models.RegisterRequest)
	return req, ok && req != nil && req.RoleName != nil
}
