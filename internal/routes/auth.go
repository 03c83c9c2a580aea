package routes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/traffic-tacos/auth-api/internal/auth"
	"github.com/traffic-tacos/auth-api/internal/logging"
	"github.com/traffic-tacos/auth-api/internal/metrics"
	"github.com/traffic-tacos/auth-api/internal/middleware"
	"github.com/traffic-tacos/auth-api/internal/models"
	"github.com/traffic-tacos/auth-api/internal/store"
	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

const (
	MsgWrongPassword     = "Invalid Credentials"
	MsgUsernameTaken     = "Username already taken"
	MsgMissingFields     = "Username and password are required"
	maxPasswordBytes     = 72
	loginSuccessTemplate = "%s is back!"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(user *models.User) (string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	users  store.Store
	hasher auth.PasswordHasher
	tokens TokenIssuer
	logger *logrus.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users store.Store, hasher auth.PasswordHasher, tokens TokenIssuer, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}
}

// Register creates a user with the role name normalized by the role gate
// @Summary User registration
// @Description Create a new account. role_name defaults to "student" and may not be a reserved name.
// @Tags Auth
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "UUID; replays the first successful response"
// @Param request body models.RegisterRequest true "Registration payload"
// @Success 201 {object} models.PublicUser
// @Failure 400 {object} errors.ErrorResponse "Invalid request"
// @Failure 409 {object} errors.ErrorResponse "Username already taken"
// @Failure 422 {object} errors.ErrorResponse "Invalid role name"
// @Failure 500 {object} errors.ErrorResponse "Internal error"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	req, ok := middleware.RegisterRequestFrom(c)
	if !ok {
		return apperrors.Upstream(errors.New("register request missing; ValidateRoleName must run first"))
	}

	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		metrics.RecordRegistration("invalid")
		return apperrors.NewAppError(apperrors.CodeBadRequest, MsgMissingFields, nil)
	}

	ctx, span := middleware.StartSpan(c.UserContext(), "auth.register")
	defer span.End()
	span.SetAttributes(attribute.String("role_name", *req.RoleName))

	start := time.Now()
	hash, err := h.hasher.Hash(req.Password)
	metrics.RecordPasswordHash(time.Since(start))
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			metrics.RecordRegistration("invalid")
			return apperrors.NewAppErrorf(apperrors.CodeValidation, err, "Password can not be longer than %d bytes", maxPasswordBytes)
		}
		middleware.RecordError(span, err)
		return apperrors.Upstream(err)
	}

	user, err := h.users.Add(ctx, &models.User{
		Username:  req.Username,
		Password:  hash,
		RoleName:  *req.RoleName,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			metrics.RecordRegistration("duplicate")
			return apperrors.NewAppError(apperrors.CodeConflict, MsgUsernameTaken, err)
		}
		middleware.RecordError(span, err)
		h.logger.WithError(err).WithField("username", req.Username).Error("Failed to store user")
		return apperrors.Upstream(err)
	}

	metrics.RecordRegistration("success")
	logging.WithUserID(h.logger, user.UserID).WithField("role_name", user.RoleName).Info("User registered")

	return c.Status(fiber.StatusCreated).JSON(user.Public())
}

// Login handles user login
// @Summary User login
// @Description Authenticate user and return a signed token for the Authorization header
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 400 {object} errors.ErrorResponse "Invalid request"
// @Failure 401 {object} errors.ErrorResponse "Invalid credentials"
// @Failure 500 {object} errors.ErrorResponse "Internal error"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	req, ok := middleware.LoginRequestFrom(c)
	if !ok {
		return apperrors.Upstream(errors.New("login request missing; CheckUsernameExists must run first"))
	}

	ctx, span := middleware.StartSpan(c.UserContext(), "auth.login")
	defer span.End()

	user, err := h.users.FindByUsername(ctx, req.Username)
	if err != nil {
		middleware.RecordError(span, err)
		h.logger.WithError(err).WithField("username", req.Username).Error("Failed to fetch user")
		return apperrors.Upstream(err)
	}
	if user == nil {
		// Removed between the gate and here
		metrics.RecordLoginAttempt("unknown_user")
		return apperrors.NewAppError(apperrors.CodeInvalidCredentials, middleware.MsgInvalidCredentials, nil)
	}

	if !h.hasher.Verify(req.Password, user.Password) {
		metrics.RecordLoginAttempt("wrong_password")
		logging.WithUserID(h.logger, user.UserID).Warn("Invalid password")
		return apperrors.NewAppError(apperrors.CodeInvalidCredentials, MsgWrongPassword, nil)
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		middleware.RecordError(span, err)
		return apperrors.Upstream(fmt.Errorf("issue token: %w", err))
	}

	metrics.RecordTokenIssued()
	metrics.RecordLoginAttempt("success")
	span.SetAttributes(attribute.Int64("user_id", user.UserID))

	return c.JSON(models.LoginResponse{
		Message: fmt.Sprintf(loginSuccessTemplate, user.Username),
		Token:   token,
	})
}
