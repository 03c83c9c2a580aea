package routes

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/auth-api/internal/models"
	"github.com/traffic-tacos/auth-api/internal/store"
	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

// UsersHandler serves user lookups. Authorization is left entirely to the
// gates declared on its routes.
type UsersHandler struct {
	users  store.Store
	logger *logrus.Logger
}

func NewUsersHandler(users store.Store, logger *logrus.Logger) *UsersHandler {
	return &UsersHandler{
		users:  users,
		logger: logger,
	}
}

// List returns every user
// @Summary List users
// @Tags Users
// @Produce json
// @Param Authorization header string true "Raw access token"
// @Success 200 {array} models.PublicUser
// @Failure 401 {object} errors.ErrorResponse "Token required or invalid"
// @Router /users [get]
func (h *UsersHandler) List(c *fiber.Ctx) error {
	users, err := h.users.List(c.UserContext())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list users")
		return apperrors.Upstream(err)
	}

	out := make([]models.PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return c.JSON(out)
}

// Get returns a single user, or null when the id is unknown
// @Summary Get user by id
// @Tags Users
// @Produce json
// @Param Authorization header string true "Raw access token with role admin"
// @Param user_id path int true "User ID"
// @Success 200 {object} models.PublicUser
// @Failure 400 {object} errors.ErrorResponse "Invalid user id"
// @Failure 401 {object} errors.ErrorResponse "Token required or invalid"
// @Failure 403 {object} errors.ErrorResponse "This is not for you"
// @Router /users/{user_id} [get]
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "Invalid user id", err)
	}

	user, err := h.users.FindByID(c.UserContext(), id)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", id).Error("Failed to fetch user")
		return apperrors.Upstream(err)
	}
	if user == nil {
		return c.JSON(nil)
	}
	return c.JSON(user.Public())
}
