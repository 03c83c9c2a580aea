package routes

import (
	"context"
	"errors"
	"time"

	"github.com/traffic-tacos/auth-api/internal/auth"
	"github.com/traffic-tacos/auth-api/internal/config"
	"github.com/traffic-tacos/auth-api/internal/logging"
	"github.com/traffic-tacos/auth-api/internal/metrics"
	"github.com/traffic-tacos/auth-api/internal/middleware"
	"github.com/traffic-tacos/auth-api/internal/store"
	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/sirupsen/logrus"
)

const serviceName = "auth-api"

// Set at build time with -ldflags "-X ...".
var (
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Setup configures all API routes
func Setup(app *fiber.App, cfg *config.Config, logger *logrus.Logger, middlewareManager *middleware.Manager, users store.Store, hasher auth.PasswordHasher, tokens TokenIssuer) {
	authHandler := NewAuthHandler(users, hasher, tokens, logger)
	usersHandler := NewUsersHandler(users, logger)

	// Health check endpoints (no auth required)
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(users, middlewareManager))
	app.Get("/version", versionHandler)

	// Metrics endpoint (no auth required)
	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())

	// Swagger documentation endpoint (no auth required)
	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Use(metrics.HTTPMetricsMiddleware())
	app.Use(middlewareManager.ErrorLogger.Handle())

	authRoutes := app.Group("/auth", middlewareManager.RateLimit.Handle())
	authRoutes.Post("/register",
		middlewareManager.Idempotency.Handle(),
		middlewareManager.Credentials.ValidateRoleName(),
		authHandler.Register,
	)
	authRoutes.Post("/login",
		middlewareManager.Credentials.CheckUsernameExists(),
		authHandler.Login,
	)

	userRoutes := app.Group("/users", middlewareManager.Auth.Restricted())
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Get("/:user_id", middlewareManager.Auth.Only(cfg.Auth.AdminRoleName), usersHandler.Get)

	// 404 handler
	app.Use(notFoundHandler)
}

// ErrorHandler renders every error that escapes a handler or gate as
// {"message","code","trace_id"}.
func ErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID := c.GetRespHeader(fiber.HeaderXRequestID)
		traceID := middleware.TraceIDFromContext(c.UserContext())
		if traceID == "" {
			traceID = requestID
		}

		if appErr, ok := apperrors.As(err); ok {
			return c.Status(appErr.HTTPStatus()).JSON(appErr.ToErrorResponse(traceID))
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(apperrors.ErrorResponse{
				Message: fiberErr.Message,
				Code:    apperrors.CodeForStatus(fiberErr.Code),
				TraceID: traceID,
			})
		}

		logging.WithRequest(logger, c.Method(), c.Path(), requestID).WithError(err).Error("Unhandled error")
		internal := apperrors.NewAppError(apperrors.CodeInternalError, "Internal server error", err)
		return c.Status(internal.HTTPStatus()).JSON(internal.ToErrorResponse(traceID))
	}
}

// healthCheck returns the health status of the service
// @Summary Health check
// @Description Check if the service is healthy
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Router /healthz [get]
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   serviceName,
	})
}

// readinessCheck checks if the service is ready to accept traffic
// @Summary Readiness check
// @Description Check the credential store and, when configured, Redis
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Ready"
// @Failure 503 {object} map[string]interface{} "Not ready"
// @Router /readyz [get]
func readinessCheck(users store.Store, middlewareManager *middleware.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := users.Ping(ctx); err != nil {
			return notReady(c, "store unavailable", err)
		}

		if middlewareManager.RedisClient != nil {
			redisHealthCheck := middleware.RedisHealthCheck(middlewareManager.RedisClient, middlewareManager.Logger)
			if err := redisHealthCheck(ctx); err != nil {
				return notReady(c, "redis unavailable", err)
			}
		}

		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	}
}

func notReady(c *fiber.Ctx, reason string, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status":    "not ready",
		"reason":    reason,
		"error":     err.Error(),
		"timestamp": time.Now().UTC(),
	})
}

// versionHandler returns version information
// @Summary Version information
// @Description Get service version and build information
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Version info"
// @Router /version [get]
func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": serviceName,
		"version": logging.Version(),
		"commit":  Commit,
		"built":   BuildTime,
	})
}

func notFoundHandler(c *fiber.Ctx) error {
	return apperrors.NewAppError(apperrors.CodeNotFound, "The requested resource was not found", nil)
}
