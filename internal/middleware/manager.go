package middleware

import (
	"context"
	"fmt"

	"github.com/traffic-tacos/auth-api/internal/auth"
	"github.com/traffic-tacos/auth-api/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Manager holds all middleware instances
type Manager struct {
	Auth        *AuthMiddleware
	Credentials *CredentialsMiddleware
	RateLimit   *RateLimitMiddleware
	Idempotency *IdempotencyMiddleware
	ErrorLogger *ErrorLoggerMiddleware
	RedisClient redis.UniversalClient
	Config      *config.Config
	Logger      *logrus.Logger
}

// NewManager creates a new middleware manager. Redis is only dialed when a
// middleware that needs it is enabled.
func NewManager(ctx context.Context, cfg *config.Config, users UserLookup, tokens TokenVerifier, logger *logrus.Logger) (*Manager, error) {
	var redisClient redis.UniversalClient
	if cfg.RedisRequired() {
		client, err := NewRedisClient(ctx, &cfg.Redis, &cfg.AWS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		redisClient = client
	}

	return NewManagerWithRedis(cfg, users, tokens, redisClient, logger), nil
}

// NewManagerWithRedis wires the middleware around an existing Redis client,
// which may be nil.
func NewManagerWithRedis(cfg *config.Config, users UserLookup, tokens TokenVerifier, redisClient redis.UniversalClient, logger *logrus.Logger) *Manager {
	policy := auth.RoleNamePolicy{
		Default:   cfg.Auth.DefaultRoleName,
		MaxLength: cfg.Auth.MaxRoleNameLength,
		Reserved:  cfg.Auth.ReservedRoleNames,
	}

	idempotencyClient := redisClient
	if !cfg.Idempotency.Enabled {
		idempotencyClient = nil
	}

	return &Manager{
		Auth:        NewAuthMiddleware(tokens, logger),
		Credentials: NewCredentialsMiddleware(users, policy, logger),
		RateLimit:   NewRateLimitMiddleware(&cfg.RateLimit, redisClient, logger),
		Idempotency: NewIdempotencyMiddleware(idempotencyClient, cfg.Idempotency.TTL, logger),
		ErrorLogger: NewErrorLoggerMiddleware(logger),
		RedisClient: redisClient,
		Config:      cfg,
		Logger:      logger,
	}
}

// Close closes all middleware resources
func (m *Manager) Close() error {
	if m.RedisClient != nil {
		return m.RedisClient.Close()
	}
	return nil
}
