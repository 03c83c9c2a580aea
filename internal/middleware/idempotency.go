package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/auth-api/internal/metrics"
	apperrors "github.com/traffic-tacos/auth-api/pkg/errors"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderIdempotencyCached = "X-Idempotency-Cached"
)

// IdempotencyMiddleware replays the first successful response for a repeated
// Idempotency-Key. Requests without the header pass through untouched.
type IdempotencyMiddleware struct {
	redisClient redis.UniversalClient
	breaker     *CircuitBreaker
	logger      *logrus.Logger
	ttl         time.Duration
}

type IdempotencyRecord struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        string    `json:"body"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewIdempotencyMiddleware(redisClient redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		redisClient: redisClient,
		breaker:     NewCircuitBreaker("idempotency", logger),
		logger:      logger,
		ttl:         ttl,
	}
}

func (i *IdempotencyMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		idempotencyKey := c.Get(HeaderIdempotencyKey)
		if idempotencyKey == "" || i.redisClient == nil {
			return c.Next()
		}

		if _, err := uuid.Parse(idempotencyKey); err != nil {
			return apperrors.NewAppError(apperrors.CodeBadRequest, "Idempotency-Key must be a valid UUID", nil)
		}

		ctx := c.UserContext()
		redisKey := fmt.Sprintf("idempotency:%s", idempotencyKey)
		fingerprint := i.generateFingerprint(c)

		existing, err := i.getRecord(ctx, redisKey)
		if err != nil {
			// Fall through and serve the request uncached
			i.logger.WithError(err).Error("Failed to get idempotency record")
			return c.Next()
		}

		if existing != nil {
			if existing.Fingerprint != fingerprint {
				return apperrors.NewAppError(apperrors.CodeConflict, "Request body differs from original request with same Idempotency-Key", nil)
			}
			metrics.RecordIdempotencyHit("hit")
			return i.returnCachedResponse(c, existing)
		}
		metrics.RecordIdempotencyHit("miss")

		if err := c.Next(); err != nil {
			return err
		}

		statusCode := c.Response().StatusCode()
		if statusCode < 200 || statusCode >= 300 {
			return nil
		}

		record := IdempotencyRecord{
			StatusCode:  statusCode,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        string(c.Response().Body()),
			Fingerprint: fingerprint,
			CreatedAt:   time.Now(),
		}
		if err := i.storeRecord(ctx, redisKey, &record); err != nil {
			i.logger.WithError(err).WithField("idempotency_key", idempotencyKey).Error("Failed to store idempotency record")
		}

		return nil
	}
}

// generateFingerprint creates a unique fingerprint for the request
func (i *IdempotencyMiddleware) generateFingerprint(c *fiber.Ctx) string {
	h := sha256.New()

	h.Write([]byte(c.Method()))
	h.Write([]byte(":"))
	h.Write([]byte(c.Path()))
	h.Write([]byte(":"))
	h.Write(c.Body())

	return hex.EncodeToString(h.Sum(nil))
}

func (i *IdempotencyMiddleware) getRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var data string
	start := time.Now()
	err := i.breaker.Execute(ctx, func(ctx context.Context) error {
		var getErr error
		data, getErr = i.redisClient.Get(ctx, key).Result()
		if errors.Is(getErr, redis.Nil) {
			return nil
		}
		return getErr
	})
	if err != nil {
		metrics.RecordRedisOperation("get", "failure", time.Since(start))
		return nil, err
	}
	metrics.RecordRedisOperation("get", "success", time.Since(start))

	if data == "" {
		return nil, nil
	}

	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &record, nil
}

func (i *IdempotencyMiddleware) storeRecord(ctx context.Context, key string, record *IdempotencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	start := time.Now()
	err = i.breaker.Execute(ctx, func(ctx context.Context) error {
		return i.redisClient.Set(ctx, key, data, i.ttl).Err()
	})
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RecordRedisOperation("set", status, time.Since(start))
	return err
}

// returnCachedResponse returns a previously cached response
func (i *IdempotencyMiddleware) returnCachedResponse(c *fiber.Ctx, record *IdempotencyRecord) error {
	if record.ContentType != "" {
		c.Set(fiber.HeaderContentType, record.ContentType)
	}
	c.Set(HeaderIdempotencyCached, "true")

	i.logger.WithFields(logrus.Fields{
		"path":        c.Path(),
		"status_code": record.StatusCode,
	}).Debug("Replaying cached response")

	return c.Status(record.StatusCode).SendString(record.Body)
}
