package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/auth-api/internal/config"
)

// New builds the Store selected by STORE_DRIVER.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory credential store; users are lost on restart")
		return NewMemoryStore(), nil

	case config.StoreDriverPostgres:
		return NewPostgresStore(ctx, &cfg.Postgres, logger)

	case config.StoreDriverDynamoDB:
		client, err := NewDynamoDBClient(ctx, &cfg.DynamoDB, &cfg.AWS, logger)
		if err != nil {
			return nil, err
		}
		return NewDynamoDBStore(client, cfg.DynamoDB.UsersTableName), nil

	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}
