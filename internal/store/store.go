// Package store persists user records for the auth API.
//
// Lookups return (nil, nil) when no record matches; an error always means the
// backend itself failed.
package store

import (
	"context"
	"errors"

	"github.com/traffic-tacos/auth-api/internal/models"
)

// ErrDuplicateUsername is returned by Add when the username is already taken.
var ErrDuplicateUsername = errors.New("username already exists")

// Store is the credential store used by the auth middleware and handlers.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	// Add inserts user, assigns its id and returns the stored record.
	Add(ctx context.Context, user *models.User) (*models.User, error)
	Ping(ctx context.Context) error
}
