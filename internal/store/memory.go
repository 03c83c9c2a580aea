package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/traffic-tacos/auth-api/internal/models"
)

// MemoryStore keeps users in process memory. Used for local development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]models.User
	byUsername map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		byID:       make(map[int64]models.User),
		byUsername: make(map[string]int64),
	}
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	user := s.byID[id]
	return &user, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func (s *MemoryStore) Add(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[user.Username]; exists {
		return nil, ErrDuplicateUsername
	}

	stored := *user
	stored.UserID = s.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.nextID++

	s.byID[stored.UserID] = stored
	s.byUsername[stored.Username] = stored.UserID

	return &stored, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
