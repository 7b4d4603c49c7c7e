package user

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory user store.
type MemStore struct {
	mu    sync.RWMutex
	users []User
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// EnsureTable is a no-op for the memory store.
func (s *MemStore) EnsureTable(ctx context.Context) error { return nil }

// Register returns the user with email, creating it if needed.
func (s *MemStore) Register(ctx context.Context, name, email string) (*User, error) {
	email = strings.TrimSpace(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := u
			return &cp, nil
		}
	}
	u := User{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().Truncate(time.Microsecond),
	}
	s.users = append(s.users, u)
	return &u, nil
}

// Get retrieves a single user by ID.
func (s *MemStore) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			cp := u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get user %s: %w", id, ErrNotFound)
}

// List returns all users in registration order.
func (s *MemStore) List(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, len(s.users))
	copy(out, s.users)
	return out, nil
}
