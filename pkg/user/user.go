package user

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user id does not resolve.
var ErrNotFound = errors.New("user not found")

// User is a person tasks are assigned to or created by.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the contract for user persistence.
type Store interface {
	// Register creates a user or returns the existing one with the same email.
	Register(ctx context.Context, name, email string) (*User, error)

	// Get returns a user by ID.
	Get(ctx context.Context, id string) (*User, error)

	// List returns all users, oldest first.
	List(ctx context.Context) ([]User, error)

	// EnsureTable creates the users table if it doesn't exist.
	EnsureTable(ctx context.Context) error
}
