// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/voice-assistant/internal/domain"
)

// ErrEmailTaken is returned by CreateUser when the address is already registered.
var ErrEmailTaken = errors.New("email already exists")

// ErrUserNotFound is returned by updates addressed to a missing user.
var ErrUserNotFound = errors.New("user not found")

// AssistantUpdate carries the profile fields a user may change. Nil fields are kept.
type AssistantUpdate struct {
	AssistantName     *string
	AssistantImage    *string
	AssistantLanguage *string
}

// Repository defines the interface for persisting users and their command history.
type Repository interface {
	// CreateUser inserts a new user. ID, CreatedAt and UpdatedAt are filled in when empty.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user, with history, by ID. Returns nil, nil when missing.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user without history. Returns nil, nil when missing.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdateAssistant applies the non-nil fields of upd and returns the updated user.
	UpdateAssistant(ctx context.Context, userID string, upd AssistantUpdate) (*domain.User, error)

	// AppendHistory adds a command to the end of the user's history.
	AppendHistory(ctx context.Context, userID, command string) error

	// History returns the user's commands, oldest first.
	History(ctx context.Context, userID string) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
