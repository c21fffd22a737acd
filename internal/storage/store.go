// Package storage persists users, grocery items and shopping history.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grocery-tracker/internal/models"
)

var (
	// ErrNotFound is returned when a row is missing or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("username already exists")
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// User operations
	CreateUser(username, passwordHash, phoneNumber string) (*models.User, error)
	GetUserByID(id int64) (*models.User, error)
	GetUserByUsername(username string) (*models.User, error)
	UserCount() (int, error)

	// Item operations
	CreateItem(ctx context.Context, item *models.Item) (*models.Item, error)
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	ListItems(ctx context.Context, userID int64) ([]models.Item, error)
	DeleteItem(ctx context.Context, userID, itemID int64) error
	ListHistory(ctx context.Context, userID int64) ([]models.HistoryEntry, error)
	Snapshot(ctx context.Context, userID int64) (*Snapshot, error)

	// Notification operations
	ListReminders(ctx context.Context, cutoff time.Time) ([]models.Reminder, error)
	MarkNotified(ctx context.Context, itemID int64) error
}

// Snapshot is a user's items and history read in one transaction.
type Snapshot struct {
	Items   []models.Item
	History []models.HistoryEntry
}

// Open returns the backend named by driver ("sqlite" or "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewDB(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
