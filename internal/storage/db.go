package storage

import (
	"database/sql"
	"fmt"
	"strings"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// DB is the SQLite backend.
type DB struct {
	sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	// SQLite serialises writers, and every connection to ":memory:" would
	// otherwise get its own empty database.
	conn.SetMaxOpenConns(1)

	db := &DB{sqlStore{conn: conn, dialect: dialect{
		name:              "SQLite",
		isUniqueViolation: isSQLiteUniqueViolation,
	}}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			phone_number TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id),
			purchase_date DATETIME NOT NULL,
			shelf_life INTEGER NOT NULL CHECK (shelf_life >= 1),
			expiry_date DATETIME NOT NULL,
			notified BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_user_expiry ON items(user_id, expiry_date)`,
		`CREATE TABLE IF NOT EXISTS shopping_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			item_name TEXT NOT NULL,
			purchase_date DATETIME NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
