package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"grocery-tracker/internal/models"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// dialect captures what differs between the SQL backends.
type dialect struct {
	name              string
	numberedParams    bool
	isUniqueViolation func(error) bool
}

// sqlStore implements Store on top of database/sql. Queries are written with
// ? placeholders and rebound for backends that number their parameters.
type sqlStore struct {
	conn    *sql.DB
	dialect dialect
}

func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numberedParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

// DatabaseType returns the database backend name.
func (s *sqlStore) DatabaseType() string {
	return s.dialect.name
}

// --- User Methods ---

// CreateUser creates a new user with the given username, password hash and phone number.
func (s *sqlStore) CreateUser(username, passwordHash, phoneNumber string) (*models.User, error) {
	var id int64
	err := s.conn.QueryRow(
		s.rebind("INSERT INTO users (username, password_hash, phone_number, created_at) VALUES (?, ?, ?, ?) RETURNING id"),
		username, passwordHash, phoneNumber, time.Now().UTC().Truncate(time.Second),
	).Scan(&id)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(id)
}

// GetUserByID retrieves a user by ID.
func (s *sqlStore) GetUserByID(id int64) (*models.User, error) {
	row := s.conn.QueryRow(
		s.rebind("SELECT id, username, password_hash, phone_number, created_at FROM users WHERE id = ?"),
		id,
	)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *sqlStore) GetUserByUsername(username string) (*models.User, error) {
	row := s.conn.QueryRow(
		s.rebind("SELECT id, username, password_hash, phone_number, created_at FROM users WHERE username = ?"),
		username,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.PhoneNumber, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UserCount returns the number of users in the database.
func (s *sqlStore) UserCount() (int, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// --- Item Methods ---

// CreateItem inserts an item and its shopping history entry in one transaction.
// The caller supplies the derived ExpiryDate.
func (s *sqlStore) CreateItem(ctx context.Context, item *models.Item) (*models.Item, error) {
	if item.ExpiryDate.IsZero() {
		return nil, errors.New("item expiry date is not set")
	}
	purchased := item.PurchasedAt
	if purchased.IsZero() {
		purchased = time.Now()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		s.rebind("INSERT INTO items (name, user_id, purchase_date, shelf_life, expiry_date, notified) VALUES (?, ?, ?, ?, ?, ?) RETURNING id"),
		item.Name, item.UserID, purchased.UTC(), item.ShelfLife, item.ExpiryDate.UTC(), false,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind("INSERT INTO shopping_history (user_id, item_name, purchase_date) VALUES (?, ?, ?)"),
		item.UserID, item.Name, purchased.UTC(),
	); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	stored, err := s.getItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// GetItem retrieves a single item by ID.
func (s *sqlStore) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	return s.getItem(ctx, s.conn, id)
}

func (s *sqlStore) getItem(ctx context.Context, q queryer, id int64) (*models.Item, error) {
	row := q.QueryRowContext(ctx,
		s.rebind("SELECT id, name, user_id, purchase_date, shelf_life, expiry_date, notified FROM items WHERE id = ?"),
		id,
	)
	var it models.Item
	if err := row.Scan(&it.ID, &it.Name, &it.UserID, &it.PurchasedAt, &it.ShelfLife, &it.ExpiryDate, &it.Notified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &it, nil
}

// ListItems returns a user's items ordered by expiry date ascending.
func (s *sqlStore) ListItems(ctx context.Context, userID int64) ([]models.Item, error) {
	return s.listItems(ctx, s.conn, userID)
}

func (s *sqlStore) listItems(ctx context.Context, q queryer, userID int64) ([]models.Item, error) {
	rows, err := q.QueryContext(ctx,
		s.rebind("SELECT id, name, user_id, purchase_date, shelf_life, expiry_date, notified FROM items WHERE user_id = ? ORDER BY expiry_date ASC, id ASC"),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.UserID, &it.PurchasedAt, &it.ShelfLife, &it.ExpiryDate, &it.Notified); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteItem removes an item owned by userID. Returns ErrNotFound when the
// item does not exist or belongs to someone else.
func (s *sqlStore) DeleteItem(ctx context.Context, userID, itemID int64) error {
	res, err := s.conn.ExecContext(ctx,
		s.rebind("DELETE FROM items WHERE id = ? AND user_id = ?"),
		itemID, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistory returns a user's purchase history, newest first.
func (s *sqlStore) ListHistory(ctx context.Context, userID int64) ([]models.HistoryEntry, error) {
	return s.listHistory(ctx, s.conn, userID)
}

func (s *sqlStore) listHistory(ctx context.Context, q queryer, userID int64) ([]models.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		s.rebind("SELECT id, user_id, item_name, purchase_date FROM shopping_history WHERE user_id = ? ORDER BY purchase_date DESC, id DESC"),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []models.HistoryEntry{}
	for rows.Next() {
		var h models.HistoryEntry
		if err := rows.Scan(&h.ID, &h.UserID, &h.Name, &h.PurchasedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// Snapshot reads a user's items and history inside one transaction so the
// two lists agree with each other.
func (s *sqlStore) Snapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	items, err := s.listItems(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	history, err := s.listHistory(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &Snapshot{Items: items, History: history}, nil
}

// --- Notification Methods ---

// ListReminders returns items not yet notified whose expiry is at or before
// cutoff, with their owner's phone number.
func (s *sqlStore) ListReminders(ctx context.Context, cutoff time.Time) ([]models.Reminder, error) {
	rows, err := s.conn.QueryContext(ctx, s.rebind(`
		SELECT i.id, i.name, i.user_id, i.purchase_date, i.shelf_life, i.expiry_date, i.notified,
		       u.username, u.phone_number
		FROM items i
		JOIN users u ON u.id = i.user_id
		WHERE i.notified = ? AND i.expiry_date <= ?
		ORDER BY i.expiry_date ASC, i.id ASC
	`), false, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		var r models.Reminder
		it := &r.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.UserID, &it.PurchasedAt, &it.ShelfLife, &it.ExpiryDate, &it.Notified,
			&r.Username, &r.PhoneNumber); err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// MarkNotified records that a reminder was sent for an item.
func (s *sqlStore) MarkNotified(ctx context.Context, itemID int64) error {
	res, err := s.conn.ExecContext(ctx, s.rebind("UPDATE items SET notified = ? WHERE id = ?"), true, itemID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
