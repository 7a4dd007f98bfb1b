package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"gotransit/internal/planner"
)

// ErrUsernameTaken is returned by CreateUser for a duplicate username.
var ErrUsernameTaken = errors.New("username already taken")

// User is a registered account.
type User struct {
	ID             int64
	Username       string
	PassphraseHash string
}

// CreateUser inserts a user and returns its ID.
func (db *DB) CreateUser(ctx context.Context, username, passphraseHash string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO users (username, passphrase_hash) VALUES (?, ?)`,
		username, passphraseHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// GetUserByUsername looks a user up. A missing user yields sql.ErrNoRows.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := db.QueryRowContext(ctx,
		`SELECT id, username, passphrase_hash FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PassphraseHash)
	return u, err
}

// CountUsers returns the number of registered users.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// RecentRoutes returns a user's recent searches, newest first.
func (db *DB) RecentRoutes(ctx context.Context, userID int64) ([]string, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT recent_routes FROM users WHERE id = ?`, userID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("recent routes: %w", err)
	}
	var routes []string
	if err := json.Unmarshal([]byte(raw), &routes); err != nil {
		return nil, fmt.Errorf("decode recent routes: %w", err)
	}
	return routes, nil
}

// PushRecentRoute moves route to the front of the user's recent list.
func (db *DB) PushRecentRoute(ctx context.Context, userID int64, route string, max int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT recent_routes FROM users WHERE id = ?`, userID).Scan(&raw); err != nil {
		return fmt.Errorf("read recent routes: %w", err)
	}
	var routes []string
	if err := json.Unmarshal([]byte(raw), &routes); err != nil {
		// A corrupt list is replaced rather than blocking new entries.
		db.logger.Warn("discarding unreadable recent routes", "user_id", userID, "error", err)
		routes = nil
	}

	b, err := json.Marshal(planner.PushRecent(routes, route, max))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET recent_routes = ? WHERE id = ?`, string(b), userID); err != nil {
		return fmt.Errorf("write recent routes: %w", err)
	}
	return tx.Commit()
}
