package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, name, email, is_active, is_online, last_seen, created_at, updated_at`

// CreateUser inserts an active, offline user.
func (db *DB) CreateUser(ctx context.Context, name, email string) (*User, error) {
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO users (name, email, is_active, is_online, created_at, updated_at)
		VALUES (?, ?, 1, 0, ?, ?)`,
		name, email, toMillis(now), toMillis(now))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("insert user %q: %w", email, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetUser(ctx, id)
}

// GetUser returns a user by ID, or ErrNotFound.
func (db *DB) GetUser(ctx context.Context, id int64) (*User, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail returns a user by email, or ErrNotFound.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUsers returns the users with the given IDs, ordered by ID. Unknown IDs are skipped.
func (db *DB) GetUsers(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserOnlineState records the durable online flag and last-seen time.
func (db *DB) SetUserOnlineState(ctx context.Context, id int64, online bool, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		online, toMillis(at), toMillis(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserActive enables or disables an account.
func (db *DB) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*User, error) {
	var (
		u                  User
		lastSeen           sql.NullInt64
		createdAt, updated int64
	)
	err := r.Scan(&u.ID, &u.Name, &u.Email, &u.IsActive, &u.IsOnline, &lastSeen, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.LastSeen = timePtr(lastSeen)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}
