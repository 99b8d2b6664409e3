package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Participant roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// CreateRoom inserts a room and adds its creator as owner.
func (db *DB) CreateRoom(ctx context.Context, name, description string, private bool, createdBy int64) (*ChatRoom, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (name, description, is_private, created_by_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		name, description, private, createdBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_room_participants (chat_room_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)`, id, createdBy, RoleOwner, now); err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetRoom(ctx, id)
}

// GetRoom returns a room by ID, or ErrNotFound.
func (db *DB) GetRoom(ctx context.Context, id int64) (*ChatRoom, error) {
	var (
		r                    ChatRoom
		createdAt, updatedAt int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, description, is_private, created_by_id, created_at, updated_at
		FROM chat_rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Description, &r.IsPrivate, &r.CreatedByID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

// AddParticipant joins a user to a room. Joining twice keeps the first membership.
func (db *DB) AddParticipant(ctx context.Context, roomID, userID int64, role string) error {
	if role == "" {
		role = RoleMember
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_room_participants (chat_room_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_room_id, user_id) DO NOTHING`,
		roomID, userID, role, toMillis(time.Now()))
	return err
}

// ListParticipants returns a room's members in join order.
func (db *DB) ListParticipants(ctx context.Context, roomID int64) ([]Participant, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT chat_room_id, user_id, role, joined_at, last_read_at
		FROM chat_room_participants WHERE chat_room_id = ? ORDER BY joined_at, id`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Participant
	for rows.Next() {
		var (
			p        Participant
			joinedAt int64
			lastRead sql.NullInt64
		)
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Role, &joinedAt, &lastRead); err != nil {
			return nil, err
		}
		p.JoinedAt = fromMillis(joinedAt)
		p.LastReadAt = timePtr(lastRead)
		out = append(out, p)
	}
	return out, rows.Err()
}
