package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, message, message_type, sender_id, receiver_id, chat_room_id, parent_message_id,
	is_read, read_at, delivered_at, created_at, updated_at`

// SaveMessage inserts m and fills in its ID. Zero CreatedAt/UpdatedAt are set to now.
func (db *DB) SaveMessage(ctx context.Context, m *ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().Truncate(time.Millisecond)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.Type == "" {
		m.Type = MessagePrivate
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO chats (message, message_type, sender_id, receiver_id, chat_room_id, parent_message_id,
			is_read, read_at, delivered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Body, string(m.Type), m.SenderID, nullID(m.ReceiverID), nullID(m.RoomID), nullID(m.ParentMessageID),
		m.IsRead, nullMillis(m.ReadAt), nullMillis(m.DeliveredAt), toMillis(m.CreatedAt), toMillis(m.UpdatedAt))
	if isForeignKeyViolation(err) {
		return fmt.Errorf("insert chat: %w", ErrUnknownReference)
	}
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// GetMessage returns a message by ID, or ErrNotFound.
func (db *DB) GetMessage(ctx context.Context, id int64) (*ChatMessage, error) {
	row := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chats WHERE id = ?`, id)
	return scanMessage(row)
}

// ListMessages returns history visible to f.UserID, oldest first.
// With PeerID set only the two-way conversation with that peer is returned.
// With RoomID set only that room's messages are returned, provided the user
// sent to it or participates in it. Limit defaults to 50.
func (db *DB) ListMessages(ctx context.Context, f MessageFilter) ([]ChatMessage, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT ` + messageColumns + ` FROM chats WHERE `
	var args []any
	switch {
	case f.RoomID != nil:
		query += `chat_room_id = ? AND (sender_id = ? OR EXISTS (
			SELECT 1 FROM chat_room_participants p WHERE p.chat_room_id = chats.chat_room_id AND p.user_id = ?))`
		args = append(args, *f.RoomID, f.UserID, f.UserID)
		if f.PeerID != nil {
			query += ` AND sender_id = ?`
			args = append(args, *f.PeerID)
		}
	case f.PeerID != nil:
		query += `((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`
		args = append(args, f.UserID, *f.PeerID, *f.PeerID, f.UserID)
	default:
		query += `(sender_id = ? OR receiver_id = ?)`
		args = append(args, f.UserID, f.UserID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessage(r rowScanner) (*ChatMessage, error) {
	var (
		m                      ChatMessage
		msgType                string
		receiver, room, parent sql.NullInt64
		readAt, deliveredAt    sql.NullInt64
		createdAt, updatedAt   int64
	)
	err := r.Scan(&m.ID, &m.Body, &msgType, &m.SenderID, &receiver, &room, &parent,
		&m.IsRead, &readAt, &deliveredAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Type = MessageType(msgType)
	m.ReceiverID = idPtr(receiver)
	m.RoomID = idPtr(room)
	m.ParentMessageID = idPtr(parent)
	m.ReadAt = timePtr(readAt)
	m.DeliveredAt = timePtr(deliveredAt)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}
