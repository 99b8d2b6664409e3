package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveNotification inserts n unread and fills in its ID.
func (db *DB) SaveNotification(ctx context.Context, n *Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().Truncate(time.Millisecond)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, message, notification_type, is_read, read_at, related_chat_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, n.Title, n.Body, n.Type, n.IsRead, nullMillis(n.ReadAt), nullID(n.RelatedChatID), toMillis(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = id
	return nil
}

// GetNotification returns a notification by ID, or ErrNotFound.
func (db *DB) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	row := db.QueryRowContext(ctx, `
		SELECT n.id, n.user_id, n.title, n.message, n.notification_type, n.is_read, n.read_at,
			n.related_chat_id, n.created_at, c.sender_id
		FROM notifications n
		LEFT JOIN chats c ON c.id = n.related_chat_id
		WHERE n.id = ?`, id)
	return scanNotification(row)
}

// ListNotifications returns a user's notifications, newest first, with
// SenderID resolved from the related chat message.
func (db *DB) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT n.id, n.user_id, n.title, n.message, n.notification_type, n.is_read, n.read_at,
			n.related_chat_id, n.created_at, c.sender_id
		FROM notifications n
		LEFT JOIN chats c ON c.id = n.related_chat_id
		WHERE n.user_id = ?`
	if unreadOnly {
		query += ` AND n.is_read = 0`
	}
	query += ` ORDER BY n.created_at DESC, n.id DESC LIMIT ? OFFSET ?`

	rows, err := db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// UnreadCount returns the number of unread notifications for a user.
func (db *DB) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&n)
	return n, err
}

// MarkNotificationRead marks one notification read and returns it.
func (db *DB) MarkNotificationRead(ctx context.Context, id int64, at time.Time) (*Notification, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetNotification(ctx, id)
}

// MarkAllNotificationsRead marks every unread notification of a user read and
// returns how many changed.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0`,
		toMillis(at), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanNotification(r rowScanner) (*Notification, error) {
	var (
		n                         Notification
		readAt, related, senderID sql.NullInt64
		createdAt                 int64
	)
	err := r.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Type, &n.IsRead, &readAt, &related, &createdAt, &senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.ReadAt = timePtr(readAt)
	n.RelatedChatID = idPtr(related)
	n.SenderID = idPtr(senderID)
	n.CreatedAt = fromMillis(createdAt)
	return &n, nil
}
