package store

import "time"

// MessageType classifies a chat message.
type MessageType string

const (
	MessagePrivate   MessageType = "private"
	MessageGroup     MessageType = "group"
	MessageBroadcast MessageType = "broadcast"
)

// NotificationChat is the notification_type of chat notifications.
const NotificationChat = "chat"

// User is an account that can hold connections.
type User struct {
	ID        int64
	Name      string
	Email     string
	IsActive  bool
	IsOnline  bool
	LastSeen  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is a persisted message. Rows are never deleted.
type ChatMessage struct {
	ID              int64
	SenderID        int64
	ReceiverID      *int64
	RoomID          *int64
	ParentMessageID *int64
	Body            string
	Type            MessageType
	IsRead          bool
	ReadAt          *time.Time
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Notification is a durable per-user notice, usually about a chat message.
type Notification struct {
	ID            int64
	UserID        int64
	Title         string
	Body          string
	Type          string
	IsRead        bool
	ReadAt        *time.Time
	RelatedChatID *int64
	CreatedAt     time.Time

	// SenderID is resolved through RelatedChatID by ListNotifications.
	SenderID *int64
}

// ChatRoom is a named group conversation.
type ChatRoom struct {
	ID          int64
	Name        string
	Description string
	IsPrivate   bool
	CreatedByID int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Participant is a user's membership in a room.
type Participant struct {
	RoomID     int64
	UserID     int64
	Role       string
	JoinedAt   time.Time
	LastReadAt *time.Time
}

// MessageFilter selects history visible to UserID.
type MessageFilter struct {
	UserID int64
	PeerID *int64
	RoomID *int64
	Limit  int
	Offset int
}
