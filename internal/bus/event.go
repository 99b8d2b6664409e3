package bus

import "time"

// Event kinds. Subscribers filter on the namespace prefix ("presence.", "chat.", ...).
const (
	KindPresenceOnline      = "presence.online"
	KindPresenceOffline     = "presence.offline"
	KindChatRouted          = "chat.routed"
	KindNotificationCreated = "notification.created"
	KindSessionOpened       = "session.opened"
	KindSessionClosed       = "session.closed"
	KindDaemonStatus        = "daemon.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// PresenceChanged is the payload of presence.* events.
type PresenceChanged struct {
	UserID int64
	Online bool
}

// ChatRouted is the payload of chat.routed.
type ChatRouted struct {
	ChatID     int64
	SenderID   int64
	ReceiverID *int64
	RoomID     *int64
}

// NotificationCreated is the payload of notification.created.
type NotificationCreated struct {
	NotificationID int64
	UserID         int64
}

// SessionChanged is the payload of session.* events.
type SessionChanged struct {
	ConnID string
	UserID int64
	State  string
}
