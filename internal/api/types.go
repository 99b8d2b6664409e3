package api

// Control messages. Timestamps are unix milliseconds.

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Instance      string `json:"instance"`
	Status        string `json:"status"`
	StatusSinceMs int64  `json:"status_since_ms"`
	UptimeMs      int64  `json:"uptime_ms"`
	Listen        string `json:"listen"`
	OnlineUsers   int    `json:"online_users"`
	Connections   int    `json:"connections"`
	SchemaVersion uint   `json:"schema_version"`
	DroppedEvents uint64 `json:"dropped_events"`
}

type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsActive   bool   `json:"is_active"`
	IsOnline   bool   `json:"is_online"`
	LastSeenMs *int64 `json:"last_seen_ms,omitempty"`
}

type ListOnlineUsersRequest struct{}

type ListOnlineUsersResponse struct {
	Users []User `json:"users"`
}

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type CreateUserResponse struct {
	User User `json:"user"`
}

type IssueTokenRequest struct {
	Email      string `json:"email"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

type IssueTokenResponse struct {
	Token       string `json:"token"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

type PostMessageRequest struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID *int64 `json:"receiver_id,omitempty"`
	RoomID     *int64 `json:"chat_room_id,omitempty"`
	Message    string `json:"message"`
}

type PostMessageResponse struct {
	ChatID      int64  `json:"chat_id"`
	MessageType string `json:"message_type"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private,omitempty"`
	CreatedBy   int64  `json:"created_by"`
}

type CreateRoomResponse struct {
	RoomID int64 `json:"room_id"`
}

type AddParticipantRequest struct {
	RoomID int64  `json:"room_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

type AddParticipantResponse struct{}

type SetUserActiveRequest struct {
	UserID int64 `json:"user_id"`
	Active bool  `json:"active"`
}

type SetUserActiveResponse struct {
	DroppedConnections int `json:"dropped_connections"`
}

type GetPresenceRequest struct {
	UserID int64 `json:"user_id"`
}

type GetPresenceResponse struct {
	UserID      int64  `json:"user_id"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
	Mirrored    bool   `json:"mirrored"`
	MirrorOwner string `json:"mirror_owner,omitempty"`
}

type WatchPresenceRequest struct{}

type PresenceEvent struct {
	UserID       int64 `json:"user_id"`
	Online       bool  `json:"online"`
	OccurredAtMs int64 `json:"occurred_at_ms"`
}
