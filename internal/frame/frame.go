// Package frame defines the JSON text frames exchanged on /ws/chat.
package frame

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame type discriminators.
const (
	TypePing             = "ping"
	TypePong             = "pong"
	TypeChatMessage      = "chat_message"
	TypeConnected        = "connected"
	TypeNotification     = "notification"
	TypeMessageSent      = "message_sent"
	TypeUserStatusUpdate = "user_status_update"
	TypeError            = "error"
)

// Client-visible error texts.
const (
	ReasonInvalidJSON  = "Invalid JSON format"
	ReasonEmptyMessage = "Message cannot be empty"
	ReasonInvalidType  = "Message type must be a string"
	ConnectedMessage   = "Connected to chat"
)

// ProtocolError reports an inbound frame that could not be interpreted.
// Its message is sent back to the client verbatim.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string { return e.Reason }

func (e *ProtocolError) Unwrap() error { return e.Err }

// Inbound is a decoded client frame. Only the fields of Type are meaningful.
type Inbound struct {
	Type       string `json:"type"`
	ReceiverID *int64 `json:"receiver_id"`
	Message    string `json:"message"`
	ChatRoomID *int64 `json:"chat_room_id"`
}

// Parse decodes one inbound text frame.
func Parse(data []byte) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &ProtocolError{Reason: ReasonInvalidJSON, Err: err}
	}

	var kind string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return nil, &ProtocolError{Reason: ReasonInvalidType, Err: err}
		}
	}

	switch kind {
	case TypePing:
		return &Inbound{Type: TypePing}, nil
	case TypeChatMessage:
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, &ProtocolError{Reason: "Invalid chat_message payload", Err: err}
		}
		return &in, nil
	case "":
		return nil, &ProtocolError{Reason: "Unknown message type: missing"}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("Unknown message type: %s", kind)}
	}
}

// ChatData is the payload of notification and message_sent frames.
type ChatData struct {
	Type      string  `json:"type"`
	ChatID    int64   `json:"chat_id"`
	SenderID  int64   `json:"sender_id"`
	Message   string  `json:"message"`
	CreatedAt *string `json:"created_at"`
}

// NewChatData builds the chat_message data object. A zero createdAt encodes as null.
func NewChatData(chatID, senderID int64, message string, createdAt time.Time) ChatData {
	d := ChatData{Type: TypeChatMessage, ChatID: chatID, SenderID: senderID, Message: message}
	if !createdAt.IsZero() {
		s := FormatTime(createdAt)
		d.CreatedAt = &s
	}
	return d
}

// FormatTime renders timestamps the way every frame and REST body does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Connected acknowledges a successful handshake.
type Connected struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

// ChatEvent carries ChatData as a notification or message_sent frame.
type ChatEvent struct {
	Type string   `json:"type"`
	Data ChatData `json:"data"`
}

// StatusUpdate announces a presence transition.
type StatusUpdate struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// Error reports a recoverable problem with an inbound frame.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnected(userID int64) Connected {
	return Connected{Type: TypeConnected, Message: ConnectedMessage, UserID: userID}
}

func NewPong() Pong { return Pong{Type: TypePong} }

func NewNotification(d ChatData) ChatEvent { return ChatEvent{Type: TypeNotification, Data: d} }

func NewMessageSent(d ChatData) ChatEvent { return ChatEvent{Type: TypeMessageSent, Data: d} }

func NewStatusUpdate(userID int64, online bool) StatusUpdate {
	return StatusUpdate{Type: TypeUserStatusUpdate, UserID: userID, IsOnline: online}
}

func NewError(message string) Error { return Error{Type: TypeError, Message: message} }

// Outbound is the union of server frames, used by clients to decode any of them.
type Outbound struct {
	Type     string    `json:"type"`
	Message  string    `json:"message,omitempty"`
	UserID   int64     `json:"user_id,omitempty"`
	IsOnline bool      `json:"is_online,omitempty"`
	Data     *ChatData `json:"data,omitempty"`
}

// Decode parses a server frame.
func Decode(data []byte) (Outbound, error) {
	var out Outbound
	if err := json.Unmarshal(data, &out); err != nil {
		return Outbound{}, fmt.Errorf("decode frame: %w", err)
	}
	if out.Type == "" {
		return Outbound{}, fmt.Errorf("decode frame: missing type")
	}
	return out, nil
}

// Ping and ChatMessage encode client frames.

func Ping() []byte { return []byte(`{"type":"ping"}`) }

func ChatMessage(receiverID, roomID *int64, message string) ([]byte, error) {
	return json.Marshal(Inbound{Type: TypeChatMessage, ReceiverID: receiverID, Message: message, ChatRoomID: roomID})
}
