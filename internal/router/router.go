// Package router persists chat messages and fans frames out to live connections.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/frame"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/registry"
	"github.com/matheus3301/relay/internal/store"
)

const (
	notificationTitle  = "New Message"
	notificationLength = 100
)

// ReasonUnknownTarget rejects a message whose receiver, room or parent does not exist.
const ReasonUnknownTarget = "Unknown receiver or room"

// Store is the persistence the router writes to.
type Store interface {
	SaveMessage(ctx context.Context, m *store.ChatMessage) error
	SaveNotification(ctx context.Context, n *store.Notification) error
}

// OfflineFunc is called once when dropping a connection leaves its user offline.
type OfflineFunc func(ctx context.Context, user int64)

// ValidationError rejects a chat message before it is persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ChatInput is a chat message submitted by SenderID.
type ChatInput struct {
	SenderID        int64
	ReceiverID      *int64
	RoomID          *int64
	ParentMessageID *int64
	Body            string
}

// Options tunes timeouts. Zero values fall back to 5s.
type Options struct {
	WriteTimeout time.Duration
	StoreTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Router delivers frames to every connection of a user, isolating failures
// per connection.
type Router struct {
	reg    *registry.Registry
	db     Store
	bus    *bus.Bus
	logger *zap.Logger
	m      *metrics.Metrics

	writeTimeout time.Duration
	storeTimeout time.Duration

	mu        sync.RWMutex
	onOffline OfflineFunc
}

// New creates a router over reg.
func New(reg *registry.Registry, db Store, b *bus.Bus, logger *zap.Logger, opts Options) *Router {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Router{
		reg:          reg,
		db:           db,
		bus:          b,
		logger:       logger,
		m:            opts.Metrics,
		writeTimeout: opts.WriteTimeout,
		storeTimeout: opts.StoreTimeout,
	}
}

// SetOfflineHandler installs the callback fired when a failed send empties a
// user's connection set.
func (r *Router) SetOfflineHandler(fn OfflineFunc) {
	r.mu.Lock()
	r.onOffline = fn
	r.mu.Unlock()
}

// SendToUser delivers payload to every connection of user and returns how
// many writes succeeded. Only a marshal failure is returned as an error.
func (r *Router) SendToUser(ctx context.Context, user int64, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal frame: %w", err)
	}
	return r.deliver(ctx, r.reg.ConnectionsFor(user), data), nil
}

// SendToConn delivers payload to a single connection.
func (r *Router) SendToConn(ctx context.Context, conn registry.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if r.deliver(ctx, []registry.Conn{conn}, data) == 0 {
		return fmt.Errorf("send to %s failed", conn.ID())
	}
	return nil
}

// Broadcast delivers payload to every registered connection.
func (r *Router) Broadcast(ctx context.Context, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal frame: %w", err)
	}
	return r.deliver(ctx, r.reg.All(), data), nil
}

func (r *Router) deliver(ctx context.Context, conns []registry.Conn, data []byte) int {
	// Each write is bounded by writeTimeout only, never by the caller's cancellation.
	base := context.WithoutCancel(ctx)
	sent := 0
	for _, c := range conns {
		wctx, cancel := context.WithTimeout(base, r.writeTimeout)
		err := c.Send(wctx, data)
		cancel()
		if err != nil {
			r.drop(base, c, err)
			continue
		}
		r.m.FrameSent()
		sent++
	}
	return sent
}

func (r *Router) drop(ctx context.Context, c registry.Conn, cause error) {
	r.m.SendFailed()
	r.logger.Warn("send failed, dropping connection",
		zap.String("conn_id", c.ID()),
		zap.Int64("user_id", c.User()),
		zap.Error(cause),
	)
	user, last := r.reg.Deregister(c)
	c.Drop()
	r.m.SetConnections(r.reg.Len())
	if !last {
		return
	}
	r.mu.RLock()
	fn := r.onOffline
	r.mu.RUnlock()
	if fn != nil {
		fn(ctx, user)
	}
}

// RouteChatMessage validates, persists and delivers a chat message.
// Persisting happens before any delivery attempt.
func (r *Router) RouteChatMessage(ctx context.Context, in ChatInput) (*store.ChatMessage, error) {
	if in.Body == "" {
		return nil, &ValidationError{Reason: frame.ReasonEmptyMessage}
	}

	now := time.Now().Truncate(time.Millisecond)
	msg := &store.ChatMessage{
		SenderID:        in.SenderID,
		ReceiverID:      in.ReceiverID,
		RoomID:          in.RoomID,
		ParentMessageID: in.ParentMessageID,
		Body:            in.Body,
		Type:            store.MessageGroup,
		DeliveredAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.ReceiverID != nil {
		msg.Type = store.MessagePrivate
	}

	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	err := r.db.SaveMessage(sctx, msg)
	cancel()
	if errors.Is(err, store.ErrUnknownReference) {
		return nil, &ValidationError{Reason: ReasonUnknownTarget}
	}
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	r.m.MessageRouted(string(msg.Type))
	r.bus.Emit(bus.KindChatRouted, bus.ChatRouted{
		ChatID: msg.ID, SenderID: msg.SenderID, ReceiverID: msg.ReceiverID, RoomID: msg.RoomID,
	})

	if err := r.SendChatNotification(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// SendChatNotification delivers an already persisted message: a notification
// frame plus a stored Notification for the receiver, whether or not the
// receiver is online, then a message_sent echo to the sender.
func (r *Router) SendChatNotification(ctx context.Context, msg *store.ChatMessage) error {
	data := frame.NewChatData(msg.ID, msg.SenderID, msg.Body, msg.CreatedAt)

	if msg.ReceiverID != nil {
		receiver := *msg.ReceiverID
		if _, err := r.SendToUser(ctx, receiver, frame.NewNotification(data)); err != nil {
			return err
		}

		chatID := msg.ID
		n := &store.Notification{
			UserID:        receiver,
			Title:         notificationTitle,
			Body:          truncate(msg.Body, notificationLength),
			Type:          store.NotificationChat,
			RelatedChatID: &chatID,
		}
		sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
		err := r.db.SaveNotification(sctx, n)
		cancel()
		if err != nil {
			return fmt.Errorf("save notification: %w", err)
		}
		r.m.NotificationCreated()
		r.bus.Emit(bus.KindNotificationCreated, bus.NotificationCreated{NotificationID: n.ID, UserID: receiver})
	}

	if msg.SenderID != 0 {
		if _, err := r.SendToUser(ctx, msg.SenderID, frame.NewMessageSent(data)); err != nil {
			return err
		}
	}
	return nil
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
