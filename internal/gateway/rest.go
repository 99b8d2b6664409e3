package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/frame"
	"github.com/matheus3301/relay/internal/router"
	"github.com/matheus3301/relay/internal/store"
)

const userKey = "relay.user"

var errForbidden = errors.New("forbidden")

type messageView struct {
	ID          int64             `json:"id"`
	Message     string            `json:"message"`
	SenderID    int64             `json:"sender_id"`
	ReceiverID  *int64            `json:"receiver_id"`
	ChatRoomID  *int64            `json:"chat_room_id,omitempty"`
	MessageType store.MessageType `json:"message_type,omitempty"`
	IsRead      bool              `json:"is_read"`
	CreatedAt   string            `json:"created_at"`
}

type notificationView struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	Message          string  `json:"message"`
	NotificationType string  `json:"notification_type"`
	IsRead           bool    `json:"is_read"`
	RelatedChatID    *int64  `json:"related_chat_id"`
	SenderID         *int64  `json:"sender_id"`
	CreatedAt        string  `json:"created_at"`
	ReadAt           *string `json:"read_at,omitempty"`
}

type onlineUserView struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	IsOnline bool    `json:"is_online"`
	LastSeen *string `json:"last_seen"`
}

type createMessageRequest struct {
	Message    string `json:"message"`
	ReceiverID *int64 `json:"receiver_id"`
	ChatRoomID *int64 `json:"chat_room_id"`
}

func toMessageView(m *store.ChatMessage) messageView {
	return messageView{
		ID:          m.ID,
		Message:     m.Body,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		ChatRoomID:  m.RoomID,
		MessageType: m.Type,
		IsRead:      m.IsRead,
		CreatedAt:   frame.FormatTime(m.CreatedAt),
	}
}

func toNotificationView(n *store.Notification) notificationView {
	return notificationView{
		ID:               n.ID,
		Title:            n.Title,
		Message:          n.Body,
		NotificationType: n.Type,
		IsRead:           n.IsRead,
		RelatedChatID:    n.RelatedChatID,
		SenderID:         n.SenderID,
		CreatedAt:        frame.FormatTime(n.CreatedAt),
		ReadAt:           formatPtr(n.ReadAt),
	}
}

func formatPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := frame.FormatTime(*t)
	return &s
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			s.unauthorized(c, "Not authenticated")
			return
		}
		u, err := s.d.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			detail := "Could not validate credentials"
			if errors.Is(err, auth.ErrTokenExpired) {
				detail = auth.ErrTokenExpired.Error()
			}
			s.unauthorized(c, detail)
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

// withTimeout bounds every store call a REST handler makes.
func (s *Server) withTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.StoreTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
}

func currentUser(c *gin.Context) *store.User {
	return c.MustGet(userKey).(*store.User)
}

// fail maps err onto an HTTP status and a detail body.
func (s *Server) fail(c *gin.Context, err error) {
	var verr *router.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"detail": verr.Reason})
	case errors.Is(err, errForbidden):
		c.JSON(http.StatusForbidden, gin.H{"detail": "Not authorized to mark this notification as read"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Notification not found"})
	case errors.Is(err, auth.ErrInvalidCredential):
		s.unauthorized(c, "Could not validate credentials")
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def, max int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || (max > 0 && v > max) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid " + key})
		return 0, false
	}
	return v, true
}

func queryID(c *gin.Context, key string) (*int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid " + key})
		return nil, false
	}
	return &v, true
}

func (s *Server) listMessages(c *gin.Context) {
	peer, ok := queryID(c, "receiver_id")
	if !ok {
		return
	}
	room, ok := queryID(c, "chat_room_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 50, 100)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0, 0)
	if !ok {
		return
	}

	msgs, err := s.d.Store.ListMessages(c.Request.Context(), store.MessageFilter{
		UserID: currentUser(c).ID,
		PeerID: peer,
		RoomID: room,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageView(&msgs[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": frame.ReasonInvalidJSON})
		return
	}
	msg, err := s.d.Router.RouteChatMessage(c.Request.Context(), router.ChatInput{
		SenderID:   currentUser(c).ID,
		ReceiverID: req.ReceiverID,
		RoomID:     req.ChatRoomID,
		Body:       req.Message,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          msg.ID,
		"message":     msg.Body,
		"sender_id":   msg.SenderID,
		"receiver_id": msg.ReceiverID,
		"created_at":  frame.FormatTime(msg.CreatedAt),
	})
}

func (s *Server) listNotifications(c *gin.Context) {
	unreadOnly := c.Query("unread_only") == "true"
	limit, ok := queryInt(c, "limit", 20, 100)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0, 0)
	if !ok {
		return
	}

	ns, err := s.d.Store.ListNotifications(c.Request.Context(), currentUser(c).ID, unreadOnly, limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]notificationView, 0, len(ns))
	for i := range ns {
		out = append(out, toNotificationView(&ns[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) unreadCount(c *gin.Context) {
	n, err := s.d.Store.UnreadCount(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}

func (s *Server) markRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid notification id"})
		return
	}
	ctx := c.Request.Context()

	n, err := s.d.Store.GetNotification(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if n.UserID != currentUser(c).ID {
		s.fail(c, errForbidden)
		return
	}
	n, err = s.d.Store.MarkNotificationRead(ctx, id, time.Now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": n.ID, "is_read": n.IsRead, "read_at": formatPtr(n.ReadAt)})
}

func (s *Server) markAllRead(c *gin.Context) {
	n, err := s.d.Store.MarkAllNotificationsRead(c.Request.Context(), currentUser(c).ID, time.Now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marked " + strconv.FormatInt(n, 10) + " notifications as read"})
}

func (s *Server) onlineUsers(c *gin.Context) {
	users, err := s.d.Store.GetUsers(c.Request.Context(), s.d.Registry.OnlineUsers())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]onlineUserView, 0, len(users))
	for _, u := range users {
		out = append(out, onlineUserView{
			ID:       u.ID,
			Name:     u.Name,
			Email:    u.Email,
			IsOnline: true,
			LastSeen: formatPtr(u.LastSeen),
		})
	}
	c.JSON(http.StatusOK, out)
}
