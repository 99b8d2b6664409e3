// Package gateway serves the WebSocket endpoints and the REST chat API.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/registry"
	"github.com/matheus3301/relay/internal/router"
	"github.com/matheus3301/relay/internal/session"
	"github.com/matheus3301/relay/internal/store"
)

const readLimit = 64 << 10

// Authenticator resolves bearer tokens for REST requests.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*store.User, error)
}

// Store is what the REST handlers read and update.
type Store interface {
	ListMessages(ctx context.Context, f store.MessageFilter) ([]store.ChatMessage, error)
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]store.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	GetNotification(ctx context.Context, id int64) (*store.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64, at time.Time) (*store.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	GetUsers(ctx context.Context, ids []int64) ([]store.User, error)
}

// ChatRouter accepts chat messages submitted over REST.
type ChatRouter interface {
	RouteChatMessage(ctx context.Context, in router.ChatInput) (*store.ChatMessage, error)
}

// Deps are the gateway's collaborators.
type Deps struct {
	Sessions *session.Deps
	Auth     Authenticator
	Store    Store
	Router   ChatRouter
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Options tunes the gateway.
type Options struct {
	AllowedOrigins []string
	StoreTimeout   time.Duration

	// Accepting gates new chat sessions; nil always accepts.
	Accepting func() bool
}

// Server owns the gin engine and every live WebSocket session it accepted.
type Server struct {
	d      Deps
	opts   Options
	engine *gin.Engine
	logger *zap.Logger

	base     context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// New builds the gateway and its routes.
func New(d Deps, opts Options) *Server {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{d: d, opts: opts, logger: d.Logger.Named("gateway")}
	s.base, s.cancel = context.WithCancel(context.Background())

	e := gin.New()
	e.Use(gin.Recovery(), s.accessLog())

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	e.GET("/ws/chat", s.handleChat)
	e.GET("/ws/echo", s.handleEcho)

	api := e.Group("/chat", s.requireUser(), s.withTimeout())
	api.GET("/messages", s.listMessages)
	api.POST("/messages", s.createMessage)
	api.GET("/notifications", s.listNotifications)
	api.GET("/notifications/unread-count", s.unreadCount)
	api.PUT("/notifications/read-all", s.markAllRead)
	api.PUT("/notifications/:id/read", s.markRead)
	api.GET("/users/online", s.onlineUsers)

	s.engine = e
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Close ends every session and waits for their cleanup to finish.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) accept(c *gin.Context) (*websocket.Conn, bool) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil, false
	}
	ws.SetReadLimit(readLimit)
	return ws, true
}

func (s *Server) handleChat(c *gin.Context) {
	if s.opts.Accepting != nil && !s.opts.Accepting() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": session.ShutdownReason})
		return
	}
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	ws, ok := s.accept(c)
	if !ok {
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := session.New(ws, s.d.Sessions)
	if err := sess.Run(s.base, token); err != nil && !errors.Is(err, auth.ErrInvalidCredential) {
		s.logger.Warn("session ended with error", zap.String("conn_id", sess.ID()), zap.Error(err))
	}
}

func (s *Server) handleEcho(c *gin.Context) {
	ws, ok := s.accept(c)
	if !ok {
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()
	_ = session.Echo(s.base, ws, s.logger)
}

func (s *Server) handleHealth(c *gin.Context) {
	users, conns := s.d.Registry.Len()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "online_users": users, "connections": conns})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
