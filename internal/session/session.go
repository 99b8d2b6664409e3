// Package session runs one authenticated chat connection from handshake to cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/frame"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/registry"
	"github.com/matheus3301/relay/internal/router"
	"github.com/matheus3301/relay/internal/store"
)

// RejectReason is the close reason sent when authentication fails.
const RejectReason = "Invalid authentication"

// ShutdownReason is the close reason sent when the server stops a session.
const ShutdownReason = "Server shutting down"

// Transport is the duplex message connection a session owns.
// *websocket.Conn satisfies it.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Resolver maps a bearer token to a user.
type Resolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// Router is the delivery side a session uses.
type Router interface {
	SendToConn(ctx context.Context, conn registry.Conn, payload any) error
	RouteChatMessage(ctx context.Context, in router.ChatInput) (*store.ChatMessage, error)
}

// Presence receives the session's online/offline transitions.
type Presence interface {
	MarkOnline(ctx context.Context, user int64)
	UserOnline(ctx context.Context, user int64)
	UserOffline(ctx context.Context, user int64)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Resolver Resolver
	Registry *registry.Registry
	Router   Router
	Presence Presence
	Bus      *bus.Bus
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	// FrameRate limits inbound frames per second; 0 disables the limit.
	FrameRate  float64
	FrameBurst int
}

// Session owns one transport. It implements registry.Conn.
type Session struct {
	id      string
	ws      Transport
	deps    *Deps
	logger  *zap.Logger
	created time.Time
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	user  int64

	cleanupOnce sync.Once
	closeOnce   sync.Once
}

// New wraps an accepted transport in a session in the CONNECTING state.
func New(ws Transport, deps *Deps) *Session {
	s := &Session{
		id:      uuid.NewString(),
		ws:      ws,
		deps:    deps,
		created: time.Now(),
		state:   Connecting,
	}
	s.logger = deps.Logger.With(zap.String("conn_id", s.id))
	if deps.FrameRate > 0 {
		burst := deps.FrameBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(deps.FrameRate), burst)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) User() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send writes one text frame. Safe for concurrent use.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	return s.ws.Write(ctx, websocket.MessageText, payload)
}

// Drop asks the session to end; its receive loop exits and cleanup runs.
func (s *Session) Drop() {
	s.cancel()
}

// shutdown closes the transport with going-away before ending the receive loop.
func (s *Session) shutdown() {
	s.closeTransport(websocket.StatusGoingAway, ShutdownReason)
	s.cancel()
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(to); err != nil {
		s.logger.DPanic("session state", zap.Error(err))
	}
}

// Run authenticates token, then processes frames until the connection ends.
// Cleanup runs on every return path once the session has been activated.
// The returned error is nil for an orderly client close.
func (s *Session) Run(ctx context.Context, token string) error {
	stop := context.AfterFunc(ctx, s.shutdown)
	defer stop()
	defer s.cancel()

	s.setState(Authenticating)
	user, err := s.deps.Resolver.Resolve(s.ctx, token)
	if err != nil {
		s.setState(Rejected)
		s.deps.Metrics.SessionRejected()
		s.logger.Info("connection rejected", zap.Error(err))
		s.closeTransport(websocket.StatusPolicyViolation, RejectReason)
		return fmt.Errorf("authenticate: %w", err)
	}

	defer s.cleanup()
	s.activate(user)

	return s.readLoop()
}

func (s *Session) activate(user int64) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.logger = s.logger.With(zap.Int64("user_id", user))

	s.deps.Presence.MarkOnline(s.ctx, user)
	first := s.deps.Registry.Register(user, s)
	s.deps.Metrics.SetConnections(s.deps.Registry.Len())
	if first {
		s.deps.Presence.UserOnline(s.ctx, user)
	}
	s.setState(Active)
	s.deps.Bus.Emit(bus.KindSessionOpened, bus.SessionChanged{ConnID: s.id, UserID: user, State: string(Active)})
	s.logger.Info("session active", zap.Bool("first", first))

	s.reply(frame.NewConnected(user))
}

func (s *Session) readLoop() error {
	for {
		_, data, err := s.ws.Read(s.ctx)
		if err != nil {
			return closeError(err)
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return nil
			}
		}
		s.handle(data)
	}
}

// handle processes one inbound frame. Errors never end the session.
func (s *Session) handle(data []byte) {
	in, err := frame.Parse(data)
	if err != nil {
		s.deps.Metrics.FrameReceived("invalid")
		var pe *frame.ProtocolError
		if errors.As(err, &pe) {
			s.reply(frame.NewError(pe.Reason))
		} else {
			s.reply(frame.NewError("Error processing message: " + err.Error()))
		}
		return
	}
	s.deps.Metrics.FrameReceived(in.Type)

	switch in.Type {
	case frame.TypePing:
		s.reply(frame.NewPong())
	case frame.TypeChatMessage:
		_, err := s.deps.Router.RouteChatMessage(s.ctx, router.ChatInput{
			SenderID:   s.User(),
			ReceiverID: in.ReceiverID,
			RoomID:     in.ChatRoomID,
			Body:       in.Message,
		})
		var ve *router.ValidationError
		switch {
		case errors.As(err, &ve):
			s.reply(frame.NewError(ve.Reason))
		case err != nil:
			s.logger.Warn("route chat message", zap.Error(err))
			s.reply(frame.NewError("Error processing message: " + err.Error()))
		}
	}
}

func (s *Session) reply(payload any) {
	if err := s.deps.Router.SendToConn(s.ctx, s, payload); err != nil {
		s.logger.Debug("reply failed", zap.Error(err))
	}
}

// cleanup deregisters the connection and fires the offline transition when it
// was the user's last. Safe to call more than once.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.setState(Closing)
		user, last := s.deps.Registry.Deregister(s)
		s.deps.Metrics.SetConnections(s.deps.Registry.Len())
		if last {
			s.deps.Presence.UserOffline(context.WithoutCancel(s.ctx), user)
		}
		s.closeTransport(websocket.StatusNormalClosure, "")
		s.setState(Closed)
		s.deps.Bus.Emit(bus.KindSessionClosed, bus.SessionChanged{ConnID: s.id, UserID: s.User(), State: string(Closed)})
		s.logger.Info("session closed", zap.Bool("last", last), zap.Duration("age", time.Since(s.created)))
	})
}

func (s *Session) closeTransport(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		if err := s.ws.Close(code, reason); err != nil {
			s.deps.Logger.Debug("close transport", zap.String("conn_id", s.id), zap.Error(err))
		}
	})
}

// closeError maps an orderly peer close or local cancellation to nil.
func closeError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
