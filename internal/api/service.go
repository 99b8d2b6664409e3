// Package api implements the daemon's local control service, served over gRPC
// on the instance's unix socket.
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/registry"
	"github.com/matheus3301/relay/internal/router"
	"github.com/matheus3301/relay/internal/status"
	"github.com/matheus3301/relay/internal/store"
)

// Store is the persistence the control service reads and writes.
type Store interface {
	CreateUser(ctx context.Context, name, email string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUsers(ctx context.Context, ids []int64) ([]store.User, error)
	CreateRoom(ctx context.Context, name, description string, private bool, createdBy int64) (*store.ChatRoom, error)
	GetRoom(ctx context.Context, id int64) (*store.ChatRoom, error)
	AddParticipant(ctx context.Context, roomID, userID int64, role string) error
	SetUserActive(ctx context.Context, id int64, active bool) error
	SchemaVersion() (uint, error)
}

// PresenceLookup reads the shared presence mirror.
type PresenceLookup interface {
	Lookup(ctx context.Context, user int64) (owner string, online bool, err error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(email string, ttl time.Duration) (string, time.Time, error)
}

// ChatRouter routes messages posted by operators.
type ChatRouter interface {
	RouteChatMessage(ctx context.Context, in router.ChatInput) (*store.ChatMessage, error)
}

// Deps are the control service's collaborators.
type Deps struct {
	Instance string
	Listen   func() string
	Machine  *status.Machine
	Registry *registry.Registry
	Store    Store
	Tokens   TokenIssuer
	Router   ChatRouter
	Mirror   PresenceLookup // nil when no mirror is running
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// ControlService implements ControlServer.
type ControlService struct {
	d         Deps
	startedAt time.Time
	logger    *zap.Logger
}

// NewControlService creates the control service.
func NewControlService(d Deps) *ControlService {
	return &ControlService{d: d, startedAt: time.Now(), logger: d.Logger.Named("control")}
}

func (s *ControlService) GetStatus(_ context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	users, conns := s.d.Registry.Len()
	state, since := s.d.Machine.Snapshot()
	resp := &GetStatusResponse{
		Instance:      s.d.Instance,
		Status:        string(state),
		StatusSinceMs: since.UnixMilli(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Listen:        s.d.Listen(),
		OnlineUsers:   users,
		Connections:   conns,
		DroppedEvents: s.d.Bus.Dropped(),
	}
	if v, err := s.d.Store.SchemaVersion(); err == nil {
		resp.SchemaVersion = v
	}
	return resp, nil
}

func (s *ControlService) ListOnlineUsers(ctx context.Context, _ *ListOnlineUsersRequest) (*ListOnlineUsersResponse, error) {
	users, err := s.d.Store.GetUsers(ctx, s.d.Registry.OnlineUsers())
	if err != nil {
		return nil, toStatus("list online users", err)
	}
	resp := &ListOnlineUsersResponse{Users: make([]User, 0, len(users))}
	for i := range users {
		u := userToAPI(&users[i])
		u.IsOnline = true
		resp.Users = append(resp.Users, u)
	}
	return resp, nil
}

func (s *ControlService) CreateUser(ctx context.Context, req *CreateUserRequest) (*CreateUserResponse, error) {
	name, email := strings.TrimSpace(req.Name), strings.TrimSpace(req.Email)
	if name == "" || email == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "name and email are required")
	}
	u, err := s.d.Store.CreateUser(ctx, name, email)
	if err != nil {
		return nil, toStatus("create user", err)
	}
	s.logger.Info("user created", zap.Int64("user_id", u.ID), zap.String("email", u.Email))
	return &CreateUserResponse{User: userToAPI(u)}, nil
}

func (s *ControlService) IssueToken(ctx context.Context, req *IssueTokenRequest) (*IssueTokenResponse, error) {
	if req.TTLSeconds < 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "ttl_seconds must not be negative")
	}
	u, err := s.d.Store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, toStatus("issue token", err)
	}
	token, exp, err := s.d.Tokens.Issue(u.Email, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return nil, toStatus("issue token", err)
	}
	return &IssueTokenResponse{Token: token, ExpiresAtMs: exp.UnixMilli()}, nil
}

func (s *ControlService) PostMessage(ctx context.Context, req *PostMessageRequest) (*PostMessageResponse, error) {
	msg, err := s.d.Router.RouteChatMessage(ctx, router.ChatInput{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		RoomID:     req.RoomID,
		Body:       req.Message,
	})
	if err != nil {
		return nil, toStatus("post message", err)
	}
	return &PostMessageResponse{
		ChatID:      msg.ID,
		MessageType: string(msg.Type),
		CreatedAtMs: msg.CreatedAt.UnixMilli(),
	}, nil
}

func (s *ControlService) CreateRoom(ctx context.Context, req *CreateRoomRequest) (*CreateRoomResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room name is required")
	}
	if err := s.requireUser(ctx, req.CreatedBy); err != nil {
		return nil, err
	}
	room, err := s.d.Store.CreateRoom(ctx, req.Name, req.Description, req.Private, req.CreatedBy)
	if err != nil {
		return nil, toStatus("create room", err)
	}
	return &CreateRoomResponse{RoomID: room.ID}, nil
}

func (s *ControlService) AddParticipant(ctx context.Context, req *AddParticipantRequest) (*AddParticipantResponse, error) {
	if _, err := s.d.Store.GetRoom(ctx, req.RoomID); err != nil {
		return nil, toStatus("get room", err)
	}
	if err := s.requireUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	if err := s.d.Store.AddParticipant(ctx, req.RoomID, req.UserID, req.Role); err != nil {
		return nil, toStatus("add participant", err)
	}
	return &AddParticipantResponse{}, nil
}

// SetUserActive enables or disables an account. Disabling also drops the
// user's live connections; their tokens stop resolving at once.
func (s *ControlService) SetUserActive(ctx context.Context, req *SetUserActiveRequest) (*SetUserActiveResponse, error) {
	if err := s.d.Store.SetUserActive(ctx, req.UserID, req.Active); err != nil {
		return nil, toStatus("set user active", err)
	}
	resp := &SetUserActiveResponse{}
	if !req.Active {
		for _, c := range s.d.Registry.ConnectionsFor(req.UserID) {
			c.Drop()
			resp.DroppedConnections++
		}
	}
	s.logger.Info("user active changed",
		zap.Int64("user_id", req.UserID),
		zap.Bool("active", req.Active),
		zap.Int("dropped", resp.DroppedConnections),
	)
	return resp, nil
}

// GetPresence reports user's presence on this daemon and, when a mirror is
// running, which daemon the mirror says holds the user.
func (s *ControlService) GetPresence(ctx context.Context, req *GetPresenceRequest) (*GetPresenceResponse, error) {
	conns := len(s.d.Registry.ConnectionsFor(req.UserID))
	resp := &GetPresenceResponse{UserID: req.UserID, Online: conns > 0, Connections: conns}
	if s.d.Mirror == nil {
		return resp, nil
	}
	owner, ok, err := s.d.Mirror.Lookup(ctx, req.UserID)
	if err != nil {
		return nil, toStatus("mirror lookup", err)
	}
	resp.Mirrored = ok
	resp.MirrorOwner = owner
	return resp, nil
}

// WatchPresence streams the currently online users, then every presence
// transition until the client goes away.
func (s *ControlService) WatchPresence(_ *WatchPresenceRequest, stream PresenceStream) error {
	ch, unsub := s.d.Bus.Subscribe("presence.", 256)
	defer unsub()

	now := time.Now().UnixMilli()
	for _, id := range s.d.Registry.OnlineUsers() {
		if err := stream.Send(&PresenceEvent{UserID: id, Online: true, OccurredAtMs: now}); err != nil {
			return err
		}
	}

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			p, ok := evt.Payload.(bus.PresenceChanged)
			if !ok {
				continue
			}
			if err := stream.Send(&PresenceEvent{
				UserID:       p.UserID,
				Online:       p.Online,
				OccurredAtMs: evt.Timestamp.UnixMilli(),
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *ControlService) requireUser(ctx context.Context, id int64) error {
	users, err := s.d.Store.GetUsers(ctx, []int64{id})
	if err != nil {
		return toStatus("get user", err)
	}
	if len(users) == 0 {
		return grpcstatus.Errorf(codes.NotFound, "user %d not found", id)
	}
	return nil
}

func toStatus(op string, err error) error {
	var verr *router.ValidationError
	switch {
	case errors.As(err, &verr):
		return grpcstatus.Error(codes.InvalidArgument, verr.Reason)
	case errors.Is(err, store.ErrNotFound):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, store.ErrConflict):
		return grpcstatus.Errorf(codes.AlreadyExists, "%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	default:
		return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func userToAPI(u *store.User) User {
	out := User{ID: u.ID, Name: u.Name, Email: u.Email, IsActive: u.IsActive, IsOnline: u.IsOnline}
	if u.LastSeen != nil {
		ms := u.LastSeen.UnixMilli()
		out.LastSeenMs = &ms
	}
	return out
}
