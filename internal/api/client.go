package api

import (
	"context"

	"google.golang.org/grpc"
)

// ControlClient calls the control service. Every call is sent with the JSON codec.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps a connection to the daemon.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *ControlClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	if err := c.invoke(ctx, "GetStatus", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) ListOnlineUsers(ctx context.Context, in *ListOnlineUsersRequest, opts ...grpc.CallOption) (*ListOnlineUsersResponse, error) {
	out := new(ListOnlineUsersResponse)
	if err := c.invoke(ctx, "ListOnlineUsers", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) CreateUser(ctx context.Context, in *CreateUserRequest, opts ...grpc.CallOption) (*CreateUserResponse, error) {
	out := new(CreateUserResponse)
	if err := c.invoke(ctx, "CreateUser", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) IssueToken(ctx context.Context, in *IssueTokenRequest, opts ...grpc.CallOption) (*IssueTokenResponse, error) {
	out := new(IssueTokenResponse)
	if err := c.invoke(ctx, "IssueToken", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) PostMessage(ctx context.Context, in *PostMessageRequest, opts ...grpc.CallOption) (*PostMessageResponse, error) {
	out := new(PostMessageResponse)
	if err := c.invoke(ctx, "PostMessage", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) CreateRoom(ctx context.Context, in *CreateRoomRequest, opts ...grpc.CallOption) (*CreateRoomResponse, error) {
	out := new(CreateRoomResponse)
	if err := c.invoke(ctx, "CreateRoom", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) AddParticipant(ctx context.Context, in *AddParticipantRequest, opts ...grpc.CallOption) (*AddParticipantResponse, error) {
	out := new(AddParticipantResponse)
	if err := c.invoke(ctx, "AddParticipant", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) SetUserActive(ctx context.Context, in *SetUserActiveRequest, opts ...grpc.CallOption) (*SetUserActiveResponse, error) {
	out := new(SetUserActiveResponse)
	if err := c.invoke(ctx, "SetUserActive", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) GetPresence(ctx context.Context, in *GetPresenceRequest, opts ...grpc.CallOption) (*GetPresenceResponse, error) {
	out := new(GetPresenceResponse)
	if err := c.invoke(ctx, "GetPresence", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// PresenceWatcher receives WatchPresence events.
type PresenceWatcher struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the server ends the stream.
func (w *PresenceWatcher) Recv() (*PresenceEvent, error) {
	evt := new(PresenceEvent)
	if err := w.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func (c *ControlClient) WatchPresence(ctx context.Context, in *WatchPresenceRequest, opts ...grpc.CallOption) (*PresenceWatcher, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ControlServiceDesc.Streams[0], fullMethod("WatchPresence"), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &PresenceWatcher{stream: stream}, nil
}
