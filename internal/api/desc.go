package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified control service name.
const ServiceName = "relay.v1.ControlService"

// ControlServer is the server API for the control service.
type ControlServer interface {
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	ListOnlineUsers(context.Context, *ListOnlineUsersRequest) (*ListOnlineUsersResponse, error)
	CreateUser(context.Context, *CreateUserRequest) (*CreateUserResponse, error)
	IssueToken(context.Context, *IssueTokenRequest) (*IssueTokenResponse, error)
	PostMessage(context.Context, *PostMessageRequest) (*PostMessageResponse, error)
	CreateRoom(context.Context, *CreateRoomRequest) (*CreateRoomResponse, error)
	AddParticipant(context.Context, *AddParticipantRequest) (*AddParticipantResponse, error)
	SetUserActive(context.Context, *SetUserActiveRequest) (*SetUserActiveResponse, error)
	GetPresence(context.Context, *GetPresenceRequest) (*GetPresenceResponse, error)
	WatchPresence(*WatchPresenceRequest, PresenceStream) error
}

// PresenceStream is the server side of WatchPresence.
type PresenceStream interface {
	Send(*PresenceEvent) error
	Context() context.Context
}

// ControlServiceDesc describes the control service for grpc.Server.RegisterService.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ControlServer.GetStatus),
		unary("ListOnlineUsers", ControlServer.ListOnlineUsers),
		unary("CreateUser", ControlServer.CreateUser),
		unary("IssueToken", ControlServer.IssueToken),
		unary("PostMessage", ControlServer.PostMessage),
		unary("CreateRoom", ControlServer.CreateRoom),
		unary("AddParticipant", ControlServer.AddParticipant),
		unary("SetUserActive", ControlServer.SetUserActive),
		unary("GetPresence", ControlServer.GetPresence),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchPresence",
			Handler:       watchPresenceHandler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/control.json",
}

// RegisterControlServer registers srv with s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(ControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			cs := srv.(ControlServer)
			if interceptor == nil {
				return call(cs, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(cs, ctx, req.(*Req))
			})
		},
	}
}

type presenceServerStream struct {
	grpc.ServerStream
}

func (s *presenceServerStream) Send(evt *PresenceEvent) error { return s.SendMsg(evt) }

func watchPresenceHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchPresenceRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchPresence(in, &presenceServerStream{stream})
}
