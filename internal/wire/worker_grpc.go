package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	workerService         = "waypoint.Worker"
	workerAreNodesPresent = "/waypoint.Worker/AreNodesPresent"
	workerUpdateSearch    = "/waypoint.Worker/UpdateSearch"
	workerForgetQuery     = "/waypoint.Worker/ForgetQuery"
	workerBacktrack       = "/waypoint.Worker/Backtrack"
	workerGetCoordinates  = "/waypoint.Worker/GetCoordinates"
)

// WorkerServer is implemented by the query processor service of a worker.
type WorkerServer interface {
	AreNodesPresent(context.Context, *PresenceRequest) (*PresenceReply, error)
	UpdateSearch(grpc.BidiStreamingServer[SearchRequest, SearchReply]) error
	ForgetQuery(context.Context, *ForgetRequest) (*Empty, error)
	Backtrack(*BacktrackRequest, grpc.ServerStreamingServer[Hop]) error
	GetCoordinates(context.Context, *CoordinatesRequest) (*CoordinatesReply, error)
}

// WorkerClient is the executer's handle on one worker.
type WorkerClient interface {
	AreNodesPresent(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*PresenceReply, error)
	UpdateSearch(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[SearchRequest, SearchReply], error)
	ForgetQuery(ctx context.Context, in *ForgetRequest, opts ...grpc.CallOption) (*Empty, error)
	Backtrack(ctx context.Context, in *BacktrackRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Hop], error)
	GetCoordinates(ctx context.Context, in *CoordinatesRequest, opts ...grpc.CallOption) (*CoordinatesReply, error)
}

// RegisterWorkerServer attaches srv to s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&workerDesc, srv)
}

var workerDesc = grpc.ServiceDesc{
	ServiceName: workerService,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AreNodesPresent",
			Handler: unary(workerAreNodesPresent, func(srv any, ctx context.Context, in *PresenceRequest) (*PresenceReply, error) {
				return srv.(WorkerServer).AreNodesPresent(ctx, in)
			}),
		},
		{
			MethodName: "ForgetQuery",
			Handler: unary(workerForgetQuery, func(srv any, ctx context.Context, in *ForgetRequest) (*Empty, error) {
				return srv.(WorkerServer).ForgetQuery(ctx, in)
			}),
		},
		{
			MethodName: "GetCoordinates",
			Handler: unary(workerGetCoordinates, func(srv any, ctx context.Context, in *CoordinatesRequest) (*CoordinatesReply, error) {
				return srv.(WorkerServer).GetCoordinates(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "UpdateSearch",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(WorkerServer).UpdateSearch(&grpc.GenericServerStream[SearchRequest, SearchReply]{ServerStream: stream})
			},
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName: "Backtrack",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(BacktrackRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(WorkerServer).Backtrack(in, &grpc.GenericServerStream[BacktrackRequest, Hop]{ServerStream: stream})
			},
			ServerStreams: true,
		},
	},
}

type workerClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkerClient wraps a connection to a worker.
func NewWorkerClient(cc grpc.ClientConnInterface) WorkerClient {
	return &workerClient{cc: cc}
}

func (c *workerClient) AreNodesPresent(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*PresenceReply, error) {
	out := new(PresenceReply)
	if err := c.cc.Invoke(ctx, workerAreNodesPresent, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) UpdateSearch(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[SearchRequest, SearchReply], error) {
	stream, err := c.cc.NewStream(ctx, &workerDesc.Streams[0], workerUpdateSearch, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[SearchRequest, SearchReply]{ClientStream: stream}, nil
}

func (c *workerClient) ForgetQuery(ctx context.Context, in *ForgetRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, workerForgetQuery, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) Backtrack(ctx context.Context, in *BacktrackRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Hop], error) {
	stream, err := c.cc.NewStream(ctx, &workerDesc.Streams[1], workerBacktrack, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return openServerStream[BacktrackRequest, Hop](stream, in)
}

func (c *workerClient) GetCoordinates(ctx context.Context, in *CoordinatesRequest, opts ...grpc.CallOption) (*CoordinatesReply, error) {
	out := new(CoordinatesReply)
	if err := c.cc.Invoke(ctx, workerGetCoordinates, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// unary adapts a typed handler to grpc.MethodHandler, running interceptors.
func unary[Req, Res any](method string, call func(srv any, ctx context.Context, in *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// openServerStream sends the single request of a server-streaming call.
func openServerStream[Req, Res any](stream grpc.ClientStream, in *Req) (grpc.ServerStreamingClient[Res], error) {
	x := &grpc.GenericClientStream[Req, Res]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
