package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	executerService           = "waypoint.Executer"
	executerShortestPathQuery = "/waypoint.Executer/ShortestPathQuery"
	executerBacktrackPath     = "/waypoint.Executer/BacktrackPath"
	executerForgetQuery       = "/waypoint.Executer/ForgetQuery"
	executerGetCoordinates    = "/waypoint.Executer/GetCoordinates"
)

// ExecuterServer is the client-facing query API.
type ExecuterServer interface {
	ShortestPathQuery(context.Context, *PathRequest) (*PathReply, error)
	BacktrackPath(*QueryRef, grpc.ServerStreamingServer[PathHop]) error
	ForgetQuery(context.Context, *QueryRef) (*Empty, error)
	GetCoordinates(context.Context, *CoordinatesLookup) (*CoordinatesReply, error)
}

// ExecuterClient is the caller side of ExecuterServer.
type ExecuterClient interface {
	ShortestPathQuery(ctx context.Context, in *PathRequest, opts ...grpc.CallOption) (*PathReply, error)
	BacktrackPath(ctx context.Context, in *QueryRef, opts ...grpc.CallOption) (grpc.ServerStreamingClient[PathHop], error)
	ForgetQuery(ctx context.Context, in *QueryRef, opts ...grpc.CallOption) (*Empty, error)
	GetCoordinates(ctx context.Context, in *CoordinatesLookup, opts ...grpc.CallOption) (*CoordinatesReply, error)
}

// RegisterExecuterServer attaches srv to s.
func RegisterExecuterServer(s grpc.ServiceRegistrar, srv ExecuterServer) {
	s.RegisterService(&executerDesc, srv)
}

var executerDesc = grpc.ServiceDesc{
	ServiceName: executerService,
	HandlerType: (*ExecuterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ShortestPathQuery",
			Handler: unary(executerShortestPathQuery, func(srv any, ctx context.Context, in *PathRequest) (*PathReply, error) {
				return srv.(ExecuterServer).ShortestPathQuery(ctx, in)
			}),
		},
		{
			MethodName: "ForgetQuery",
			Handler: unary(executerForgetQuery, func(srv any, ctx context.Context, in *QueryRef) (*Empty, error) {
				return srv.(ExecuterServer).ForgetQuery(ctx, in)
			}),
		},
		{
			MethodName: "GetCoordinates",
			Handler: unary(executerGetCoordinates, func(srv any, ctx context.Context, in *CoordinatesLookup) (*CoordinatesReply, error) {
				return srv.(ExecuterServer).GetCoordinates(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "BacktrackPath",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(QueryRef)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ExecuterServer).BacktrackPath(in, &grpc.GenericServerStream[QueryRef, PathHop]{ServerStream: stream})
			},
			ServerStreams: true,
		},
	},
}

type executerClient struct {
	cc grpc.ClientConnInterface
}

// NewExecuterClient wraps a connection to the executer.
func NewExecuterClient(cc grpc.ClientConnInterface) ExecuterClient {
	return &executerClient{cc: cc}
}

func (c *executerClient) ShortestPathQuery(ctx context.Context, in *PathRequest, opts ...grpc.CallOption) (*PathReply, error) {
	out := new(PathReply)
	if err := c.cc.Invoke(ctx, executerShortestPathQuery, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *executerClient) BacktrackPath(ctx context.Context, in *QueryRef, opts ...grpc.CallOption) (grpc.ServerStreamingClient[PathHop], error) {
	stream, err := c.cc.NewStream(ctx, &executerDesc.Streams[0], executerBacktrackPath, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return openServerStream[QueryRef, PathHop](stream, in)
}

func (c *executerClient) ForgetQuery(ctx context.Context, in *QueryRef, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, executerForgetQuery, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *executerClient) GetCoordinates(ctx context.Context, in *CoordinatesLookup, opts ...grpc.CallOption) (*CoordinatesReply, error) {
	out := new(CoordinatesReply)
	if err := c.cc.Invoke(ctx, executerGetCoordinates, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
