package query

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dreamware/waypoint/internal/lease"
	"github.com/dreamware/waypoint/internal/wire"
)

// Service implements wire.ExecuterServer.
type Service struct {
	manager *Manager
}

var _ wire.ExecuterServer = (*Service)(nil)

// NewService exposes m over gRPC.
func NewService(m *Manager) *Service {
	return &Service{manager: m}
}

func (s *Service) ShortestPathQuery(ctx context.Context, req *wire.PathRequest) (*wire.PathReply, error) {
	d, id, err := s.manager.ShortestPath(ctx, req.From, req.To)
	if err != nil {
		return nil, toStatus(err)
	}
	return &wire.PathReply{Distance: d, QueryID: id}, nil
}

func (s *Service) BacktrackPath(req *wire.QueryRef, stream grpc.ServerStreamingServer[wire.PathHop]) error {
	err := s.manager.Backtrack(stream.Context(), req.QueryID, func(h wire.PathHop) error {
		return stream.Send(&h)
	})
	if err != nil {
		return toStatus(err)
	}
	return nil
}

func (s *Service) ForgetQuery(ctx context.Context, req *wire.QueryRef) (*wire.Empty, error) {
	if err := s.manager.Forget(ctx, req.QueryID); err != nil {
		return nil, toStatus(err)
	}
	return &wire.Empty{}, nil
}

func (s *Service) GetCoordinates(ctx context.Context, req *wire.CoordinatesLookup) (*wire.CoordinatesReply, error) {
	coords, err := s.manager.Coordinates(ctx, req.Hops)
	if err != nil {
		return nil, toStatus(err)
	}
	return &wire.CoordinatesReply{Coords: coords}, nil
}

// RateLimit rejects unary calls with ResourceExhausted once l runs dry.
func RateLimit(l *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !l.Allow() {
			return nil, status.Errorf(codes.ResourceExhausted, "%s: query rate exceeded", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

// toStatus maps query errors onto gRPC codes. Errors that already carry a
// status, such as transport failures from a worker, keep it.
func toStatus(err error) error {
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, lease.ErrNotFound),
		errors.Is(err, ErrEndpointNotFound),
		errors.Is(err, ErrNoPath):
		code = codes.NotFound
	case errors.Is(err, lease.ErrBusy),
		errors.Is(err, ErrInvalidHop):
		code = codes.InvalidArgument
	}
	return status.Error(code, err.Error())
}
