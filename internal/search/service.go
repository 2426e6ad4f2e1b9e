package search

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dreamware/waypoint/internal/graph"
	"github.com/dreamware/waypoint/internal/lease"
	"github.com/dreamware/waypoint/internal/wire"
)

// Service implements wire.WorkerServer on top of one partition.
type Service struct {
	part       graph.Partition
	pool       *Pool
	processors *lease.Registry[wire.QueryID, *Processor]
	log        *slog.Logger
}

var _ wire.WorkerServer = (*Service)(nil)

// NewService creates the worker service. A nil logger uses slog.Default.
func NewService(part graph.Partition, pool *Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		part:       part,
		pool:       pool,
		processors: lease.New[wire.QueryID, *Processor](),
		log:        logger.With("worker_id", part.Worker()),
	}
}

// ActiveQueries returns the number of queries holding state on this worker
func (s *Service) ActiveQueries() int { return s.processors.Len() }

// AreNodesPresent reports which endpoints this partition owns.
func (s *Service) AreNodesPresent(_ context.Context, req *wire.PresenceRequest) (*wire.PresenceReply, error) {
	return &wire.PresenceReply{
		FromPresent: s.part.Contains(req.From),
		ToPresent:   s.part.Contains(req.To),
	}, nil
}

// UpdateSearch serves one round: merge everything the executer sends,
// relax once, report back.
func (s *Service) UpdateSearch(stream grpc.BidiStreamingServer[wire.SearchRequest, wire.SearchReply]) error {
	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return toStatus(ErrMissingDescriptor)
	}
	if err != nil {
		return err
	}
	desc := first.Descriptor
	if desc == nil {
		return toStatus(ErrMissingDescriptor)
	}
	id := desc.QueryID
	log := s.log.With("query_id", id)

	proc, created, err := s.processors.AcquireOrCreate(id, func() *Processor {
		return NewProcessor(s.part, id, desc.FinalNode)
	})
	if err != nil {
		roundsTotal.WithLabelValues("rejected").Inc()
		return toStatus(err)
	}
	if created {
		log.Debug("query processor created", "final_node", desc.FinalNode)
	}
	if proc.Finished() {
		s.processors.Release(id, proc)
		roundsTotal.WithLabelValues("rejected").Inc()
		return toStatus(ErrQueryFinished)
	}
	proc.SetBound(desc.Bound)

	merged := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			switch {
			case msg.Descriptor != nil:
				err = ErrDuplicateDescriptor
			case msg.Node == nil:
				err = ErrEmptyMessage
			default:
				err = proc.Merge(*msg.Node)
			}
		}
		if err != nil {
			s.abandon(id, log, err)
			return toStatus(err)
		}
		merged++
	}

	proc, out, err := s.pool.Relax(stream.Context(), proc)
	if err != nil {
		s.processors.Release(id, proc)
		return toStatus(err)
	}

	if err := s.sendOutcome(stream, out); err != nil {
		s.abandon(id, log, err)
		return err
	}
	result := "drained"
	switch {
	case out.Success != nil:
		result = "success"
	case out.Watermark != nil:
		result = "watermark"
	}
	roundsTotal.WithLabelValues(result).Inc()
	log.Debug("round served",
		"merged", merged, "foreign", len(out.Foreign), "result", result, "relaxed", proc.Relaxed())

	if !s.processors.Release(id, proc) {
		log.Debug("query forgotten during round")
	}
	return nil
}

func (s *Service) sendOutcome(stream grpc.BidiStreamingServer[wire.SearchRequest, wire.SearchReply], out Outcome) error {
	for i := range out.Foreign {
		if err := stream.Send(&wire.SearchReply{Foreign: &out.Foreign[i]}); err != nil {
			return err
		}
	}
	foreignReported.Add(float64(len(out.Foreign)))
	switch {
	case out.Success != nil:
		return stream.Send(&wire.SearchReply{Success: out.Success})
	case out.Watermark != nil:
		return stream.Send(&wire.SearchReply{Watermark: out.Watermark})
	}
	return nil
}

// abandon drops a query whose round failed while its lease was held.
func (s *Service) abandon(id wire.QueryID, log *slog.Logger, err error) {
	s.processors.Remove(id)
	roundsTotal.WithLabelValues("failed").Inc()
	log.Warn("query abandoned", "err", err)
}

// ForgetQuery drops the query's processor.
func (s *Service) ForgetQuery(_ context.Context, req *wire.ForgetRequest) (*wire.Empty, error) {
	if _, err := s.processors.Forget(req.QueryID); err != nil {
		return nil, toStatus(err)
	}
	s.log.Debug("query forgotten", "query_id", req.QueryID)
	return &wire.Empty{}, nil
}

// Backtrack streams the predecessors of req.From recorded on this worker.
func (s *Service) Backtrack(req *wire.BacktrackRequest, stream grpc.ServerStreamingServer[wire.Hop]) error {
	proc, err := s.processors.Acquire(req.QueryID)
	if err != nil {
		return toStatus(err)
	}
	defer s.processors.Release(req.QueryID, proc)

	err = proc.Backtrack(req.From, func(h wire.Hop) error {
		return stream.Send(&h)
	})
	if err != nil {
		return toStatus(err)
	}
	return nil
}

// GetCoordinates resolves coordinates of local nodes in request order.
func (s *Service) GetCoordinates(_ context.Context, req *wire.CoordinatesRequest) (*wire.CoordinatesReply, error) {
	out := &wire.CoordinatesReply{Coords: make([]graph.Coordinates, 0, len(req.Nodes))}
	for _, id := range req.Nodes {
		idx, err := s.part.Lookup(id)
		if err != nil {
			return nil, toStatus(err)
		}
		out.Coords = append(out.Coords, s.part.Node(idx).Coords)
	}
	return out, nil
}

func toStatus(err error) error {
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, ErrMisrouted),
		errors.Is(err, lease.ErrBusy),
		errors.Is(err, ErrMissingDescriptor),
		errors.Is(err, ErrDuplicateDescriptor),
		errors.Is(err, ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, lease.ErrNotFound),
		errors.Is(err, graph.ErrNodeNotFound),
		errors.Is(err, ErrNoParent):
		code = codes.NotFound
	case errors.Is(err, ErrQueryFinished):
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}
