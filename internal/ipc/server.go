package ipc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/seeks-project/seeks/internal/index"
)

// Index is the index API served over IPC.
type Index interface {
	Add(ctx context.Context, item string) (index.AddResult, error)
	Remove(ctx context.Context, item string) (index.RemoveResult, error)
	Query(item string, opts index.QueryOptions) []index.Match
	Stats() index.Stats
	Distance(a, b string) index.Distance
}

// Server is the IPC gRPC server.
type Server struct {
	sockPath string
	index    Index
	logger   *slog.Logger
	grpc     *grpc.Server
	listener net.Listener
}

// NewServer creates a new IPC server listening on sockPath.
func NewServer(sockPath string, idx Index, logger *slog.Logger) (*Server, error) {
	if sockPath == "" {
		return nil, ErrEmptySocketPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Remove existing socket if present
	os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		sockPath: sockPath,
		index:    idx,
		logger:   logger,
		listener: listener,
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))

	RegisterIndexServer(s.grpc, s)

	return s, nil
}

// Start begins serving requests.
func (s *Server) Start() error {
	return s.grpc.Serve(s.listener)
}

// Stop gracefully stops the server and removes the socket.
func (s *Server) Stop() error {
	s.grpc.GracefulStop()
	if err := os.Remove(s.sockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("ipc call failed", "method", info.FullMethod, "error", err)
		return resp, err
	}
	s.logger.Debug("ipc call", "method", info.FullMethod, "duration", time.Since(start))
	return resp, nil
}

func stringField(in *structpb.Struct, name string) (string, error) {
	v := in.GetFields()[name].GetStringValue()
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "missing %q", name)
	}
	return v, nil
}

func indexError(err error) error {
	if errors.Is(err, index.ErrEmptyItem) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Add implements IndexServer.
func (s *Server) Add(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	item, err := stringField(in, "item")
	if err != nil {
		return nil, err
	}
	res, err := s.index.Add(ctx, item)
	if err != nil {
		return nil, indexError(err)
	}
	return newStruct(map[string]any{
		"item":   res.Item,
		"id":     res.ID,
		"status": res.Status,
		"new":    res.New,
	})
}

// Remove implements IndexServer.
func (s *Server) Remove(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	item, err := stringField(in, "item")
	if err != nil {
		return nil, err
	}
	res, err := s.index.Remove(ctx, item)
	if err != nil {
		return nil, indexError(err)
	}
	return newStruct(map[string]any{
		"item":    res.Item,
		"removed": res.Removed,
		"lines":   res.Lines,
		"deleted": res.Deleted,
	})
}

// Query implements IndexServer.
func (s *Server) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	item, err := stringField(in, "item")
	if err != nil {
		return nil, err
	}
	opts := index.QueryOptions{MaxDistance: -1}
	if v, ok := in.GetFields()["max_distance"]; ok {
		opts.MaxDistance = int(v.GetNumberValue())
	}
	if v, ok := in.GetFields()["limit"]; ok {
		opts.Limit = int(v.GetNumberValue())
	}

	matches := s.index.Query(item, opts)
	list := make([]any, 0, len(matches))
	for _, m := range matches {
		list = append(list, map[string]any{
			"item":        m.Item,
			"count":       m.Count,
			"probability": m.Probability,
			"distance":    m.Distance,
			"radiance":    m.Radiance,
		})
	}
	return newStruct(map[string]any{"matches": list})
}

// Stats implements IndexServer.
func (s *Server) Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	st := s.index.Stats()
	return newStruct(map[string]any{
		"items":                st.Items,
		"filled_slots":         st.FilledSlots,
		"buckets":              st.Buckets,
		"pooled_buckets":       st.PooledBuckets,
		"mean_buckets_per_bin": st.MeanBucketsPerBin,
		"k":                    st.K,
		"l":                    st.L,
		"table_size":           st.TableSize,
		"fixed_str_size":       st.FixedStrSize,
	})
}

// Distance implements IndexServer.
func (s *Server) Distance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a, err := stringField(in, "a")
	if err != nil {
		return nil, err
	}
	b, err := stringField(in, "b")
	if err != nil {
		return nil, err
	}
	d := s.index.Distance(a, b)
	return newStruct(map[string]any{
		"hamming":  d.Hamming,
		"radiance": d.Radiance,
	})
}
