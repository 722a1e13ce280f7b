package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/seeks-project/seeks/internal/index"
)

// defaultRPCTimeout is the default timeout for RPC calls.
const defaultRPCTimeout = 5 * time.Second

// ErrEmptySocketPath is returned when an empty socket path is provided.
var ErrEmptySocketPath = errors.New("socket path cannot be empty")

// Client is the IPC client for the index daemon.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a new IPC client that connects to the index daemon
// via a Unix socket at the specified path.
func NewClient(sockPath string) (*Client, error) {
	if sockPath == "" {
		return nil, ErrEmptySocketPath
	}

	conn, err := grpc.Dial(
		"unix://"+sockPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IPC socket: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(method string, req map[string]any) (map[string]*structpb.Value, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRPCTimeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fmt.Errorf("%s RPC failed: %w", method, err)
	}
	return out.GetFields(), nil
}

func number(f map[string]*structpb.Value, name string) float64 {
	return f[name].GetNumberValue()
}

// Add indexes item.
func (c *Client) Add(item string) (index.AddResult, error) {
	f, err := c.call(MethodAdd, map[string]any{"item": item})
	if err != nil {
		return index.AddResult{}, err
	}
	return index.AddResult{
		Item:   f["item"].GetStringValue(),
		ID:     f["id"].GetStringValue(),
		Status: number(f, "status"),
		New:    f["new"].GetBoolValue(),
	}, nil
}

// Remove removes item.
func (c *Client) Remove(item string) (index.RemoveResult, error) {
	f, err := c.call(MethodRemove, map[string]any{"item": item})
	if err != nil {
		return index.RemoveResult{}, err
	}
	return index.RemoveResult{
		Item:    f["item"].GetStringValue(),
		Removed: int(number(f, "removed")),
		Lines:   int(number(f, "lines")),
		Deleted: f["deleted"].GetBoolValue(),
	}, nil
}

// Query returns the indexed items close to item.
func (c *Client) Query(item string, opts index.QueryOptions) ([]index.Match, error) {
	f, err := c.call(MethodQuery, map[string]any{
		"item":         item,
		"max_distance": opts.MaxDistance,
		"limit":        opts.Limit,
	})
	if err != nil {
		return nil, err
	}

	values := f["matches"].GetListValue().GetValues()
	matches := make([]index.Match, 0, len(values))
	for _, v := range values {
		m := v.GetStructValue().GetFields()
		matches = append(matches, index.Match{
			Item:        m["item"].GetStringValue(),
			Count:       int(number(m, "count")),
			Probability: number(m, "probability"),
			Distance:    int(number(m, "distance")),
			Radiance:    number(m, "radiance"),
		})
	}
	return matches, nil
}

// Stats retrieves the index statistics.
func (c *Client) Stats() (index.Stats, error) {
	f, err := c.call(MethodStats, map[string]any{})
	if err != nil {
		return index.Stats{}, err
	}
	return index.Stats{
		Items:             int(number(f, "items")),
		FilledSlots:       int(number(f, "filled_slots")),
		Buckets:           int(number(f, "buckets")),
		PooledBuckets:     int(number(f, "pooled_buckets")),
		MeanBucketsPerBin: number(f, "mean_buckets_per_bin"),
		K:                 int(number(f, "k")),
		L:                 int(number(f, "l")),
		TableSize:         uint64(number(f, "table_size")),
		FixedStrSize:      int(number(f, "fixed_str_size")),
	}, nil
}

// Distance compares a and b.
func (c *Client) Distance(a, b string) (index.Distance, error) {
	f, err := c.call(MethodDistance, map[string]any{"a": a, "b": b})
	if err != nil {
		return index.Distance{}, err
	}
	return index.Distance{
		Hamming:  int(number(f, "hamming")),
		Radiance: number(f, "radiance"),
	}, nil
}
