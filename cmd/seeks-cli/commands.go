package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sugawarayuuta/sonnet"

	"github.com/seeks-project/seeks/internal/config"
	"github.com/seeks-project/seeks/internal/index"
	"github.com/seeks-project/seeks/internal/ipc"
)

// ErrMissingArgument is returned when a command is called without its operands.
var ErrMissingArgument = errors.New("missing argument")

// IndexClient is the subset of the IPC client used by the CLI.
type IndexClient interface {
	Add(item string) (index.AddResult, error)
	Remove(item string) (index.RemoveResult, error)
	Query(item string, opts index.QueryOptions) ([]index.Match, error)
	Stats() (index.Stats, error)
	Distance(a, b string) (index.Distance, error)
	Close() error
}

// CLI provides commands for interacting with seeks-lshd.
type CLI struct {
	socket string
	client IndexClient
	output io.Writer
	json   bool
}

// NewCLI creates a CLI that connects to the daemon at socket.
func NewCLI(socket string, jsonOutput bool) *CLI {
	return &CLI{
		socket: socket,
		output: os.Stdout,
		json:   jsonOutput,
	}
}

// NewCLIWithDefaults creates a CLI using the default socket path.
func NewCLIWithDefaults() *CLI {
	return NewCLI(config.DefaultPaths().LSHSocket, false)
}

// connect establishes a connection to the daemon.
func (c *CLI) connect() error {
	if c.client != nil {
		return nil
	}
	client, err := ipc.NewClient(c.socket)
	if err != nil {
		return fmt.Errorf("failed to connect to seeks-lshd: %w", err)
	}
	c.client = client
	return nil
}

// Close closes the daemon connection.
func (c *CLI) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// writeJSON prints v as a single JSON document.
func (c *CLI) writeJSON(v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(c.output, string(data))
	return err
}

// Add indexes each item.
func (c *CLI) Add(items []string) error {
	if len(items) == 0 {
		return fmt.Errorf("add: %w", ErrMissingArgument)
	}
	if err := c.connect(); err != nil {
		return err
	}

	results := make([]index.AddResult, 0, len(items))
	for _, item := range items {
		res, err := c.client.Add(item)
		if err != nil {
			return fmt.Errorf("failed to add %q: %w", item, err)
		}
		results = append(results, res)
	}
	if c.json {
		return c.writeJSON(results)
	}

	for _, res := range results {
		state := "exists"
		if res.New {
			state = "added"
		}
		fmt.Fprintf(c.output, "%s  %s  %s (status %.2f)\n", res.ID, state, res.Item, res.Status)
	}
	return nil
}

// Remove removes each item.
func (c *CLI) Remove(items []string) error {
	if len(items) == 0 {
		return fmt.Errorf("remove: %w", ErrMissingArgument)
	}
	if err := c.connect(); err != nil {
		return err
	}

	results := make([]index.RemoveResult, 0, len(items))
	for _, item := range items {
		res, err := c.client.Remove(item)
		if err != nil {
			return fmt.Errorf("failed to remove %q: %w", item, err)
		}
		results = append(results, res)
	}
	if c.json {
		return c.writeJSON(results)
	}

	for _, res := range results {
		if res.Removed == 0 {
			fmt.Fprintf(c.output, "not found  %s\n", res.Item)
			continue
		}
		fmt.Fprintf(c.output, "removed  %s (%d/%d lines)\n", res.Item, res.Removed, res.Lines)
	}
	return nil
}

// Query prints the items close to the query string.
func (c *CLI) Query(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	maxDistance := fs.Int("max-distance", -1, "Drop matches farther than this Hamming distance")
	limit := fs.Int("limit", 0, "Maximum number of matches")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("query: %w", ErrMissingArgument)
	}
	if err := c.connect(); err != nil {
		return err
	}

	matches, err := c.client.Query(fs.Arg(0), index.QueryOptions{
		MaxDistance: *maxDistance,
		Limit:       *limit,
	})
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	if c.json {
		return c.writeJSON(matches)
	}

	if len(matches) == 0 {
		fmt.Fprintln(c.output, "No matches")
		return nil
	}
	fmt.Fprintf(c.output, "Matches (%d):\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(c.output, "  %.3f  d=%-3d r=%-8.3f %s\n", m.Probability, m.Distance, m.Radiance, m.Item)
	}
	return nil
}

// Stats prints the index statistics.
func (c *CLI) Stats() error {
	if err := c.connect(); err != nil {
		return err
	}
	st, err := c.client.Stats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	if c.json {
		return c.writeJSON(st)
	}

	fmt.Fprintln(c.output, "=== Seeks LSH Index ===")
	fmt.Fprintln(c.output)
	fmt.Fprintf(c.output, "  Items: %d\n", st.Items)
	fmt.Fprintf(c.output, "  Filled Slots: %d/%d\n", st.FilledSlots, st.TableSize)
	fmt.Fprintf(c.output, "  Buckets: %d\n", st.Buckets)
	fmt.Fprintf(c.output, "  Pooled Buckets: %d\n", st.PooledBuckets)
	fmt.Fprintf(c.output, "  Mean Buckets/Bin: %s\n", strconv.FormatFloat(st.MeanBucketsPerBin, 'f', 2, 64))
	fmt.Fprintf(c.output, "  Parameters: k=%d L=%d width=%d\n", st.K, st.L, st.FixedStrSize)
	return nil
}

// Distance compares two strings.
func (c *CLI) Distance(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("distance: %w", ErrMissingArgument)
	}
	if err := c.connect(); err != nil {
		return err
	}
	d, err := c.client.Distance(args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to compare: %w", err)
	}
	if c.json {
		return c.writeJSON(d)
	}

	fmt.Fprintf(c.output, "Hamming: %d\n", d.Hamming)
	fmt.Fprintf(c.output, "Radiance: %.4f\n", d.Radiance)
	return nil
}

// printUsage prints the CLI usage information to stdout.
func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo prints the CLI usage information to the given writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, "Usage: seeks-cli [-socket path] [-json] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  add <item>...               Index items")
	fmt.Fprintln(w, "  remove <item>...            Remove items")
	fmt.Fprintln(w, "  query [flags] <item>        List indexed items close to item")
	fmt.Fprintln(w, "      -max-distance n         Drop matches farther than n bits")
	fmt.Fprintln(w, "      -limit n                Print at most n matches")
	fmt.Fprintln(w, "  stats                       Show index statistics")
	fmt.Fprintln(w, "  distance <a> <b>            Compare two strings")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  seeks-cli add http://www.seeks-project.info/")
	fmt.Fprintln(w, "  seeks-cli query -limit 5 http://seeks-project.info/")
	fmt.Fprintln(w, "  seeks-cli -json stats")
}
