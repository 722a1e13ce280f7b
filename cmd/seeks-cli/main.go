package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/seeks-project/seeks/internal/config"
)

func main() {
	socketPath := flag.String("socket", "", "Unix socket path of seeks-lshd (default "+config.DefaultPaths().LSHSocket+")")
	jsonOutput := flag.Bool("json", false, "Print results as JSON")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cli := newCLIFromFlags(*socketPath, *jsonOutput)
	defer cli.Close()

	var err error

	switch args[0] {
	case "add":
		err = cli.Add(args[1:])
	case "remove":
		err = cli.Remove(args[1:])
	case "query":
		err = cli.Query(args[1:])
	case "stats":
		err = cli.Stats()
	case "distance":
		err = cli.Distance(args[1:])
	case "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newCLIFromFlags falls back to the default socket when none is given.
func newCLIFromFlags(socketPath string, jsonOutput bool) *CLI {
	if socketPath == "" {
		cli := NewCLIWithDefaults()
		cli.json = jsonOutput
		return cli
	}
	return NewCLI(config.ExpandPath(socketPath), jsonOutput)
}
