package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		return runServe(ctx, nil)
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "routes":
		return runRoutes(os.Stdout, args[1:])
	case "version", "--version", "-v":
		printVersion(os.Stdout)
		return 0
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return 0
	default:
		if len(args[0]) > 0 && args[0][0] == '-' {
			return runServe(ctx, args)
		}
		fmt.Fprintln(os.Stderr, "unknown command:", args[0])
		printUsage(os.Stderr)
		return 2
	}
}
