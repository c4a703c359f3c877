package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/cli"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/hcl_adapter"
)

// main is the entrypoint for the buildgrid application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, outW, errW io.Writer, args []string) int {
	inv, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(errW, exitErr.Message)
			return exitErr.Code
		}
		fmt.Fprintln(errW, err)
		return 1
	}
	if shouldExit {
		return 0
	}

	a := app.NewApp(outW, errW, inv.Config, hcl_adapter.NewLoader(inv.Config.Ignore...))
	if err := dispatch(ctx, a, inv); err != nil {
		fmt.Fprintf(errW, "Error: %v\n", err)
		return failure.ExitCode(err)
	}
	return 0
}

func dispatch(ctx context.Context, a *app.App, inv *cli.Invocation) error {
	switch inv.Command {
	case cli.CmdValidate:
		return a.Validate(ctx)
	case cli.CmdPlan:
		return a.Plan(ctx, inv.Args)
	case cli.CmdQuery:
		return a.Query(ctx, inv.QueryKind, inv.QueryTarget)
	case cli.CmdFetch:
		_, err := a.Fetch(ctx, inv.Args)
		return err
	case cli.CmdBuild:
		_, err := a.Build(ctx, inv.Args)
		return err
	case cli.CmdWatch:
		return a.Watch(ctx)
	case cli.CmdServe:
		return a.Serve(ctx)
	default:
		return fmt.Errorf("unknown command %q", inv.Command)
	}
}
