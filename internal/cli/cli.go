package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/retry"
)

// EnvFile is loaded from the working directory before flags are parsed.
// Variables already set in the environment win.
const EnvFile = ".env"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Command names.
const (
	CmdValidate = "validate"
	CmdPlan     = "plan"
	CmdQuery    = "query"
	CmdFetch    = "fetch"
	CmdBuild    = "build"
	CmdWatch    = "watch"
	CmdServe    = "serve"
)

// Invocation is a parsed command line.
type Invocation struct {
	Command string
	// Args holds target patterns for plan and build, and external names
	// for fetch.
	Args        []string
	QueryKind   string
	QueryTarget string
	Config      *app.Config
}

// CLI is the kong grammar.
type CLI struct {
	Workspace        string        `short:"w" help:"Workspace root (directory holding WORKSPACE.hcl)." default:"." env:"BUILDGRID_WORKSPACE" type:"path"`
	CacheDir         string        `help:"Download and ledger cache directory. Defaults to <workspace>/.buildgrid/cache." env:"BUILDGRID_CACHE_DIR"`
	OutputDir        string        `help:"Build output directory. Defaults to <workspace>/.buildgrid/out." env:"BUILDGRID_OUTPUT_DIR"`
	LogLevel         string        `help:"Logging level." enum:"debug,info,warn,error" default:"info" env:"BUILDGRID_LOG_LEVEL"`
	LogFormat        string        `help:"Log output format." enum:"text,json" default:"text" env:"BUILDGRID_LOG_FORMAT"`
	Output           string        `short:"o" help:"Report format for plan, query and fetch." enum:"yaml,json" default:"yaml" env:"BUILDGRID_OUTPUT"`
	Workers          int           `short:"j" help:"Concurrent build workers. 0 uses one per CPU." default:"0" env:"BUILDGRID_WORKERS"`
	FetchConcurrency int           `help:"Concurrent external fetches." default:"4" env:"BUILDGRID_FETCH_CONCURRENCY"`
	RequireHashes    bool          `help:"Treat externals without a sha256 as errors." env:"BUILDGRID_REQUIRE_HASHES"`
	NoCache          bool          `help:"Rebuild every target, ignoring the action cache." env:"BUILDGRID_NO_CACHE"`
	Ignore           []string      `help:"Directory names skipped during package discovery." env:"BUILDGRID_IGNORE" sep:","`
	RetryMode        string        `help:"Fetch retry backoff." enum:"fixed,linear,exponential" default:"exponential" env:"BUILDGRID_RETRY_MODE"`
	RetryInitial     time.Duration `help:"Initial fetch retry delay." default:"500ms" env:"BUILDGRID_RETRY_INITIAL"`
	RetryMax         time.Duration `help:"Maximum fetch retry delay." default:"10s" env:"BUILDGRID_RETRY_MAX"`
	RetryAttempts    int           `help:"Fetch retries after the first failure." default:"3" env:"BUILDGRID_RETRY_ATTEMPTS"`

	Validate struct{} `cmd:"" help:"Load the workspace and report every graph problem."`
	Plan     struct {
		Targets []string `arg:"" optional:"" help:"Target patterns (default //...)."`
	} `cmd:"" help:"Print the build order without building."`
	Query struct {
		Kind   string `arg:"" enum:"deps,rdeps" help:"deps or rdeps."`
		Target string `arg:"" help:"Target label."`
	} `cmd:"" help:"Print the transitive dependencies or dependents of a target."`
	Fetch struct {
		Externals []string `arg:"" optional:"" help:"External names (default all)."`
	} `cmd:"" help:"Download and verify externals."`
	Build struct {
		Targets []string `arg:"" optional:"" help:"Target patterns (default //...)."`
	} `cmd:"" help:"Fetch what is needed and build targets in dependency order."`
	Watch struct {
		Debounce time.Duration `help:"Wait this long for changes to settle." default:"500ms" env:"BUILDGRID_WATCH_DEBOUNCE"`
	} `cmd:"" help:"Re-validate the workspace whenever a manifest changes."`
	Serve struct {
		HealthcheckPort int           `help:"Port for /health and /metrics. 0 picks a free port." default:"8080" env:"BUILDGRID_HEALTHCHECK_PORT"`
		VerifyInterval  time.Duration `help:"How often to re-verify every external." default:"1h" env:"BUILDGRID_VERIFY_INTERVAL"`
	} `cmd:"" help:"Serve health and metrics endpoints and re-verify externals periodically."`
}

// exitRequest carries the code kong asked to exit with, for example after
// printing help.
type exitRequest struct{ code int }

// Parse processes command-line arguments. It returns the invocation, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (inv *Invocation, shouldExit bool, err error) {
	slog.Debug("CLI parser started.")
	if err := loadEnvFile(EnvFile); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	var grammar CLI
	parser, err := kong.New(&grammar,
		kong.Name("buildgrid"),
		kong.Description("buildgrid resolves a workspace of build targets into a verified dependency graph and builds it."),
		kong.Writers(output, output),
		kong.Exit(func(code int) { panic(exitRequest{code: code}) }),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build CLI parser: %w", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		req, ok := r.(exitRequest)
		if !ok {
			panic(r)
		}
		if req.code == 0 {
			inv, shouldExit, err = nil, true, nil
			return
		}
		inv, shouldExit, err = nil, false, &ExitError{Code: req.code, Message: "exit requested by argument parser"}
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.", "command", kctx.Command())

	inv, err = grammar.invocation(strings.Fields(kctx.Command())[0])
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("CLI parser finished successfully.", "command", inv.Command)
	return inv, false, nil
}

func (c *CLI) invocation(command string) (*Invocation, error) {
	raw := app.Config{
		WorkspaceRoot:    c.Workspace,
		CacheDir:         c.CacheDir,
		OutputDir:        c.OutputDir,
		LogFormat:        c.LogFormat,
		LogLevel:         c.LogLevel,
		OutputFormat:     c.Output,
		Workers:          c.Workers,
		FetchConcurrency: c.FetchConcurrency,
		RequireHashes:    c.RequireHashes,
		NoCache:          c.NoCache,
		Ignore:           c.Ignore,
		Retry:            retry.NewPolicy(retry.Mode(c.RetryMode), c.RetryInitial, c.RetryMax, c.RetryAttempts),
		HealthcheckPort:  c.Serve.HealthcheckPort,
		VerifyInterval:   c.Serve.VerifyInterval,
		WatchDebounce:    c.Watch.Debounce,
	}
	cfg, err := app.NewConfig(raw)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{Command: command, Config: cfg}
	switch command {
	case CmdPlan:
		inv.Args = c.Plan.Targets
	case CmdBuild:
		inv.Args = c.Build.Targets
	case CmdFetch:
		inv.Args = c.Fetch.Externals
	case CmdQuery:
		inv.QueryKind, inv.QueryTarget = c.Query.Kind, c.Query.Target
	}
	return inv, nil
}

// loadEnvFile exports the variables in path, if it exists.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Debug("Loaded environment file.", "path", path)
	return nil
}
