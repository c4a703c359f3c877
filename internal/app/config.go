package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/vk/buildgrid/internal/retry"
)

// StateDirName is the workspace-relative directory holding caches and outputs.
// It is hidden, so package discovery never descends into it.
const StateDirName = ".buildgrid"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	WorkspaceRoot string
	CacheDir      string   // downloads, fetched externals and the ledger
	OutputDir     string   // target outputs
	Ignore        []string // directory names skipped during package discovery

	LogFormat    string
	LogLevel     string
	OutputFormat string // yaml|json, for plan, query and fetch reports

	Workers          int
	FetchConcurrency int
	RequireHashes    bool
	NoCache          bool // disables the action cache, not the download cache
	Retry            retry.Policy

	HealthcheckPort int
	VerifyInterval  time.Duration
	WatchDebounce   time.Duration
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkspaceRoot == "" {
		return nil, errors.New("WorkspaceRoot is a required configuration field and cannot be empty")
	}
	root, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	cfg.WorkspaceRoot = root

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(root, StateDirName, "cache")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(root, StateDirName, "out")
	}
	if cfg.CacheDir, err = filepath.Abs(cfg.CacheDir); err != nil {
		return nil, err
	}
	if cfg.OutputDir, err = filepath.Abs(cfg.OutputDir); err != nil {
		return nil, err
	}

	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	switch cfg.OutputFormat {
	case "":
		cfg.OutputFormat = "yaml"
	case "yaml", "json":
	default:
		return nil, fmt.Errorf("invalid output format %q: must be 'yaml' or 'json'", cfg.OutputFormat)
	}

	if cfg.Workers < 0 || cfg.FetchConcurrency < 0 {
		return nil, errors.New("worker counts cannot be negative")
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = time.Hour
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = 500 * time.Millisecond
	}
	return &cfg, nil
}
