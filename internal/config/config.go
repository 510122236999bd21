package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultModel           = ""
	defaultWorktreeMaxAge  = 14
	defaultWorktreeMaxCnt  = 20
	defaultWatchDebounce   = 500 * time.Millisecond
	defaultLogMaxSizeBytes = 10 * 1024 * 1024
	defaultLogMaxFiles     = 5
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	// CLIPath is an explicit path to the claude binary. Empty means probe
	// well-known locations and PATH.
	CLIPath string
	// DefaultModel overrides the CLI's default model when non-empty.
	DefaultModel string
	// ClaudeProjectsDir overrides ~/.claude/projects for session discovery.
	ClaudeProjectsDir string
	// WorktreeMaxAgeDays is the age limit applied by worktree cleanup.
	WorktreeMaxAgeDays int
	// WorktreeMaxCount is the count limit applied by worktree cleanup.
	WorktreeMaxCount int
	// WatchDebounce coalesces bursts of filesystem events from the
	// session-log watcher.
	WatchDebounce   time.Duration
	LogMaxSizeBytes int64
	LogMaxFiles     int
	// OTELEndpoint is the OTLP trace collector endpoint. Empty falls back
	// to OTEL_EXPORTER_OTLP_ENDPOINT, then the telemetry default.
	OTELEndpoint string
}

type fileConfig struct {
	CLIPath            *string `toml:"cli_path"`
	DefaultModel       *string `toml:"default_model"`
	ClaudeProjectsDir  *string `toml:"claude_projects_dir"`
	WorktreeMaxAgeDays *int    `toml:"worktree_max_age_days"`
	WorktreeMaxCount   *int    `toml:"worktree_max_count"`
	WatchDebounce      *string `toml:"watch_debounce"`
	LogMaxSizeMB       *int    `toml:"log_max_size_mb"`
	LogMaxFiles        *int    `toml:"log_max_files"`
	OTELEndpoint       *string `toml:"otel_endpoint"`
}

// Load reads config from ~/.claudgents/config.toml and overlays a
// project-local .claudgents/config.toml.
func Load() (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".claudgents", "config.toml"),
		filepath.Join(workingDir, ".claudgents", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		DefaultModel:       defaultModel,
		WorktreeMaxAgeDays: defaultWorktreeMaxAge,
		WorktreeMaxCount:   defaultWorktreeMaxCnt,
		WatchDebounce:      defaultWatchDebounce,
		LogMaxSizeBytes:    defaultLogMaxSizeBytes,
		LogMaxFiles:        defaultLogMaxFiles,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.CLIPath != nil {
		cfg.CLIPath = strings.TrimSpace(*decoded.CLIPath)
	}
	if decoded.DefaultModel != nil {
		cfg.DefaultModel = strings.TrimSpace(*decoded.DefaultModel)
	}
	if decoded.ClaudeProjectsDir != nil {
		cfg.ClaudeProjectsDir = strings.TrimSpace(*decoded.ClaudeProjectsDir)
	}
	if decoded.WorktreeMaxAgeDays != nil {
		if *decoded.WorktreeMaxAgeDays <= 0 {
			return fmt.Errorf("parse worktree_max_age_days in %q: must be > 0", path)
		}
		cfg.WorktreeMaxAgeDays = *decoded.WorktreeMaxAgeDays
	}
	if decoded.WorktreeMaxCount != nil {
		if *decoded.WorktreeMaxCount <= 0 {
			return fmt.Errorf("parse worktree_max_count in %q: must be > 0", path)
		}
		cfg.WorktreeMaxCount = *decoded.WorktreeMaxCount
	}
	if decoded.WatchDebounce != nil {
		parsed, err := time.ParseDuration(*decoded.WatchDebounce)
		if err != nil {
			return fmt.Errorf("parse watch_debounce in %q: %w", path, err)
		}
		cfg.WatchDebounce = parsed
	}
	if decoded.LogMaxSizeMB != nil {
		if *decoded.LogMaxSizeMB <= 0 {
			return fmt.Errorf("parse log_max_size_mb in %q: must be > 0", path)
		}
		cfg.LogMaxSizeBytes = int64(*decoded.LogMaxSizeMB) * 1024 * 1024
	}
	if decoded.LogMaxFiles != nil {
		if *decoded.LogMaxFiles <= 0 {
			return fmt.Errorf("parse log_max_files in %q: must be > 0", path)
		}
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}
	if decoded.OTELEndpoint != nil {
		cfg.OTELEndpoint = strings.TrimSpace(*decoded.OTELEndpoint)
	}

	return nil
}
