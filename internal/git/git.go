// Package git wraps the git CLI for project status, diffs, and session
// worktrees. All commands run through a tracing.Runner so every invocation
// is spanned and testable.
package git

import (
	"errors"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openclaudgents/claudgents/internal/tracing"
)

// Service executes git operations for projects and session worktrees.
type Service struct {
	runner tracing.Runner
	logger *log.Logger

	// baseDir holds managed state (worktrees/, snapshots/), normally
	// ~/.claudgents.
	baseDir string

	now func() time.Time
}

// Option customizes Service construction.
type Option func(*Service)

// WithRunner substitutes the command runner.
func WithRunner(runner tracing.Runner) Option {
	return func(s *Service) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a git service rooted at baseDir.
func NewService(baseDir string, logger *log.Logger, options ...Option) (*Service, error) {
	if baseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	service := &Service{
		runner:  tracing.ShellRunner{},
		logger:  logger,
		baseDir: baseDir,
		now:     time.Now,
	}
	for _, option := range options {
		option(service)
	}
	return service, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
