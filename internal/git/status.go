package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openclaudgents/claudgents/internal/events"
)

// Status is the working-tree state of a project or worktree directory.
type Status struct {
	Branch            string `json:"branch"`
	IsDirty           bool   `json:"isDirty"`
	DirtyFileCount    int    `json:"dirtyFileCount"`
	LastCommitMessage string `json:"lastCommitMessage"`
	LastCommitHash    string `json:"lastCommitHash"`
	IsWorktree        bool   `json:"isWorktree"`
}

// Status reports the current git state of path.
func (s *Service) Status(ctx context.Context, path string) (Status, error) {
	branch, err := s.branch(ctx, path)
	if err != nil {
		return Status{}, err
	}
	dirtyCount, err := s.dirtyFileCount(ctx, path)
	if err != nil {
		return Status{}, err
	}
	hash, message, err := s.lastCommit(ctx, path)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Branch:            branch,
		IsDirty:           dirtyCount > 0,
		DirtyFileCount:    dirtyCount,
		LastCommitMessage: message,
		LastCommitHash:    hash,
		IsWorktree:        s.isWorktree(ctx, path),
	}, nil
}

// WatchStatus polls path and publishes a git:status_changed event whenever
// the status differs from the previous poll. It blocks until ctx is done.
func (s *Service) WatchStatus(ctx context.Context, path, sessionID string, interval time.Duration, bus events.Bus) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var previous *Status
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := s.Status(ctx, path)
			if err != nil {
				s.logger.Debug("status poll failed", "path", path, "error", err)
				continue
			}
			if previous != nil && *previous == status {
				continue
			}
			previous = &status
			bus.Publish(events.Event{
				Type:      events.GitStatusChanged,
				SessionID: sessionID,
				Payload:   status,
			})
		}
	}
}

func (s *Service) branch(ctx context.Context, path string) (string, error) {
	result, err := s.runner.Run(ctx, "git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, path)
	if err != nil {
		return "", fmt.Errorf("resolve branch: %w", err)
	}
	branch := strings.TrimSpace(result.Stdout)
	if branch != "HEAD" {
		return branch, nil
	}

	// Detached HEAD; describe gives a more useful label when available.
	if described, err := s.runner.Run(ctx, "git", []string{"describe", "--tags", "--always"}, path); err == nil {
		if tag := strings.TrimSpace(described.Stdout); tag != "" {
			return "detached:" + tag, nil
		}
	}
	return "HEAD (detached)", nil
}

func (s *Service) dirtyFileCount(ctx context.Context, path string) (int, error) {
	result, err := s.runner.Run(ctx, "git", []string{"status", "--porcelain"}, path)
	if err != nil {
		return 0, fmt.Errorf("read status: %w", err)
	}
	count := 0
	for _, line := range strings.Split(result.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

func (s *Service) lastCommit(ctx context.Context, path string) (hash, message string, err error) {
	result, err := s.runner.Run(ctx, "git", []string{"log", "-1", "--format=%H%n%s"}, path)
	if err != nil {
		return "", "", fmt.Errorf("read last commit: %w", err)
	}
	lines := strings.SplitN(result.Stdout, "\n", 2)
	hash = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		message = strings.TrimSpace(lines[1])
	}
	return hash, message, nil
}

// isWorktree detects linked worktrees: there the per-tree git dir differs
// from the shared common dir.
func (s *Service) isWorktree(ctx context.Context, path string) bool {
	commonDir, err := s.runner.Run(ctx, "git", []string{"rev-parse", "--git-common-dir"}, path)
	if err != nil {
		return false
	}
	gitDir, err := s.runner.Run(ctx, "git", []string{"rev-parse", "--git-dir"}, path)
	if err != nil {
		return false
	}
	common := strings.TrimSpace(commonDir.Stdout)
	dir := strings.TrimSpace(gitDir.Stdout)
	return common != dir && dir != ".git"
}
