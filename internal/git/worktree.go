package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// WorktreeInfo describes one managed session worktree.
type WorktreeInfo struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	Path        string `json:"path"`
	BaseCommit  string `json:"baseCommit"`
	ProjectPath string `json:"projectPath"`
	CreatedAt   string `json:"createdAt"`
	IsDirty     bool   `json:"isDirty"`
}

func (s *Service) worktreesDir() string {
	return filepath.Join(s.baseDir, "worktrees")
}

func (s *Service) snapshotsDir() string {
	return filepath.Join(s.baseDir, "snapshots")
}

// CreateWorktree creates an isolated detached-HEAD worktree for a session
// at <base>/worktrees/<project-name>/<session-id>, seeded with the
// project's uncommitted changes. Detached HEAD avoids branch pollution in
// the main checkout.
func (s *Service) CreateWorktree(ctx context.Context, sessionID, projectPath string) (WorktreeInfo, error) {
	if !dirExists(projectPath) {
		return WorktreeInfo{}, fmt.Errorf("project path does not exist: %s", projectPath)
	}

	projectName := filepath.Base(projectPath)
	worktreePath := filepath.Join(s.worktreesDir(), projectName, sessionID)
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return WorktreeInfo{}, fmt.Errorf("create worktree directory: %w", err)
	}

	head, err := s.runner.Run(ctx, "git", []string{"rev-parse", "HEAD"}, projectPath)
	if err != nil {
		return WorktreeInfo{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	baseCommit := strings.TrimSpace(head.Stdout)

	if _, err := s.runner.Run(ctx, "git", []string{"worktree", "add", "--detach", worktreePath, baseCommit}, projectPath); err != nil {
		return WorktreeInfo{}, fmt.Errorf("add worktree: %w", err)
	}

	if err := s.copyUncommittedChanges(ctx, projectPath, worktreePath); err != nil {
		// The worktree is usable without the local changes.
		s.logger.Warn("copy uncommitted changes to worktree", "session_id", sessionID, "error", err)
	}

	return WorktreeInfo{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Path:        worktreePath,
		BaseCommit:  baseCommit,
		ProjectPath: projectPath,
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
	}, nil
}

// copyUncommittedChanges carries the project's staged and unstaged changes
// into the fresh worktree via a patch. Untracked files are not carried.
func (s *Service) copyUncommittedChanges(ctx context.Context, source, target string) error {
	status, err := s.runner.Run(ctx, "git", []string{"status", "--porcelain"}, source)
	if err != nil {
		return fmt.Errorf("read source status: %w", err)
	}
	if strings.TrimSpace(status.Stdout) == "" {
		return nil
	}

	diff, err := s.runner.Run(ctx, "git", []string{"diff", "HEAD"}, source)
	if err != nil {
		return fmt.Errorf("diff source changes: %w", err)
	}
	if strings.TrimSpace(diff.Stdout) == "" {
		return nil
	}

	patch, err := os.CreateTemp("", "claudgents-worktree-*.patch")
	if err != nil {
		return fmt.Errorf("create patch file: %w", err)
	}
	patchPath := patch.Name()
	defer os.Remove(patchPath)
	// git diff trims the trailing newline through the runner; apply needs it.
	if _, err := patch.WriteString(diff.Stdout + "\n"); err != nil {
		patch.Close()
		return fmt.Errorf("write patch file: %w", err)
	}
	if err := patch.Close(); err != nil {
		return fmt.Errorf("close patch file: %w", err)
	}

	if _, err := s.runner.Run(ctx, "git", []string{"apply", "--allow-empty", patchPath}, target); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	return nil
}

// RemoveWorktree force-removes a worktree, optionally snapshotting its
// local changes first. Returns the snapshot path when one was written.
func (s *Service) RemoveWorktree(ctx context.Context, projectPath, worktreePath string, saveSnapshot bool) (string, error) {
	snapshotPath := ""
	if saveSnapshot {
		path, err := s.snapshotWorktree(ctx, worktreePath)
		if err != nil {
			s.logger.Warn("snapshot worktree before removal", "worktree", worktreePath, "error", err)
		} else {
			snapshotPath = path
		}
	}

	if _, err := s.runner.Run(ctx, "git", []string{"worktree", "remove", "--force", worktreePath}, projectPath); err != nil {
		// Fallback: drop the directory and let git prune the metadata.
		if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
			return snapshotPath, fmt.Errorf("remove worktree directory: %w", rmErr)
		}
		if _, pruneErr := s.runner.Run(ctx, "git", []string{"worktree", "prune"}, projectPath); pruneErr != nil {
			s.logger.Warn("prune worktree metadata", "project", projectPath, "error", pruneErr)
		}
	}
	return snapshotPath, nil
}

// snapshotWorktree saves the worktree's local changes as a patch under
// <base>/snapshots/.
func (s *Service) snapshotWorktree(ctx context.Context, worktreePath string) (string, error) {
	diff, err := s.runner.Run(ctx, "git", []string{"diff", "HEAD"}, worktreePath)
	if err != nil {
		return "", fmt.Errorf("diff worktree: %w", err)
	}
	if strings.TrimSpace(diff.Stdout) == "" {
		return "", nil
	}

	if err := os.MkdirAll(s.snapshotsDir(), 0o755); err != nil {
		return "", fmt.Errorf("create snapshots directory: %w", err)
	}
	patchPath := filepath.Join(s.snapshotsDir(), s.now().UTC().Format("20060102_150405")+".patch")
	if err := os.WriteFile(patchPath, []byte(diff.Stdout+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return patchPath, nil
}

// CleanupWorktrees removes managed worktrees past maxAge, then the oldest
// beyond maxCount, snapshotting each. A file lock serializes cleanup
// across concurrent claudgents processes; when another process holds it,
// cleanup is skipped.
func (s *Service) CleanupWorktrees(ctx context.Context, projectPath string, maxAge time.Duration, maxCount int) ([]string, error) {
	base := s.worktreesDir()
	if !dirExists(base) {
		return nil, nil
	}

	lock := flock.New(filepath.Join(base, ".cleanup.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire cleanup lock: %w", err)
	}
	if !locked {
		s.logger.Debug("worktree cleanup already running elsewhere")
		return nil, nil
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("release cleanup lock", "error", err)
		}
	}()

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate

	projects, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("read worktrees directory: %w", err)
	}
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		sessions, err := os.ReadDir(filepath.Join(base, project.Name()))
		if err != nil {
			continue
		}
		for _, session := range sessions {
			if !session.IsDir() {
				continue
			}
			path := filepath.Join(base, project.Name(), session.Name())
			modTime := s.now()
			if info, err := session.Info(); err == nil {
				modTime = info.ModTime()
			}
			candidates = append(candidates, candidate{path: path, modTime: modTime})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	removed := make(map[string]bool)
	var removedPaths []string
	remove := func(path string) {
		if removed[path] {
			return
		}
		if _, err := s.RemoveWorktree(ctx, projectPath, path, true); err != nil {
			s.logger.Warn("cleanup worktree", "worktree", path, "error", err)
			return
		}
		removed[path] = true
		removedPaths = append(removedPaths, path)
	}

	threshold := s.now().Add(-maxAge)
	for _, c := range candidates {
		if c.modTime.Before(threshold) {
			remove(c.path)
		}
	}

	if remaining := len(candidates) - len(removedPaths); remaining > maxCount {
		excess := remaining - maxCount
		for _, c := range candidates {
			if excess == 0 {
				break
			}
			if !removed[c.path] {
				remove(c.path)
				excess--
			}
		}
	}

	return removedPaths, nil
}

// ListWorktrees returns the paths of every worktree git tracks for a
// project, the main checkout included.
func (s *Service) ListWorktrees(ctx context.Context, projectPath string) ([]string, error) {
	result, err := s.runner.Run(ctx, "git", []string{"worktree", "list", "--porcelain"}, projectPath)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, strings.TrimSpace(path))
		}
	}
	return paths, nil
}
