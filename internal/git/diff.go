package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DiffFile is one changed file in a diff summary.
type DiffFile struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// DiffSummary aggregates working-tree changes against a base reference.
type DiffSummary struct {
	Files          []DiffFile `json:"files"`
	TotalAdditions int        `json:"totalAdditions"`
	TotalDeletions int        `json:"totalDeletions"`
	RawDiff        string     `json:"rawDiff"`
}

// FileContents pairs the base and working-tree content of one file for
// side-by-side diff rendering.
type FileContents struct {
	FilePath string `json:"filePath"`
	Original string `json:"original"`
	Modified string `json:"modified"`
	Language string `json:"language"`
}

// Diff summarizes changes in path's working tree against base (HEAD when
// empty).
func (s *Service) Diff(ctx context.Context, path, base string) (DiffSummary, error) {
	if strings.TrimSpace(base) == "" {
		base = "HEAD"
	}

	raw, err := s.runner.Run(ctx, "git", []string{"diff", base}, path)
	if err != nil {
		return DiffSummary{}, fmt.Errorf("diff against %s: %w", base, err)
	}
	numstat, err := s.runner.Run(ctx, "git", []string{"diff", "--numstat", base}, path)
	if err != nil {
		return DiffSummary{}, fmt.Errorf("diff numstat: %w", err)
	}
	nameStatus, err := s.runner.Run(ctx, "git", []string{"diff", "--name-status", base}, path)
	if err != nil {
		return DiffSummary{}, fmt.Errorf("diff name-status: %w", err)
	}

	statuses := parseNameStatus(nameStatus.Stdout)
	summary := DiffSummary{RawDiff: raw.Stdout}
	for _, line := range strings.Split(numstat.Stdout, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		// Binary files report "-" for both counters.
		additions, _ := strconv.Atoi(parts[0])
		deletions, _ := strconv.Atoi(parts[1])
		filePath := parts[2]

		status, ok := statuses[filePath]
		if !ok {
			status = "modified"
		}
		summary.TotalAdditions += additions
		summary.TotalDeletions += deletions
		summary.Files = append(summary.Files, DiffFile{
			Path:      filePath,
			Status:    status,
			Additions: additions,
			Deletions: deletions,
		})
	}
	return summary, nil
}

// WorktreeDiff summarizes a detached-HEAD worktree's local changes.
func (s *Service) WorktreeDiff(ctx context.Context, worktreePath string) (DiffSummary, error) {
	return s.Diff(ctx, worktreePath, "HEAD")
}

// FileDiffContents returns the base and working-tree content of filePath
// for diff viewing. A file absent from base reads as empty (added file);
// a file absent from the working tree reads as empty (deleted file).
func (s *Service) FileDiffContents(ctx context.Context, repoPath, filePath, base string) (FileContents, error) {
	if strings.TrimSpace(base) == "" {
		base = "HEAD"
	}

	original := ""
	if shown, err := s.runner.Run(ctx, "git", []string{"show", base + ":" + filePath}, repoPath); err == nil {
		original = shown.Stdout
	}

	modified := ""
	fullPath := filepath.Join(repoPath, filePath)
	if data, err := os.ReadFile(fullPath); err == nil {
		modified = string(data)
	} else if !os.IsNotExist(err) {
		return FileContents{}, fmt.Errorf("read working tree file: %w", err)
	}

	return FileContents{
		FilePath: filePath,
		Original: original,
		Modified: modified,
		Language: detectLanguage(filePath),
	}, nil
}

func parseNameStatus(output string) map[string]string {
	statuses := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		status := "modified"
		switch {
		case strings.HasPrefix(parts[0], "A"):
			status = "added"
		case strings.HasPrefix(parts[0], "D"):
			status = "deleted"
		case strings.HasPrefix(parts[0], "R"):
			status = "renamed"
		}
		// Renames carry old and new path; key on the new one.
		statuses[parts[len(parts)-1]] = status
	}
	return statuses
}

func detectLanguage(path string) string {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "go":
		return "go"
	case "rs":
		return "rust"
	case "ts", "tsx":
		return "typescript"
	case "js", "jsx":
		return "javascript"
	case "py":
		return "python"
	case "json":
		return "json"
	case "toml":
		return "toml"
	case "yaml", "yml":
		return "yaml"
	case "md":
		return "markdown"
	case "sh", "bash", "zsh":
		return "shell"
	case "html":
		return "html"
	case "css", "scss":
		return "css"
	case "sql":
		return "sql"
	case "c", "h":
		return "c"
	case "cpp", "hpp", "cc":
		return "cpp"
	case "java":
		return "java"
	case "rb":
		return "ruby"
	default:
		return "plaintext"
	}
}
