// Package settings reads and edits the Claude Code configuration surface:
// per-project CLAUDE.md files, the todo/task scratch files under ~/.claude,
// custom skills and commands, agent teams, and MCP server entries in
// settings.json.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Service provides access to Claude Code settings rooted at one ~/.claude
// directory.
type Service struct {
	claudeDir string
	logger    *log.Logger
}

// NewService builds a settings service. An empty claudeDir resolves to the
// default ~/.claude.
func NewService(claudeDir string, logger *log.Logger) (*Service, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(claudeDir) == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		claudeDir = filepath.Join(homeDir, ".claude")
	}
	return &Service{claudeDir: claudeDir, logger: logger}, nil
}

// ProjectMemory reads a project's CLAUDE.md. A missing file returns
// ("", false, nil), distinct from read failures.
func (s *Service) ProjectMemory(projectPath string) (string, bool, error) {
	path := filepath.Join(projectPath, "CLAUDE.md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read CLAUDE.md: %w", err)
	}
	return string(data), true, nil
}

// UpdateProjectMemory writes a project's CLAUDE.md.
func (s *Service) UpdateProjectMemory(projectPath, content string) error {
	path := filepath.Join(projectPath, "CLAUDE.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write CLAUDE.md: %w", err)
	}
	return nil
}
