package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

const sessionNameMaxLen = 50

// SessionStore discovers past Claude Code sessions from the JSONL logs the
// CLI writes under ~/.claude/projects/. Each project directory is the
// project's absolute path with separators encoded as dashes; each .jsonl
// file inside is one session, named by its Claude session ID.
type SessionStore struct {
	projectsDir string
	logger      *log.Logger
}

// NewSessionStore builds a store rooted at projectsDir. An empty dir
// resolves to the default ~/.claude/projects.
func NewSessionStore(projectsDir string, logger *log.Logger) (*SessionStore, error) {
	if strings.TrimSpace(projectsDir) == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		projectsDir = filepath.Join(homeDir, ".claude", "projects")
	}
	return &SessionStore{projectsDir: projectsDir, logger: logger}, nil
}

// ProjectsDir returns the directory the store scans.
func (s *SessionStore) ProjectsDir() string {
	return s.projectsDir
}

// DiscoverSessions scans every project directory and returns all sessions
// found, newest first. A missing projects directory yields an empty list,
// not an error; unreadable session files are skipped with a warning.
func (s *SessionStore) DiscoverSessions() ([]DiscoveredSession, error) {
	projectDirs, err := os.ReadDir(s.projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects directory: %w", err)
	}

	var sessions []DiscoveredSession
	for _, projectDir := range projectDirs {
		if !projectDir.IsDir() {
			continue
		}
		projectPath := decodeProjectPath(projectDir.Name())
		dirPath := filepath.Join(s.projectsDir, projectDir.Name())

		entries, err := os.ReadDir(dirPath)
		if err != nil {
			s.logger.Warn("skip unreadable project directory", "dir", dirPath, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			session, err := s.summarizeSession(filepath.Join(dirPath, entry.Name()), projectPath)
			if err != nil {
				s.logger.Warn("skip unreadable session log", "file", entry.Name(), "error", err)
				continue
			}
			if session.MessageCount == 0 {
				continue
			}
			sessions = append(sessions, session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastMessageAt > sessions[j].LastMessageAt
	})
	return sessions, nil
}

// SessionMessages parses one session log into display-ready messages,
// skipping sidechain entries (subagent traffic) and entries without a
// message body.
func (s *SessionStore) SessionMessages(claudeSessionID string) ([]ParsedMessage, error) {
	path, err := s.findSessionFile(claudeSessionID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer file.Close()

	var messages []ParsedMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		var entry sessionEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.IsSidechain || entry.Message == nil {
			continue
		}
		if entry.Type != "user" && entry.Type != "assistant" {
			continue
		}
		messages = append(messages, ParsedMessage{
			UUID:       entry.UUID,
			ParentUUID: entry.ParentUUID,
			Role:       entry.Message.Role,
			Content:    entry.Message.Content,
			Timestamp:  entry.Timestamp,
			Model:      entry.Message.Model,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session log: %w", err)
	}
	return messages, nil
}

// summarizeSession reads one JSONL log and extracts the metadata shown in
// session lists: name from the first user message, last timestamp, count,
// model, branch.
func (s *SessionStore) summarizeSession(path, projectPath string) (DiscoveredSession, error) {
	file, err := os.Open(path)
	if err != nil {
		return DiscoveredSession{}, err
	}
	defer file.Close()

	session := DiscoveredSession{
		ClaudeSessionID: strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		ProjectPath:     projectPath,
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		var entry sessionEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.IsSidechain || entry.Message == nil {
			continue
		}
		switch entry.Type {
		case "user":
			session.MessageCount++
			if session.Name == "" {
				session.Name = sessionName(extractTextContent(entry.Message.Content))
			}
		case "assistant":
			session.MessageCount++
			if entry.Message.Model != "" {
				session.Model = entry.Message.Model
			}
		default:
			continue
		}
		if entry.Timestamp > session.LastMessageAt {
			session.LastMessageAt = entry.Timestamp
		}
		if entry.GitBranch != "" {
			session.GitBranch = entry.GitBranch
		}
		if session.ProjectPath == "" && entry.CWD != "" {
			session.ProjectPath = entry.CWD
		}
	}
	if err := scanner.Err(); err != nil {
		return DiscoveredSession{}, err
	}
	return session, nil
}

func (s *SessionStore) findSessionFile(claudeSessionID string) (string, error) {
	projectDirs, err := os.ReadDir(s.projectsDir)
	if err != nil {
		return "", fmt.Errorf("read projects directory: %w", err)
	}
	fileName := claudeSessionID + ".jsonl"
	for _, projectDir := range projectDirs {
		if !projectDir.IsDir() {
			continue
		}
		candidate := filepath.Join(s.projectsDir, projectDir.Name(), fileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("session log for %s not found under %s", claudeSessionID, s.projectsDir)
}

// decodeProjectPath reverses the CLI's directory-name encoding, which
// replaces path separators with dashes. The encoding is lossy for paths
// containing literal dashes; the cwd recorded inside the log corrects it
// when available.
func decodeProjectPath(encoded string) string {
	if !strings.HasPrefix(encoded, "-") {
		return encoded
	}
	return "/" + strings.ReplaceAll(strings.TrimPrefix(encoded, "-"), "-", "/")
}

// sessionName derives a list label from the first user message.
func sessionName(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(text) > sessionNameMaxLen {
		return text[:sessionNameMaxLen] + "..."
	}
	return text
}

// extractTextContent flattens a message content field, which is either a
// plain string or an array of content blocks, into the concatenated text.
func extractTextContent(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return plain
	}

	var blocks []map[string]any
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, block := range blocks {
		if blockType, _ := block["type"].(string); blockType != "text" {
			continue
		}
		if text, ok := block["text"].(string); ok {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
