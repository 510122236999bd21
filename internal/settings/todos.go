package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TodoItem is one task scraped from the CLI's todo and task files.
type TodoItem struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	SourceFile string `json:"sourceFile"`
}

// Todos scrapes ~/.claude/todos/ and ~/.claude/tasks/ (recursively, team
// task files live in subdirectories). Files are JSON arrays when the CLI
// wrote them, or plain text and markdown checklists when a human did.
func (s *Service) Todos() []TodoItem {
	var todos []TodoItem
	for _, dir := range []string{
		filepath.Join(s.claudeDir, "todos"),
		filepath.Join(s.claudeDir, "tasks"),
	} {
		s.collectTodoFiles(dir, &todos)
	}
	return todos
}

func (s *Service) collectTodoFiles(dir string, todos *[]TodoItem) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			s.collectTodoFiles(path, todos)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Debug("skip unreadable todo file", "file", path, "error", err)
			continue
		}
		*todos = append(*todos, parseTodoFile(entry.Name(), path, data)...)
	}
}

func parseTodoFile(fileName, path string, data []byte) []TodoItem {
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err == nil {
		return todosFromJSON(fileName, path, items)
	}
	return todosFromText(fileName, path, string(data))
}

func todosFromJSON(fileName, path string, items []map[string]any) []TodoItem {
	var todos []TodoItem
	for i, item := range items {
		text := firstStringField(item, "content", "subject", "description", "text")
		if text == "" {
			continue
		}
		status, _ := item["status"].(string)
		if status == "" {
			status = "pending"
		}
		todos = append(todos, TodoItem{
			ID:         fmt.Sprintf("%s:%d", fileName, i),
			Content:    text,
			Status:     status,
			SourceFile: path,
		})
	}
	return todos
}

func todosFromText(fileName, path, content string) []TodoItem {
	var todos []TodoItem
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		status := "pending"
		text := line
		switch {
		case strings.HasPrefix(line, "- [x]"), strings.HasPrefix(line, "- [X]"):
			status = "done"
			text = strings.TrimSpace(line[5:])
		case strings.HasPrefix(line, "- [ ]"):
			text = strings.TrimSpace(line[5:])
		case strings.HasPrefix(line, "- "):
			text = line[2:]
		}

		todos = append(todos, TodoItem{
			ID:         fmt.Sprintf("%s:%d", fileName, i),
			Content:    text,
			Status:     status,
			SourceFile: path,
		})
	}
	return todos
}

func firstStringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := m[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
