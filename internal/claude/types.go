package claude

import "encoding/json"

// ProcessStatus is the lifecycle state of one CLI process instance. The
// session handle outlives individual process instances: Completed and Error
// are terminal for the process, not the session.
type ProcessStatus string

const (
	// StatusStarting means the process is spawned with pipes open but has
	// produced no output yet.
	StatusStarting ProcessStatus = "starting"
	// StatusRunning means the process is live and streaming output.
	StatusRunning ProcessStatus = "active"
	// StatusWaitingInput is reserved for future turn-taking signals.
	StatusWaitingInput ProcessStatus = "waiting_input"
	// StatusPaused marks sessions resumed from disk with no live process.
	StatusPaused ProcessStatus = "paused"
	// StatusCompleted means the process exited and its stdout reached EOF.
	StatusCompleted ProcessStatus = "completed"
	// StatusError means stderr produced output while the process was
	// starting or running.
	StatusError ProcessStatus = "error"
)

// TokenUsage carries cumulative or incremental token counters extracted
// from the stream. JSON field names match what subscribers expect.
type TokenUsage struct {
	InputTokens              uint64 `json:"inputTokens"`
	OutputTokens             uint64 `json:"outputTokens"`
	CacheCreationInputTokens uint64 `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     uint64 `json:"cacheReadInputTokens"`
}

// DiscoveredSession is session metadata scraped from ~/.claude/projects/.
type DiscoveredSession struct {
	ClaudeSessionID string `json:"claudeSessionId"`
	ProjectPath     string `json:"projectPath"`
	Name            string `json:"name,omitempty"`
	LastMessageAt   string `json:"lastMessageAt,omitempty"`
	MessageCount    int    `json:"messageCount"`
	Model           string `json:"model,omitempty"`
	GitBranch       string `json:"gitBranch,omitempty"`
}

// ParsedMessage is a display-ready chat message parsed from a session log.
type ParsedMessage struct {
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid,omitempty"`
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Timestamp  string          `json:"timestamp"`
	Model      string          `json:"model,omitempty"`
}

// sessionEntry is one line of a Claude Code session JSONL file. Only the
// fields the store inspects are typed; the protocol carries more.
type sessionEntry struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	UUID        string          `json:"uuid"`
	ParentUUID  string          `json:"parentUuid"`
	Timestamp   string          `json:"timestamp"`
	GitBranch   string          `json:"gitBranch"`
	CWD         string          `json:"cwd"`
	IsSidechain bool            `json:"isSidechain"`
	Message     *sessionMessage `json:"message"`
}

type sessionMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Model   string          `json:"model"`
}
