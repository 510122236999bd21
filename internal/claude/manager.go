package claude

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/openclaudgents/claudgents/internal/events"
)

// Claude CLI in -p mode is single-turn: it reads one prompt from stdin,
// responds, then exits. Multi-turn conversation therefore spawns a new
// process per message with --resume <claude-session-id>.
const (
	flagPrint           = "-p"
	flagOutputFormat    = "--output-format"
	outputFormatStream  = "stream-json"
	flagVerbose         = "--verbose"
	flagPartialMessages = "--include-partial-messages"
	flagResume          = "--resume"
	flagModel           = "--model"
)

// Environment variables the CLI uses to detect nested invocation. They are
// stripped so a claudgents process launched from inside a Claude session
// can still spawn its own sessions.
var suppressedEnvVars = []string{"CLAUDECODE", "CLAUDE_CODE_ENTRYPOINT"}

// wellKnownCLIPaths are probed before falling back to PATH lookup.
var wellKnownCLIPaths = []string{
	"/usr/local/bin/claude",
	"/opt/homebrew/bin/claude",
}

// stream-json lines carry whole tool results; the default scanner limit of
// 64KiB is far too small.
const maxStreamLineBytes = 10 * 1024 * 1024

// SpawnOptions configures one CLI process launch.
type SpawnOptions struct {
	SessionID string
	WorkDir   string
	// CLIPath overrides binary resolution when non-empty.
	CLIPath string
	// ResumeSessionID continues an existing Claude conversation.
	ResumeSessionID string
	// Model selects a model override for this process.
	Model string
}

// ManagerConfig carries Manager construction settings.
type ManagerConfig struct {
	// CLIPath is the configured claude binary path; empty means probe.
	CLIPath string
	// DefaultModel is applied when SpawnOptions carries no model.
	DefaultModel string
}

// Manager spawns, tracks, respawns, and tears down one CLI process per
// session. It owns the process registry and the conversation map; reader
// goroutines receive shared handles to both, never private copies.
type Manager struct {
	bus    events.Bus
	logger *log.Logger
	parser *StreamParser

	registry      *processRegistry
	conversations *conversationMap

	cliPath      string
	defaultModel string

	// Injection points for tests.
	lookPath   func(file string) (string, error)
	pathExists func(path string) bool
}

// NewManager constructs a Manager publishing to bus.
func NewManager(bus events.Bus, logger *log.Logger, cfg ManagerConfig) (*Manager, error) {
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	conversations := newConversationMap()
	return &Manager{
		bus:           bus,
		logger:        logger,
		parser:        newStreamParser(bus, conversations, logger),
		registry:      newProcessRegistry(),
		conversations: conversations,
		cliPath:       strings.TrimSpace(cfg.CLIPath),
		defaultModel:  strings.TrimSpace(cfg.DefaultModel),
		lookPath:      exec.LookPath,
		pathExists:    fileExists,
	}, nil
}

// Spawn launches a new CLI process for a session and starts its stream
// readers. On success the session is Running and a session_status event
// has been published; on failure no registry state is left behind.
func (m *Manager) Spawn(opts SpawnOptions) error {
	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}
	workDir := strings.TrimSpace(opts.WorkDir)
	if workDir == "" {
		return errors.New("working directory is required")
	}

	cliPath, err := m.resolveCLIPath(opts.CLIPath)
	if err != nil {
		return err
	}

	args := []string{flagPrint, flagOutputFormat, outputFormatStream, flagVerbose, flagPartialMessages}
	if opts.ResumeSessionID != "" {
		args = append(args, flagResume, opts.ResumeSessionID)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = m.defaultModel
	}
	if model != "" {
		args = append(args, flagModel, model)
	}

	cmd := exec.Command(cliPath, args...)
	cmd.Dir = workDir
	cmd.Env = filterEnv(os.Environ(), suppressedEnvVars...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("capture claude stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeQuietly(stdin)
		return fmt.Errorf("capture claude stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeQuietly(stdin)
		return fmt.Errorf("capture claude stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeQuietly(stdin)
		return fmt.Errorf("spawn claude CLI: %w", err)
	}

	m.logger.Info(
		"claude process started",
		"session_id", sessionID,
		"pid", cmd.Process.Pid,
		"workdir", workDir,
		"resume", opts.ResumeSessionID != "",
	)

	// Resuming implies the external ID is already known.
	if opts.ResumeSessionID != "" {
		m.conversations.record(sessionID, opts.ResumeSessionID)
	}

	m.registry.insert(sessionID, &processRecord{
		cmd:     cmd,
		stdin:   stdin,
		workDir: workDir,
		status:  StatusStarting,
	})

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.readStdout(sessionID, stdout)
	}()
	go func() {
		defer readers.Done()
		m.readStderr(sessionID, stderr)
	}()
	// Sole caller of cmd.Wait, after both pipes have drained.
	go func() {
		readers.Wait()
		_ = cmd.Wait()
	}()

	m.registry.setStatus(sessionID, StatusRunning)
	m.publishStatus(sessionID, StatusRunning)
	return nil
}

// SendMessage delivers one user message to a session. The first message of
// a process instance writes to the already-open stdin; any later message
// kills the old process and respawns with --resume before writing.
// fallbackWorkDir is used when the session has no process record, which
// happens for sessions resumed from on-disk logs.
func (m *Manager) SendMessage(sessionID, message, fallbackWorkDir string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}

	if !m.registry.needsRespawn(sessionID) {
		return m.writeMessage(sessionID, message)
	}

	workDir, ok := m.registry.workDir(sessionID)
	if !ok || strings.TrimSpace(workDir) == "" {
		workDir = strings.TrimSpace(fallbackWorkDir)
	}

	// Prefer the mapped Claude session ID. A session created from a
	// discovered log has its handle seeded equal to the external ID, so
	// the handle itself is the fallback resume target.
	resumeID, ok := m.conversations.lookup(sessionID)
	if !ok || strings.TrimSpace(resumeID) == "" {
		resumeID = sessionID
	}
	if strings.TrimSpace(resumeID) == "" {
		return ErrCannotResume
	}

	// Remove before spawning the replacement: stale reader goroutines of
	// the old process must not find a registry entry to mutate while the
	// new process starts. Kill failure is non-fatal; removal already
	// guarantees the single-record invariant.
	if old := m.registry.remove(sessionID); old != nil {
		if old.stdin != nil {
			closeQuietly(old.stdin)
		}
		if old.cmd != nil && old.cmd.Process != nil {
			if err := old.cmd.Process.Kill(); err != nil {
				m.logger.Warn("kill previous claude process", "session_id", sessionID, "error", err)
			}
		}
	}

	if err := m.Spawn(SpawnOptions{
		SessionID:       sessionID,
		WorkDir:         workDir,
		ResumeSessionID: resumeID,
	}); err != nil {
		return err
	}

	return m.writeMessage(sessionID, message)
}

// Kill removes the session's process record and terminates the process.
// A session with no record is a successful no-op.
func (m *Manager) Kill(sessionID string) error {
	record := m.registry.remove(sessionID)
	if record == nil {
		return nil
	}

	if record.stdin != nil {
		closeQuietly(record.stdin)
	}
	if record.cmd != nil && record.cmd.Process != nil {
		if err := record.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill claude process: %w", err)
		}
	}
	return nil
}

// Status returns the current process status for a session, if any process
// record exists.
func (m *Manager) Status(sessionID string) (ProcessStatus, bool) {
	return m.registry.status(sessionID)
}

// ConversationID returns the external Claude session ID mapped to a handle.
func (m *Manager) ConversationID(sessionID string) (string, bool) {
	return m.conversations.lookup(sessionID)
}

// RegisterConversationID seeds the external ID mapping, used when resuming
// sessions discovered from on-disk logs.
func (m *Manager) RegisterConversationID(sessionID, claudeSessionID string) {
	m.conversations.record(sessionID, claudeSessionID)
}

// IsActive reports whether the session currently has a live process.
func (m *Manager) IsActive(sessionID string) bool {
	return m.registry.isActive(sessionID)
}

// ActiveHandles returns all session handles with a process record, sorted.
func (m *Manager) ActiveHandles() []string {
	return m.registry.handles()
}

// DetectCLIPath reports where the claude binary would be resolved from,
// without spawning anything.
func (m *Manager) DetectCLIPath() (string, error) {
	return m.resolveCLIPath("")
}

// writeMessage writes one message to the session's open stdin and closes
// it. On write or close failure the pipe stays marked open so the caller
// may retry.
func (m *Manager) writeMessage(sessionID, message string) error {
	stdin := m.registry.stdinPipe(sessionID)
	if stdin == nil {
		return fmt.Errorf("session %s has no open stdin pipe", sessionID)
	}

	if _, err := io.WriteString(stdin, message); err != nil {
		return fmt.Errorf("write message to claude stdin: %w", err)
	}
	if err := stdin.Close(); err != nil {
		return fmt.Errorf("close claude stdin: %w", err)
	}

	m.registry.clearStdin(sessionID)
	return nil
}

func (m *Manager) readStdout(sessionID string, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		m.parser.ParseLine(sessionID, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		m.logger.Debug("stdout reader ended", "session_id", sessionID, "error", err)
	}

	// EOF: the process exited. If the record was already removed by a kill
	// or respawn, this instance stays silent.
	if m.registry.setStatus(sessionID, StatusCompleted) {
		m.publishStatus(sessionID, StatusCompleted)
	}
}

func (m *Manager) readStderr(sessionID string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		m.logger.Warn("claude stderr", "session_id", sessionID, "line", line)
		m.bus.Publish(events.Event{
			Type:      events.ClaudeStderr,
			SessionID: sessionID,
			Payload:   map[string]string{"line": line},
		})
		if m.registry.markError(sessionID) {
			m.publishStatus(sessionID, StatusError)
		}
	}
}

func (m *Manager) publishStatus(sessionID string, status ProcessStatus) {
	m.bus.Publish(events.Event{
		Type:      events.ClaudeSessionStatus,
		SessionID: sessionID,
		Payload:   map[string]string{"status": string(status)},
	})
}

// resolveCLIPath resolves the claude binary: explicit path, configured
// path, well-known install locations, then PATH.
func (m *Manager) resolveCLIPath(explicit string) (string, error) {
	for _, candidate := range []string{strings.TrimSpace(explicit), m.cliPath} {
		if candidate != "" {
			return candidate, nil
		}
	}

	candidates := append([]string{}, wellKnownCLIPaths...)
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(homeDir, ".claude", "local", "claude"),
			filepath.Join(homeDir, ".local", "bin", "claude"),
		)
	}
	for _, candidate := range candidates {
		if m.pathExists(candidate) {
			return candidate, nil
		}
	}

	if path, err := m.lookPath("claude"); err == nil && strings.TrimSpace(path) != "" {
		return path, nil
	}

	return "", fmt.Errorf("resolve claude binary: %w", ErrBinaryNotFound)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// filterEnv returns environ without the named variables.
func filterEnv(environ []string, names ...string) []string {
	filtered := make([]string, 0, len(environ))
	for _, entry := range environ {
		drop := false
		for _, name := range names {
			if strings.HasPrefix(entry, name+"=") {
				drop = true
				break
			}
		}
		if !drop {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
