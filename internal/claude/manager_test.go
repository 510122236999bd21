package claude

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openclaudgents/claudgents/internal/events"
)

// writeFakeCLI installs an executable shell script standing in for the
// claude binary. Scripts run with cwd set to the session's working
// directory, so they can drop observation files there.
func writeFakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func newTestManager(t *testing.T, bus events.Bus, cliPath string) *Manager {
	t.Helper()
	manager, err := NewManager(bus, log.New(io.Discard), ManagerConfig{CLIPath: cliPath})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readInvocations(t *testing.T, workDir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(workDir, "cli-invocations.txt"))
	if err != nil {
		t.Fatalf("read invocations: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func statusEvents(bus *recordingBus, status ProcessStatus) []events.Event {
	var matched []events.Event
	for _, event := range bus.byType(events.ClaudeSessionStatus) {
		payload, ok := event.Payload.(map[string]string)
		if ok && payload["status"] == string(status) {
			matched = append(matched, event)
		}
	}
	return matched
}

func TestSpawnStreamsAndCompletes(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `echo "$@" >> cli-invocations.txt
echo '{"type":"system","subtype":"init","session_id":"ext-1"}'
echo '{"type":"result","subtype":"success","usage":{"input_tokens":10,"output_tokens":5}}'
`)
	bus := &recordingBus{}
	manager := newTestManager(t, bus, cli)
	workDir := t.TempDir()

	if err := manager.Spawn(SpawnOptions{SessionID: "s1", WorkDir: workDir}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	waitFor(t, "completed status", func() bool {
		return len(statusEvents(bus, StatusCompleted)) == 1
	})

	if got := statusEvents(bus, StatusRunning); len(got) != 1 {
		t.Fatalf("expected 1 active status event, got %d", len(got))
	}
	if id, ok := manager.ConversationID("s1"); !ok || id != "ext-1" {
		t.Fatalf("conversation id = %q, %v", id, ok)
	}
	if got := bus.count(events.ClaudeUsageUpdate); got != 1 {
		t.Fatalf("expected 1 usage event, got %d", got)
	}
	status, ok := manager.Status("s1")
	if !ok || status != StatusCompleted {
		t.Fatalf("status = %q, %v", status, ok)
	}

	lines := readInvocations(t, workDir)
	if len(lines) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(lines))
	}
	for _, flag := range []string{"-p", "--output-format stream-json", "--verbose", "--include-partial-messages"} {
		if !strings.Contains(lines[0], flag) {
			t.Fatalf("invocation %q missing %q", lines[0], flag)
		}
	}
	if strings.Contains(lines[0], "--resume") {
		t.Fatalf("fresh spawn must not resume: %q", lines[0])
	}
}

func TestSendMessageFirstTurnUsesOpenStdin(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `echo "$@" >> cli-invocations.txt
cat > received.txt
echo '{"type":"result","subtype":"success"}'
`)
	bus := &recordingBus{}
	manager := newTestManager(t, bus, cli)
	workDir := t.TempDir()

	if err := manager.Spawn(SpawnOptions{SessionID: "s1", WorkDir: workDir}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := manager.SendMessage("s1", "hello there", ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, "message delivered", func() bool {
		data, err := os.ReadFile(filepath.Join(workDir, "received.txt"))
		return err == nil && string(data) == "hello there"
	})

	lines := readInvocations(t, workDir)
	if len(lines) != 1 {
		t.Fatalf("first message must not respawn, got %d invocations", len(lines))
	}
}

func TestSendMessageRespawnsWithResume(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `echo "$@" >> cli-invocations.txt
echo '{"type":"system","subtype":"init","session_id":"ext-42"}'
cat >> received.txt
echo '{"type":"result","subtype":"success"}'
`)
	bus := &recordingBus{}
	manager := newTestManager(t, bus, cli)
	workDir := t.TempDir()

	if err := manager.Spawn(SpawnOptions{SessionID: "s1", WorkDir: workDir}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := manager.SendMessage("s1", "first", ""); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	waitFor(t, "first turn completed", func() bool {
		status, ok := manager.Status("s1")
		return ok && status == StatusCompleted
	})

	if err := manager.SendMessage("s1", "second", ""); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	waitFor(t, "second invocation recorded", func() bool {
		data, err := os.ReadFile(filepath.Join(workDir, "cli-invocations.txt"))
		return err == nil && strings.Count(string(data), "\n") >= 2
	})

	lines := readInvocations(t, workDir)
	if len(lines) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "--resume ext-42") {
		t.Fatalf("respawn must resume the known conversation: %q", lines[1])
	}
}

func TestSendMessageWithoutRecordFallsBackToHandle(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `echo "$@" >> cli-invocations.txt
cat > /dev/null
echo '{"type":"result","subtype":"success"}'
`)
	bus := &recordingBus{}
	manager := newTestManager(t, bus, cli)
	workDir := t.TempDir()

	// No prior spawn and no registered conversation: the handle itself is
	// assumed to be a Claude session ID, as for sessions picked up from
	// on-disk logs.
	if err := manager.SendMessage("ext-from-disk", "resume me", workDir); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, "invocation recorded", func() bool {
		_, err := os.Stat(filepath.Join(workDir, "cli-invocations.txt"))
		return err == nil
	})

	lines := readInvocations(t, workDir)
	if !strings.Contains(lines[0], "--resume ext-from-disk") {
		t.Fatalf("expected resume with the handle, got %q", lines[0])
	}
}

func TestSendMessageUsesRegisteredConversationID(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `echo "$@" >> cli-invocations.txt
cat > /dev/null
echo '{"type":"result","subtype":"success"}'
`)
	bus := &recordingBus{}
	manager := newTestManager(t, bus, cli)
	workDir := t.TempDir()

	manager.RegisterConversationID("handle-1", "ext-99")
	if err := manager.SendMessage("handle-1", "hi", workDir); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, "invocation recorded", func() bool {
		_, err := os.Stat(filepath.Join(workDir, "cli-invocations.txt"))
		return err == nil
	})

	lines := readInvocations(t, workDir)
	if !strings.Contains(lines[0], "--resume ext-99") {
		t.Fatalf("expected resume with registered id, got %q", lines[0])
	}
}

func TestStderrPromotesErrorExactlyOnce(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `echo "first failure" >&2
echo "second failure" >&2
sleep 0.2
`)
	bus := &recordingBus{}
	manager := newTestManager(t, bus, cli)

	if err := manager.Spawn(SpawnOptions{SessionID: "s1", WorkDir: t.TempDir()}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	waitFor(t, "stderr lines", func() bool {
		return bus.count(events.ClaudeStderr) == 2
	})

	if got := statusEvents(bus, StatusError); len(got) != 1 {
		t.Fatalf("expected exactly 1 error status event, got %d", len(got))
	}
	status, _ := manager.Status("s1")
	if status != StatusError {
		t.Fatalf("status = %q, want %q", status, StatusError)
	}
}

func TestKillMissingSessionIsNoop(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &recordingBus{}, "/nonexistent/claude")
	if err := manager.Kill("never-spawned"); err != nil {
		t.Fatalf("Kill on missing session: %v", err)
	}
}

func TestKillRemovesRecord(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `sleep 30`)
	bus := &recordingBus{}
	manager := newTestManager(t, bus, cli)

	if err := manager.Spawn(SpawnOptions{SessionID: "s1", WorkDir: t.TempDir()}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !manager.IsActive("s1") {
		t.Fatal("spawned session should be active")
	}
	if err := manager.Kill("s1"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if manager.IsActive("s1") {
		t.Fatal("killed session should not be active")
	}
	if _, ok := manager.Status("s1"); ok {
		t.Fatal("killed session should have no record")
	}
}

func TestActiveHandles(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `sleep 30`)
	manager := newTestManager(t, &recordingBus{}, cli)

	for _, id := range []string{"s-b", "s-a"} {
		if err := manager.Spawn(SpawnOptions{SessionID: id, WorkDir: t.TempDir()}); err != nil {
			t.Fatalf("Spawn %s: %v", id, err)
		}
		defer manager.Kill(id)
	}

	handles := manager.ActiveHandles()
	if len(handles) != 2 || handles[0] != "s-a" || handles[1] != "s-b" {
		t.Fatalf("handles = %v", handles)
	}
}

func TestSpawnModelFlag(t *testing.T) {
	t.Parallel()

	cli := writeFakeCLI(t, `echo "$@" >> cli-invocations.txt`)
	bus := &recordingBus{}
	manager, err := NewManager(bus, log.New(io.Discard), ManagerConfig{CLIPath: cli, DefaultModel: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	workDir := t.TempDir()

	if err := manager.Spawn(SpawnOptions{SessionID: "s1", WorkDir: workDir, Model: "claude-opus-4-1"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitFor(t, "invocation recorded", func() bool {
		_, err := os.Stat(filepath.Join(workDir, "cli-invocations.txt"))
		return err == nil
	})

	lines := readInvocations(t, workDir)
	if !strings.Contains(lines[0], "--model claude-opus-4-1") {
		t.Fatalf("explicit model should win over default: %q", lines[0])
	}
	manager.Kill("s1")
}

func TestResolveCLIPath(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &recordingBus{}, "")
	manager.pathExists = func(path string) bool { return path == "/opt/homebrew/bin/claude" }
	manager.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	path, err := manager.DetectCLIPath()
	if err != nil {
		t.Fatalf("DetectCLIPath: %v", err)
	}
	if path != "/opt/homebrew/bin/claude" {
		t.Fatalf("path = %q", path)
	}
}

func TestResolveCLIPathFallsBackToPATH(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &recordingBus{}, "")
	manager.pathExists = func(string) bool { return false }
	manager.lookPath = func(file string) (string, error) {
		if file != "claude" {
			return "", fmt.Errorf("unexpected lookup %q", file)
		}
		return "/somewhere/on/path/claude", nil
	}

	path, err := manager.DetectCLIPath()
	if err != nil {
		t.Fatalf("DetectCLIPath: %v", err)
	}
	if path != "/somewhere/on/path/claude" {
		t.Fatalf("path = %q", path)
	}
}

func TestResolveCLIPathNotFound(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &recordingBus{}, "")
	manager.pathExists = func(string) bool { return false }
	manager.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := manager.DetectCLIPath()
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("err = %v, want ErrBinaryNotFound", err)
	}
	if !strings.Contains(err.Error(), "npm install") {
		t.Fatalf("error should carry the install hint: %v", err)
	}
}

func TestFilterEnv(t *testing.T) {
	t.Parallel()

	environ := []string{
		"PATH=/usr/bin",
		"CLAUDECODE=1",
		"CLAUDE_CODE_ENTRYPOINT=cli",
		"CLAUDECODE_UNRELATED=keep",
		"HOME=/root",
	}
	filtered := filterEnv(environ, suppressedEnvVars...)

	want := []string{"PATH=/usr/bin", "CLAUDECODE_UNRELATED=keep", "HOME=/root"}
	if len(filtered) != len(want) {
		t.Fatalf("filtered = %v", filtered)
	}
	for i, entry := range want {
		if filtered[i] != entry {
			t.Fatalf("filtered[%d] = %q, want %q", i, filtered[i], entry)
		}
	}
}
