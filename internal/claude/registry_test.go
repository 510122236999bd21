package claude

import (
	"io"
	"testing"
)

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

var _ io.WriteCloser = nopWriteCloser{}

func TestRegistryNeedsRespawn(t *testing.T) {
	t.Parallel()

	registry := newProcessRegistry()

	if !registry.needsRespawn("missing") {
		t.Fatal("missing record should need respawn")
	}

	registry.insert("s1", &processRecord{stdin: nopWriteCloser{}, status: StatusRunning})
	if registry.needsRespawn("s1") {
		t.Fatal("live record with open stdin should not need respawn")
	}

	registry.clearStdin("s1")
	if !registry.needsRespawn("s1") {
		t.Fatal("spent stdin should need respawn")
	}

	registry.insert("s2", &processRecord{stdin: nopWriteCloser{}, status: StatusCompleted})
	if !registry.needsRespawn("s2") {
		t.Fatal("completed record should need respawn")
	}
}

func TestRegistrySetStatusOnMissingRecordIsNoop(t *testing.T) {
	t.Parallel()

	registry := newProcessRegistry()
	if registry.setStatus("gone", StatusCompleted) {
		t.Fatal("setStatus on missing record should report false")
	}
}

func TestRegistryMarkErrorOnlyOnce(t *testing.T) {
	t.Parallel()

	registry := newProcessRegistry()
	registry.insert("s1", &processRecord{status: StatusRunning})

	if !registry.markError("s1") {
		t.Fatal("first markError should transition")
	}
	if registry.markError("s1") {
		t.Fatal("second markError should be a no-op")
	}
	status, _ := registry.status("s1")
	if status != StatusError {
		t.Fatalf("status = %q, want %q", status, StatusError)
	}
}

func TestRegistryMarkErrorIgnoresTerminalStates(t *testing.T) {
	t.Parallel()

	registry := newProcessRegistry()
	registry.insert("s1", &processRecord{status: StatusCompleted})

	if registry.markError("s1") {
		t.Fatal("completed record must not transition to error")
	}
	status, _ := registry.status("s1")
	if status != StatusCompleted {
		t.Fatalf("status = %q, want %q", status, StatusCompleted)
	}
}

func TestRegistryRemoveReturnsRecord(t *testing.T) {
	t.Parallel()

	registry := newProcessRegistry()
	record := &processRecord{workDir: "/tmp/project"}
	registry.insert("s1", record)

	if got := registry.remove("s1"); got != record {
		t.Fatal("remove should return the stored record")
	}
	if got := registry.remove("s1"); got != nil {
		t.Fatal("second remove should return nil")
	}
	if _, ok := registry.status("s1"); ok {
		t.Fatal("removed record should have no status")
	}
}

func TestRegistryIsActive(t *testing.T) {
	t.Parallel()

	registry := newProcessRegistry()
	cases := []struct {
		status ProcessStatus
		active bool
	}{
		{StatusStarting, true},
		{StatusRunning, true},
		{StatusWaitingInput, true},
		{StatusPaused, false},
		{StatusCompleted, false},
		{StatusError, false},
	}
	for _, tc := range cases {
		registry.insert("s", &processRecord{status: tc.status})
		if got := registry.isActive("s"); got != tc.active {
			t.Fatalf("isActive(%s) = %v, want %v", tc.status, got, tc.active)
		}
	}
	registry.remove("s")
	if registry.isActive("s") {
		t.Fatal("missing record should not be active")
	}
}

func TestRegistryHandlesSorted(t *testing.T) {
	t.Parallel()

	registry := newProcessRegistry()
	registry.insert("b", &processRecord{})
	registry.insert("a", &processRecord{})
	registry.insert("c", &processRecord{})

	handles := registry.handles()
	if len(handles) != 3 || handles[0] != "a" || handles[1] != "b" || handles[2] != "c" {
		t.Fatalf("handles = %v", handles)
	}
}

func TestConversationMapRecordOnce(t *testing.T) {
	t.Parallel()

	conversations := newConversationMap()

	if !conversations.recordOnce("s1", "ext-1") {
		t.Fatal("first recordOnce should store")
	}
	if conversations.recordOnce("s1", "ext-2") {
		t.Fatal("second recordOnce should not overwrite")
	}
	id, ok := conversations.lookup("s1")
	if !ok || id != "ext-1" {
		t.Fatalf("lookup = %q, %v", id, ok)
	}

	conversations.record("s1", "ext-3")
	if id, _ := conversations.lookup("s1"); id != "ext-3" {
		t.Fatalf("record should overwrite, got %q", id)
	}
}
