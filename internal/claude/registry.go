package claude

import (
	"io"
	"os/exec"
	"sort"
	"sync"
)

// processRecord is the live state of one CLI process instance. All access
// goes through processRegistry under its lock; reader goroutines never keep
// a private copy.
type processRecord struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	workDir string
	status  ProcessStatus
}

// processRegistry maps session handles to their live process state. The
// lock is held only for map reads and writes, never across I/O.
type processRegistry struct {
	mu      sync.Mutex
	records map[string]*processRecord
}

func newProcessRegistry() *processRegistry {
	return &processRegistry{records: make(map[string]*processRecord)}
}

func (r *processRegistry) insert(sessionID string, record *processRecord) {
	r.mu.Lock()
	r.records[sessionID] = record
	r.mu.Unlock()
}

// remove deletes and returns the record, or nil if absent.
func (r *processRegistry) remove(sessionID string) *processRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return nil
	}
	delete(r.records, sessionID)
	return record
}

func (r *processRegistry) status(sessionID string) (ProcessStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return "", false
	}
	return record.status, true
}

// setStatus transitions the record's status. Returns false when no record
// exists, which makes late writes from stale reader goroutines no-ops.
func (r *processRegistry) setStatus(sessionID string, status ProcessStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return false
	}
	record.status = status
	return true
}

// markError promotes Starting/Running to Error. Returns true only on the
// transition, so the caller publishes the error status exactly once.
func (r *processRegistry) markError(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return false
	}
	if record.status != StatusStarting && record.status != StatusRunning {
		return false
	}
	record.status = StatusError
	return true
}

// needsRespawn reports whether sending a message requires a fresh process:
// no record, the current turn's stdin already spent, or the process done.
func (r *processRegistry) needsRespawn(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return true
	}
	return record.stdin == nil || record.status == StatusCompleted
}

func (r *processRegistry) workDir(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return "", false
	}
	return record.workDir, true
}

// stdinPipe returns the open write end for the current turn, if any.
func (r *processRegistry) stdinPipe(sessionID string) io.WriteCloser {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return nil
	}
	return record.stdin
}

// clearStdin marks the current turn's pipe as spent. A cleared pipe is
// never reused; the next message re-evaluates respawn need.
func (r *processRegistry) clearStdin(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[sessionID]; ok {
		record.stdin = nil
	}
}

func (r *processRegistry) isActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sessionID]
	if !ok {
		return false
	}
	switch record.status {
	case StatusStarting, StatusRunning, StatusWaitingInput:
		return true
	default:
		return false
	}
}

func (r *processRegistry) handles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]string, 0, len(r.records))
	for sessionID := range r.records {
		handles = append(handles, sessionID)
	}
	sort.Strings(handles)
	return handles
}

// conversationMap tracks the external Claude session ID discovered for each
// session handle.
type conversationMap struct {
	mu  sync.Mutex
	ids map[string]string
}

func newConversationMap() *conversationMap {
	return &conversationMap{ids: make(map[string]string)}
}

// recordOnce stores the ID only if none is recorded yet and reports whether
// it did. Later occurrences in the stream never overwrite the first.
func (c *conversationMap) recordOnce(sessionID, claudeSessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[sessionID]; ok {
		return false
	}
	c.ids[sessionID] = claudeSessionID
	return true
}

// record stores the ID unconditionally (resume seeding and explicit
// registration of sessions loaded from disk).
func (c *conversationMap) record(sessionID, claudeSessionID string) {
	c.mu.Lock()
	c.ids[sessionID] = claudeSessionID
	c.mu.Unlock()
}

func (c *conversationMap) lookup(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[sessionID]
	return id, ok
}
