package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	want   int
}

func newRecordingHandler(want int) *recordingHandler {
	return &recordingHandler{done: make(chan struct{}), want: want}
}

func (r *recordingHandler) handle(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	if len(r.events) == r.want {
		close(r.done)
	}
	r.mu.Unlock()
}

func (r *recordingHandler) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestPublishDeliversToTypedSubscriber(t *testing.T) {
	t.Parallel()

	bus := New()
	handler := newRecordingHandler(1)
	bus.Subscribe(ClaudeTextDelta, handler.handle)

	bus.Publish(Event{Type: ClaudeTextDelta, SessionID: "s-1", Payload: "hello"})

	got := handler.wait(t)
	require.Equal(t, "s-1", got[0].SessionID)
	require.False(t, got[0].Timestamp.IsZero(), "publish should stamp the event timestamp")
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	t.Parallel()

	bus := New()
	typed := newRecordingHandler(1)
	wildcard := newRecordingHandler(2)
	bus.Subscribe(ClaudeMessageComplete, typed.handle)
	bus.SubscribeAll(wildcard.handle)

	bus.Publish(Event{Type: ClaudeToolStart, SessionID: "s-1"})
	bus.Publish(Event{Type: ClaudeMessageComplete, SessionID: "s-1"})

	require.Equal(t, ClaudeMessageComplete, typed.wait(t)[0].Type)
	require.Len(t, wildcard.wait(t), 2)
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	bus := New(WithBufferSize(1), WithLogger(discardLogger{}))
	bus.Subscribe(ClaudeStderr, func(Event) { <-block })

	// First event is consumed (and blocks), second fills the buffer, the
	// rest must be dropped without blocking Publish.
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: ClaudeStderr, SessionID: "s-1"})
	}
	close(block)
}

func TestSubscribeIgnoresInvalidRegistrations(t *testing.T) {
	t.Parallel()

	bus := New()
	bus.Subscribe("", func(Event) { t.Error("handler for empty type must not run") })
	bus.Subscribe(ClaudeToolStart, nil)
	bus.SubscribeAll(nil)

	bus.Publish(Event{Type: ClaudeToolStart})
	time.Sleep(50 * time.Millisecond)
}
