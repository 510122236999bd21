package claude

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/openclaudgents/claudgents/internal/events"
)

// SessionWatcher watches the Claude projects directory and publishes a
// session:discovered event when session logs change. Writes are debounced:
// the CLI appends to a log many times per turn and subscribers only need
// to know that a rescan is due.
type SessionWatcher struct {
	store    *SessionStore
	bus      events.Bus
	logger   *log.Logger
	debounce time.Duration
}

func NewSessionWatcher(store *SessionStore, bus events.Bus, logger *log.Logger, debounce time.Duration) *SessionWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &SessionWatcher{
		store:    store,
		bus:      bus,
		logger:   logger,
		debounce: debounce,
	}
}

// Run watches until ctx is cancelled. Project subdirectories created while
// watching are added to the watch set; removal errors are ignored because
// fsnotify drops deleted paths itself.
func (w *SessionWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer watcher.Close()

	root := w.store.ProjectsDir()
	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read projects directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := watcher.Add(root + string(os.PathSeparator) + entry.Name()); err != nil {
				w.logger.Warn("watch project directory", "dir", entry.Name(), "error", err)
			}
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						w.logger.Warn("watch new project directory", "dir", event.Name, "error", err)
					}
				}
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.bus.Publish(events.Event{
				Type:    events.SessionDiscovered,
				Payload: map[string]string{"projectsDir": root},
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}
