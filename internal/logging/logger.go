package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	baseDir      string
	maxFiles     int
	maxSizeBytes int64
}

// WithBaseDir overrides the default ~/.claudgents/logs directory.
func WithBaseDir(dir string) Option {
	return func(opts *newOptions) {
		opts.baseDir = strings.TrimSpace(dir)
	}
}

// WithMaxFiles caps how many log files are kept; older files are pruned
// when a new file is opened.
func WithMaxFiles(maxFiles int) Option {
	return func(opts *newOptions) {
		if maxFiles > 0 {
			opts.maxFiles = maxFiles
		}
	}
}

// WithMaxSizeBytes rotates to a new log file once the current one would
// exceed maxSizeBytes. Zero disables size-based rotation.
func WithMaxSizeBytes(maxSizeBytes int64) Option {
	return func(opts *newOptions) {
		if maxSizeBytes > 0 {
			opts.maxSizeBytes = maxSizeBytes
		}
	}
}

// RuntimeLogger writes structured JSON logs to disk.
type RuntimeLogger struct {
	Logger *log.Logger
	writer *rotatingWriter
}

// New initializes logging under ~/.claudgents/logs without writing to stdout.
func New(options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)

	logDir := resolved.baseDir
	if logDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		logDir = filepath.Join(homeDir, ".claudgents", "logs")
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	writer, err := newRotatingWriter(logDir, resolved.maxSizeBytes, resolved.maxFiles)
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(writer, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		Logger: logger,
		writer: writer,
	}
	runtimeLogger.Logger.With("log_file", writer.currentPath()).Info("logger initialized")

	return runtimeLogger, nil
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.writer == nil {
		return nil
	}
	return r.writer.close()
}

// Path returns the current log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil || r.writer == nil {
		return ""
	}
	return r.writer.currentPath()
}

// rotatingWriter appends to a timestamped log file and switches to a fresh
// one when the size limit would be crossed.
type rotatingWriter struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	maxFiles int
	file     *os.File
	size     int64
	path     string
}

func newRotatingWriter(dir string, maxBytes int64, maxFiles int) (*rotatingWriter, error) {
	writer := &rotatingWriter{dir: dir, maxBytes: maxBytes, maxFiles: maxFiles}
	if err := writer.openFresh(); err != nil {
		return nil, err
	}
	return writer, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		// Rotation failure keeps the current oversized file; dropping log
		// records would be worse.
		if err := w.openFresh(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// openFresh opens a new timestamped log file and makes it current. The
// previous file, if any, is closed only after the new one is ready.
func (w *rotatingWriter) openFresh() error {
	timestamp := time.Now().UTC().Format("20060102-150405.000000")
	path := filepath.Join(w.dir, fmt.Sprintf("claudgents-%s.log", timestamp))
	// #nosec G304 -- path is constructed from trusted local paths.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = file
	w.size = info.Size()
	w.path = path

	if w.maxFiles > 0 {
		pruneOldLogs(w.dir, path, w.maxFiles)
	}
	return nil
}

func (w *rotatingWriter) currentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *rotatingWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// pruneOldLogs removes the oldest claudgents log files beyond maxFiles,
// never removing the file currently in use. Prune failures are ignored.
func pruneOldLogs(logDir, currentPath string, maxFiles int) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	var candidates []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "claudgents-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		full := filepath.Join(logDir, name)
		if full == currentPath {
			continue
		}
		candidates = append(candidates, full)
	}

	// Timestamped names sort chronologically.
	sort.Strings(candidates)
	excess := len(candidates) + 1 - maxFiles
	for i := 0; i < excess && i < len(candidates); i++ {
		_ = os.Remove(candidates[i])
	}
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
