package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesLogFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(WithBaseDir(dir))
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			t.Fatalf("close logger: %v", closeErr)
		}
	}()

	if !strings.HasPrefix(filepath.Base(logger.Path()), "claudgents-") {
		t.Fatalf("log file name = %q", logger.Path())
	}

	logger.Logger.With("session_id", "s-1").Info("spawn requested")

	content, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "spawn requested") {
		t.Fatalf("log file missing record: %s", content)
	}
}

func TestRotatesWhenSizeLimitCrossed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(WithBaseDir(dir), WithMaxSizeBytes(256))
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	defer logger.Close()

	firstPath := logger.Path()
	for i := 0; i < 20; i++ {
		logger.Logger.With("iteration", i).Info("filler record to push past the size limit")
	}

	if logger.Path() == firstPath {
		t.Fatalf("log file did not rotate from %q", firstPath)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected multiple log files after rotation, got %d", len(entries))
	}
}

func TestRotationPrunesOldFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(WithBaseDir(dir), WithMaxSizeBytes(256), WithMaxFiles(2))
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 100; i++ {
		logger.Logger.With("iteration", i).Info("filler record to push past the size limit")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) > 2 {
		t.Fatalf("pruning left %d log files", len(entries))
	}
}

func TestPruneOldLogsKeepsNewest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	names := []string{
		"claudgents-20250101-000000.log",
		"claudgents-20250102-000000.log",
		"claudgents-20250103-000000.log",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("seed log file: %v", err)
		}
	}

	current := filepath.Join(dir, "claudgents-20250104-000000.log")
	pruneOldLogs(dir, current, 2)

	if _, err := os.Stat(filepath.Join(dir, names[0])); !os.IsNotExist(err) {
		t.Fatal("oldest log file should be pruned")
	}
	if _, err := os.Stat(filepath.Join(dir, names[1])); !os.IsNotExist(err) {
		t.Fatal("second oldest log file should be pruned")
	}
	if _, err := os.Stat(filepath.Join(dir, names[2])); err != nil {
		t.Fatalf("newest retained log file missing: %v", err)
	}
}
