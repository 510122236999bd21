package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeDetector struct {
	path string
	err  error
}

func (f fakeDetector) DetectCLIPath() (string, error) {
	return f.path, f.err
}

func TestRunAllChecksPass(t *testing.T) {
	t.Parallel()

	projectsDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(projectsDir, "-p1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	manager, err := NewManager(Config{
		Detector: fakeDetector{path: "/usr/local/bin/claude"},
		GitProbe: func(context.Context) (string, error) {
			return "git version 2.45.0", nil
		},
		ProjectsDir: projectsDir,
		LogDir:      filepath.Join(t.TempDir(), "logs"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	report := manager.Run(context.Background())
	if len(report.Checks) != 4 {
		t.Fatalf("checks = %+v", report.Checks)
	}
	if !report.Healthy() {
		t.Fatalf("report not healthy: %+v", report.Checks)
	}
	if report.Checks[0].Detail != "/usr/local/bin/claude" {
		t.Fatalf("cli detail = %q", report.Checks[0].Detail)
	}
}

func TestRunReportsMissingCLI(t *testing.T) {
	t.Parallel()

	manager, err := NewManager(Config{
		Detector: fakeDetector{err: errors.New("claude CLI not found")},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	report := manager.Run(context.Background())
	if report.Healthy() {
		t.Fatal("missing CLI should fail the report")
	}
	if report.Checks[0].OK || report.Checks[0].Detail != "claude CLI not found" {
		t.Fatalf("check = %+v", report.Checks[0])
	}
}

func TestRunMissingProjectsDirIsNotFailure(t *testing.T) {
	t.Parallel()

	manager, err := NewManager(Config{
		Detector:    fakeDetector{path: "/bin/claude"},
		ProjectsDir: filepath.Join(t.TempDir(), "never-created"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	report := manager.Run(context.Background())
	if !report.Healthy() {
		t.Fatalf("report = %+v", report.Checks)
	}
}

func TestRunFailingCheckDoesNotAbort(t *testing.T) {
	t.Parallel()

	manager, err := NewManager(Config{
		Detector: fakeDetector{err: errors.New("nope")},
	}, Check{
		Name: "custom",
		Run: func(context.Context) (string, error) {
			return "fine", nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	report := manager.Run(context.Background())
	if len(report.Checks) != 2 {
		t.Fatalf("checks = %+v", report.Checks)
	}
	if !report.Checks[1].OK || report.Checks[1].Detail != "fine" {
		t.Fatalf("custom check = %+v", report.Checks[1])
	}
}

func TestNewManagerRequiresDetector(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("expected error without detector")
	}
}
