// Package doctor runs environment preflight checks: is the claude CLI
// installed, is git available, can the session log directory be read, can
// runtime logs be written.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// CLIDetector resolves the claude binary path.
type CLIDetector interface {
	DetectCLIPath() (string, error)
}

// CheckResult is the outcome of one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Report aggregates all check results.
type Report struct {
	Checks []CheckResult `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	for _, check := range r.Checks {
		if !check.OK {
			return false
		}
	}
	return true
}

// Check is one named preflight probe. Run returns a human-readable detail
// on success.
type Check struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Manager executes preflight checks in order.
type Manager struct {
	checks []Check
}

// Config carries the environment the standard checks probe.
type Config struct {
	Detector CLIDetector
	// GitProbe verifies git availability, typically by running
	// `git --version` through the traced runner.
	GitProbe    func(ctx context.Context) (string, error)
	ProjectsDir string
	LogDir      string
}

// NewManager builds a doctor with the standard check set. Extra checks are
// appended after the standard ones.
func NewManager(cfg Config, extra ...Check) (*Manager, error) {
	if cfg.Detector == nil {
		return nil, errors.New("CLI detector is required")
	}

	checks := []Check{
		{
			Name: "claude CLI",
			Run: func(context.Context) (string, error) {
				return cfg.Detector.DetectCLIPath()
			},
		},
	}
	if cfg.GitProbe != nil {
		checks = append(checks, Check{Name: "git", Run: cfg.GitProbe})
	}
	if strings.TrimSpace(cfg.ProjectsDir) != "" {
		checks = append(checks, Check{
			Name: "session logs",
			Run: func(context.Context) (string, error) {
				return probeProjectsDir(cfg.ProjectsDir)
			},
		})
	}
	if strings.TrimSpace(cfg.LogDir) != "" {
		checks = append(checks, Check{
			Name: "log directory",
			Run: func(context.Context) (string, error) {
				return probeWritableDir(cfg.LogDir)
			},
		})
	}
	checks = append(checks, extra...)

	return &Manager{checks: checks}, nil
}

// Run executes every check and returns the combined report. A failing
// check never aborts the run; its error becomes the detail.
func (m *Manager) Run(ctx context.Context) Report {
	report := Report{Checks: make([]CheckResult, 0, len(m.checks))}
	for _, check := range m.checks {
		detail, err := check.Run(ctx)
		result := CheckResult{Name: check.Name, OK: err == nil, Detail: detail}
		if err != nil {
			result.Detail = err.Error()
		}
		report.Checks = append(report.Checks, result)
	}
	return report
}

func probeProjectsDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// The CLI creates it on first run; absence is not a failure.
			return "not created yet: " + dir, nil
		}
		return "", fmt.Errorf("stat projects directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read projects directory: %w", err)
	}
	return fmt.Sprintf("%s (%d projects)", dir, len(entries)), nil
}

func probeWritableDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("log directory not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return dir, nil
}
