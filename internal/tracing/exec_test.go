package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	t.Parallel()

	result, err := ShellRunner{}.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2"}, t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 || result.Stdout != "out" || result.Stderr != "err" {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()

	result, err := ShellRunner{}.Run(context.Background(), "sh", []string{"-c", "exit 3"}, t.TempDir())
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestRunValidatesInputs(t *testing.T) {
	t.Parallel()

	if _, err := (ShellRunner{}).Run(context.Background(), "", nil, "/tmp"); err == nil {
		t.Fatal("expected error for empty command name")
	}
	if _, err := (ShellRunner{}).Run(context.Background(), "sh", nil, ""); err == nil {
		t.Fatal("expected error for empty cwd")
	}
}

func TestRedactArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "inline assignment",
			in:   []string{"--api-key=abc123"},
			want: []string{"--api-key=<redacted>"},
		},
		{
			name: "flag then value",
			in:   []string{"--token", "abc123", "status"},
			want: []string{"--token", "<redacted>", "status"},
		},
		{
			name: "plain args untouched",
			in:   []string{"status", "--porcelain"},
			want: []string{"status", "--porcelain"},
		},
	}
	for _, tc := range cases {
		got := redactArgs(tc.in)
		if strings.Join(got, " ") != strings.Join(tc.want, " ") {
			t.Fatalf("%s: redactArgs = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTruncateOutput(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 2048)
	got := truncateOutput(long, maxOutputEventBytes)
	if len(got) != maxOutputEventBytes {
		t.Fatalf("len = %d, want %d", len(got), maxOutputEventBytes)
	}
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Fatalf("missing truncation marker: %q", got[len(got)-20:])
	}
}

func TestFormatCommand(t *testing.T) {
	t.Parallel()

	if got := FormatCommand(" git ", []string{"status", "", " --porcelain "}); got != "git status --porcelain" {
		t.Fatalf("FormatCommand = %q", got)
	}
}
