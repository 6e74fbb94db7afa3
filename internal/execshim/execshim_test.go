package execshim

import (
	"context"
	"testing"
	"time"
)

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	result, err := Run(context.Background(), []string{"sh", "-c", "echo hello; echo world 1>&2"}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Stdout != "hello" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello")
	}
	if result.Stderr != "world" {
		t.Errorf("Stderr = %q, want %q", result.Stderr, "world")
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	result, err := Run(context.Background(), []string{"sh", "-c", "exit 3"}, Options{})
	if err == nil {
		t.Fatalf("Run() error = nil, want non-nil for exit code 3")
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestRunStreamsLines(t *testing.T) {
	var lines []string
	_, err := Run(context.Background(), []string{"sh", "-c", "echo one; echo two; echo three"}, Options{
		OnStdout: func(line string) { lines = append(lines, line) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("streamed %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRunCancellationKillsProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, []string{"sh", "-c", "sleep 5"}, Options{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("Run() error = nil, want a cancellation error")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Run() took %v to honor cancellation, want well under the 5s sleep", elapsed)
	}
}
