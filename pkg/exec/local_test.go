package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalExecEcho(t *testing.T) {
	e := NewLocalExec()

	result, err := e.Run(context.Background(), []string{"echo", "hello"}, DefaultOpts())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("expected stdout %q, got %q", "hello", result.Stdout)
	}
	if result.ExecutorUsed != ExecutorTypeLocal {
		t.Errorf("expected executor %q, got %q", ExecutorTypeLocal, result.ExecutorUsed)
	}
}

func TestLocalExecNonZeroExit(t *testing.T) {
	e := NewLocalExec()

	result, err := e.Run(context.Background(), []string{"sh", "-c", "exit 3"}, DefaultOpts())
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestLocalExecEmptyCommand(t *testing.T) {
	e := NewLocalExec()

	if _, err := e.Run(context.Background(), nil, DefaultOpts()); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestLocalExecMissingWorkDir(t *testing.T) {
	e := NewLocalExec()
	opts := DefaultOpts()
	opts.WorkDir = "/nonexistent/path/for/test"

	if _, err := e.Run(context.Background(), []string{"echo", "hi"}, opts); err == nil {
		t.Error("expected error for missing working directory")
	}
}

func TestLocalExecWorkDir(t *testing.T) {
	e := NewLocalExec()
	dir := t.TempDir()
	opts := DefaultOpts()
	opts.WorkDir = dir

	result, err := e.Run(context.Background(), []string{"pwd"}, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Stdout, dir) {
		t.Errorf("expected pwd output to contain %q, got %q", dir, result.Stdout)
	}
}

func TestLocalExecEnv(t *testing.T) {
	e := NewLocalExec()
	opts := DefaultOpts()
	opts.Env = []string{"HANDS_TEST_VAR=marker-value"}

	result, err := e.Run(context.Background(), []string{"sh", "-c", "echo $HANDS_TEST_VAR"}, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "marker-value" {
		t.Errorf("expected env var to flow through, got %q", result.Stdout)
	}
}

func TestLocalExecTimeout(t *testing.T) {
	e := NewLocalExec()
	opts := DefaultOpts()
	opts.Timeout = 50 * time.Millisecond

	result, err := e.Run(context.Background(), []string{"sleep", "5"}, opts)
	if err == nil && result.ExitCode == 0 {
		t.Error("expected timeout to terminate the command")
	}
	if result.Duration > 3*time.Second {
		t.Errorf("timeout did not bound execution, took %v", result.Duration)
	}
}

func TestLocalExecAlwaysAvailable(t *testing.T) {
	if !NewLocalExec().Available() {
		t.Error("local executor should always be available")
	}
}
