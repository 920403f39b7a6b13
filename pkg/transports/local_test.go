package transports

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalRun(t *testing.T) {
	local := NewLocal()

	result, err := local.Run(context.Background(), Command{Name: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}

	if result.Stdout != "hello\n" {
		t.Errorf("expected stdout 'hello\\n', got %q", result.Stdout)
	}

	if result.Stderr != "" {
		t.Errorf("expected empty stderr, got %q", result.Stderr)
	}

	if result.Duration <= 0 {
		t.Error("expected positive duration")
	}
}

func TestLocalRunExitCode(t *testing.T) {
	local := NewLocal()

	result, err := local.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error, got: %v", err)
	}

	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestLocalRunStderr(t *testing.T) {
	local := NewLocal()

	result, err := local.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}

	if result.Stderr != "oops\n" {
		t.Errorf("expected stderr 'oops\\n', got %q", result.Stderr)
	}
}

func TestLocalRunStdin(t *testing.T) {
	local := NewLocal()

	result, err := local.Run(context.Background(), Command{Name: "cat", Stdin: "ping"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Stdout != "ping" {
		t.Errorf("expected stdout 'ping', got %q", result.Stdout)
	}
}

func TestLocalRunDir(t *testing.T) {
	local := NewLocal()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "probe.txt"), []byte("probe data"), 0o644); err != nil {
		t.Fatalf("failed to write probe file: %v", err)
	}

	result, err := local.Run(context.Background(), Command{
		Name: "cat",
		Args: []string{"probe.txt"},
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Stdout != "probe data" {
		t.Errorf("expected stdout 'probe data', got %q", result.Stdout)
	}
}

func TestLocalRunEnv(t *testing.T) {
	local := NewLocal()

	result, err := local.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `printf %s "$PROBE_VALUE"`},
		Env:  map[string]string{"PROBE_VALUE": "from-env"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Stdout != "from-env" {
		t.Errorf("expected stdout 'from-env', got %q", result.Stdout)
	}
}

func TestLocalRunMissingBinary(t *testing.T) {
	local := NewLocal()

	_, err := local.Run(context.Background(), Command{Name: "no-such-binary-on-any-path"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected exec.ErrNotFound in chain, got %v", err)
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %T", err)
	}

	if transportErr.Temporary() {
		t.Error("missing binary should not be a temporary error")
	}
}

func TestLocalRunEmptyName(t *testing.T) {
	local := NewLocal()

	_, err := local.Run(context.Background(), Command{})
	if err == nil {
		t.Fatal("expected error for empty command name, got nil")
	}
}

func TestLocalRunContextCancel(t *testing.T) {
	local := NewLocal()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := local.Run(ctx, Command{Name: "sleep", Args: []string{"5"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("command was not killed promptly, took %v", elapsed)
	}
}

func TestLocalClose(t *testing.T) {
	if err := NewLocal().Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
