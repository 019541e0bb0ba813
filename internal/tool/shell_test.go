package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestShell(t *testing.T, cfg ShellConfig) *ShellTool {
	t.Helper()
	if cfg.Workspace == "" {
		cfg.Workspace = t.TempDir()
	}
	cfg.Logger = testLogger()
	return NewShellTool(cfg)
}

func TestShellTool_RunsCommand(t *testing.T) {
	sh := newTestShell(t, ShellConfig{})
	out, err := sh.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q, want hello", out)
	}
}

func TestShellTool_RunsInWorkspace(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sh := newTestShell(t, ShellConfig{Workspace: ws})

	out, err := sh.Execute(context.Background(), map[string]any{"command": "ls"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "marker.txt") {
		t.Fatalf("got %q, want marker.txt listed", out)
	}
}

func TestShellTool_EmptyCommand(t *testing.T) {
	sh := newTestShell(t, ShellConfig{})
	if _, err := sh.Execute(context.Background(), map[string]any{"command": "  "}); err == nil {
		t.Fatal("want error for empty command")
	}
}

func TestShellTool_NoOutput(t *testing.T) {
	sh := newTestShell(t, ShellConfig{})
	out, err := sh.Execute(context.Background(), map[string]any{"command": "true"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "(no output)" {
		t.Fatalf("got %q", out)
	}
}

func TestShellTool_NonZeroExitFoldedIntoResult(t *testing.T) {
	sh := newTestShell(t, ShellConfig{})
	out, err := sh.Execute(context.Background(), map[string]any{"command": "echo boom; exit 3"})
	if err != nil {
		t.Fatalf("exit status should not surface as error, got %v", err)
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("result lost the output: %q", out)
	}
	if !strings.Contains(out, "command failed") || !strings.Contains(out, "exit status 3") {
		t.Fatalf("result lost the exit status: %q", out)
	}
}

func TestShellTool_FailureWithoutOutput(t *testing.T) {
	sh := newTestShell(t, ShellConfig{})
	out, err := sh.Execute(context.Background(), map[string]any{"command": "exit 7"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "Command failed") {
		t.Fatalf("got %q", out)
	}
}

func TestShellTool_TruncatesOutput(t *testing.T) {
	sh := newTestShell(t, ShellConfig{MaxOutputBytes: 8})
	out, err := sh.Execute(context.Background(), map[string]any{"command": "printf 'aaaaaaaaaaaaaaaa'"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasSuffix(out, "... (output truncated)") {
		t.Fatalf("got %q, want truncation marker", out)
	}
	if !strings.HasPrefix(out, "aaaaaaaa\n") {
		t.Fatalf("got %q, want 8 bytes kept", out)
	}
}

func TestShellTool_Timeout(t *testing.T) {
	sh := newTestShell(t, ShellConfig{Timeout: 200 * time.Millisecond})
	out, err := sh.Execute(context.Background(), map[string]any{"command": "sleep 5"})
	if err != nil {
		t.Fatalf("timeout should fold into the result, got %v", err)
	}
	if !strings.Contains(out, "timed out") {
		t.Fatalf("got %q, want timeout notice", out)
	}
}

func TestShellTool_TimeoutOverrideArgument(t *testing.T) {
	sh := newTestShell(t, ShellConfig{Timeout: time.Minute})
	start := time.Now()
	out, err := sh.Execute(context.Background(), map[string]any{
		"command":         "sleep 30",
		"timeout_seconds": 1.0,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("override ignored, took %s", elapsed)
	}
	if !strings.Contains(out, "timed out") {
		t.Fatalf("got %q, want timeout notice", out)
	}
}

func TestShellTool_CanceledContext(t *testing.T) {
	sh := newTestShell(t, ShellConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sh.Execute(ctx, map[string]any{"command": "echo hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
