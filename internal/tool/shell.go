package tool

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"kestrel/internal/domain"
)

const (
	defaultShellTimeout   = 30 * time.Second
	maxShellTimeout       = 10 * time.Minute
	defaultShellMaxOutput = 64 * 1024
)

// ShellConfig configures the shell tool.
type ShellConfig struct {
	// Workspace is the working directory commands run in.
	Workspace string
	// Timeout bounds a single command unless the call overrides it.
	Timeout time.Duration
	// MaxOutputBytes caps captured output before truncation.
	MaxOutputBytes int
	Logger         *slog.Logger
}

// ShellTool runs commands through `sh -c` in the workspace directory.
// Failures are folded into the result text so the model sees the output
// alongside the exit status instead of a bare error.
type ShellTool struct {
	workspace string
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

func NewShellTool(cfg ShellConfig) *ShellTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultShellMaxOutput
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ShellTool{
		workspace: cfg.Workspace,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
		logger:    cfg.Logger,
	}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace directory and return its combined stdout and stderr."
}

func (t *ShellTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"command": {
			Type:        "string",
			Description: "Command to run via sh -c",
		},
		"timeout_seconds": {
			Type:        "integer",
			Description: "Optional timeout override in seconds",
		},
	}, []string{"command"})
}

func (t *ShellTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "system",
		Patterns: []string{
			"run the test suite and report failures",
			"check disk usage under /var/log",
			"install a package with the system package manager",
		},
		Workflows: map[string][]string{
			"build and verify": {"shell", "read_file"},
		},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	timeout := t.timeout
	if secs := ArgsInt(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > maxShellTimeout {
			timeout = maxShellTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.Debug("running shell command", "command", command, "timeout", timeout)

	start := time.Now()
	output, err := runCommand(ctx, t.workspace, command)
	elapsed := time.Since(start)

	text := t.clip(string(output))
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return fmt.Sprintf("Command timed out after %s.\n%s", timeout, text), nil
	case ctx.Err() == context.Canceled:
		return "", ctx.Err()
	case err != nil:
		// Non-zero exit. The output usually explains more than the
		// status does, so keep both in the result.
		t.logger.Debug("shell command failed", "command", command, "error", err, "elapsed", elapsed)
		if text == "" {
			return fmt.Sprintf("Command failed: %v", err), nil
		}
		return fmt.Sprintf("%s\n(command failed: %v)", text, err), nil
	}

	t.logger.Debug("shell command finished", "command", command, "elapsed", elapsed, "bytes", len(output))
	if text == "" {
		return "(no output)", nil
	}
	return text, nil
}

func runCommand(ctx context.Context, dir, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func (t *ShellTool) clip(s string) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= t.maxOutput {
		return s
	}
	return s[:t.maxOutput] + "\n... (output truncated)"
}

var _ domain.PatternedTool = (*ShellTool)(nil)
