package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kestrel/internal/domain"
)

// DelegateFunc runs a nested agent task and returns its final answer. It is
// injected at startup so this package never depends on the loop machinery.
type DelegateFunc func(ctx context.Context, agentName, instructions string) (string, error)

// DelegateConfig configures the delegate tool.
type DelegateConfig struct {
	Run DelegateFunc
	// Agents lists the configured profile names, surfaced in the tool
	// description so the model knows what it can delegate to.
	Agents []string
	Logger *slog.Logger
}

// DelegateTool hands a self-contained task to a nested agent and returns
// its answer as the tool result. The nested run cannot prompt the user, so
// anything needing confirmation is denied inside it.
type DelegateTool struct {
	run    DelegateFunc
	agents []string
	logger *slog.Logger
}

func NewDelegateTool(cfg DelegateConfig) *DelegateTool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DelegateTool{
		run:    cfg.Run,
		agents: cfg.Agents,
		logger: cfg.Logger,
	}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	desc := "Delegate a self-contained task to another agent and return its answer. " +
		"Include all needed context in the instructions, the agent shares nothing with this conversation."
	if len(t.agents) > 0 {
		desc += " Available agents: " + strings.Join(t.agents, ", ") + "."
	}
	return desc
}

func (t *DelegateTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"instructions": {
			Type:        "string",
			Description: "Complete task description for the nested agent",
		},
		"agent": {
			Type:        "string",
			Description: "Agent profile to run, defaults to the default agent",
		},
	}, []string{"instructions"})
}

func (t *DelegateTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "agents",
		Patterns: []string{
			"have the coder agent write the migration script",
			"fan out a research question to a sub-agent",
		},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	instructions := strings.TrimSpace(ArgsString(args, "instructions"))
	if instructions == "" {
		return "", fmt.Errorf("instructions must not be empty")
	}
	agentName := strings.TrimSpace(ArgsString(args, "agent"))

	t.logger.Info("delegating task", "agent", agentName, "instructions", instructions)
	answer, err := t.run(ctx, agentName, instructions)
	if err != nil {
		return "", fmt.Errorf("delegated task failed: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return "(the delegated agent returned no answer)", nil
	}
	return answer, nil
}

var _ domain.PatternedTool = (*DelegateTool)(nil)
