package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/memory"
	"kestrel/internal/permission"
	"kestrel/internal/tool"
)

const (
	defaultMaxIterations = 20
	defaultMaxTokens     = 4096
	defaultTemperature   = 0.7
	maxProviderRetries   = 3
)

// State names the loop's position in its run cycle.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingModel  State = "awaiting_model"
	StateModelResponded State = "model_responded"
	StateExecutingTools State = "executing_tools"
	StateDone           State = "done"
)

// Loop drives one conversation: call the model, execute the tools it
// requests in the order it requested them, feed the results back, and
// repeat until the model answers in plain text or the iteration ceiling
// is hit. One provider call or tool execution is in flight at a time.
type Loop struct {
	provider    domain.Provider
	registry    *tool.Registry
	gate        *permission.Gate
	memory      *memory.Session
	prompt      *PromptBuilder
	audit       domain.AuditLogger
	logger      *slog.Logger
	model       string
	enabled     []string
	maxIter     int
	maxTokens   int
	temperature float64
	state       State
}

// LoopConfig carries the loop's collaborators and tuning. Provider,
// Registry, Gate and Memory are required; zero tuning values fall back
// to defaults.
type LoopConfig struct {
	Provider      domain.Provider
	Registry      *tool.Registry
	Gate          *permission.Gate
	Memory        *memory.Session
	AgentName     string
	Workspace     string
	Rules         []string
	EnabledTools  []string // allowlist of tool names; empty means all registered
	Model         string
	MaxIterations int
	MaxTokens     int
	Temperature   float64
	Audit         domain.AuditLogger
	Logger        *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	name := cfg.AgentName
	if name == "" {
		name = "kestrel"
	}
	return &Loop{
		provider:    cfg.Provider,
		registry:    cfg.Registry,
		gate:        cfg.Gate,
		memory:      cfg.Memory,
		prompt:      NewPromptBuilder(name, cfg.Workspace, cfg.Rules),
		audit:       cfg.Audit,
		logger:      cfg.Logger,
		model:       cfg.Model,
		enabled:     cfg.EnabledTools,
		maxIter:     cfg.MaxIterations,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		state:       StateIdle,
	}
}

// State returns the loop's current run-cycle state. The loop is
// single-threaded; observe this from the calling goroutine only.
func (l *Loop) State() State {
	return l.state
}

// Memory exposes the session this loop appends to.
func (l *Loop) Memory() *memory.Session {
	return l.memory
}

// Run executes one task to completion and returns the model's final
// text. additionalContext entries are rendered into the system prompt
// for this run only. Turns are committed to memory as they complete, so
// cancellation leaves the session at the last whole turn.
func (l *Loop) Run(ctx context.Context, instructions string, additionalContext map[string]string) (string, error) {
	if instructions == "" {
		return "", fmt.Errorf("instructions are empty")
	}

	l.memory.Append(domain.Message{Role: "user", Content: instructions})
	defs := l.registry.DefinitionsFor(l.enabled)

	for iteration := 0; iteration < l.maxIter; iteration++ {
		l.state = StateAwaitingModel
		l.logger.Debug("model call", "iteration", iteration+1, "turns", l.memory.Len())

		resp, err := l.chatWithRetry(ctx, domain.ChatRequest{
			Messages:    l.prompt.Messages(l.memory, additionalContext),
			Tools:       defs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			l.state = StateIdle
			return "", fmt.Errorf("model call: %w", err)
		}
		l.state = StateModelResponded

		if !resp.HasToolCalls() {
			l.memory.Append(domain.Message{Role: "assistant", Content: resp.Content})
			l.state = StateDone
			return resp.Content, nil
		}

		l.state = StateExecutingTools
		l.memory.Append(domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				l.state = StateIdle
				return "", err
			}
			result, err := l.executeCall(ctx, tc)
			if err != nil {
				l.state = StateIdle
				return "", err
			}
			l.memory.Append(domain.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	l.state = StateIdle
	return "", &domain.LoopLimitError{Iterations: l.maxIter, Turns: l.memory.Len()}
}

// chatWithRetry calls the provider, retrying retryable failures with
// exponential backoff and jitter. Adapters never retry themselves.
func (l *Loop) chatWithRetry(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= maxProviderRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			backoff := base + jitter
			l.logger.Warn("retrying model call", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := l.provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		l.logger.Warn("model call failed, will retry", "error", err)
	}

	return nil, fmt.Errorf("model call failed after %d retries: %w", maxProviderRetries, lastErr)
}

// executeCall resolves, validates, gates and runs a single tool call.
// Unknown tools, bad arguments, permission denials and tool failures all
// come back as result text for the model to react to; only context
// cancellation and confirmation transport errors abort the run.
func (l *Loop) executeCall(ctx context.Context, tc domain.ToolCall) (string, error) {
	if !l.toolEnabled(tc.Name) {
		nfErr := &domain.ToolNotFoundError{Name: tc.Name, Available: l.enabledNames()}
		l.logger.Warn("tool not available", "tool", tc.Name)
		return nfErr.Error(), nil
	}

	t, err := l.registry.Get(tc.Name)
	if err != nil {
		l.logger.Warn("tool not found", "tool", tc.Name)
		return err.Error(), nil
	}

	def := domain.ToolDefinition{Name: t.Name(), Parameters: t.Parameters()}
	if err := tool.ValidateArgs(def, tc.Arguments); err != nil {
		l.logger.Warn("tool arguments rejected", "tool", tc.Name, "error", err)
		return err.Error(), nil
	}

	if l.gate.RequiresConfirmation(tc.Name) {
		if err := l.gate.Request(ctx, tc.Name, describeCall(tc)); err != nil {
			var denied *domain.PermissionDeniedError
			if errors.As(err, &denied) {
				l.logger.Info("tool denied", "tool", tc.Name)
				return err.Error(), nil
			}
			return "", fmt.Errorf("confirmation: %w", err)
		}
	}

	l.logger.Info("executing tool", "tool", tc.Name)
	result, err := t.Execute(ctx, tc.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		l.logger.Warn("tool failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("Error executing tool %s: %s", tc.Name, err.Error()), nil
	}

	l.logAudit(ctx, tc)
	l.logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result, nil
}

func (l *Loop) logAudit(ctx context.Context, tc domain.ToolCall) {
	if l.audit == nil {
		return
	}
	entry := domain.AuditEntry{Tool: tc.Name, Action: "tool_exec", Detail: describeCall(tc)}
	if err := l.audit.LogAudit(ctx, entry); err != nil {
		l.logger.Warn("audit write failed", "tool", tc.Name, "error", err)
	}
}

// toolEnabled applies the agent profile's allowlist. An empty list
// enables every registered tool.
func (l *Loop) toolEnabled(name string) bool {
	if len(l.enabled) == 0 {
		return true
	}
	for _, n := range l.enabled {
		if n == name {
			return true
		}
	}
	return false
}

func (l *Loop) enabledNames() []string {
	if len(l.enabled) == 0 {
		return l.registry.Names()
	}
	return l.enabled
}

// describeCall builds a short human-readable line for confirmation
// prompts and audit entries. Covers the arguments that matter for the
// common tools, falling back to the tool name alone.
func describeCall(tc domain.ToolCall) string {
	argStr := func(key string) string {
		if v, ok := tc.Arguments[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}

	switch tc.Name {
	case "shell":
		if cmd := argStr("command"); cmd != "" {
			return cmd
		}
	case "write_file":
		if path := argStr("path"); path != "" {
			return "write " + path
		}
	case "web_fetch":
		if url := argStr("url"); url != "" {
			return "fetch " + url
		}
	case "delegate":
		if task := argStr("instructions"); task != "" {
			return "delegate: " + truncate(task, 120)
		}
	case "notify":
		if msg := argStr("message"); msg != "" {
			return "notify: " + truncate(msg, 120)
		}
	}
	return tc.Name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
