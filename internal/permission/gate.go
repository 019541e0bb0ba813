package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"kestrel/internal/domain"
)

// Decision is the user's answer to a confirmation request.
type Decision string

const (
	Deny        Decision = "deny"
	AllowOnce   Decision = "allow_once"
	AllowAlways Decision = "allow_always"
)

// ConfirmFunc is a callback to request user confirmation. It presents the
// question and returns the user's decision.
type ConfirmFunc func(ctx context.Context, question string) (Decision, error)

// Gate decides whether a tool may execute. Tools in the configured
// require-confirmation set must be approved by the user; an "always allow"
// answer is remembered for the lifetime of this Gate only, so a nested
// delegation with its own Gate starts from zero grants.
type Gate struct {
	mu        sync.Mutex
	require   map[string]bool
	granted   map[string]bool
	confirmFn ConfirmFunc
	audit     domain.AuditLogger
	logger    *slog.Logger
}

type GateConfig struct {
	RequireConfirmation []string
	Confirm             ConfirmFunc
	Audit               domain.AuditLogger
	Logger              *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	require := make(map[string]bool, len(cfg.RequireConfirmation))
	for _, name := range cfg.RequireConfirmation {
		require[name] = true
	}
	return &Gate{
		require:   require,
		granted:   make(map[string]bool),
		confirmFn: cfg.Confirm,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
	}
}

// RequiresConfirmation reports whether the tool needs user approval: it is
// in the configured set and has not been granted this session.
func (g *Gate) RequiresConfirmation(tool string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.require[tool] && !g.granted[tool]
}

// Grant records a session-scoped "always allow" for the tool.
func (g *Gate) Grant(tool string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted[tool] = true
}

// Granted returns the tools granted so far this session, sorted.
func (g *Gate) Granted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.granted))
	for n := range g.granted {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Request asks the user to approve one execution of the tool. A nil
// confirm callback denies. Denial returns a PermissionDeniedError, which
// the loop reports to the model as a tool result rather than failing the
// run.
func (g *Gate) Request(ctx context.Context, tool, detail string) error {
	if g.confirmFn == nil {
		g.logAudit(ctx, tool, "confirm_deny", "no confirmation handler")
		return &domain.PermissionDeniedError{Tool: tool}
	}

	question := fmt.Sprintf("Tool %q wants to run.\n%s\nAllow? [y]es once / [a]lways this session / [n]o", tool, detail)
	decision, err := g.confirmFn(ctx, question)
	if err != nil {
		g.logAudit(ctx, tool, "confirm_deny", "confirmation error: "+err.Error())
		return fmt.Errorf("confirmation for %s: %w", tool, err)
	}

	switch decision {
	case AllowAlways:
		g.Grant(tool)
		g.logAudit(ctx, tool, "confirm_always", detail)
		return nil
	case AllowOnce:
		g.logAudit(ctx, tool, "confirm_once", detail)
		return nil
	default:
		g.logger.Info("tool execution denied by user", "tool", tool)
		g.logAudit(ctx, tool, "confirm_deny", detail)
		return &domain.PermissionDeniedError{Tool: tool}
	}
}

func (g *Gate) logAudit(ctx context.Context, tool, action, detail string) {
	if g.audit == nil {
		return
	}
	if err := g.audit.LogAudit(ctx, domain.AuditEntry{Tool: tool, Action: action, Detail: detail}); err != nil {
		g.logger.Warn("audit write failed", "tool", tool, "err", err)
	}
}
