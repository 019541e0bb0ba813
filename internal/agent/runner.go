package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/memory"
	"kestrel/internal/permission"
	"kestrel/internal/tool"
)

const (
	defaultDelegateTimeout = 5 * time.Minute
	defaultMaxDepth        = 3
)

// ProviderResolver resolves a provider adapter by name.
type ProviderResolver interface {
	Get(name string) (domain.Provider, error)
}

// Runner builds ready-to-run loops for named agent profiles. The CLI and
// nested delegations both construct loops here, so they get the same
// wiring: a fresh session and gate per loop, the shared registry, and a
// provider from the factory.
type Runner struct {
	cfg             *config.Config
	providers       ProviderResolver
	registry        *tool.Registry
	audit           domain.AuditLogger
	confirm         permission.ConfirmFunc
	logger          *slog.Logger
	maxDepth        int
	delegateTimeout time.Duration
}

type RunnerConfig struct {
	Config          *config.Config
	Providers       ProviderResolver
	Registry        *tool.Registry
	Audit           domain.AuditLogger
	Confirm         permission.ConfirmFunc // nil denies all permission-gated tools
	Logger          *slog.Logger
	MaxDepth        int
	DelegateTimeout time.Duration
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.DelegateTimeout <= 0 {
		cfg.DelegateTimeout = defaultDelegateTimeout
	}
	return &Runner{
		cfg:             cfg.Config,
		providers:       cfg.Providers,
		registry:        cfg.Registry,
		audit:           cfg.Audit,
		confirm:         cfg.Confirm,
		logger:          cfg.Logger,
		maxDepth:        cfg.MaxDepth,
		delegateTimeout: cfg.DelegateTimeout,
	}
}

// RunOptions overrides parts of the selected agent profile for one loop.
type RunOptions struct {
	Provider      string
	Model         string
	Rules         []string
	MaxIterations int
	Interactive   bool // use the runner's confirm callback; false denies gated tools
}

// Loop constructs a loop for the named agent profile. An empty name
// selects the configured default agent.
func (r *Runner) Loop(agentName string, opts RunOptions) (*Loop, error) {
	profile, err := r.cfg.Agent(agentName)
	if err != nil {
		return nil, err
	}

	providerName := profile.Provider
	if opts.Provider != "" {
		providerName = opts.Provider
	}
	p, err := r.providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("resolve provider for agent %s: %w", profile.Name, err)
	}

	model := profile.Model
	if opts.Model != "" {
		model = opts.Model
	}
	if model == "" {
		model = r.cfg.Providers[providerName].Model
	}

	rules := r.cfg.RulesText(profile)
	if len(opts.Rules) > 0 {
		rules = opts.Rules
	}

	maxIter := r.cfg.General.MaxIterations
	if opts.MaxIterations > 0 {
		maxIter = opts.MaxIterations
	}

	var confirm permission.ConfirmFunc
	if opts.Interactive {
		confirm = r.confirm
	}
	gate := permission.NewGate(permission.GateConfig{
		RequireConfirmation: profile.RequirePermission,
		Confirm:             confirm,
		Audit:               r.audit,
		Logger:              r.logger,
	})

	maxTurns := profile.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.cfg.Memory.MaxTurns
	}

	return NewLoop(LoopConfig{
		Provider:      p,
		Registry:      r.registry,
		Gate:          gate,
		Memory:        memory.NewSession(maxTurns),
		AgentName:     profile.Name,
		Workspace:     r.cfg.General.Workspace,
		Rules:         rules,
		EnabledTools:  profile.Tools,
		Model:         model,
		MaxIterations: maxIter,
		MaxTokens:     profile.MaxTokens,
		Temperature:   profile.Temperature,
		Audit:         r.audit,
		Logger:        r.logger,
	}), nil
}

type depthKey struct{}

// DelegationDepth reports how many delegation levels deep the context is.
func DelegationDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Delegate runs a one-shot nested task: a fresh loop for the named agent
// with its own session and gate, no confirmation handler, a hard
// timeout, and a depth counter carried through the context. Grants in
// the parent gate never reach the nested loop.
func (r *Runner) Delegate(ctx context.Context, agentName, instructions string, opts RunOptions) (string, error) {
	depth := DelegationDepth(ctx)
	if depth >= r.maxDepth {
		return "", fmt.Errorf("delegation depth limit reached (%d)", r.maxDepth)
	}

	opts.Interactive = false
	loop, err := r.Loop(agentName, opts)
	if err != nil {
		return "", err
	}

	ctx = context.WithValue(ctx, depthKey{}, depth+1)
	ctx, cancel := context.WithTimeout(ctx, r.delegateTimeout)
	defer cancel()

	r.logger.Info("delegating task", "agent", loop.prompt.agentName, "depth", depth+1)
	start := time.Now()
	out, err := loop.Run(ctx, instructions, nil)
	if err != nil {
		return "", err
	}
	r.logger.Info("delegated task completed",
		"agent", loop.prompt.agentName,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_len", len(out),
	)
	return out, nil
}
