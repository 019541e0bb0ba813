package domain

import "context"

// Tool is the interface for agent capabilities (shell, file ops, web, etc).
// Execute reports every failure through the returned error or result text;
// it must not panic.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// UsagePatterns is descriptive metadata a tool may carry: a category tag,
// example task phrasings, and named multi-tool workflows. It feeds the
// capability summary surfaces only and never influences execution.
type UsagePatterns struct {
	Category  string              `json:"category" yaml:"category"`
	Patterns  []string            `json:"patterns" yaml:"patterns"`
	Workflows map[string][]string `json:"workflows" yaml:"workflows"`
}

// PatternedTool is implemented by tools that publish usage patterns.
type PatternedTool interface {
	Tool
	Patterns() UsagePatterns
}
