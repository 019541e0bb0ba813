package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"kestrel/internal/domain"
)

// Registry holds all available tools and executes them. It is populated
// once at startup (built-in tools first, then manifest directories) and is
// read-only afterwards, so it can be shared across concurrent loops.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]domain.Tool
	origins map[string]string // tool name -> builtin | project | user | directory label
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]domain.Tool),
		origins: make(map[string]string),
		logger:  logger,
	}
}

// Register adds a built-in tool. A tool with the same name replaces the
// earlier registration.
func (r *Registry) Register(t domain.Tool) {
	r.register(t, "builtin")
}

func (r *Registry) register(t domain.Tool, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.origins[t.Name()]; ok {
		r.logger.Debug("tool overridden", "name", t.Name(), "was", prev, "now", origin)
	}
	r.tools[t.Name()] = t
	r.origins[t.Name()] = origin
	r.logger.Debug("registered tool", "name", t.Name(), "origin", origin)
}

// Get returns the named tool or a ToolNotFoundError.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &domain.ToolNotFoundError{Name: name, Available: r.namesLocked()}
	}
	return t, nil
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Origin returns where the named tool was loaded from ("" if unknown).
func (r *Registry) Origin(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origins[name]
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx, args)
}

// GetDefinitions returns every registered tool's definition.
func (r *Registry) GetDefinitions() []domain.ToolDefinition {
	return r.DefinitionsFor(nil)
}

// DefinitionsFor returns definitions for the named tools in sorted name
// order. A nil or empty list means all registered tools; unknown names are
// skipped.
func (r *Registry) DefinitionsFor(names []string) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = r.namesLocked()
	} else {
		names = append([]string(nil), names...)
		sort.Strings(names)
	}

	defs := make([]domain.ToolDefinition, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			continue
		}
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
	Enum        []string
	Default     any
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			vals := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				vals[i] = v
			}
			prop["enum"] = vals
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgsString extracts a string argument, rendering non-strings as JSON.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgsInt extracts an integer argument, accepting the float64 values JSON
// decoding produces. Returns def when absent or not numeric.
func ArgsInt(args map[string]any, key string, def int) int {
	if args == nil {
		return def
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// ArgsBool extracts a boolean argument with a default.
func ArgsBool(args map[string]any, key string, def bool) bool {
	if args == nil {
		return def
	}
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
