package tool

import (
	"fmt"

	"kestrel/internal/domain"
)

// ValidateArgs checks a call's arguments against a tool's JSON Schema
// parameters before execution: required fields present, value types match,
// enum values allowed, no undeclared fields. Returns a ToolArgumentError
// describing the first violation.
func ValidateArgs(def domain.ToolDefinition, args map[string]any) error {
	props, _ := def.Parameters["properties"].(map[string]any)

	if req, ok := def.Parameters["required"].([]string); ok {
		for _, name := range req {
			if _, present := args[name]; !present {
				return &domain.ToolArgumentError{Tool: def.Name, Reason: fmt.Sprintf("missing required argument %q", name)}
			}
		}
	} else if req, ok := def.Parameters["required"].([]any); ok {
		for _, rv := range req {
			name, _ := rv.(string)
			if _, present := args[name]; !present {
				return &domain.ToolArgumentError{Tool: def.Name, Reason: fmt.Sprintf("missing required argument %q", name)}
			}
		}
	}

	for name, val := range args {
		raw, declared := props[name]
		if !declared {
			return &domain.ToolArgumentError{Tool: def.Name, Reason: fmt.Sprintf("unknown argument %q", name)}
		}
		prop, _ := raw.(map[string]any)
		if prop == nil {
			continue
		}
		wantType, _ := prop["type"].(string)
		if wantType != "" && val != nil && !matchesType(wantType, val) {
			return &domain.ToolArgumentError{
				Tool:   def.Name,
				Reason: fmt.Sprintf("argument %q must be %s, got %T", name, wantType, val),
			}
		}
		if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
			if !enumContains(enum, val) {
				return &domain.ToolArgumentError{
					Tool:   def.Name,
					Reason: fmt.Sprintf("argument %q must be one of %v", name, enum),
				}
			}
		}
	}
	return nil
}

// matchesType checks a decoded JSON value against a schema type name.
// Numbers arrive as float64 from encoding/json; "integer" additionally
// requires a whole value.
func matchesType(schemaType string, val any) bool {
	switch schemaType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		return isNumber(val)
	case "integer":
		switch n := val.(type) {
		case float64:
			return n == float64(int64(n))
		case int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}

func isNumber(val any) bool {
	switch val.(type) {
	case float64, int, int64:
		return true
	}
	return false
}

func enumContains(enum []any, val any) bool {
	for _, e := range enum {
		if e == val {
			return true
		}
	}
	return false
}
