package tool

import (
	"errors"
	"strings"
	"testing"

	"kestrel/internal/domain"
)

func sampleDef() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name: "sample",
		Parameters: ToolParameters(map[string]Param{
			"path":  {Type: "string", Description: "a path"},
			"count": {Type: "integer", Description: "a count"},
			"ratio": {Type: "number", Description: "a ratio"},
			"deep":  {Type: "boolean", Description: "a flag"},
			"mode":  {Type: "string", Description: "a mode", Enum: []string{"fast", "slow"}},
		}, []string{"path"}),
	}
}

func argErr(t *testing.T, err error) *domain.ToolArgumentError {
	t.Helper()
	var argErr *domain.ToolArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("got %T (%v), want ToolArgumentError", err, err)
	}
	return argErr
}

func TestValidateArgs_Valid(t *testing.T) {
	err := ValidateArgs(sampleDef(), map[string]any{
		"path":  "a.txt",
		"count": 3.0,
		"ratio": 0.5,
		"deep":  true,
		"mode":  "fast",
	})
	if err != nil {
		t.Fatalf("ValidateArgs: %v", err)
	}
}

func TestValidateArgs_MissingRequired(t *testing.T) {
	e := argErr(t, ValidateArgs(sampleDef(), map[string]any{"count": 1.0}))
	if !strings.Contains(e.Reason, `missing required argument "path"`) {
		t.Fatalf("reason = %q", e.Reason)
	}
}

func TestValidateArgs_UnknownArgument(t *testing.T) {
	e := argErr(t, ValidateArgs(sampleDef(), map[string]any{"path": "a", "bogus": 1.0}))
	if !strings.Contains(e.Reason, `unknown argument "bogus"`) {
		t.Fatalf("reason = %q", e.Reason)
	}
}

func TestValidateArgs_TypeMismatch(t *testing.T) {
	e := argErr(t, ValidateArgs(sampleDef(), map[string]any{"path": 12.0}))
	if !strings.Contains(e.Reason, `argument "path" must be string`) {
		t.Fatalf("reason = %q", e.Reason)
	}
}

func TestValidateArgs_IntegerRejectsFraction(t *testing.T) {
	e := argErr(t, ValidateArgs(sampleDef(), map[string]any{"path": "a", "count": 1.5}))
	if !strings.Contains(e.Reason, `argument "count" must be integer`) {
		t.Fatalf("reason = %q", e.Reason)
	}
	if err := ValidateArgs(sampleDef(), map[string]any{"path": "a", "count": 2.0}); err != nil {
		t.Fatalf("whole float64 should pass: %v", err)
	}
}

func TestValidateArgs_NumberAcceptsInts(t *testing.T) {
	if err := ValidateArgs(sampleDef(), map[string]any{"path": "a", "ratio": 2.0}); err != nil {
		t.Fatalf("ValidateArgs: %v", err)
	}
}

func TestValidateArgs_EnumViolation(t *testing.T) {
	e := argErr(t, ValidateArgs(sampleDef(), map[string]any{"path": "a", "mode": "warp"}))
	if !strings.Contains(e.Reason, `argument "mode" must be one of`) {
		t.Fatalf("reason = %q", e.Reason)
	}
}

func TestValidateArgs_NoDeclaredProperties(t *testing.T) {
	def := domain.ToolDefinition{Name: "loose", Parameters: map[string]any{"type": "object"}}
	e := argErr(t, ValidateArgs(def, map[string]any{"anything": 1.0}))
	if !strings.Contains(e.Reason, `unknown argument "anything"`) {
		t.Fatalf("reason = %q", e.Reason)
	}
	if err := ValidateArgs(def, nil); err != nil {
		t.Fatalf("empty args should pass: %v", err)
	}
}
