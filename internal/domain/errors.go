package domain

import (
	"errors"
	"fmt"
)

// ToolNotFoundError reports a request for a tool that is not registered or
// not enabled. The loop surfaces it to the model as a tool result so the
// model can pick another tool.
type ToolNotFoundError struct {
	Name      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("unknown tool: %s (available: %v)", e.Name, e.Available)
}

// ToolArgumentError reports arguments that fail a tool's parameter schema.
// Validation runs before execution; a failing call is never executed.
type ToolArgumentError struct {
	Tool   string
	Reason string
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Reason)
}

// PermissionDeniedError reports that the user refused a confirmation
// request. Like the errors above it becomes a tool result, not a crash.
type PermissionDeniedError struct {
	Tool string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for tool %s", e.Tool)
}

// ProviderError is a transport, auth, or rate-limit failure from an LLM
// backend. Adapters classify but never retry; the loop retries when
// Retryable is set.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
	}
	return fmt.Sprintf("provider %s: %s (retryable=%v)", e.Provider, e.Message, e.Retryable)
}

// ProviderErrorFromStatus builds a ProviderError classified by HTTP status.
// Rate limits, timeouts, and server-side failures are retryable; client
// errors are not.
func ProviderErrorFromStatus(provider string, status int, message string) *ProviderError {
	retryable := false
	switch {
	case status == 408 || status == 429:
		retryable = true
	case status >= 500:
		retryable = true
	}
	return &ProviderError{Provider: provider, StatusCode: status, Message: message, Retryable: retryable}
}

// IsRetryable reports whether err is a ProviderError marked retryable.
// Plain transport errors (no status) are wrapped retryable by adapters, so
// anything that is not a ProviderError is not retried.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// LoopLimitError reports that a run hit its iteration ceiling without the
// model producing a final answer.
type LoopLimitError struct {
	Iterations int
	Turns      int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("loop limit exceeded after %d iterations (%d turns recorded)", e.Iterations, e.Turns)
}
