package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/memory"
	"kestrel/internal/permission"
	"kestrel/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns canned responses in call order. Calls past the
// end of the script return Repeat when set, otherwise a plain final answer.
type scriptedProvider struct {
	script []scriptStep
	repeat *domain.ChatResponse
	calls  int
}

type scriptStep struct {
	resp *domain.ChatResponse
	err  error
}

func (p *scriptedProvider) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	i := p.calls
	p.calls++
	if i < len(p.script) {
		step := p.script[i]
		if step.err != nil {
			return nil, step.err
		}
		return step.resp, nil
	}
	if p.repeat != nil {
		return p.repeat, nil
	}
	return &domain.ChatResponse{Content: "out of script", FinishReason: "stop"}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Models() []string { return []string{"scripted-1"} }

var _ domain.Provider = (*scriptedProvider)(nil)

// blockingProvider parks until the context is cancelled.
type blockingProvider struct{}

func (p *blockingProvider) Chat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Models() []string { return nil }

var _ domain.Provider = (*blockingProvider)(nil)

// echoTool returns its text argument and counts executions.
type echoTool struct {
	execs int
}

func (e *echoTool) Name() string { return "echo" }

func (e *echoTool) Description() string { return "Echoes the given text back." }

func (e *echoTool) Parameters() map[string]any {
	return tool.ToolParameters(map[string]tool.Param{
		"text": {Type: "string", Description: "Text to echo"},
	}, []string{"text"})
}

func (e *echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	e.execs++
	return tool.ArgsString(args, "text"), nil
}

var _ domain.Tool = (*echoTool)(nil)

// failTool always returns an execution error.
type failTool struct{}

func (f *failTool) Name() string { return "fail" }

func (f *failTool) Description() string { return "Always fails." }

func (f *failTool) Parameters() map[string]any {
	return tool.ToolParameters(map[string]tool.Param{}, nil)
}

func (f *failTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	return "", fmt.Errorf("boom")
}

var _ domain.Tool = (*failTool)(nil)

// cancelTool cancels the run's context from inside an execution.
type cancelTool struct {
	cancel context.CancelFunc
}

func (c *cancelTool) Name() string { return "stop" }

func (c *cancelTool) Description() string { return "Cancels the run." }

func (c *cancelTool) Parameters() map[string]any {
	return tool.ToolParameters(map[string]tool.Param{}, nil)
}

func (c *cancelTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	c.cancel()
	return "stopping", nil
}

var _ domain.Tool = (*cancelTool)(nil)

func testRegistry(t *testing.T, tools ...domain.Tool) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry(testLogger())
	for _, tl := range tools {
		r.Register(tl)
	}
	return r
}

func openGate() *permission.Gate {
	return permission.NewGate(permission.GateConfig{Logger: testLogger()})
}

func newTestLoop(p domain.Provider, r *tool.Registry, g *permission.Gate, maxIter int) *Loop {
	return NewLoop(LoopConfig{
		Provider:      p,
		Registry:      r,
		Gate:          g,
		Memory:        memory.NewSession(0),
		MaxIterations: maxIter,
		Logger:        testLogger(),
	})
}

func toolCallResponse(id, name string, args map[string]any) *domain.ChatResponse {
	return &domain.ChatResponse{
		ToolCalls:    []domain.ToolCall{{ID: id, Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

func finalResponse(text string) *domain.ChatResponse {
	return &domain.ChatResponse{Content: text, FinishReason: "stop"}
}

func rolesOf(msgs []domain.Message) []string {
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	return roles
}

// --- Run ---

func TestRun_PlainAnswer(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{{resp: finalResponse("hello")}}}
	l := newTestLoop(p, testRegistry(t, &echoTool{}), openGate(), 0)

	out, err := l.Run(context.Background(), "say hello", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected 'hello', got %q", out)
	}
	if got := rolesOf(l.Memory().All()); len(got) != 2 || got[0] != "user" || got[1] != "assistant" {
		t.Fatalf("expected [user assistant], got %v", got)
	}
	if l.State() != StateDone {
		t.Fatalf("expected StateDone, got %v", l.State())
	}
}

func TestRun_EmptyInstructions(t *testing.T) {
	p := &scriptedProvider{}
	l := newTestLoop(p, testRegistry(t), openGate(), 0)

	if _, err := l.Run(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty instructions")
	}
	if p.calls != 0 {
		t.Fatalf("provider should not be called, got %d calls", p.calls)
	}
}

func TestRun_EchoRoundTrip(t *testing.T) {
	echo := &echoTool{}
	p := &scriptedProvider{script: []scriptStep{
		{resp: toolCallResponse("call_1", "echo", map[string]any{"text": "hi"})},
		{resp: finalResponse("done: hi")},
	}}
	l := newTestLoop(p, testRegistry(t, echo), openGate(), 0)

	out, err := l.Run(context.Background(), "echo hi back", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "done: hi" {
		t.Fatalf("expected 'done: hi', got %q", out)
	}
	if echo.execs != 1 {
		t.Fatalf("expected 1 execution, got %d", echo.execs)
	}

	turns := l.Memory().All()
	if got := rolesOf(turns); len(got) != 4 ||
		got[0] != "user" || got[1] != "assistant" || got[2] != "tool" || got[3] != "assistant" {
		t.Fatalf("expected [user assistant tool assistant], got %v", got)
	}
	if len(turns[1].ToolCalls) != 1 || turns[1].ToolCalls[0].Name != "echo" {
		t.Fatalf("assistant turn should carry the echo call, got %+v", turns[1].ToolCalls)
	}
	if turns[2].Content != "hi" || turns[2].ToolCallID != "call_1" || turns[2].ToolName != "echo" {
		t.Fatalf("unexpected tool turn: %+v", turns[2])
	}
	if turns[3].Content != "done: hi" {
		t.Fatalf("unexpected final turn: %+v", turns[3])
	}
}

func TestRun_IterationCeiling(t *testing.T) {
	echo := &echoTool{}
	p := &scriptedProvider{
		repeat: toolCallResponse("call_x", "echo", map[string]any{"text": "again"}),
	}
	l := newTestLoop(p, testRegistry(t, echo), openGate(), 3)

	_, err := l.Run(context.Background(), "never finish", nil)
	var limitErr *domain.LoopLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LoopLimitError, got %v", err)
	}
	if limitErr.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", limitErr.Iterations)
	}
	if p.calls != 3 {
		t.Fatalf("expected exactly 3 provider calls, got %d", p.calls)
	}
}

func TestRun_InvalidArgs_NeverExecutes(t *testing.T) {
	echo := &echoTool{}
	p := &scriptedProvider{script: []scriptStep{
		{resp: toolCallResponse("call_1", "echo", map[string]any{"wrong": "x"})},
		{resp: finalResponse("ok")},
	}}
	l := newTestLoop(p, testRegistry(t, echo), openGate(), 0)

	out, err := l.Run(context.Background(), "bad call", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "ok" {
		t.Fatalf("expected 'ok', got %q", out)
	}
	if echo.execs != 0 {
		t.Fatalf("tool must not execute on invalid args, got %d executions", echo.execs)
	}

	var toolTurns []domain.Message
	for _, m := range l.Memory().All() {
		if m.Role == "tool" {
			toolTurns = append(toolTurns, m)
		}
	}
	if len(toolTurns) != 1 {
		t.Fatalf("expected exactly 1 tool-result turn, got %d", len(toolTurns))
	}
	if !strings.Contains(toolTurns[0].Content, "invalid arguments") {
		t.Fatalf("tool result should describe the violation, got %q", toolTurns[0].Content)
	}
}

func TestRun_UnknownTool_ReportedToModel(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{resp: toolCallResponse("call_1", "ghost", nil)},
		{resp: finalResponse("ok")},
	}}
	l := newTestLoop(p, testRegistry(t, &echoTool{}), openGate(), 0)

	out, err := l.Run(context.Background(), "use a ghost", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "ok" {
		t.Fatalf("expected 'ok', got %q", out)
	}

	turns := l.Memory().All()
	if turns[2].Role != "tool" || !strings.Contains(turns[2].Content, "unknown tool") {
		t.Fatalf("expected unknown-tool result turn, got %+v", turns[2])
	}
}

func TestRun_DisabledTool_ReportedAsNotFound(t *testing.T) {
	echo := &echoTool{}
	fail := &failTool{}
	p := &scriptedProvider{script: []scriptStep{
		{resp: toolCallResponse("call_1", "fail", map[string]any{})},
		{resp: finalResponse("ok")},
	}}
	l := NewLoop(LoopConfig{
		Provider:     p,
		Registry:     testRegistry(t, echo, fail),
		Gate:         openGate(),
		Memory:       memory.NewSession(0),
		EnabledTools: []string{"echo"},
		Logger:       testLogger(),
	})

	if _, err := l.Run(context.Background(), "use fail", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	turns := l.Memory().All()
	if !strings.Contains(turns[2].Content, "unknown tool") {
		t.Fatalf("disabled tool should report as unknown, got %q", turns[2].Content)
	}
}

func TestRun_ToolFailure_ReportedToModel(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{resp: toolCallResponse("call_1", "fail", map[string]any{})},
		{resp: finalResponse("ok")},
	}}
	l := newTestLoop(p, testRegistry(t, &failTool{}), openGate(), 0)

	if _, err := l.Run(context.Background(), "try failing", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	turns := l.Memory().All()
	if !strings.Contains(turns[2].Content, "Error executing tool fail") {
		t.Fatalf("expected execution error in tool result, got %q", turns[2].Content)
	}
}

// --- Permission flow ---

func TestRun_PermissionDenied_ReportedToModel(t *testing.T) {
	echo := &echoTool{}
	p := &scriptedProvider{script: []scriptStep{
		{resp: toolCallResponse("call_1", "echo", map[string]any{"text": "hi"})},
		{resp: finalResponse("ok")},
	}}
	g := permission.NewGate(permission.GateConfig{
		RequireConfirmation: []string{"echo"},
		Confirm: func(_ context.Context, _ string) (permission.Decision, error) {
			return permission.Deny, nil
		},
		Logger: testLogger(),
	})
	l := newTestLoop(p, testRegistry(t, echo), g, 0)

	out, err := l.Run(context.Background(), "echo hi", nil)
	if err != nil {
		t.Fatalf("denial must not fail the run: %v", err)
	}
	if out != "ok" {
		t.Fatalf("expected 'ok', got %q", out)
	}
	if echo.execs != 0 {
		t.Fatalf("denied tool must not execute, got %d executions", echo.execs)
	}
	turns := l.Memory().All()
	if !strings.Contains(turns[2].Content, "permission denied") {
		t.Fatalf("expected denial in tool result, got %q", turns[2].Content)
	}
}

func TestRun_AllowAlways_AsksOnce(t *testing.T) {
	echo := &echoTool{}
	p := &scriptedProvider{script: []scriptStep{
		{resp: toolCallResponse("call_1", "echo", map[string]any{"text": "one"})},
		{resp: toolCallResponse("call_2", "echo", map[string]any{"text": "two"})},
		{resp: finalResponse("ok")},
	}}
	asked := 0
	g := permission.NewGate(permission.GateConfig{
		RequireConfirmation: []string{"echo"},
		Confirm: func(_ context.Context, _ string) (permission.Decision, error) {
			asked++
			return permission.AllowAlways, nil
		},
		Logger: testLogger(),
	})
	l := newTestLoop(p, testRegistry(t, echo), g, 0)

	if _, err := l.Run(context.Background(), "echo twice", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if asked != 1 {
		t.Fatalf("expected 1 confirmation prompt, got %d", asked)
	}
	if echo.execs != 2 {
		t.Fatalf("expected 2 executions, got %d", echo.execs)
	}
}

// --- Provider failure handling ---

func TestRun_NonRetryableProviderError_FailsFast(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{err: &domain.ProviderError{Provider: "scripted", StatusCode: 401, Message: "bad key"}},
	}}
	l := newTestLoop(p, testRegistry(t), openGate(), 0)

	_, err := l.Run(context.Background(), "anything", nil)
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("non-retryable error must not retry, got %d calls", p.calls)
	}
}

func TestRun_RetryableProviderError_Retried(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{err: &domain.ProviderError{Provider: "scripted", StatusCode: 429, Message: "slow down", Retryable: true}},
		{resp: finalResponse("recovered")},
	}}
	l := newTestLoop(p, testRegistry(t), openGate(), 0)

	out, err := l.Run(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "recovered" {
		t.Fatalf("expected 'recovered', got %q", out)
	}
	if p.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.calls)
	}
}

// --- Cancellation ---

func TestRun_CancelDuringProviderWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newTestLoop(&blockingProvider{}, testRegistry(t), openGate(), 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := l.Run(ctx, "wait forever", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if l.Memory().Len() != 1 {
		t.Fatalf("only the user turn should be committed, got %d turns", l.Memory().Len())
	}
}

func TestRun_CancelBetweenToolCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := &cancelTool{cancel: cancel}
	echo := &echoTool{}
	p := &scriptedProvider{script: []scriptStep{
		{resp: &domain.ChatResponse{
			ToolCalls: []domain.ToolCall{
				{ID: "call_1", Name: "stop", Arguments: map[string]any{}},
				{ID: "call_2", Name: "echo", Arguments: map[string]any{"text": "never"}},
			},
			FinishReason: "tool_calls",
		}},
	}}
	l := newTestLoop(p, testRegistry(t, stop, echo), openGate(), 0)

	_, err := l.Run(ctx, "stop then echo", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if echo.execs != 0 {
		t.Fatalf("second call must not run after cancellation, got %d executions", echo.execs)
	}
	// user, assistant, and the completed stop-tool turn
	if got := rolesOf(l.Memory().All()); len(got) != 3 || got[2] != "tool" {
		t.Fatalf("expected 3 whole turns ending in tool, got %v", got)
	}
}

// --- describeCall ---

func TestDescribeCall_Shell(t *testing.T) {
	tc := domain.ToolCall{Name: "shell", Arguments: map[string]any{"command": "ls -la"}}
	if got := describeCall(tc); got != "ls -la" {
		t.Fatalf("expected 'ls -la', got %q", got)
	}
}

func TestDescribeCall_WriteFile(t *testing.T) {
	tc := domain.ToolCall{Name: "write_file", Arguments: map[string]any{"path": "/tmp/x", "content": "data"}}
	if got := describeCall(tc); got != "write /tmp/x" {
		t.Fatalf("expected 'write /tmp/x', got %q", got)
	}
}

func TestDescribeCall_FallsBackToName(t *testing.T) {
	tc := domain.ToolCall{Name: "read_file", Arguments: map[string]any{"path": "/tmp/x"}}
	if got := describeCall(tc); got != "read_file" {
		t.Fatalf("expected tool name fallback, got %q", got)
	}
}
