package agent

import (
	"strings"
	"testing"

	"kestrel/internal/domain"
	"kestrel/internal/memory"
)

func TestSystem_IncludesIdentityAndRules(t *testing.T) {
	pb := NewPromptBuilder("scout", "/tmp/ws", []string{"Check twice.", "Answer briefly."})
	out := pb.System(nil, nil)

	if !strings.Contains(out, "# scout") {
		t.Fatalf("expected agent heading, got:\n%s", out)
	}
	if !strings.Contains(out, "1. Check twice.") || !strings.Contains(out, "2. Answer briefly.") {
		t.Fatalf("expected numbered rules, got:\n%s", out)
	}
	if !strings.Contains(out, "/tmp/ws") {
		t.Fatalf("expected workspace path, got:\n%s", out)
	}
	if !strings.Contains(out, "## Tool Use") {
		t.Fatalf("expected tool-use guidance, got:\n%s", out)
	}
}

func TestSystem_NoRulesSection(t *testing.T) {
	pb := NewPromptBuilder("scout", ".", nil)
	out := pb.System(nil, nil)
	if strings.Contains(out, "## Rules") {
		t.Fatalf("rules section should be absent without rules, got:\n%s", out)
	}
}

func TestSystem_ContextBlock(t *testing.T) {
	pb := NewPromptBuilder("scout", ".", nil)
	out := pb.System(
		map[string]string{"ticket": "KES-42"},
		map[string]any{"branch": "main"},
	)

	if !strings.Contains(out, "## Context") {
		t.Fatalf("expected context block, got:\n%s", out)
	}
	if !strings.Contains(out, "- ticket: KES-42") {
		t.Fatalf("expected additional context entry, got:\n%s", out)
	}
	if !strings.Contains(out, "- branch: main") {
		t.Fatalf("expected scratch entry, got:\n%s", out)
	}
}

func TestSystem_NoContextBlockWhenEmpty(t *testing.T) {
	pb := NewPromptBuilder("scout", ".", nil)
	out := pb.System(nil, map[string]any{})
	if strings.Contains(out, "## Context") {
		t.Fatalf("context block should be absent when empty, got:\n%s", out)
	}
}

func TestMessages_SystemFirstThenTurns(t *testing.T) {
	pb := NewPromptBuilder("scout", ".", nil)
	sess := memory.NewSession(0)
	sess.Append(
		domain.Message{Role: "user", Content: "hi"},
		domain.Message{Role: "assistant", Content: "hello"},
	)

	msgs := pb.Messages(sess, nil)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("expected system first, got %q", msgs[0].Role)
	}
	if msgs[1].Content != "hi" || msgs[2].Content != "hello" {
		t.Fatalf("turns out of order: %+v", msgs[1:])
	}
}

func TestMessages_IncludesScratchContext(t *testing.T) {
	pb := NewPromptBuilder("scout", ".", nil)
	sess := memory.NewSession(0)
	sess.SetContext("repo", "kestrel")

	msgs := pb.Messages(sess, nil)
	if !strings.Contains(msgs[0].Content, "- repo: kestrel") {
		t.Fatalf("system prompt should include scratch context, got:\n%s", msgs[0].Content)
	}
}
