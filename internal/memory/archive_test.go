package memory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"kestrel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "kestrel.db"), testLogger())
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveSaveAndLoad(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	turns := []domain.Message{
		{Role: "user", Content: "list the notes directory"},
		{Role: "assistant", ToolCalls: []domain.ToolCall{
			{ID: "call_1", Name: "list_dir", Arguments: map[string]any{"path": "notes"}},
		}},
		{Role: "tool", Content: "a.md\nb.md", ToolCallID: "call_1", ToolName: "list_dir"},
		{Role: "assistant", Content: "The directory holds a.md and b.md."},
	}

	id, err := a.SaveSession(ctx, "kestrel", "", turns)
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if id == "" {
		t.Fatal("SaveSession returned empty id")
	}

	got, err := a.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(got) != len(turns) {
		t.Fatalf("loaded %d turns, want %d", len(got), len(turns))
	}
	if got[0].Role != "user" || got[0].Content != "list the notes directory" {
		t.Errorf("turn 0 = %+v", got[0])
	}
	if len(got[1].ToolCalls) != 1 {
		t.Fatalf("turn 1 tool calls = %+v, want one", got[1].ToolCalls)
	}
	call := got[1].ToolCalls[0]
	if call.ID != "call_1" || call.Name != "list_dir" || call.Arguments["path"] != "notes" {
		t.Errorf("tool call = %+v", call)
	}
	if got[2].ToolCallID != "call_1" || got[2].ToolName != "list_dir" {
		t.Errorf("turn 2 = %+v", got[2])
	}
}

func TestArchiveLoadUnknownSession(t *testing.T) {
	a := openTestArchive(t)

	got, err := a.LoadSession(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("loaded %d turns, want 0", len(got))
	}
}

func TestArchiveListSessions(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	if _, err := a.SaveSession(ctx, "kestrel", "first task", []domain.Message{msg("user", "one")}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if _, err := a.SaveSession(ctx, "researcher", "second task", []domain.Message{msg("user", "a"), msg("assistant", "b")}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	infos, err := a.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(infos))
	}
	byTitle := map[string]SessionInfo{}
	for _, info := range infos {
		byTitle[info.Title] = info
	}
	if got := byTitle["first task"]; got.Agent != "kestrel" || got.Turns != 1 {
		t.Errorf("first task = %+v", got)
	}
	if got := byTitle["second task"]; got.Agent != "researcher" || got.Turns != 2 {
		t.Errorf("second task = %+v", got)
	}

	one, err := a.ListSessions(ctx, 1)
	if err != nil {
		t.Fatalf("ListSessions limit 1: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("listed %d sessions with limit 1", len(one))
	}
}

func TestArchiveAuditTrail(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{Tool: "shell", Action: "confirm_once", Detail: "ls -la"},
		{Tool: "write_file", Action: "confirm_deny", Detail: "overwrite main.go"},
	}
	for _, e := range entries {
		if err := a.LogAudit(ctx, e); err != nil {
			t.Fatalf("LogAudit: %v", err)
		}
	}

	lines, err := a.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d audit lines, want 2", len(lines))
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"confirm_once", "shell", "ls -la", "confirm_deny", "write_file"} {
		if !strings.Contains(joined, want) {
			t.Errorf("audit output missing %q:\n%s", want, joined)
		}
	}
}

func TestDeriveTitle(t *testing.T) {
	long := strings.Repeat("x", 70)
	tests := []struct {
		name  string
		turns []domain.Message
		want  string
	}{
		{"first user turn", []domain.Message{msg("assistant", "hi"), msg("user", "fix the parser")}, "fix the parser"},
		{"newlines flattened", []domain.Message{msg("user", "fix\nthe parser")}, "fix the parser"},
		{"long title clipped", []domain.Message{msg("user", long)}, long[:57] + "..."},
		{"no user turn", []domain.Message{msg("assistant", "hi")}, "untitled session"},
		{"blank user turn skipped", []domain.Message{msg("user", "  "), msg("user", "real task")}, "real task"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveTitle(tt.turns); got != tt.want {
				t.Errorf("deriveTitle = %q, want %q", got, tt.want)
			}
		})
	}
}
