package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

var _ messageSender = (*fakeSender)(nil)

func newTestNotify(sender messageSender) *NotifyTool {
	n := NewNotifyTool(NotifyConfig{Token: "test-token", ChatID: 42, Logger: testLogger()})
	n.sender = sender
	return n
}

func TestNotify_SendsMessage(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotify(sender)

	out, err := n.Execute(context.Background(), map[string]any{"message": "build done"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "Notification sent to chat 42." {
		t.Fatalf("got %q", out)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if sender.sent[0].Text != "build done" || sender.sent[0].ChatID != 42 {
		t.Fatalf("sent = %+v", sender.sent[0])
	}
}

func TestNotify_EmptyMessage(t *testing.T) {
	n := newTestNotify(&fakeSender{})
	if _, err := n.Execute(context.Background(), map[string]any{"message": "  "}); err == nil {
		t.Fatal("want error for empty message")
	}
}

func TestNotify_ChunksLongMessages(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotify(sender)

	long := strings.Repeat("a", notifyChunkLen+100)
	if _, err := n.Execute(context.Background(), map[string]any{"message": long}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.sent))
	}
	if got := len(sender.sent[0].Text) + len(sender.sent[1].Text); got != len(long) {
		t.Fatalf("chunks cover %d chars, want %d", got, len(long))
	}
}

func TestNotify_SendErrorSurfaces(t *testing.T) {
	n := newTestNotify(&fakeSender{err: errors.New("telegram down")})
	_, err := n.Execute(context.Background(), map[string]any{"message": "hi"})
	if err == nil || !strings.Contains(err.Error(), "telegram down") {
		t.Fatalf("got %v", err)
	}
}

func TestNotify_CanceledContext(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotify(sender)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := n.Execute(ctx, map[string]any{"message": "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("message sent despite canceled context")
	}
}

// --- chunking ---

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %v", got)
	}

	// Break at a newline when one falls in the second half of the window.
	got := splitMessage("aaaaaaa\nbb\ncccc", 10)
	if len(got) != 2 || got[0] != "aaaaaaa" || got[1] != "bb\ncccc" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitMessage_HardCutWithoutNewline(t *testing.T) {
	got := splitMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, chunk := range got[:2] {
		if len(chunk) != 10 {
			t.Fatalf("chunk %d has %d chars, want 10", i, len(chunk))
		}
	}
	if len(got[2]) != 5 {
		t.Fatalf("last chunk has %d chars, want 5", len(got[2]))
	}
}
