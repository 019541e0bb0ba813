package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"kestrel/internal/domain"
)

func TestOpenRouterAttributionHeaders(t *testing.T) {
	var rec capture
	srv := stubEndpoint(t, oaiTextResponse, http.StatusOK, &rec)
	p := NewOpenRouter(OpenRouterConfig{APIKey: "test-key", APIBase: srv.URL, Logger: testLogger()})

	if _, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if rec.path != "/chat/completions" {
		t.Errorf("path = %q, want the chat-completions wire format", rec.path)
	}
	if got := rec.headers.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("Authorization = %q", got)
	}
	if rec.headers.Get("HTTP-Referer") == "" || rec.headers.Get("X-Title") == "" {
		t.Errorf("attribution headers missing: %v", rec.headers)
	}
}

func TestOpenRouterDefaultModel(t *testing.T) {
	var rec capture
	srv := stubEndpoint(t, oaiTextResponse, http.StatusOK, &rec)
	p := NewOpenRouter(OpenRouterConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})

	if p.Name() != "openrouter" {
		t.Errorf("Name = %q", p.Name())
	}
	if _, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	var wire oaiRequest
	if err := json.Unmarshal(rec.body, &wire); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if wire.Model != "openai/gpt-4o-mini" {
		t.Errorf("model = %q", wire.Model)
	}
}
