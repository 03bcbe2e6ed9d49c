package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/llm"
)

type streamRecorder struct {
	deltas []string
}

func (s *streamRecorder) OnDelta(content string)          { s.deltas = append(s.deltas, content) }
func (s *streamRecorder) OnToolCall(tc llm.ToolCall)      {}
func (s *streamRecorder) OnImage(llm.GeneratedImage)      {}
func (s *streamRecorder) OnThoughtSummary(summary string) {}

func TestChatSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		defer r.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.LLMConfig{APIKey: "k", Model: "test-model", BaseURL: srv.URL}
	client, err := New(cfg, srv.Client())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	msg, err := client.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "do"},
		{Role: "user", Content: "hi"},
	}, nil, "")
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("expected hello, got %q", msg.Content)
	}
	if gotPath != "/v1beta/models/test-model:generateContent" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestChatStreamDeliversFullResponseAsSingleDelta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello world"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.LLMConfig{APIKey: "k", Model: "test-model", BaseURL: srv.URL}
	client, err := New(cfg, srv.Client())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	rec := &streamRecorder{}
	if err := client.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil, "", rec); err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	got := strings.Join(rec.deltas, "")
	if got != "hello world" {
		t.Fatalf("unexpected deltas %q", got)
	}
}

func TestPickModelFallsBackToClientDefault(t *testing.T) {
	client, err := New(config.LLMConfig{APIKey: "k", Model: "gemini-default"}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if got := client.pickModel(""); got != "gemini-default" {
		t.Fatalf("expected default model, got %q", got)
	}
	if got := client.pickModel("gemini-override"); got != "gemini-override" {
		t.Fatalf("expected override model, got %q", got)
	}
}

func TestToContentsRejectsUnknownRole(t *testing.T) {
	_, err := toContents([]llm.Message{{Role: "narrator", Content: "x"}})
	if err == nil {
		t.Fatal("expected error for unsupported role")
	}
}

func TestToContentsRequiresMessages(t *testing.T) {
	_, err := toContents(nil)
	if err == nil {
		t.Fatal("expected error for empty message list")
	}
}
