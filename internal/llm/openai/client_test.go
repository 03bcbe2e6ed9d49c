package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/llm"
)

func TestChatReturnsChoiceContent(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello","tool_calls":[]}}]}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	cli := New(config.LLMConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := cli.Chat(ctx, []llm.Message{{Role: "user", Content: "hi"}}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("expected hello, got %q", msg.Content)
	}
}

func TestChatUsesOverrideModel(t *testing.T) {
	var gotModel string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	cli := New(config.LLMConfig{APIKey: "test", BaseURL: srv.URL, Model: "default-model"}, srv.Client())
	_, err := cli.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil, "override-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotModel != "override-model" {
		t.Fatalf("expected override-model, got %q", gotModel)
	}
}

func TestChatPropagatesEndpointError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	cli := New(config.LLMConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}, srv.Client())
	_, err := cli.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil, "")
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestChatStreamDeliversFullResponseAsSingleDelta(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"streamed"}}]}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	cli := New(config.LLMConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}, srv.Client())
	rec := &testStreamHandler{}
	if err := cli.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil, "", rec); err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(rec.deltas) != 1 || rec.deltas[0] != "streamed" {
		t.Fatalf("expected single delta, got %v", rec.deltas)
	}
}

func TestPickModelFallsBackToClientDefault(t *testing.T) {
	cli := New(config.LLMConfig{APIKey: "test", Model: "gpt-default"}, nil)
	if got := cli.pickModel(""); got != "gpt-default" {
		t.Fatalf("expected default model, got %q", got)
	}
	if got := cli.pickModel("gpt-override"); got != "gpt-override" {
		t.Fatalf("expected override model, got %q", got)
	}
}

type testStreamHandler struct {
	deltas []string
	calls  []llm.ToolCall
}

func (h *testStreamHandler) OnDelta(content string)     { h.deltas = append(h.deltas, content) }
func (h *testStreamHandler) OnToolCall(tc llm.ToolCall) { h.calls = append(h.calls, tc) }
func (h *testStreamHandler) OnImage(llm.GeneratedImage) {}
func (h *testStreamHandler) OnThoughtSummary(string)    {}
