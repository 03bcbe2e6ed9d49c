// Package google adapts Google's Gemini API to the llm.Provider interface.
package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/observability"
)

// Client is a text-only Gemini chat client. PowerMem's engine never issues
// tool calls or expects image output, so neither is wired here.
type Client struct {
	client *genai.Client
	model  string
}

func New(cfg config.LLMConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}

	httpOpts := genai.HTTPOptions{Timeout: durationPtr(30 * time.Second)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}

	return &Client{client: client, model: model}, nil
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func (c *Client) pickModel(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		return c.model
	}
	return m
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := c.pickModel(model)

	ctx, span := llm.StartRequestSpan(ctx, "Google Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	contents, err := toContents(msgs)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("google_chat_to_contents_error")
		return llm.Message{}, err
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, effectiveModel, contents, &genai.GenerateContentConfig{})
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		llm.RecordRequestTrace("Google Chat", effectiveModel, "error", dur)
		log.Error().Err(err).Str("model", effectiveModel).Dur("duration", dur).Msg("google_chat_error")
		return llm.Message{}, err
	}

	msg, err := messageFromResponse(resp)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Dur("duration", dur).Msg("google_chat_response_parse_error")
		return llm.Message{}, err
	}

	llm.LogRedactedResponse(ctx, resp)
	llm.RecordRequestTrace("Google Chat", effectiveModel, "ok", dur)
	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Msg("google_chat_ok")
	return msg, nil
}

// ChatStream delivers the full response as a single delta. PowerMem's engine
// operations are request/response; nothing in this module drives incremental
// token streaming.
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	msg, err := c.Chat(ctx, msgs, tools, model)
	if err != nil {
		return err
	}
	if h != nil && msg.Content != "" {
		h.OnDelta(msg.Content)
	}
	return nil
}

func toContents(msgs []llm.Message) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("messages required")
	}
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		var grole string
		switch role {
		case "", "user", "system":
			grole = genai.RoleUser
		case "assistant":
			grole = genai.RoleModel
		default:
			return nil, fmt.Errorf("unsupported role for google provider: %s", m.Role)
		}
		text := m.Content
		if role == "system" {
			text = "[system] " + text
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		contents = append(contents, &genai.Content{Role: grole, Parts: []*genai.Part{{Text: text}}})
	}
	return contents, nil
}

func messageFromResponse(resp *genai.GenerateContentResponse) (llm.Message, error) {
	if resp == nil {
		return llm.Message{}, fmt.Errorf("nil response from google provider")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return llm.Message{}, fmt.Errorf("request blocked by google: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return llm.Message{}, fmt.Errorf("no candidates in google response")
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety:
		return llm.Message{}, fmt.Errorf("response blocked by safety filters")
	case genai.FinishReasonRecitation:
		return llm.Message{}, fmt.Errorf("response blocked due to recitation")
	}
	if candidate.Content == nil {
		return llm.Message{Role: "assistant"}, nil
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return llm.Message{Role: "assistant", Content: sb.String()}, nil
}
