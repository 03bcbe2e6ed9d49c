// Package openai adapts the OpenAI chat completions API (and any
// OpenAI-compatible self-hosted endpoint) to the llm.Provider interface.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/observability"
)

// Client is a text-only chat-completions client. PowerMem's engine never
// issues tool calls, so the tool/schema adaptation machinery is only used
// when a caller explicitly passes tool schemas.
type Client struct {
	sdk        sdk.Client
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(cfg config.LLMConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{sdk: sdk.NewClient(opts...), model: model, baseURL: base, apiKey: strings.TrimSpace(cfg.APIKey), httpClient: httpClient}
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := c.pickModel(model)

	log := observability.LoggerWithTrace(ctx)
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: AdaptMessages(effectiveModel, msgs),
	}
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		llm.RecordRequestTrace("OpenAI Chat", string(params.Model), "error", dur)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_completion_error")
		return llm.Message{}, err
	}

	llm.LogRedactedResponse(ctx, comp.Choices)
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	llm.RecordTokenMetrics(string(params.Model), int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens))
	llm.RecordRequestTrace("OpenAI Chat", string(params.Model), "ok", dur)

	log.Debug().
		Str("model", string(params.Model)).
		Dur("duration", dur).
		Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).
		Msg("chat_completion_ok")

	if len(comp.Choices) == 0 {
		return llm.Message{}, nil
	}
	msg := comp.Choices[0].Message
	out := llm.Message{Role: "assistant", Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name: v.Function.Name,
				Args: []byte(v.Function.Arguments),
				ID:   v.ID,
			})
		}
	}
	return out, nil
}

// ChatStream delivers the full response as a single delta. PowerMem's engine
// operations are request/response; nothing here drives incremental output.
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	msg, err := c.Chat(ctx, msgs, tools, model)
	if err != nil {
		return err
	}
	if h != nil && msg.Content != "" {
		h.OnDelta(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		if h != nil {
			h.OnToolCall(tc)
		}
	}
	return nil
}
