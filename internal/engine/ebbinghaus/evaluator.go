package ebbinghaus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/powermem/powermem/internal/llm"
)

const defaultImportanceScore = 0.5

const defaultImportancePrompt = `Rate how important a statement is to remember long-term for a personal assistant,
on a scale from 0 (trivial, forgettable) to 1 (critical, core identity/preference fact).

Respond with a single JSON object: {"importance": <0..1>}. No prose outside the JSON object.`

type importanceResponse struct {
	Importance float64 `json:"importance"`
}

// ImportanceEvaluator runs the LLM-driven importance scoring spec §4.7
// requires for initial tier assignment. It is intentionally separate from
// Manager, which is pure arithmetic and holds no LLM dependency.
type ImportanceEvaluator struct {
	provider llm.Provider
	model    string
	prompt   string
}

// NewImportanceEvaluator builds an ImportanceEvaluator. prompt, if empty,
// falls back to defaultImportancePrompt.
func NewImportanceEvaluator(provider llm.Provider, model, prompt string) *ImportanceEvaluator {
	if prompt == "" {
		prompt = defaultImportancePrompt
	}
	return &ImportanceEvaluator{provider: provider, model: model, prompt: prompt}
}

// Evaluate scores content in [0,1]. On any LLM or parse failure it returns
// defaultImportanceScore (which lands a fact in SHORT_TERM under the
// default thresholds) rather than an error, matching the never-raise
// contract the other LLM-driven stages (C3, C4) use; err is reserved for an
// aborted context.
func (e *ImportanceEvaluator) Evaluate(ctx context.Context, content string) (float64, error) {
	msgs := []llm.Message{
		{Role: "system", Content: e.prompt},
		{Role: "user", Content: content},
	}
	resp, err := e.provider.Chat(ctx, msgs, nil, e.model)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return defaultImportanceScore, nil
	}

	obj := firstJSONObject(resp.Content)
	if obj == "" {
		return defaultImportanceScore, nil
	}
	var parsed importanceResponse
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return defaultImportanceScore, nil
	}
	if parsed.Importance < 0 {
		return 0, nil
	}
	if parsed.Importance > 1 {
		return 1, nil
	}
	return parsed.Importance, nil
}

func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
