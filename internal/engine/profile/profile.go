// Package profile implements the user profile builder (C8): best-effort,
// idempotent LLM consolidation of a user's recent facts into a short prose
// summary plus a topic list, stored per (user_id, agent_id?, run_id?).
package profile

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/store"
)

// defaultRecentFactLimit bounds how many recent facts are folded into a
// single consolidation prompt, keeping the call cheap even for prolific
// users.
const defaultRecentFactLimit = 50

const defaultPrompt = `You maintain a short running profile of a user from their stored memories.

Given the user's existing profile (may be empty) and their most recent facts, produce an updated
profile: a concise natural-language summary (no more than about 500 tokens) plus a short list of
topics the user cares about.

Respond with a single JSON object: {"profile": "...", "topics": ["...", ...]}. No prose outside
the JSON object.`

type profileResponse struct {
	Profile string   `json:"profile"`
	Topics  []string `json:"topics"`
}

// Builder runs C8 against an LLM provider and a ProfileStore.
type Builder struct {
	store    store.ProfileStore
	provider llm.Provider
	model    string
	prompt   string
}

// New builds a Builder. prompt, if empty, falls back to defaultPrompt.
func New(ps store.ProfileStore, provider llm.Provider, model, prompt string) *Builder {
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &Builder{store: ps, provider: provider, model: model, prompt: prompt}
}

// Consolidate regenerates the profile for sc.UserID/AgentID/RunID from
// recentFacts and writes it if it differs from the stored one. It never
// returns an error for LLM/parse failures — those are swallowed per the
// best-effort contract in spec §4.8 and §9; err is reserved for a store
// failure or an aborted context.
func (b *Builder) Consolidate(ctx context.Context, sc store.Scope, recentFacts []store.MemoryFact) error {
	if sc.UserID == "" {
		return nil
	}
	facts := recentFacts
	if len(facts) > defaultRecentFactLimit {
		facts = facts[:defaultRecentFactLimit]
	}

	existing, _, err := b.store.Get(ctx, sc.UserID, sc.AgentID, sc.RunID)
	if err != nil {
		return err
	}

	msgs := []llm.Message{
		{Role: "system", Content: b.prompt},
		{Role: "user", Content: buildUserMessage(existing, facts)},
	}
	resp, err := b.provider.Chat(ctx, msgs, nil, b.model)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil // best-effort: LLM failure never fails the enclosing add
	}

	parsed, perr := parseProfileResponse(resp.Content)
	if perr != nil {
		return nil
	}

	updated := store.UserProfile{
		UserID:      sc.UserID,
		AgentID:     sc.AgentID,
		RunID:       sc.RunID,
		ProfileText: strings.TrimSpace(parsed.Profile),
		Topics:      parsed.Topics,
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   existing.UpdatedAt,
	}
	if identical(existing, updated) {
		return nil // idempotent: byte-equal profile, no write
	}
	return b.store.Put(ctx, updated)
}

func identical(a, b store.UserProfile) bool {
	if a.ProfileText != b.ProfileText {
		return false
	}
	if len(a.Topics) != len(b.Topics) {
		return false
	}
	for i := range a.Topics {
		if a.Topics[i] != b.Topics[i] {
			return false
		}
	}
	return true
}

func buildUserMessage(existing store.UserProfile, facts []store.MemoryFact) string {
	var b strings.Builder
	b.WriteString("Existing profile:\n")
	if existing.ProfileText == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(existing.ProfileText)
		b.WriteString("\n")
	}
	b.WriteString("\nRecent facts:\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func parseProfileResponse(raw string) (profileResponse, error) {
	obj := firstJSONObject(raw)
	if obj == "" {
		return profileResponse{}, errNoJSONObject
	}
	var out profileResponse
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return profileResponse{}, err
	}
	return out, nil
}

var errNoJSONObject = jsonObjectNotFoundError{}

type jsonObjectNotFoundError struct{}

func (jsonObjectNotFoundError) Error() string { return "profile: no JSON object found in LLM response" }

// firstJSONObject scans s for the first balanced {...} span, tolerating
// surrounding prose the LLM may add despite instructions not to.
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
