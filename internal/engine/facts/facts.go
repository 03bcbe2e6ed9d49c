// Package facts implements the fact extractor (C3): turning a conversation
// or raw text into an ordered list of atomic, standalone statements via an
// LLM, with a verbatim bypass and tolerant, never-raising JSON parsing.
package facts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/powermem/powermem/internal/llm"
)

// Role mirrors the roles a conversational turn may carry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message in the input conversation.
type Turn struct {
	Role    Role
	Content string
}

// Input is the extractor's input: either a sequence of turns or a single
// raw string (Turns empty, Raw set), plus optional metadata and a language
// hint.
type Input struct {
	Turns    []Turn
	Raw      string
	Language string
	// Infer, when false, bypasses LLM extraction: the raw text is stored
	// verbatim as a single fact.
	Infer bool
}

// Fact is one atomic, standalone statement extracted from Input.
type Fact struct {
	Content string
	Hash    string
}

// Warning records a non-fatal condition encountered during extraction; the
// caller decides whether to surface it.
type Warning struct {
	Kind    string
	Message string
}

const KindParseWarning = "ParseWarning"

type factsResponse struct {
	Facts []string `json:"facts"`
}

// responseSchema is generated once, by reflection, from factsResponse's
// JSON shape, rather than hand-maintained as a parallel schema literal.
var responseSchema, responseSchemaErr = jsonschema.For[factsResponse](nil)

// defaultPrompt is used when no override is configured.
const defaultPrompt = `You extract atomic, standalone facts worth remembering from a conversation.

Rules:
- Each fact must be understandable without the surrounding conversation.
- Preserve explicit temporal markers ("yesterday", "2024-01-01") verbatim.
- Split compound statements into one fact per subject/predicate.
- If nothing is worth remembering, return an empty list.

Respond with a single JSON object: {"facts": ["...", ...]}. No prose outside the JSON object.`

// Extractor runs C3 against an LLM provider.
type Extractor struct {
	provider llm.Provider
	model    string
	prompt   string
}

// New builds an Extractor. prompt, if empty, falls back to defaultPrompt.
func New(provider llm.Provider, model, prompt string) *Extractor {
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &Extractor{provider: provider, model: model, prompt: prompt}
}

// Extract runs fact extraction over in. It never returns an error for LLM
// or parse failures — those surface as an empty fact list plus a Warning,
// per spec §4.3/§9's failure semantics. err is reserved for an aborted
// context.
func (e *Extractor) Extract(ctx context.Context, in Input) ([]Fact, []Warning, error) {
	if !in.Infer {
		text := in.Raw
		if text == "" {
			text = flattenTurns(in.Turns)
		}
		text = normalize(text)
		if text == "" {
			return nil, nil, nil
		}
		return []Fact{{Content: text, Hash: hashOf(text)}}, nil, nil
	}

	text := in.Raw
	if text == "" {
		text = flattenTurns(in.Turns)
	}
	text = normalize(text)
	if text == "" {
		return nil, nil, nil
	}

	msgs := []llm.Message{
		{Role: "system", Content: e.prompt},
		{Role: "user", Content: text},
	}
	resp, err := e.provider.Chat(ctx, msgs, nil, e.model)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, []Warning{{Kind: KindParseWarning, Message: err.Error()}}, nil
	}

	parsed, perr := parseFactsResponse(resp.Content)
	if perr != nil {
		return nil, []Warning{{Kind: KindParseWarning, Message: perr.Error()}}, nil
	}

	out := make([]Fact, 0, len(parsed.Facts))
	for _, f := range parsed.Facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		out = append(out, Fact{Content: f, Hash: hashOf(f)})
	}
	return out, nil, nil
}

// parseFactsResponse extracts the first JSON object from a possibly
// prose-wrapped LLM response and validates/decodes it.
func parseFactsResponse(raw string) (factsResponse, error) {
	obj := firstJSONObject(raw)
	if obj == "" {
		return factsResponse{}, errNoJSONObject
	}
	var out factsResponse
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return factsResponse{}, err
	}
	if responseSchemaErr == nil {
		var generic map[string]any
		if err := json.Unmarshal([]byte(obj), &generic); err == nil {
			if err := responseSchema.Validate(generic); err != nil {
				return factsResponse{}, err
			}
		}
	}
	return out, nil
}

var errNoJSONObject = jsonObjectNotFoundError{}

type jsonObjectNotFoundError struct{}

func (jsonObjectNotFoundError) Error() string { return "facts: no JSON object found in LLM response" }

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

var whitespaceRe = regexp.MustCompile(`(?m)[\t\x0b\x0c\r ]+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func flattenTurns(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
