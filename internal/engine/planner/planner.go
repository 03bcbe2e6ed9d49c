// Package planner implements the mutation planner (C4): given a new fact
// and its near-duplicate candidates from the same scope, decides whether
// to add, merge into an existing fact, delete a contradicted one, or
// discard the new fact as already represented.
package planner

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/store"
	"golang.org/x/sync/singleflight"
)

// Kind enumerates the plan operations the LLM may emit.
type Kind string

const (
	OpAdd    Kind = "ADD"
	OpUpdate Kind = "UPDATE"
	OpDelete Kind = "DELETE"
	OpNone   Kind = "NONE"
)

// Operation is one step of a mutation plan.
type Operation struct {
	Kind     Kind
	TargetID int64  // set for UPDATE/DELETE
	Content  string // merged content for ADD/UPDATE
}

const defaultNeighborK = 5
const defaultNeighborThreshold = 0.7

const defaultPrompt = `You maintain a user's long-term memory. Given a new statement and a list of
existing, possibly related statements (candidates), decide what to do.

Respond with a single JSON object:
{"operations": [{"op": "ADD"|"UPDATE"|"DELETE"|"NONE", "id": <candidate id or null>, "content": <merged text or null>}]}

Rules:
- ADD: the new statement is genuinely new information; content is the new statement (or a cleaned-up version).
- UPDATE: an existing candidate (given by id) should be replaced by a merged statement; content is the merge.
- DELETE: an existing candidate (given by id) is directly contradicted by the new statement and should be removed.
- NONE: the new statement is already fully represented; no id/content needed.
Only reference ids that appear in the candidate list. No prose outside the JSON object.`

// Planner implements C4.
type Planner struct {
	vector            store.VectorStore
	provider          llm.Provider
	model             string
	prompt            string
	neighborK         int
	neighborThreshold float64
	sf                singleflight.Group
}

// Option configures a Planner.
type Option func(*Planner)

// WithPrompt overrides the default planner prompt.
func WithPrompt(prompt string) Option {
	return func(p *Planner) {
		if prompt != "" {
			p.prompt = prompt
		}
	}
}

// WithNeighbors overrides the candidate fetch size and cosine threshold.
func WithNeighbors(k int, threshold float64) Option {
	return func(p *Planner) {
		if k > 0 {
			p.neighborK = k
		}
		if threshold > 0 {
			p.neighborThreshold = threshold
		}
	}
}

// New builds a Planner.
func New(vector store.VectorStore, provider llm.Provider, model string, opts ...Option) *Planner {
	p := &Planner{
		vector:            vector,
		provider:          provider,
		model:             model,
		prompt:            defaultPrompt,
		neighborK:         defaultNeighborK,
		neighborThreshold: defaultNeighborThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan decides the mutation(s) to apply for a single new fact f, given its
// existing neighbors in the same scope. On any LLM failure, it falls back
// to a plain ADD of f (spec §9), never returning an error for that case;
// err is reserved for an aborted context or a failed candidate fetch.
func (p *Planner) Plan(ctx context.Context, f store.MemoryFact) ([]Operation, error) {
	candidates, err := p.neighbors(ctx, f)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if c.Hash == f.Hash && c.Hash != "" {
			return []Operation{{Kind: OpNone}}, nil
		}
	}

	if len(candidates) == 0 {
		return []Operation{{Kind: OpAdd, Content: f.Content}}, nil
	}

	// Collapse duplicate concurrent plans for the same (scope, hash) within
	// one add batch onto a single LLM call.
	key := f.Scope.UserID + "|" + f.Scope.AgentID + "|" + f.Scope.RunID + "|" + f.Hash
	v, err, _ := p.sf.Do(key, func() (any, error) {
		return p.askLLM(ctx, f, candidates)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return []Operation{{Kind: OpAdd, Content: f.Content}}, nil
	}
	ops := v.([]Operation)
	return validate(ops, candidates, f), nil
}

func (p *Planner) neighbors(ctx context.Context, f store.MemoryFact) ([]store.MemoryFact, error) {
	filter := store.Filter{Scope: f.Scope}
	results, err := p.vector.Search(ctx, f.Embedding, p.neighborK, filter)
	if err != nil {
		return nil, err
	}
	out := make([]store.MemoryFact, 0, len(results))
	for _, r := range results {
		// Score is the normalized (cosine+1)/2; the threshold is on raw cosine.
		if 2*r.Score-1 >= p.neighborThreshold {
			out = append(out, r.Fact)
		}
	}
	return out, nil
}

type planResponse struct {
	Operations []struct {
		Op      string `json:"op"`
		ID      *int64 `json:"id"`
		Content string `json:"content"`
	} `json:"operations"`
}

func (p *Planner) askLLM(ctx context.Context, f store.MemoryFact, candidates []store.MemoryFact) ([]Operation, error) {
	msgs := []llm.Message{
		{Role: "system", Content: p.prompt},
		{Role: "user", Content: renderPrompt(f, candidates)},
	}
	resp, err := p.provider.Chat(ctx, msgs, nil, p.model)
	if err != nil {
		return nil, err
	}
	obj := firstJSONObject(resp.Content)
	if obj == "" {
		return nil, errNoJSONObject
	}
	var parsed planResponse
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, err
	}
	ops := make([]Operation, 0, len(parsed.Operations))
	for _, o := range parsed.Operations {
		op := Operation{Kind: Kind(strings.ToUpper(o.Op)), Content: o.Content}
		if o.ID != nil {
			op.TargetID = *o.ID
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// validate enforces the invariant that every UPDATE/DELETE references a
// live candidate id; unreferenced/unknown ids silently downgrade to ADD.
func validate(ops []Operation, candidates []store.MemoryFact, f store.MemoryFact) []Operation {
	live := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		live[c.ID] = true
	}
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OpUpdate, OpDelete:
			if !live[op.TargetID] {
				out = append(out, Operation{Kind: OpAdd, Content: f.Content})
				continue
			}
			out = append(out, op)
		case OpAdd, OpNone:
			out = append(out, op)
		default:
			out = append(out, Operation{Kind: OpAdd, Content: f.Content})
		}
	}
	if len(out) == 0 {
		out = append(out, Operation{Kind: OpAdd, Content: f.Content})
	}
	return out
}

func renderPrompt(f store.MemoryFact, candidates []store.MemoryFact) string {
	var b strings.Builder
	b.WriteString("New statement: ")
	b.WriteString(f.Content)
	b.WriteString("\nCandidates:\n")
	for _, c := range candidates {
		b.WriteString("- id=")
		b.WriteString(strconv.FormatInt(c.ID, 10))
		b.WriteString(": ")
		b.WriteString(c.Content)
		b.WriteByte('\n')
	}
	return b.String()
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

type notFoundErr struct{}

func (notFoundErr) Error() string { return "planner: no JSON object found in LLM response" }

var errNoJSONObject = notFoundErr{}
