// Package graph implements the relation-graph engine (C6): LLM-driven
// triple extraction with first-person normalization, mention-counting
// ingestion with LLM-adjudicated reconciliation, and bounded traversal.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/store"
)

// sentinelUser is the placeholder first-person entities are normalized to
// during extraction, then rewritten to the concrete user_id from scope.
const sentinelUser = "USER_ID"

// Triple is a single extracted (subject, relation, object) statement.
type Triple struct {
	Subject  string
	Relation string
	Object   string
}

const defaultExtractPrompt = `Extract subject-relation-object triples from the text. Normalize any
first-person reference ("I", "me", "my") to the literal string "USER_ID".

Respond with a single JSON object: {"triples": [{"subject":"...","relation":"...","object":"..."}]}.
No prose outside the JSON object.`

const defaultReconcilePrompt = `Two relations share the same subject and object but differ:
existing: %s
new: %s
Does the new relation supersede the existing one (the existing one is now false/outdated), or do
both facts coexist (e.g. "likes pizza" and "likes burger" can both be true)?
Respond with a single JSON object: {"supersede": true|false}. No prose outside the JSON object.`

// Engine implements C6 against a GraphStore.
type Engine struct {
	store           store.GraphStore
	provider        llm.Provider
	model           string
	extractPrompt   string
	reconcilePrompt string
	maxHop          int
	maxEdgesPerHop  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrompts overrides the default extraction/reconciliation prompts.
func WithPrompts(extract, reconcile string) Option {
	return func(e *Engine) {
		if extract != "" {
			e.extractPrompt = extract
		}
		if reconcile != "" {
			e.reconcilePrompt = reconcile
		}
	}
}

// WithTraversalLimits overrides the default hop/branching caps.
func WithTraversalLimits(maxHop, maxEdgesPerHop int) Option {
	return func(e *Engine) {
		if maxHop > 0 {
			e.maxHop = maxHop
		}
		if maxEdgesPerHop > 0 {
			e.maxEdgesPerHop = maxEdgesPerHop
		}
	}
}

// New builds a graph Engine.
func New(gs store.GraphStore, provider llm.Provider, model string, opts ...Option) *Engine {
	e := &Engine{
		store:           gs,
		provider:        provider,
		model:           model,
		extractPrompt:   defaultExtractPrompt,
		reconcilePrompt: defaultReconcilePrompt,
		maxHop:          2,
		maxEdgesPerHop:  20,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type extractResponse struct {
	Triples []struct {
		Subject  string `json:"subject"`
		Relation string `json:"relation"`
		Object   string `json:"object"`
	} `json:"triples"`
}

// Extract runs triple extraction over text and rewrites USER_ID sentinels
// to sc.UserID. On any LLM/parse failure it returns an empty slice and a
// nil error, matching the extractor's never-raise contract elsewhere.
func (e *Engine) Extract(ctx context.Context, text string, sc store.Scope) ([]Triple, error) {
	msgs := []llm.Message{
		{Role: "system", Content: e.extractPrompt},
		{Role: "user", Content: text},
	}
	resp, err := e.provider.Chat(ctx, msgs, nil, e.model)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	obj := firstJSONObject(resp.Content)
	if obj == "" {
		return nil, nil
	}
	var parsed extractResponse
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, nil
	}
	out := make([]Triple, 0, len(parsed.Triples))
	for _, t := range parsed.Triples {
		if t.Subject == "" || t.Relation == "" || t.Object == "" {
			continue
		}
		out = append(out, Triple{
			Subject:  rewriteSentinel(t.Subject, sc.UserID),
			Relation: t.Relation,
			Object:   rewriteSentinel(t.Object, sc.UserID),
		})
	}
	return out, nil
}

func rewriteSentinel(entity, userID string) string {
	if entity == sentinelUser && userID != "" {
		return userID
	}
	return entity
}

// Ingest upserts triple (s, r, t) into scope, per spec §4.6: the subject and
// object are upserted as entities; an identical (s, r, t) edge has its
// mention count bumped; a competing edge (s, r', t) with r' != r is either
// deleted (LLM classifies it as superseded) or left to coexist.
func (e *Engine) Ingest(ctx context.Context, tr Triple, sc store.Scope, now time.Time) error {
	if _, err := e.store.UpsertEntity(ctx, store.GraphEntity{Name: tr.Subject, Scope: sc, CreatedAt: now, UpdatedAt: now}); err != nil {
		return err
	}
	if _, err := e.store.UpsertEntity(ctx, store.GraphEntity{Name: tr.Object, Scope: sc, CreatedAt: now, UpdatedAt: now}); err != nil {
		return err
	}

	if _, existed, err := e.store.UpsertEdge(ctx, store.GraphEdge{
		Source: tr.Subject, Relation: tr.Relation, Target: tr.Object, Scope: sc,
		Mentions: 1, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return err
	} else if existed {
		return nil
	}

	return e.reconcileCompeting(ctx, tr, sc)
}

// reconcileCompeting looks for existing edges between the same subject and
// object but a different relation, and asks the LLM to classify each as
// superseded (delete it) or coexisting (leave it).
func (e *Engine) reconcileCompeting(ctx context.Context, tr Triple, sc store.Scope) error {
	existing, err := e.store.EdgesFrom(ctx, tr.Subject, sc)
	if err != nil {
		return err
	}
	for _, ex := range existing {
		if ex.Target != tr.Object || ex.Relation == tr.Relation {
			continue
		}
		supersede, err := e.classifySupersede(ctx, ex, tr)
		if err != nil {
			continue // best-effort: leave both edges on LLM failure
		}
		if supersede {
			if err := e.store.DeleteEdge(ctx, ex.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

type reconcileResponse struct {
	Supersede bool `json:"supersede"`
}

func (e *Engine) classifySupersede(ctx context.Context, existing store.GraphEdge, tr Triple) (bool, error) {
	prompt := fmt.Sprintf(e.reconcilePrompt, existing.Relation, tr.Relation)
	msgs := []llm.Message{{Role: "user", Content: prompt}}
	resp, err := e.provider.Chat(ctx, msgs, nil, e.model)
	if err != nil {
		return false, err
	}
	obj := firstJSONObject(resp.Content)
	if obj == "" {
		return false, nil
	}
	var parsed reconcileResponse
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return false, err
	}
	return parsed.Supersede, nil
}

// Neighbors runs bounded BFS from entity, clamping hop/maxEdges to the
// engine's configured caps.
func (e *Engine) Neighbors(ctx context.Context, entity string, sc store.Scope, hop, maxEdges int) ([]store.GraphEdge, error) {
	if hop <= 0 || hop > e.maxHop {
		hop = e.maxHop
	}
	if maxEdges <= 0 || maxEdges > e.maxEdgesPerHop {
		maxEdges = e.maxEdgesPerHop
	}
	return e.store.Neighbors(ctx, entity, sc, hop, maxEdges)
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
