// Package engine implements the memory engine facade (C9): it orchestrates
// fact extraction, mutation planning, storage, graph ingestion, retrieval,
// and profile consolidation behind a single add/search/get/update/delete
// surface, per spec §4.9.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/embedding"
	"github.com/powermem/powermem/internal/engine/ebbinghaus"
	"github.com/powermem/powermem/internal/engine/facts"
	"github.com/powermem/powermem/internal/engine/graph"
	"github.com/powermem/powermem/internal/engine/planner"
	"github.com/powermem/powermem/internal/engine/profile"
	"github.com/powermem/powermem/internal/engine/retrieve"
	"github.com/powermem/powermem/internal/eventbus"
	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/lock"
	"github.com/powermem/powermem/internal/scope"
	"github.com/powermem/powermem/internal/store"
	"github.com/powermem/powermem/internal/telemetry"
)

// EventKind is the per-fact outcome of an add call, one entry richer than
// store.HistoryEventType: NONE never produces a HistoryEvent, since nothing
// changed.
type EventKind string

const (
	EventAdded   EventKind = "ADD"
	EventUpdated EventKind = "UPDATE"
	EventDeleted EventKind = "DELETE"
	EventNone    EventKind = "NONE"
)

// AddInput is a single add request: either a conversation (Turns) or a raw
// string, per facts.Input.
type AddInput struct {
	Turns    []facts.Turn
	Raw      string
	Infer    bool
	Language string
}

// AddResult is the outcome for one extracted fact.
type AddResult struct {
	ID     int64
	Memory string
	Event  EventKind
}

// AddResponse is the result of a single add call. Profile consolidation is
// triggered through the event bus, not returned here: with the Kafka bus it
// runs in the consumer after add returns, while the default in-process bus
// runs the handler inline inside Publish, so consolidation then completes
// during add. There is no profile field here — see Engine.Profile for
// reading the consolidated profile.
type AddResponse struct {
	Results []AddResult
}

// SearchResult is one ranked hit returned from Search.
type SearchResult struct {
	ID       int64
	Memory   string
	Score    float64
	Metadata map[string]any
}

// SearchResponse is the result of a single search call.
type SearchResponse struct {
	Results []SearchResult
}

// vectorReinforcer adapts a VectorStore to retrieve.Reinforcer so a
// search's access bookkeeping lands back in the vector store without
// package retrieve depending on package engine.
type vectorReinforcer struct {
	vector store.VectorStore
}

func (v *vectorReinforcer) BulkReinforce(ctx context.Context, fs []store.MemoryFact) error {
	for _, f := range fs {
		if err := v.vector.Upsert(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Engine is the C9 memory engine facade.
type Engine struct {
	mgr      store.Manager
	provider llm.Provider
	embedder embedding.Embedder
	cfg      config.Config

	extractor  *facts.Extractor
	planner    *planner.Planner
	retriever  *retrieve.Engine
	graphEng   *graph.Engine
	ebb        *ebbinghaus.Manager
	importance *ebbinghaus.ImportanceEvaluator
	profiles   *profile.Builder

	locker lock.Locker
	bus    eventbus.Publisher
	now    func() time.Time
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLocker overrides the default in-process striped lock (e.g. with
// lock.Redis for a multi-process deployment).
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithEventBus wires the publisher that drives C7/C8 maintenance out of the
// request path. Without one, add never publishes and async consolidation
// never runs.
func WithEventBus(p eventbus.Publisher) Option {
	return func(e *Engine) { e.bus = p }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine wiring every sub-component (C2-C8) from mgr, a
// shared LLM provider, an embedder, and cfg, mirroring the functional-option
// composition the rest of the codebase uses for its service facades.
func New(mgr store.Manager, provider llm.Provider, embedder embedding.Embedder, cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		mgr:      mgr,
		provider: provider,
		embedder: embedder,
		cfg:      cfg,
		locker:   lock.NewStriped(cfg.Concurrency.LockStripes),
		now:      time.Now,
	}

	e.extractor = facts.New(provider, cfg.LLM.Model, cfg.Prompts.FactExtraction)
	e.planner = planner.New(mgr.Vector, provider, cfg.LLM.Model, planner.WithPrompt(cfg.Prompts.UpdateMemory))
	e.ebb = ebbinghaus.New(cfg.Intelligence)
	e.importance = ebbinghaus.NewImportanceEvaluator(provider, cfg.LLM.Model, cfg.Prompts.ImportanceEvaluation)
	e.profiles = profile.New(mgr.Profile, provider, cfg.LLM.Model, "")

	if cfg.GraphStore.Enabled && mgr.Graph != nil {
		e.graphEng = graph.New(mgr.Graph, provider, cfg.LLM.Model,
			graph.WithPrompts(cfg.Prompts.ExtractRelations, cfg.Prompts.UpdateGraph),
			graph.WithTraversalLimits(cfg.GraphStore.MaxHop, cfg.GraphStore.MaxEdgesPerHop),
		)
	}

	for _, o := range opts {
		o(e)
	}

	e.retriever = retrieve.New(mgr.Vector, mgr.FullText, e.graphEng, e.ebb, embedder, cfg.Fusion, cfg.GraphStore,
		retrieve.WithReinforcer(&vectorReinforcer{vector: mgr.Vector}),
	)

	return e
}

// maxContentBytes bounds a single extracted fact's content, rejected as
// KindValidation if exceeded rather than silently truncated.
const maxContentBytes = 16 * 1024

// Add extracts facts from in, plans and applies a mutation per fact, and
// best-effort ingests relations into the graph store, per spec §4.9. Facts
// are processed in extractor-returned order and sequentially (not
// concurrently) within a single call, so a later fact's neighbor search
// observes an earlier fact's just-applied effect in the same add.
func (e *Engine) Add(ctx context.Context, in AddInput, sreq scope.Request) (AddResponse, error) {
	resolved, err := scope.ForWrite(sreq)
	if err != nil {
		return AddResponse{}, newErr("add", KindValidation, err)
	}
	sc := resolved.Scope

	extracted, warns, err := e.extractor.Extract(ctx, facts.Input{
		Turns: in.Turns, Raw: in.Raw, Infer: in.Infer, Language: in.Language,
	})
	if err != nil {
		return AddResponse{}, newErr("add", KindBackendUnavailable, err)
	}
	for _, w := range warns {
		telemetry.FromContext(ctx, "add.extract").Warn().Str("kind", w.Kind).Msg(w.Message)
	}
	if len(extracted) == 0 {
		return AddResponse{}, nil
	}

	contents := make([]string, len(extracted))
	for i, f := range extracted {
		if len(f.Content) > maxContentBytes {
			return AddResponse{}, newErr("add", KindValidation, errContentTooLarge)
		}
		contents[i] = f.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return AddResponse{}, newErr("add", KindBackendUnavailable, err)
	}

	now := e.now()
	results := make([]AddResult, 0, len(extracted))
	var applied []int64 // ids added/updated so far this call, for best-effort rollback

	for i, f := range extracted {
		candidate := store.MemoryFact{
			Content:      f.Content,
			Embedding:    vectors[i],
			Scope:        sc,
			Hash:         f.Hash,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastAccessed: now,
			Tier:         store.TierWorking,
		}

		ops, err := e.planner.Plan(ctx, candidate)
		if err != nil {
			e.rollback(ctx, applied)
			return AddResponse{}, newErr("add", KindBackendUnavailable, err)
		}

		for _, op := range ops {
			res, err := e.applyOperation(ctx, op, candidate, sc, now)
			if err != nil {
				e.rollback(ctx, applied)
				return AddResponse{}, newErr("add", KindBackendUnavailable, err)
			}
			results = append(results, res)
			if res.Event == EventAdded || res.Event == EventUpdated {
				applied = append(applied, res.ID)
			}
		}
	}

	return AddResponse{Results: results}, nil
}

// rollback best-effort hard-deletes facts this call just wrote, used when a
// later fact in the same add fails: the backends have no cross-row
// transaction, so correctness falls back to compensating deletes driven by
// the ids this call itself tracked, per spec §9's "vector store write
// failure: whole add fails" rule.
func (e *Engine) rollback(ctx context.Context, ids []int64) {
	rctx := context.WithoutCancel(ctx)
	log := telemetry.FromContext(rctx, "add.rollback")
	for _, id := range ids {
		if err := e.mgr.Vector.Delete(rctx, id); err != nil {
			log.Warn().Err(err).Int64("memory_id", id).Msg("rollback: vector delete failed")
		}
		if e.mgr.FullText != nil {
			if err := e.mgr.FullText.Remove(rctx, id); err != nil {
				log.Warn().Err(err).Int64("memory_id", id).Msg("rollback: fulltext remove failed")
			}
		}
	}
}

func (e *Engine) applyOperation(ctx context.Context, op planner.Operation, candidate store.MemoryFact, sc store.Scope, now time.Time) (AddResult, error) {
	switch op.Kind {
	case planner.OpNone:
		return AddResult{Event: EventNone}, nil

	case planner.OpAdd:
		f := candidate
		f.ID = e.mgr.IDs.Next()
		f.Content = op.Content
		f.Hash = hashContent(op.Content)

		score, err := e.importance.Evaluate(ctx, op.Content)
		if err != nil {
			return AddResult{}, err
		}
		f.ImportanceScore = score
		f.Tier = e.ebb.InitialTier(score)

		if err := e.mgr.Vector.Insert(ctx, f); err != nil {
			return AddResult{}, err
		}
		e.indexAndIngest(ctx, f, sc, now)
		e.appendHistory(ctx, f.ID, store.EventAdd, "", f.Content)
		e.publishMutation(ctx, f.ID, sc)
		return AddResult{ID: f.ID, Memory: f.Content, Event: EventAdded}, nil

	case planner.OpUpdate:
		unlock, err := e.locker.Lock(ctx, idKey(op.TargetID))
		if err != nil {
			return AddResult{}, err
		}
		defer unlock()

		existing, ok, err := e.mgr.Vector.Get(ctx, op.TargetID)
		if err != nil {
			return AddResult{}, err
		}
		if !ok {
			return AddResult{}, newErr("add", KindNotFound, nil)
		}
		prev := existing.Content

		vec, err := e.embedder.Embed(ctx, op.Content)
		if err != nil {
			return AddResult{}, err
		}
		existing.Content = op.Content
		existing.Hash = hashContent(op.Content)
		existing.Embedding = vec
		existing.UpdatedAt = now

		if err := e.mgr.Vector.Upsert(ctx, existing); err != nil {
			return AddResult{}, err
		}
		e.indexAndIngest(ctx, existing, sc, now)
		e.appendHistory(ctx, existing.ID, store.EventUpdate, prev, existing.Content)
		e.publishMutation(ctx, existing.ID, sc)
		return AddResult{ID: existing.ID, Memory: existing.Content, Event: EventUpdated}, nil

	case planner.OpDelete:
		unlock, err := e.locker.Lock(ctx, idKey(op.TargetID))
		if err != nil {
			return AddResult{}, err
		}
		defer unlock()

		existing, ok, err := e.mgr.Vector.Get(ctx, op.TargetID)
		if err != nil {
			return AddResult{}, err
		}
		if !ok {
			return AddResult{}, newErr("add", KindNotFound, nil)
		}
		if err := e.deleteFact(ctx, existing, now); err != nil {
			return AddResult{}, err
		}
		e.appendHistory(ctx, existing.ID, store.EventDelete, existing.Content, "")
		return AddResult{ID: existing.ID, Event: EventDeleted}, nil

	default:
		return AddResult{Event: EventNone}, nil
	}
}

// indexAndIngest runs the full-text index write and graph ingestion
// best-effort: neither failing a fact's own ADD/UPDATE, per spec §9 ("graph
// store failure after vector success: logged as partial-failure warning,
// vector results retained").
func (e *Engine) indexAndIngest(ctx context.Context, f store.MemoryFact, sc store.Scope, now time.Time) {
	log := telemetry.FromContext(ctx, "add.sideeffects")

	if e.mgr.FullText != nil {
		if err := e.mgr.FullText.Index(ctx, f); err != nil {
			log.Warn().Err(err).Int64("memory_id", f.ID).Msg("fulltext index failed")
		}
	}

	if e.graphEng == nil {
		return
	}
	triples, err := e.graphEng.Extract(ctx, f.Content, sc)
	if err != nil {
		log.Warn().Err(err).Int64("memory_id", f.ID).Msg("graph extraction failed")
		return
	}
	for _, tr := range triples {
		if err := e.graphEng.Ingest(ctx, tr, sc, now); err != nil {
			log.Warn().Err(err).Int64("memory_id", f.ID).Msg("graph ingest failed")
		}
	}
}

func (e *Engine) appendHistory(ctx context.Context, id int64, kind store.HistoryEventType, prev, next string) {
	log := telemetry.FromContext(ctx, "add.history")
	ev := store.HistoryEvent{MemoryID: id, Event: kind, PrevValue: prev, NewValue: next, Timestamp: e.now()}
	if err := e.mgr.History.Append(ctx, ev); err != nil {
		log.Error().Err(err).Int64("memory_id", id).Msg("history append failed")
	}
}

func (e *Engine) publishMutation(ctx context.Context, id int64, sc store.Scope) {
	if e.bus == nil {
		return
	}
	log := telemetry.FromContext(ctx, "add.publish")
	ev := eventbus.Event{Type: eventbus.EventMemoryMutated, MemoryID: id, UserID: sc.UserID, AgentID: sc.AgentID, RunID: sc.RunID}
	if err := e.bus.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Int64("memory_id", id).Msg("mutation event publish failed")
	}
}

// deleteFact removes f per the configured retention policy: soft-delete
// (archive, kept queryable by id until a maintenance sweep) when an archive
// grace period is configured, otherwise a hard delete from both indexes.
func (e *Engine) deleteFact(ctx context.Context, f store.MemoryFact, now time.Time) error {
	if e.cfg.Intelligence.ArchiveGraceDays > 0 {
		f.Tier = store.TierArchived
		f.UpdatedAt = now
		return e.mgr.Vector.Upsert(ctx, f)
	}
	if err := e.mgr.Vector.Delete(ctx, f.ID); err != nil {
		return err
	}
	if e.mgr.FullText != nil {
		return e.mgr.FullText.Remove(ctx, f.ID)
	}
	return nil
}

// Search runs the hybrid retriever (C5) over the caller's resolved scope.
func (e *Engine) Search(ctx context.Context, query string, sreq scope.Request, opt retrieve.Options) (SearchResponse, error) {
	resolved, err := scope.ForRead(sreq)
	if err != nil {
		return SearchResponse{}, newErr("search", KindValidation, err)
	}

	hits, err := e.retriever.Search(ctx, query, resolved.Scope, opt)
	if err != nil {
		return SearchResponse{}, newErr("search", KindBackendUnavailable, err)
	}

	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{ID: h.Fact.ID, Memory: h.Fact.Content, Score: h.Score, Metadata: h.Fact.Metadata}
	}
	return SearchResponse{Results: out}, nil
}

// Get returns a single fact by id, scoped to the caller: an id that exists
// but belongs to a different scope is reported as KindNotFound rather than
// leaking its existence, per the scope-isolation invariant (spec §8).
func (e *Engine) Get(ctx context.Context, id int64, sreq scope.Request) (store.MemoryFact, error) {
	resolved, err := scope.ForRead(sreq)
	if err != nil {
		return store.MemoryFact{}, newErr("get", KindValidation, err)
	}
	f, ok, err := e.mgr.Vector.Get(ctx, id)
	if err != nil {
		return store.MemoryFact{}, newErr("get", KindBackendUnavailable, err)
	}
	if !ok || !scopeMatches(f.Scope, resolved.Scope) {
		return store.MemoryFact{}, newErr("get", KindNotFound, nil)
	}
	return f, nil
}

// GetAll pages through every fact visible to the caller's resolved scope,
// optionally narrowed by extra metadata clauses.
func (e *Engine) GetAll(ctx context.Context, sreq scope.Request, extra store.Filter, limit int, cursor string) ([]store.MemoryFact, string, error) {
	resolved, err := scope.ForRead(sreq)
	if err != nil {
		return nil, "", newErr("get_all", KindValidation, err)
	}
	filter := extra.WithScope(resolved.Scope)
	out, next, err := e.mgr.Vector.List(ctx, filter, limit, cursor)
	if err != nil {
		return nil, "", newErr("get_all", KindBackendUnavailable, err)
	}
	return out, next, nil
}

// Update replaces a fact's content and/or metadata in place, re-embedding
// only when content actually changes.
func (e *Engine) Update(ctx context.Context, id int64, content *string, metadata map[string]any, sreq scope.Request) (store.MemoryFact, error) {
	resolved, err := scope.ForWrite(sreq)
	if err != nil {
		return store.MemoryFact{}, newErr("update", KindValidation, err)
	}

	unlock, err := e.locker.Lock(ctx, idKey(id))
	if err != nil {
		return store.MemoryFact{}, newErr("update", KindBackendUnavailable, err)
	}
	defer unlock()

	existing, ok, err := e.mgr.Vector.Get(ctx, id)
	if err != nil {
		return store.MemoryFact{}, newErr("update", KindBackendUnavailable, err)
	}
	if !ok || !scopeMatches(existing.Scope, resolved.Scope) {
		return store.MemoryFact{}, newErr("update", KindNotFound, nil)
	}

	prev := existing.Content
	changed := false
	if content != nil && *content != existing.Content {
		if len(*content) > maxContentBytes {
			return store.MemoryFact{}, newErr("update", KindValidation, errContentTooLarge)
		}
		vec, err := e.embedder.Embed(ctx, *content)
		if err != nil {
			return store.MemoryFact{}, newErr("update", KindBackendUnavailable, err)
		}
		existing.Content = *content
		existing.Embedding = vec
		existing.Hash = hashContent(*content)
		changed = true
	}
	if metadata != nil {
		existing.Metadata = metadata
		changed = true
	}
	if !changed {
		return existing, nil
	}

	now := e.now()
	existing.UpdatedAt = now
	if err := e.mgr.Vector.Upsert(ctx, existing); err != nil {
		return store.MemoryFact{}, newErr("update", KindBackendUnavailable, err)
	}
	e.indexAndIngest(ctx, existing, resolved.Scope, now)
	e.appendHistory(ctx, existing.ID, store.EventUpdate, prev, existing.Content)
	e.publishMutation(ctx, existing.ID, resolved.Scope)
	return existing, nil
}

// Delete removes a single fact, scoped to the caller.
func (e *Engine) Delete(ctx context.Context, id int64, sreq scope.Request) error {
	resolved, err := scope.ForWrite(sreq)
	if err != nil {
		return newErr("delete", KindValidation, err)
	}

	unlock, err := e.locker.Lock(ctx, idKey(id))
	if err != nil {
		return newErr("delete", KindBackendUnavailable, err)
	}
	defer unlock()

	existing, ok, err := e.mgr.Vector.Get(ctx, id)
	if err != nil {
		return newErr("delete", KindBackendUnavailable, err)
	}
	if !ok || !scopeMatches(existing.Scope, resolved.Scope) {
		return newErr("delete", KindNotFound, nil)
	}

	now := e.now()
	if err := e.deleteFact(ctx, existing, now); err != nil {
		return newErr("delete", KindBackendUnavailable, err)
	}
	e.appendHistory(ctx, existing.ID, store.EventDelete, existing.Content, "")
	return nil
}

const deleteAllPageSize = 200

// DeleteAll deletes every fact in the caller's resolved scope, honoring the
// same soft/hard delete policy as Delete.
func (e *Engine) DeleteAll(ctx context.Context, sreq scope.Request) error {
	resolved, err := scope.ForWrite(sreq)
	if err != nil {
		return newErr("delete_all", KindValidation, err)
	}

	cursor := ""
	for {
		page, next, err := e.mgr.Vector.List(ctx, store.Filter{Scope: resolved.Scope}, deleteAllPageSize, cursor)
		if err != nil {
			return newErr("delete_all", KindBackendUnavailable, err)
		}
		now := e.now()
		for _, f := range page {
			if err := e.deleteFact(ctx, f, now); err != nil {
				return newErr("delete_all", KindBackendUnavailable, err)
			}
			e.appendHistory(ctx, f.ID, store.EventDelete, f.Content, "")
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// History returns the append-only mutation log for a single fact id.
func (e *Engine) History(ctx context.Context, id int64) ([]store.HistoryEvent, error) {
	out, err := e.mgr.History.List(ctx, id)
	if err != nil {
		return nil, newErr("history", KindBackendUnavailable, err)
	}
	return out, nil
}

// Reset purges every fact and the consolidated profile in the caller's
// scope, unconditionally hard-deleting regardless of the archive-grace
// policy — unlike DeleteAll, reset is an explicit admin action, not a
// lifecycle transition.
//
// It cannot purge graph state: store.GraphStore exposes no bulk
// scope-purge operation (only per-edge/per-entity upserts and a single
// DeleteEdge(id)), so entities and edges created from facts in this scope
// survive a reset. See DESIGN.md for the open-question writeup.
func (e *Engine) Reset(ctx context.Context, sreq scope.Request) error {
	resolved, err := scope.ForWrite(sreq)
	if err != nil {
		return newErr("reset", KindValidation, err)
	}

	cursor := ""
	for {
		page, next, err := e.mgr.Vector.List(ctx, store.Filter{Scope: resolved.Scope}, deleteAllPageSize, cursor)
		if err != nil {
			return newErr("reset", KindBackendUnavailable, err)
		}
		for _, f := range page {
			if err := e.mgr.Vector.Delete(ctx, f.ID); err != nil {
				return newErr("reset", KindBackendUnavailable, err)
			}
			if e.mgr.FullText != nil {
				_ = e.mgr.FullText.Remove(ctx, f.ID)
			}
			e.appendHistory(ctx, f.ID, store.EventDelete, f.Content, "")
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if e.mgr.Profile != nil {
		if err := e.mgr.Profile.Delete(ctx, resolved.Scope.UserID, resolved.Scope.AgentID, resolved.Scope.RunID); err != nil {
			return newErr("reset", KindBackendUnavailable, err)
		}
	}
	return nil
}

// Profile returns the consolidated profile for the caller's scope, if one
// has been built yet.
func (e *Engine) Profile(ctx context.Context, sreq scope.Request) (store.UserProfile, bool, error) {
	resolved, err := scope.ForRead(sreq)
	if err != nil {
		return store.UserProfile{}, false, newErr("profile", KindValidation, err)
	}
	p, ok, err := e.mgr.Profile.Get(ctx, resolved.Scope.UserID, resolved.Scope.AgentID, resolved.Scope.RunID)
	if err != nil {
		return store.UserProfile{}, false, newErr("profile", KindBackendUnavailable, err)
	}
	return p, ok, nil
}

// DeleteProfile removes the consolidated profile for the caller's scope,
// leaving the underlying facts untouched.
func (e *Engine) DeleteProfile(ctx context.Context, sreq scope.Request) error {
	resolved, err := scope.ForWrite(sreq)
	if err != nil {
		return newErr("delete_profile", KindValidation, err)
	}
	if err := e.mgr.Profile.Delete(ctx, resolved.Scope.UserID, resolved.Scope.AgentID, resolved.Scope.RunID); err != nil {
		return newErr("delete_profile", KindBackendUnavailable, err)
	}
	return nil
}

// ConsolidateProfile runs C8 for a single scope given its recent facts. It
// is exported so a composition root can run consolidation for a scope
// directly; ProfileEventHandler is the eventbus.Handler form, which fetches
// the recent facts itself.
func (e *Engine) ConsolidateProfile(ctx context.Context, sc store.Scope, recentFacts []store.MemoryFact) error {
	return e.profiles.Consolidate(ctx, sc, recentFacts)
}

const profileConsolidationFactWindow = 50

// ProfileEventHandler returns an eventbus.Handler that, given a
// memory-mutated event, fetches the mutating scope's most recent facts and
// runs C8 consolidation. Wire it with a Bus's Run method in the composition
// root.
func (e *Engine) ProfileEventHandler() eventbus.Handler {
	return func(ctx context.Context, ev eventbus.Event) error {
		sc := store.Scope{UserID: ev.UserID, AgentID: ev.AgentID, RunID: ev.RunID}
		recent, _, err := e.mgr.Vector.List(ctx, store.Filter{Scope: sc}, profileConsolidationFactWindow, "")
		if err != nil {
			return err
		}
		return e.profiles.Consolidate(ctx, sc, recent)
	}
}

const maintenancePageSize = 500

// RunMaintenance pages through every fact (no scope restriction — this is an
// operator-driven sweep, not a per-caller request) and runs C7's retention
// decay and tier-transition pass over it: reinforced/decayed tiers are
// persisted, and facts past EligibleForDeletion are removed. The delete
// closure appends the mandatory DELETE HistoryEvent itself, since
// ebbinghaus.Manager.RunMaintenance does not do so on the caller's behalf.
// Intended to be driven by a composition root on a ticker at
// cfg.Intelligence.MaintenanceInterval.
func (e *Engine) RunMaintenance(ctx context.Context) error {
	now := e.now()
	log := telemetry.FromContext(ctx, "maintenance")

	apply := func(ctx context.Context, f store.MemoryFact) error {
		return e.mgr.Vector.Upsert(ctx, f)
	}
	del := func(ctx context.Context, f store.MemoryFact) error {
		// Unconditional hard delete, not deleteFact's soft-archive path:
		// EligibleForDeletion already means the fact sat ARCHIVED past its
		// grace period, so this is the final removal, not a fresh archive.
		if err := e.mgr.Vector.Delete(ctx, f.ID); err != nil {
			return err
		}
		if e.mgr.FullText != nil {
			if err := e.mgr.FullText.Remove(ctx, f.ID); err != nil {
				return err
			}
		}
		e.appendHistory(ctx, f.ID, store.EventDelete, f.Content, "")
		return nil
	}

	cursor := ""
	for {
		page, next, err := e.mgr.Vector.List(ctx, store.Filter{}, maintenancePageSize, cursor)
		if err != nil {
			return newErr("maintenance", KindBackendUnavailable, err)
		}
		if err := e.ebb.RunMaintenance(ctx, now, page, apply, del); err != nil {
			log.Error().Err(err).Msg("maintenance sweep failed")
			return newErr("maintenance", KindBackendUnavailable, err)
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// Close releases the underlying store backends.
func (e *Engine) Close() {
	e.mgr.Close()
}

func scopeMatches(fact, req store.Scope) bool {
	if req.UserID != "" && req.UserID != fact.UserID {
		return false
	}
	if req.AgentID != "" && req.AgentID != fact.AgentID {
		return false
	}
	if req.RunID != "" && req.RunID != fact.RunID {
		return false
	}
	return true
}

func idKey(id int64) string {
	return "memory:" + strconv.FormatInt(id, 10)
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

type contentTooLargeError struct{}

func (contentTooLargeError) Error() string { return "engine: fact content exceeds the configured size limit" }

var errContentTooLarge = contentTooLargeError{}
