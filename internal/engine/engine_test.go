package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/engine/retrieve"
	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/scope"
	"github.com/powermem/powermem/internal/store"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeEmbedder returns the same fixed vector for every input, so two facts
// always cosine-match at 1.0 — enough to deterministically drive planner
// neighbor lookups without modeling real embedding semantics.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

// routingProvider answers differently depending on which stage's system
// prompt it receives: the importance evaluator's prompt mentions
// "importance", the planner's default prompt mentions "long-term memory".
// The fact extractor is never exercised here (tests use the verbatim
// Infer=false bypass), so no routing is needed for it.
type routingProvider struct {
	importanceReply string
	plannerReply    string
	plannerErr      error
}

func (p *routingProvider) Chat(_ context.Context, msgs []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	sys := msgs[0].Content
	if strings.Contains(sys, "important") {
		reply := p.importanceReply
		if reply == "" {
			reply = `{"importance": 0.5}`
		}
		return llm.Message{Role: "assistant", Content: reply}, nil
	}
	if p.plannerErr != nil {
		return llm.Message{}, p.plannerErr
	}
	return llm.Message{Role: "assistant", Content: p.plannerReply}, nil
}

func (p *routingProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

func newTestEngine(t *testing.T, prov llm.Provider, cfg config.Config) (*Engine, store.Manager) {
	t.Helper()
	ids, err := store.NewIDGenerator(1)
	require.NoError(t, err)
	mgr := store.Manager{
		Vector:   store.NewMemoryVector(4),
		FullText: store.NewMemoryFullText(),
		History:  store.NewMemoryHistory(),
		Graph:    store.NewMemoryGraph(),
		Profile:  store.NewMemoryProfile(),
		IDs:      ids,
	}
	e := New(mgr, prov, fakeEmbedder{}, cfg, WithClock(func() time.Time { return fixedNow }))
	return e, mgr
}

func TestAddVerbatimBypassCreatesFactAndHistory(t *testing.T) {
	prov := &routingProvider{importanceReply: `{"importance": 0.8}`}
	e, mgr := newTestEngine(t, prov, config.Default())
	ctx := context.Background()

	resp, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, EventAdded, resp.Results[0].Event)

	id := resp.Results[0].ID
	f, ok, err := mgr.Vector.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user likes pizza", f.Content)
	assert.InDelta(t, 0.8, f.ImportanceScore, 1e-9)
	assert.Equal(t, store.TierLongTerm, f.Tier)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, store.EventAdd, hist[0].Event)
}

func TestAddRoutesToPlannerUpdateAndRecordsHistory(t *testing.T) {
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`}
	e, _ := newTestEngine(t, prov, config.Default())
	ctx := context.Background()

	first, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, first.Results, 1)
	id := first.Results[0].ID

	prov.plannerReply = fmt.Sprintf(`{"operations": [{"op": "UPDATE", "id": %d, "content": "merged statement"}]}`, id)

	second, err := e.Add(ctx, AddInput{Raw: "user actually prefers calzone"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, EventUpdated, second.Results[0].Event)
	assert.Equal(t, id, second.Results[0].ID)
	assert.Equal(t, "merged statement", second.Results[0].Memory)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, store.EventAdd, hist[0].Event)
	assert.Equal(t, store.EventUpdate, hist[1].Event)
	assert.Equal(t, "user likes pizza", hist[1].PrevValue)
	assert.Equal(t, "merged statement", hist[1].NewValue)
}

func TestAddFallsBackToAddWhenPlannerLLMFails(t *testing.T) {
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`, plannerErr: errors.New("llm unavailable")}
	e, mgr := newTestEngine(t, prov, config.Default())
	ctx := context.Background()

	first, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	second, err := e.Add(ctx, AddInput{Raw: "user likes hiking"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, EventAdded, second.Results[0].Event)
	assert.NotEqual(t, first.Results[0].ID, second.Results[0].ID)

	all, _, err := mgr.Vector.List(ctx, store.Filter{Scope: store.Scope{UserID: "u1"}}, 10, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetEnforcesScopeIsolation(t *testing.T) {
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`}
	e, _ := newTestEngine(t, prov, config.Default())
	ctx := context.Background()

	resp, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	id := resp.Results[0].ID

	_, err = e.Get(ctx, id, scope.Request{UserID: "u2"})
	require.Error(t, err)
	var engErr *Error
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, KindNotFound, engErr.Kind)

	got, err := e.Get(ctx, id, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "user likes pizza", got.Content)
}

func TestDeleteHardRemovesFactWhenNoArchiveGrace(t *testing.T) {
	cfg := config.Default()
	cfg.Intelligence.ArchiveGraceDays = 0
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`}
	e, mgr := newTestEngine(t, prov, cfg)
	ctx := context.Background()

	resp, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	id := resp.Results[0].ID

	require.NoError(t, e.Delete(ctx, id, scope.Request{UserID: "u1"}))

	_, ok, err := mgr.Vector.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, store.EventDelete, hist[1].Event)
}

func TestDeleteSoftArchivesWhenGraceConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Intelligence.ArchiveGraceDays = 30
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`}
	e, mgr := newTestEngine(t, prov, cfg)
	ctx := context.Background()

	resp, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	id := resp.Results[0].ID

	require.NoError(t, e.Delete(ctx, id, scope.Request{UserID: "u1"}))

	f, ok, err := mgr.Vector.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.TierArchived, f.Tier)
}

func TestSearchFindsAddedFact(t *testing.T) {
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`}
	e, _ := newTestEngine(t, prov, config.Default())
	ctx := context.Background()

	resp, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	id := resp.Results[0].ID

	results, err := e.Search(ctx, "what does the user like", scope.Request{UserID: "u1"}, retrieve.Options{K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results.Results)
	assert.Equal(t, id, results.Results[0].ID)
}

func TestResetPurgesFactsAndProfile(t *testing.T) {
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`}
	e, mgr := newTestEngine(t, prov, config.Default())
	ctx := context.Background()

	_, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, mgr.Profile.Put(ctx, store.UserProfile{UserID: "u1", ProfileText: "likes pizza"}))

	require.NoError(t, e.Reset(ctx, scope.Request{UserID: "u1"}))

	all, _, err := e.GetAll(ctx, scope.Request{UserID: "u1"}, store.Filter{}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	_, ok, err := e.Profile(ctx, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateReEmbedsOnlyWhenContentChanges(t *testing.T) {
	prov := &routingProvider{importanceReply: `{"importance": 0.5}`}
	e, _ := newTestEngine(t, prov, config.Default())
	ctx := context.Background()

	resp, err := e.Add(ctx, AddInput{Raw: "user likes pizza"}, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	id := resp.Results[0].ID

	newContent := "user really likes pizza"
	updated, err := e.Update(ctx, id, &newContent, nil, scope.Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, newContent, updated.Content)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, store.EventUpdate, hist[1].Event)
	assert.Equal(t, "user likes pizza", hist[1].PrevValue)
	assert.Equal(t, newContent, hist[1].NewValue)
}
