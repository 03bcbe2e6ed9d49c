package retrieve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/engine/ebbinghaus"
	"github.com/powermem/powermem/internal/engine/graph"
	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/store"
)

type fakeVectorStore struct {
	results []store.VectorResult
	dims    int
}

func (f *fakeVectorStore) Insert(context.Context, store.MemoryFact) error        { return nil }
func (f *fakeVectorStore) Upsert(context.Context, store.MemoryFact) error        { return nil }
func (f *fakeVectorStore) Delete(context.Context, int64) error                   { return nil }
func (f *fakeVectorStore) Get(context.Context, int64) (store.MemoryFact, bool, error) {
	return store.MemoryFact{}, false, nil
}
func (f *fakeVectorStore) Search(context.Context, []float32, int, store.Filter) ([]store.VectorResult, error) {
	return f.results, nil
}
func (f *fakeVectorStore) List(context.Context, store.Filter, int, string) ([]store.MemoryFact, string, error) {
	return nil, "", nil
}
func (f *fakeVectorStore) Dimension() int            { return f.dims }
func (f *fakeVectorStore) Ping(context.Context) error { return nil }

type fakeFullTextStore struct {
	results []store.TextResult
}

func (f *fakeFullTextStore) Index(context.Context, store.MemoryFact) error { return nil }
func (f *fakeFullTextStore) Remove(context.Context, int64) error          { return nil }
func (f *fakeFullTextStore) Search(context.Context, string, int, store.Filter, string) ([]store.TextResult, error) {
	return f.results, nil
}
func (f *fakeFullTextStore) Ping(context.Context) error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0, 0}, nil }
func (fakeEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return [][]float32{{1, 0, 0}}, nil
}
func (fakeEmbedder) Dimension() int { return 3 }

func fact(id int64, importance float64, updated time.Time) store.MemoryFact {
	return store.MemoryFact{
		ID:                id,
		Content:           "fact",
		ImportanceScore:   importance,
		UpdatedAt:         updated,
		CreatedAt:         updated,
		LastAccessed:      updated,
		RetentionStrength: 1.0,
	}
}

func testEbb() *ebbinghaus.Manager {
	return ebbinghaus.New(config.IntelligentMemoryConfig{
		RetentionLambda: 0.8210,
		RMin:            0.20,
		RReinforceAlpha: 0.25,
		SMax:            10,
		Thresholds:      config.Thresholds{LongTerm: 0.75, ShortTerm: 0.4},
	})
}

func TestSearchFusesVectorAndFullTextRRF(t *testing.T) {
	now := time.Now()
	vec := &fakeVectorStore{results: []store.VectorResult{
		{ID: 1, Score: 0.9, Fact: fact(1, 0.5, now)},
		{ID: 2, Score: 0.8, Fact: fact(2, 0.5, now)},
	}}
	ft := &fakeFullTextStore{results: []store.TextResult{
		{ID: 2, Score: 5.0, Fact: fact(2, 0.5, now)},
		{ID: 1, Score: 4.0, Fact: fact(1, 0.5, now)},
	}}

	eng := New(vec, ft, nil, testEbb(), fakeEmbedder{}, config.FusionConfig{Method: "rrf", RRFK: 60}, config.GraphStoreConfig{})
	results, err := eng.Search(context.Background(), "query", store.Scope{UserID: "u1"}, Options{K: 10, UseFullText: true, DisableRecencyReweight: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// fact 1 ranks 1st in vector, 2nd in fulltext; fact 2 ranks 2nd/1st — symmetric, so fused
	// scores tie and the importance/updated_at/id tie-break decides: both facts are identical
	// except ID, so the lower ID wins.
	assert.Equal(t, int64(1), results[0].Fact.ID)
	assert.Equal(t, int64(2), results[1].Fact.ID)
}

func TestSearchWeightedFusionNormalizesPerBranch(t *testing.T) {
	now := time.Now()
	vec := &fakeVectorStore{results: []store.VectorResult{
		{ID: 1, Score: 1.0, Fact: fact(1, 0, now)},
		{ID: 2, Score: 0.5, Fact: fact(2, 0, now)},
	}}
	ft := &fakeFullTextStore{}

	eng := New(vec, ft, nil, testEbb(), fakeEmbedder{}, config.FusionConfig{
		Method:  "weighted",
		Weights: config.FusionWeightConfig{Vector: 1, Text: 1, Graph: 1},
	}, config.GraphStoreConfig{})
	results, err := eng.Search(context.Background(), "q", store.Scope{}, Options{K: 10, DisableRecencyReweight: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].Fact.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestSearchSkipsFullTextBranchWhenDisabled(t *testing.T) {
	now := time.Now()
	vec := &fakeVectorStore{results: []store.VectorResult{{ID: 1, Score: 0.9, Fact: fact(1, 0, now)}}}
	ft := &fakeFullTextStore{results: []store.TextResult{{ID: 99, Score: 9.0, Fact: fact(99, 0, now)}}}

	eng := New(vec, ft, nil, testEbb(), fakeEmbedder{}, config.FusionConfig{Method: "rrf", RRFK: 60}, config.GraphStoreConfig{})
	results, err := eng.Search(context.Background(), "q", store.Scope{}, Options{K: 10, UseFullText: false, DisableRecencyReweight: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Fact.ID)
}

func TestSearchAppliesRecencyReweighting(t *testing.T) {
	now := time.Now()
	fresh := fact(1, 0, now)
	stale := fact(2, 0, now.Add(-1000*time.Hour))
	// Stale ranks ahead on raw RRF rank (listed first); only recency
	// reweighting should flip the final order in favor of fresh.
	vec := &fakeVectorStore{results: []store.VectorResult{
		{ID: 2, Score: 0.5, Fact: stale},
		{ID: 1, Score: 0.5, Fact: fresh},
	}}
	ft := &fakeFullTextStore{}

	eng := New(vec, ft, nil, testEbb(), fakeEmbedder{}, config.FusionConfig{Method: "rrf", RRFK: 60}, config.GraphStoreConfig{})
	results, err := eng.Search(context.Background(), "q", store.Scope{}, Options{K: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// fresh's retention is far higher than stale's, so it must overtake
	// stale's raw-rank edge once recency reweighting is applied.
	assert.Equal(t, int64(1), results[0].Fact.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

type captureReinforcer struct {
	mu    sync.Mutex
	calls [][]store.MemoryFact
	done  chan struct{}
}

func (c *captureReinforcer) BulkReinforce(_ context.Context, facts []store.MemoryFact) error {
	c.mu.Lock()
	c.calls = append(c.calls, facts)
	c.mu.Unlock()
	close(c.done)
	return nil
}

func TestSearchBulkReinforcesReturnedFacts(t *testing.T) {
	now := time.Now()
	vec := &fakeVectorStore{results: []store.VectorResult{{ID: 1, Score: 0.9, Fact: fact(1, 0, now)}}}
	ft := &fakeFullTextStore{}
	reinforcer := &captureReinforcer{done: make(chan struct{})}

	eng := New(vec, ft, nil, testEbb(), fakeEmbedder{}, config.FusionConfig{Method: "rrf", RRFK: 60}, config.GraphStoreConfig{}, WithReinforcer(reinforcer))
	results, err := eng.Search(context.Background(), "q", store.Scope{}, Options{K: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)

	select {
	case <-reinforcer.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bulk reinforcement")
	}
	reinforcer.mu.Lock()
	defer reinforcer.mu.Unlock()
	require.Len(t, reinforcer.calls, 1)
	assert.Equal(t, int64(1), reinforcer.calls[0][0].AccessCount)
}

// scriptedProvider replies with a fixed triple-extraction response,
// standing in for an LLM provider in the graph branch.
type scriptedProvider struct {
	reply string
}

func (p *scriptedProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return llm.Message{Content: p.reply}, nil
}

func (p *scriptedProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

func TestSearchUsesGraphBranchWhenEnabled(t *testing.T) {
	now := time.Now()
	sc := store.Scope{UserID: "u1"}

	gs := store.NewMemoryGraph()
	_, _, err := gs.UpsertEdge(context.Background(), store.GraphEdge{
		Source: "u1", Relation: "likes", Target: "pizza", Scope: sc, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	provider := &scriptedProvider{reply: `{"triples":[{"subject":"USER_ID","relation":"likes","object":"pizza"}]}`}
	graphEngine := graph.New(gs, provider, "test-model")

	vec := &fakeVectorStore{results: []store.VectorResult{{ID: 1, Score: 0.5, Fact: fact(1, 0, now)}}}
	graphFact := fact(42, 0, now)
	graphFact.Content = "likes pizza"
	ft := &fakeFullTextStore{results: []store.TextResult{{ID: 42, Score: 3.0, Fact: graphFact}}}

	eng := New(vec, ft, graphEngine, testEbb(), fakeEmbedder{}, config.FusionConfig{Method: "rrf", RRFK: 60},
		config.GraphStoreConfig{MaxHop: 2, MaxEdgesPerHop: 20})
	results, err := eng.Search(context.Background(), "I like pizza", sc, Options{K: 10, UseGraph: true, DisableRecencyReweight: true})
	require.NoError(t, err)

	var sawGraphFact bool
	for _, r := range results {
		if r.Fact.ID == 42 {
			sawGraphFact = true
			_, ok := r.Explanation["graph"]
			assert.True(t, ok, "graph branch should contribute a score for the graph-sourced fact")
		}
	}
	assert.True(t, sawGraphFact, "graph branch hit (via entity neighbor lookup) must surface in fused results")
}

func TestSearchSkipsGraphBranchWhenDisabled(t *testing.T) {
	now := time.Now()
	sc := store.Scope{UserID: "u1"}

	gs := store.NewMemoryGraph()
	_, _, err := gs.UpsertEdge(context.Background(), store.GraphEdge{
		Source: "u1", Relation: "likes", Target: "pizza", Scope: sc, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	provider := &scriptedProvider{reply: `{"triples":[{"subject":"USER_ID","relation":"likes","object":"pizza"}]}`}
	graphEngine := graph.New(gs, provider, "test-model")

	vec := &fakeVectorStore{results: []store.VectorResult{{ID: 1, Score: 0.5, Fact: fact(1, 0, now)}}}
	graphFact := fact(42, 0, now)
	ft := &fakeFullTextStore{results: []store.TextResult{{ID: 42, Score: 3.0, Fact: graphFact}}}

	eng := New(vec, ft, graphEngine, testEbb(), fakeEmbedder{}, config.FusionConfig{Method: "rrf", RRFK: 60},
		config.GraphStoreConfig{MaxHop: 2, MaxEdgesPerHop: 20})
	results, err := eng.Search(context.Background(), "I like pizza", sc, Options{K: 10, UseGraph: false, DisableRecencyReweight: true})
	require.NoError(t, err)

	for _, r := range results {
		assert.NotEqual(t, int64(42), r.Fact.ID, "graph-only fact must not appear when UseGraph is false")
	}
}

func TestSelectTopKAppliesTieBreak(t *testing.T) {
	now := time.Now()
	candidates := []fusedCandidate{
		{fact: fact(3, 0.5, now), score: 1.0},
		{fact: fact(1, 0.5, now), score: 1.0},
		{fact: fact(2, 0.9, now), score: 1.0},
	}
	top := selectTopK(candidates, 2)
	require.Len(t, top, 2)
	// Highest importance_score wins first; among the 1.0-score/0.5-importance
	// pair, the lower id wins.
	assert.Equal(t, int64(2), top[0].fact.ID)
	assert.Equal(t, int64(1), top[1].fact.ID)
}
