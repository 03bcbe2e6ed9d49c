// Package retrieve implements the hybrid retriever (C5): concurrent
// vector/full-text/graph candidate fan-out, RRF or weighted fusion,
// post-fusion recency reweighting, and bounded top-k selection.
package retrieve

import (
	"container/heap"
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/embedding"
	"github.com/powermem/powermem/internal/engine/ebbinghaus"
	"github.com/powermem/powermem/internal/engine/graph"
	"github.com/powermem/powermem/internal/store"
)

// Options configures a single Search call, mirroring spec §4.5's input.
type Options struct {
	K                    int
	UseFullText          bool
	UseGraph             bool
	Filter               store.Filter
	Parser               string // ik | ngram | ngram2 | beng | space
	Hop                  int
	MaxEdgesPerHop       int
	DisableRecencyReweight bool
}

// Result is a single ranked hit, carrying the fusion/recency score and a
// branch-level breakdown for diagnostics.
type Result struct {
	Fact        store.MemoryFact
	Score       float64
	Explanation map[string]float64 // branch name -> that branch's raw contribution
}

// Reinforcer persists the access-bookkeeping bump C7 applies to returned
// facts. It is invoked as a single bulk, best-effort call in a background
// goroutine; its error is discarded and never returned to Search's caller.
type Reinforcer interface {
	BulkReinforce(ctx context.Context, facts []store.MemoryFact) error
}

// Engine implements C5 against the store abstractions, an embedder for the
// query-vector branch, and the C6/C7 managers for the graph branch and
// recency reweighting.
type Engine struct {
	vector   store.VectorStore
	fulltext store.FullTextStore
	graph    *graph.Engine
	ebb      *ebbinghaus.Manager
	embedder embedding.Embedder

	fusion   config.FusionConfig
	graphCfg config.GraphStoreConfig

	reinforcer Reinforcer
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithReinforcer wires the bulk access-bookkeeping sink. Without one,
// Search skips reinforcement entirely (acceptable for read-only callers).
func WithReinforcer(r Reinforcer) Option {
	return func(e *Engine) { e.reinforcer = r }
}

// New builds a retrieval Engine. fulltext and graphEngine may be nil, which
// disables their respective branches regardless of Options.
func New(vector store.VectorStore, fulltext store.FullTextStore, graphEngine *graph.Engine, ebb *ebbinghaus.Manager, embedder embedding.Embedder, fusion config.FusionConfig, graphCfg config.GraphStoreConfig, opts ...Option) *Engine {
	e := &Engine{
		vector:   vector,
		fulltext: fulltext,
		graph:    graphEngine,
		ebb:      ebb,
		embedder: embedder,
		fusion:   fusion,
		graphCfg: graphCfg,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

const defaultK = 10
const defaultBranchK = 50
const maxGraphSeedEntities = 8

// Search runs the concurrent vector/full-text/graph fan-out, fuses, applies
// recency reweighting, and returns the top Options.K results for scope sc.
func (e *Engine) Search(ctx context.Context, query string, sc store.Scope, opt Options) ([]Result, error) {
	k := opt.K
	if k <= 0 {
		k = defaultK
	}
	branchK := k * 5
	if branchK < defaultBranchK {
		branchK = defaultBranchK
	}

	var (
		vecResults  []store.VectorResult
		textResults []store.TextResult
		graphResults []store.TextResult
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return err
		}
		res, err := e.vector.Search(gctx, vec, branchK, opt.Filter.WithScope(sc))
		if err != nil {
			return err
		}
		vecResults = res
		return nil
	})

	if opt.UseFullText && e.fulltext != nil {
		g.Go(func() error {
			res, err := e.fulltext.Search(gctx, query, branchK, opt.Filter.WithScope(sc), opt.Parser)
			if err != nil {
				return err
			}
			textResults = res
			return nil
		})
	}

	if opt.UseGraph && e.graph != nil && e.fulltext != nil {
		g.Go(func() error {
			res, err := e.graphBranch(gctx, query, sc, opt, branchK)
			if err != nil {
				return err
			}
			graphResults = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := e.fuse(vecResults, textResults, graphResults)

	now := time.Now()
	if !opt.DisableRecencyReweight && e.ebb != nil {
		for i := range fused {
			fused[i].score *= e.ebb.Retention(fused[i].fact, now)
		}
	}

	top := selectTopK(fused, k)

	if e.reinforcer != nil && len(top) > 0 {
		facts := make([]store.MemoryFact, len(top))
		for i, c := range top {
			if e.ebb != nil {
				facts[i] = e.ebb.Reinforce(c.fact, now)
			} else {
				facts[i] = c.fact
			}
		}
		go e.reinforcer.BulkReinforce(context.WithoutCancel(ctx), facts) //nolint:errcheck
	}

	out := make([]Result, len(top))
	for i, c := range top {
		out[i] = Result{Fact: c.fact, Score: c.score, Explanation: c.branchScores}
	}
	return out, nil
}

// graphBranch extracts entities from the query, walks bounded BFS neighbors
// for each, and maps neighbor entity names back to memory facts via a
// full-text lookup — the graph store itself has no direct fact linkage, so
// entity-name match against FullTextStore is how a graph hit becomes a
// retrievable candidate.
func (e *Engine) graphBranch(ctx context.Context, query string, sc store.Scope, opt Options, branchK int) ([]store.TextResult, error) {
	triples, err := e.graph.Extract(ctx, query, sc)
	if err != nil {
		return nil, err
	}
	if len(triples) == 0 {
		return nil, nil
	}

	hop := opt.Hop
	if hop <= 0 {
		hop = e.graphCfg.MaxHop
	}
	maxEdges := opt.MaxEdgesPerHop
	if maxEdges <= 0 {
		maxEdges = e.graphCfg.MaxEdgesPerHop
	}

	seeds := make(map[string]struct{}, len(triples)*2)
	seedOrder := make([]string, 0, len(triples)*2)
	addSeed := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seeds[name]; ok {
			return
		}
		if len(seedOrder) >= maxGraphSeedEntities {
			return
		}
		seeds[name] = struct{}{}
		seedOrder = append(seedOrder, name)
	}
	for _, t := range triples {
		addSeed(t.Subject)
		addSeed(t.Object)
	}

	neighborNames := map[string]struct{}{}
	for _, seed := range seedOrder {
		edges, err := e.graph.Neighbors(ctx, seed, sc, hop, maxEdges)
		if err != nil {
			continue // best-effort: one bad seed doesn't fail the branch
		}
		for _, edge := range edges {
			neighborNames[edge.Source] = struct{}{}
			neighborNames[edge.Target] = struct{}{}
		}
	}
	if len(neighborNames) == 0 {
		return nil, nil
	}

	seenFacts := map[int64]struct{}{}
	var out []store.TextResult
	for name := range neighborNames {
		res, err := e.fulltext.Search(ctx, name, branchK, opt.Filter.WithScope(sc), opt.Parser)
		if err != nil {
			continue
		}
		for _, r := range res {
			if _, dup := seenFacts[r.ID]; dup {
				continue
			}
			seenFacts[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}

type fusedCandidate struct {
	fact         store.MemoryFact
	score        float64
	branchScores map[string]float64
}

// fuse merges the three branches' ranked candidate lists per the configured
// method: RRF sums 1/(rrfK+rank) across branches present; weighted sums
// per-branch-normalized scores times the configured weight.
func (e *Engine) fuse(vec []store.VectorResult, text []store.TextResult, graphHits []store.TextResult) []fusedCandidate {
	byID := map[int64]*fusedCandidate{}
	order := make([]int64, 0, len(vec)+len(text)+len(graphHits))
	ensure := func(id int64, fact store.MemoryFact) *fusedCandidate {
		c, ok := byID[id]
		if !ok {
			c = &fusedCandidate{fact: fact, branchScores: map[string]float64{}}
			byID[id] = c
			order = append(order, id)
		}
		return c
	}

	rrfK := e.fusion.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}
	weighted := e.fusion.Method == "weighted"

	maxVec := maxVectorScore(vec)
	maxText := maxTextScore(text)
	maxGraph := maxTextScore(graphHits)

	for i, r := range vec {
		c := ensure(r.ID, r.Fact)
		if weighted {
			contrib := 0.0
			if maxVec > 0 {
				contrib = e.fusion.Weights.Vector * (r.Score / maxVec)
			}
			c.score += contrib
			c.branchScores["vector"] = contrib
		} else {
			contrib := 1.0 / float64(rrfK+i+1)
			c.score += contrib
			c.branchScores["vector"] = contrib
		}
	}
	for i, r := range text {
		c := ensure(r.ID, r.Fact)
		if weighted {
			contrib := 0.0
			if maxText > 0 {
				contrib = e.fusion.Weights.Text * (r.Score / maxText)
			}
			c.score += contrib
			c.branchScores["text"] = contrib
		} else {
			contrib := 1.0 / float64(rrfK+i+1)
			c.score += contrib
			c.branchScores["text"] = contrib
		}
	}
	for i, r := range graphHits {
		c := ensure(r.ID, r.Fact)
		if weighted {
			contrib := 0.0
			if maxGraph > 0 {
				contrib = e.fusion.Weights.Graph * (r.Score / maxGraph)
			}
			c.score += contrib
			c.branchScores["graph"] = contrib
		} else {
			contrib := 1.0 / float64(rrfK+i+1)
			c.score += contrib
			c.branchScores["graph"] = contrib
		}
	}

	out := make([]fusedCandidate, len(order))
	for i, id := range order {
		out[i] = *byID[id]
	}
	return out
}

func maxVectorScore(rs []store.VectorResult) float64 {
	m := 0.0
	for _, r := range rs {
		if r.Score > m {
			m = r.Score
		}
	}
	return m
}

func maxTextScore(rs []store.TextResult) float64 {
	m := 0.0
	for _, r := range rs {
		if r.Score > m {
			m = r.Score
		}
	}
	return m
}

// selectTopK maintains a bounded min-heap of size k, per spec §4.5, using
// the mandated tie-break (importance_score desc, updated_at desc, id asc)
// to order candidates of equal fused score.
func selectTopK(candidates []fusedCandidate, k int) []fusedCandidate {
	h := &candidateHeap{}
	heap.Init(h)
	for _, c := range candidates {
		if h.Len() < k {
			heap.Push(h, c)
			continue
		}
		if h.Len() > 0 && betterThan(c, (*h)[0]) {
			heap.Pop(h)
			heap.Push(h, c)
		}
	}
	out := make([]fusedCandidate, h.Len())
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool { return betterThan(out[i], out[j]) })
	return out
}

// betterThan reports whether a ranks ahead of b under the mandated order.
func betterThan(a, b fusedCandidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	ai, bi := importanceOf(a.fact), importanceOf(b.fact)
	if ai != bi {
		return ai > bi
	}
	if !a.fact.UpdatedAt.Equal(b.fact.UpdatedAt) {
		return a.fact.UpdatedAt.After(b.fact.UpdatedAt)
	}
	return a.fact.ID < b.fact.ID
}

func importanceOf(f store.MemoryFact) float64 { return f.ImportanceScore }

// candidateHeap is a min-heap (by betterThan, inverted) used to keep only
// the k best candidates seen so far without sorting the whole candidate set.
type candidateHeap []fusedCandidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return betterThan(h[j], h[i]) } // root = worst
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(fusedCandidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
