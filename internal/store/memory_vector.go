package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// memoryVector is an in-memory VectorStore double used by tests and as a
// zero-dependency default backend.
type memoryVector struct {
	mu    sync.RWMutex
	dim   int
	facts map[int64]MemoryFact
}

// NewMemoryVector returns an in-memory VectorStore fixed at the given
// embedding dimension.
func NewMemoryVector(dim int) VectorStore {
	return &memoryVector{dim: dim, facts: make(map[int64]MemoryFact)}
}

func (m *memoryVector) Dimension() int { return m.dim }

func (m *memoryVector) Ping(context.Context) error { return nil }

func (m *memoryVector) checkDim(v []float32) error {
	if m.dim > 0 && len(v) != m.dim {
		return fmt.Errorf("store: embedding dimension %d does not match configured dimension %d", len(v), m.dim)
	}
	return nil
}

func (m *memoryVector) Insert(ctx context.Context, fact MemoryFact) error {
	return m.Upsert(ctx, fact)
}

func (m *memoryVector) Upsert(_ context.Context, fact MemoryFact) error {
	if err := m.checkDim(fact.Embedding); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[fact.ID] = cloneFact(fact)
	return nil
}

func (m *memoryVector) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facts, id)
	return nil
}

func (m *memoryVector) Get(_ context.Context, id int64) (MemoryFact, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facts[id]
	if !ok {
		return MemoryFact{}, false, nil
	}
	return cloneFact(f), true, nil
}

func (m *memoryVector) Search(_ context.Context, vector []float32, k int, filter Filter) ([]VectorResult, error) {
	if err := m.checkDim(vector); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := l2norm(vector)
	results := make([]VectorResult, 0, len(m.facts))
	for _, f := range m.facts {
		if !matchFilter(f, filter) {
			continue
		}
		s := cosine(vector, f.Embedding, qnorm)
		results = append(results, VectorResult{ID: f.ID, Score: s, Fact: cloneFact(f)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *memoryVector) List(_ context.Context, filter Filter, limit int, cursor string) ([]MemoryFact, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.facts))
	for id := range m.facts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	start := 0
	if cursor != "" {
		var c int64
		if _, err := fmt.Sscanf(cursor, "%d", &c); err == nil {
			for i, id := range ids {
				if id > c {
					start = i
					break
				}
			}
		}
	}
	out := make([]MemoryFact, 0, limit)
	var next string
	for i := start; i < len(ids); i++ {
		f := m.facts[ids[i]]
		if !matchFilter(f, filter) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			next = fmt.Sprintf("%d", ids[i-1])
			break
		}
		out = append(out, cloneFact(f))
	}
	return out, next, nil
}

func matchFilter(f MemoryFact, filt Filter) bool {
	if !filt.Scope.IsZero() {
		if filt.Scope.UserID != "" && filt.Scope.UserID != f.Scope.UserID {
			return false
		}
		if filt.Scope.AgentID != "" && filt.Scope.AgentID != f.Scope.AgentID {
			return false
		}
		if filt.Scope.RunID != "" && filt.Scope.RunID != f.Scope.RunID {
			return false
		}
		if filt.Scope.ActorID != "" && filt.Scope.ActorID != f.Scope.ActorID {
			return false
		}
	}
	for _, c := range filt.Clauses {
		if !matchClause(f, c) {
			return false
		}
	}
	for _, sub := range filt.And {
		if !matchFilter(f, sub) {
			return false
		}
	}
	if len(filt.Or) > 0 {
		any := false
		for _, sub := range filt.Or {
			if matchFilter(f, sub) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

func matchClause(f MemoryFact, c Clause) bool {
	v, ok := f.Metadata[c.Field]
	switch c.Op {
	case OpEq:
		return ok && v == c.Value
	case OpNe:
		return !ok || v != c.Value
	case OpIn:
		vals, _ := c.Value.([]any)
		for _, want := range vals {
			if ok && v == want {
				return true
			}
		}
		return false
	case OpNin:
		vals, _ := c.Value.([]any)
		for _, want := range vals {
			if ok && v == want {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		fv, fok := toFloat(v)
		cv, cok := toFloat(c.Value)
		if !ok || !fok || !cok {
			return false
		}
		switch c.Op {
		case OpGt:
			return fv > cv
		case OpGte:
			return fv >= cv
		case OpLt:
			return fv < cv
		default:
			return fv <= cv
		}
	case OpLike, OpIlike:
		sv, sok := v.(string)
		want, wok := c.Value.(string)
		if !ok || !sok || !wok {
			return false
		}
		return containsFold(sv, want, c.Op == OpIlike)
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsFold(haystack, needle string, fold bool) bool {
	if fold {
		haystack = toLower(haystack)
		needle = toLower(needle)
	}
	return indexOf(haystack, needle) >= 0
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

func cloneFact(f MemoryFact) MemoryFact {
	cp := f
	cp.Embedding = append([]float32(nil), f.Embedding...)
	cp.Metadata = make(map[string]any, len(f.Metadata))
	for k, v := range f.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}

func l2norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// cosine returns a similarity in [0,1]: raw cosine similarity (range
// [-1,1]) rescaled by (x+1)/2, matching VectorResult.Score's documented
// contract.
func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = l2norm(a)
	}
	bnorm := l2norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0.5
	}
	raw := dot(a, b) / (anorm * bnorm)
	return (raw + 1) / 2
}
