package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryFullText is a naive term-frequency in-memory FullTextStore double.
type memoryFullText struct {
	mu    sync.RWMutex
	facts map[int64]MemoryFact
}

// NewMemoryFullText returns an in-memory FullTextStore.
func NewMemoryFullText() FullTextStore {
	return &memoryFullText{facts: make(map[int64]MemoryFact)}
}

func (m *memoryFullText) Ping(context.Context) error { return nil }

func (m *memoryFullText) Index(_ context.Context, fact MemoryFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[fact.ID] = cloneFact(fact)
	return nil
}

func (m *memoryFullText) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facts, id)
	return nil
}

func (m *memoryFullText) Search(_ context.Context, query string, k int, filter Filter, _ string) ([]TextResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	results := make([]TextResult, 0, k)
	for _, f := range m.facts {
		if !matchFilter(f, filter) {
			continue
		}
		lc := strings.ToLower(f.Content)
		var score float64
		for _, t := range terms {
			if t == "" {
				continue
			}
			score += float64(strings.Count(lc, t))
		}
		if score <= 0 {
			continue
		}
		snippet := f.Content
		if len(snippet) > 160 {
			snippet = snippet[:160]
		}
		results = append(results, TextResult{ID: f.ID, Score: score, Snippet: snippet, Fact: cloneFact(f)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
