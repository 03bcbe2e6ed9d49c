package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type scopeKey struct{ user, agent, run string }

func keyOf(s Scope) scopeKey { return scopeKey{s.UserID, s.AgentID, s.RunID} }

type entityKey struct {
	scope scopeKey
	name  string
}

// memoryGraph is an in-memory GraphStore double, adjacency-map based.
type memoryGraph struct {
	mu       sync.RWMutex
	entities map[entityKey]GraphEntity
	edges    map[string]GraphEdge // id -> edge
	fromIdx  map[entityKey][]string
}

// NewMemoryGraph returns an in-memory GraphStore.
func NewMemoryGraph() GraphStore {
	return &memoryGraph{
		entities: make(map[entityKey]GraphEntity),
		edges:    make(map[string]GraphEdge),
		fromIdx:  make(map[entityKey][]string),
	}
}

func (m *memoryGraph) Ping(context.Context) error { return nil }

func (m *memoryGraph) UpsertEntity(_ context.Context, e GraphEntity) (GraphEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entityKey{keyOf(e.Scope), e.Name}
	if existing, ok := m.entities[k]; ok {
		existing.UpdatedAt = e.UpdatedAt
		m.entities[k] = existing
		return existing, nil
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("ent:%s:%s", k.scope.user, e.Name)
	}
	m.entities[k] = e
	return e, nil
}

func edgeID(s, r, t string, sc Scope) string {
	return fmt.Sprintf("%s|%s|%s|%s/%s/%s", s, r, t, sc.UserID, sc.AgentID, sc.RunID)
}

func (m *memoryGraph) UpsertEdge(_ context.Context, e GraphEdge) (GraphEdge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := edgeID(e.Source, e.Relation, e.Target, e.Scope)
	if existing, ok := m.edges[id]; ok {
		existing.Mentions++
		existing.UpdatedAt = e.UpdatedAt
		m.edges[id] = existing
		return existing, true, nil
	}
	e.ID = id
	if e.Mentions == 0 {
		e.Mentions = 1
	}
	m.edges[id] = e
	k := entityKey{keyOf(e.Scope), e.Source}
	m.fromIdx[k] = append(m.fromIdx[k], id)
	return e, false, nil
}

func (m *memoryGraph) FindEdge(_ context.Context, source, relation, target string, scope Scope) (GraphEdge, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[edgeID(source, relation, target, scope)]
	return e, ok, nil
}

func (m *memoryGraph) EdgesFrom(_ context.Context, source string, scope Scope) ([]GraphEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := entityKey{keyOf(scope), source}
	ids := m.fromIdx[k]
	out := make([]GraphEdge, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.edges[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryGraph) DeleteEdge(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edges[id]
	if !ok {
		return nil
	}
	delete(m.edges, id)
	k := entityKey{keyOf(e.Scope), e.Source}
	ids := m.fromIdx[k]
	for i, eid := range ids {
		if eid == id {
			m.fromIdx[k] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Neighbors performs a bounded BFS from entity, up to hop hops, capping the
// number of edges expanded from each frontier entity at each hop at
// maxEdges, ranked by (mentions desc,
// updated_at desc), with cycle detection via a visited set.
func (m *memoryGraph) Neighbors(_ context.Context, entity string, scope Scope, hop, maxEdges int) ([]GraphEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if hop <= 0 {
		hop = 1
	}
	if hop > 3 {
		hop = 3
	}
	visited := map[string]bool{entity: true}
	frontier := []string{entity}
	var collected []GraphEdge

	for h := 0; h < hop; h++ {
		var next []string
		for _, src := range frontier {
			k := entityKey{keyOf(scope), src}
			ids := append([]string(nil), m.fromIdx[k]...)
			edges := make([]GraphEdge, 0, len(ids))
			for _, id := range ids {
				if e, ok := m.edges[id]; ok {
					edges = append(edges, e)
				}
			}
			sort.Slice(edges, func(i, j int) bool {
				if edges[i].Mentions != edges[j].Mentions {
					return edges[i].Mentions > edges[j].Mentions
				}
				return edges[i].UpdatedAt.After(edges[j].UpdatedAt)
			})
			if maxEdges > 0 && len(edges) > maxEdges {
				edges = edges[:maxEdges]
			}
			for _, e := range edges {
				collected = append(collected, e)
				if !visited[e.Target] {
					visited[e.Target] = true
					next = append(next, e.Target)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return collected, nil
}
