package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VectorResult is a single nearest-neighbor hit. Score is a similarity in
// [0,1] (higher is better); backend-native distances are normalized by the
// implementation.
type VectorResult struct {
	ID       int64
	Score    float64
	Fact     MemoryFact
}

// VectorStore is the dense-similarity-search contract (C2).
type VectorStore interface {
	Insert(ctx context.Context, fact MemoryFact) error
	Upsert(ctx context.Context, fact MemoryFact) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (MemoryFact, bool, error)
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]VectorResult, error)
	List(ctx context.Context, filter Filter, limit int, cursor string) ([]MemoryFact, string, error)
	Dimension() int
	Ping(ctx context.Context) error
}

// TextResult is a single lexical-search hit.
type TextResult struct {
	ID      int64
	Score   float64
	Snippet string
	Fact    MemoryFact
}

// FullTextStore is the lexical-search contract (C2). It may coincide with
// the VectorStore backend (e.g. Postgres tsvector alongside pgvector).
type FullTextStore interface {
	Index(ctx context.Context, fact MemoryFact) error
	Remove(ctx context.Context, id int64) error
	Search(ctx context.Context, query string, k int, filter Filter, parser string) ([]TextResult, error)
	Ping(ctx context.Context) error
}

// HistoryStore is the append-only audit-log contract (C2).
type HistoryStore interface {
	Append(ctx context.Context, event HistoryEvent) error
	List(ctx context.Context, memoryID int64) ([]HistoryEvent, error)
	Ping(ctx context.Context) error
}

// GraphStore is the entity/relation graph contract (C2).
type GraphStore interface {
	UpsertEntity(ctx context.Context, e GraphEntity) (GraphEntity, error)
	UpsertEdge(ctx context.Context, e GraphEdge) (GraphEdge, bool, error) // bool = already existed
	FindEdge(ctx context.Context, source, relation, target string, scope Scope) (GraphEdge, bool, error)
	EdgesFrom(ctx context.Context, source string, scope Scope) ([]GraphEdge, error)
	DeleteEdge(ctx context.Context, id string) error
	Neighbors(ctx context.Context, entity string, scope Scope, hop, maxEdges int) ([]GraphEdge, error)
	Ping(ctx context.Context) error
}

// ProfileStore persists the per-user consolidated profile (C8).
type ProfileStore interface {
	Get(ctx context.Context, userID, agentID, runID string) (UserProfile, bool, error)
	Put(ctx context.Context, p UserProfile) error
	Delete(ctx context.Context, userID, agentID, runID string) error
	Ping(ctx context.Context) error
}

// Manager bundles the resolved backends for a running engine.
type Manager struct {
	Vector   VectorStore
	FullText FullTextStore
	History  HistoryStore
	Graph    GraphStore
	Profile  ProfileStore
	IDs      *IDGenerator

	// pgPool is the shared Postgres pool, if any backend was wired to one.
	// It is closed once from here rather than per-backend, since multiple
	// backends commonly share a single pool.
	pgPool *pgxpool.Pool
}

// Close releases any underlying connection pools held by backends that
// support it, and the shared Postgres pool if one was opened.
func (m Manager) Close() {
	for _, c := range []any{m.Vector, m.FullText, m.History, m.Graph, m.Profile} {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	if m.pgPool != nil {
		m.pgPool.Close()
	}
}
