package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/powermem/powermem/internal/config"
)

// NewManager resolves a Manager's backends from typed configuration. Each
// backend kind switches independently so, e.g., vectors can live in
// Postgres while history lives in ClickHouse.
func NewManager(ctx context.Context, cfg config.Config) (Manager, error) {
	var m Manager
	var pgPool pgPoolCache

	switch cfg.VectorStore.Backend {
	case "", "memory":
		m.Vector = NewMemoryVector(cfg.Embedder.Dims)
	case "postgres", "pg":
		pool, err := pgPool.get(ctx, cfg.VectorStore.Connection)
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect postgres (vector): %w", err)
		}
		vs, err := NewPostgresVector(ctx, pool, cfg.Embedder.Dims, cfg.VectorStore.Metric)
		if err != nil {
			return Manager{}, err
		}
		m.Vector = vs
	case "qdrant":
		vs, err := NewQdrantVector(ctx, cfg.VectorStore.Connection, cfg.VectorStore.Collection, cfg.Embedder.Dims, cfg.VectorStore.Metric)
		if err != nil {
			return Manager{}, err
		}
		m.Vector = vs
	default:
		return Manager{}, fmt.Errorf("store: unsupported vector backend %q", cfg.VectorStore.Backend)
	}

	switch cfg.FullTextStore.Backend {
	case "", "memory":
		m.FullText = NewMemoryFullText()
	case "postgres", "pg":
		pool, err := pgPool.get(ctx, cfg.FullTextStore.Connection)
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect postgres (fulltext): %w", err)
		}
		fs, err := NewPostgresFullText(ctx, pool)
		if err != nil {
			return Manager{}, err
		}
		m.FullText = fs
	default:
		return Manager{}, fmt.Errorf("store: unsupported full-text backend %q", cfg.FullTextStore.Backend)
	}

	switch cfg.GraphStore.Backend {
	case "", "memory":
		m.Graph = NewMemoryGraph()
	case "postgres", "pg":
		pool, err := pgPool.get(ctx, cfg.GraphStore.Connection)
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect postgres (graph): %w", err)
		}
		gs, err := NewPostgresGraph(ctx, pool)
		if err != nil {
			return Manager{}, err
		}
		m.Graph = gs
	default:
		return Manager{}, fmt.Errorf("store: unsupported graph backend %q", cfg.GraphStore.Backend)
	}

	switch cfg.HistoryStore.Backend {
	case "", "memory":
		m.History = NewMemoryHistory()
	case "postgres", "pg":
		pool, err := pgPool.get(ctx, cfg.HistoryStore.Connection)
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect postgres (history): %w", err)
		}
		hs, err := NewPostgresHistory(ctx, pool)
		if err != nil {
			return Manager{}, err
		}
		m.History = hs
	case "clickhouse":
		hs, err := NewClickHouseHistory(ctx, cfg.HistoryStore.Connection)
		if err != nil {
			return Manager{}, err
		}
		m.History = hs
	default:
		return Manager{}, fmt.Errorf("store: unsupported history backend %q", cfg.HistoryStore.Backend)
	}

	switch cfg.ProfileStore.Backend {
	case "", "memory":
		m.Profile = NewMemoryProfile()
	case "postgres", "pg":
		pool, err := pgPool.get(ctx, cfg.ProfileStore.Connection)
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect postgres (profile): %w", err)
		}
		ps, err := NewPostgresProfile(ctx, pool)
		if err != nil {
			return Manager{}, err
		}
		m.Profile = ps
	default:
		return Manager{}, fmt.Errorf("store: unsupported profile backend %q", cfg.ProfileStore.Backend)
	}
	m.pgPool = pgPool.pool

	gen, err := NewIDGenerator(0)
	if err != nil {
		return Manager{}, err
	}
	m.IDs = gen

	return m, nil
}

// pgPoolCache lazily opens (and reuses) a single Postgres pool per DSN
// within one NewManager call, since multiple backends commonly share a
// connection string.
type pgPoolCache struct {
	dsn  string
	pool *pgxpool.Pool
}

func (c *pgPoolCache) get(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres backend requires a connection string")
	}
	if c.pool != nil && c.dsn == dsn {
		return c.pool, nil
	}
	pool, err := OpenPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	c.dsn = dsn
	c.pool = pool
	return pool, nil
}
