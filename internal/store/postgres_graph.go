package store

import (
	"context"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func txReadOnly() pgx.TxOptions { return pgx.TxOptions{AccessMode: pgx.ReadOnly} }

// pgGraph is the Postgres-backed GraphStore, using the `entities`/`edges`
// tables described in spec §6.
type pgGraph struct{ pool *pgxpool.Pool }

// NewPostgresGraph creates the entities/edges tables (if absent) and returns
// a GraphStore backed by them.
func NewPostgresGraph(ctx context.Context, pool *pgxpool.Pool) (GraphStore, error) {
	ddl := `
CREATE TABLE IF NOT EXISTS entities (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  agent_id TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(name, user_id, agent_id, run_id)
);
CREATE TABLE IF NOT EXISTS edges (
  id TEXT PRIMARY KEY,
  source_id TEXT NOT NULL,
  relation TEXT NOT NULL,
  target_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  agent_id TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  mentions BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(source_id, relation, target_id, user_id, agent_id, run_id)
);
CREATE INDEX IF NOT EXISTS edges_src_idx ON edges(source_id, user_id, agent_id, run_id);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, err
	}
	return &pgGraph{pool: pool}, nil
}

func (g *pgGraph) Ping(ctx context.Context) error { return g.pool.Ping(ctx) }

func (g *pgGraph) UpsertEntity(ctx context.Context, e GraphEntity) (GraphEntity, error) {
	if e.ID == "" {
		e.ID = entityID(e.Name, e.Scope)
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO entities(id, name, type, user_id, agent_id, run_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (name, user_id, agent_id, run_id) DO UPDATE SET updated_at=EXCLUDED.updated_at
`, e.ID, e.Name, e.Type, e.Scope.UserID, e.Scope.AgentID, e.Scope.RunID, e.CreatedAt, e.UpdatedAt)
	return e, err
}

func entityID(name string, s Scope) string {
	return "ent:" + strings.Join([]string{s.UserID, s.AgentID, s.RunID, name}, "/")
}

func (g *pgGraph) UpsertEdge(ctx context.Context, e GraphEdge) (GraphEdge, bool, error) {
	if e.ID == "" {
		e.ID = edgeID(e.Source, e.Relation, e.Target, e.Scope)
	}
	tag, err := g.pool.Exec(ctx, `
INSERT INTO edges(id, source_id, relation, target_id, user_id, agent_id, run_id, mentions, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,$8,$9)
ON CONFLICT (source_id, relation, target_id, user_id, agent_id, run_id)
DO UPDATE SET mentions = edges.mentions + 1, updated_at = EXCLUDED.updated_at
`, e.ID, e.Source, e.Relation, e.Target, e.Scope.UserID, e.Scope.AgentID, e.Scope.RunID, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return GraphEdge{}, false, err
	}
	existed := tag.RowsAffected() == 0 // unreachable for upsert but kept for signature parity
	got, ok, err := g.FindEdge(ctx, e.Source, e.Relation, e.Target, e.Scope)
	if err != nil {
		return GraphEdge{}, false, err
	}
	return got, ok && (got.Mentions > 1 || existed), nil
}

func (g *pgGraph) FindEdge(ctx context.Context, source, relation, target string, scope Scope) (GraphEdge, bool, error) {
	row := g.pool.QueryRow(ctx, `
SELECT id, source_id, relation, target_id, user_id, agent_id, run_id, mentions, created_at, updated_at
FROM edges WHERE source_id=$1 AND relation=$2 AND target_id=$3 AND user_id=$4 AND agent_id=$5 AND run_id=$6
`, source, relation, target, scope.UserID, scope.AgentID, scope.RunID)
	var e GraphEdge
	if err := row.Scan(&e.ID, &e.Source, &e.Relation, &e.Target, &e.Scope.UserID, &e.Scope.AgentID, &e.Scope.RunID, &e.Mentions, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return GraphEdge{}, false, nil
		}
		return GraphEdge{}, false, err
	}
	return e, true, nil
}

func (g *pgGraph) EdgesFrom(ctx context.Context, source string, scope Scope) ([]GraphEdge, error) {
	rows, err := g.pool.Query(ctx, `
SELECT id, source_id, relation, target_id, user_id, agent_id, run_id, mentions, created_at, updated_at
FROM edges WHERE source_id=$1 AND user_id=$2 AND agent_id=$3 AND run_id=$4
`, source, scope.UserID, scope.AgentID, scope.RunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GraphEdge
	for rows.Next() {
		var e GraphEdge
		if err := rows.Scan(&e.ID, &e.Source, &e.Relation, &e.Target, &e.Scope.UserID, &e.Scope.AgentID, &e.Scope.RunID, &e.Mentions, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *pgGraph) DeleteEdge(ctx context.Context, id string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM edges WHERE id=$1`, id)
	return err
}

// Neighbors performs a bounded BFS from entity up to hop hops (capped at 3),
// maxEdges per frontier entity at each hop, ranked by (mentions desc,
// updated_at desc), using a
// single read transaction so the whole traversal observes one snapshot.
func (g *pgGraph) Neighbors(ctx context.Context, entity string, scope Scope, hop, maxEdges int) ([]GraphEdge, error) {
	if hop <= 0 {
		hop = 1
	}
	if hop > 3 {
		hop = 3
	}
	tx, err := g.pool.BeginTx(ctx, txReadOnly())
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	visited := map[string]bool{entity: true}
	frontier := []string{entity}
	var collected []GraphEdge

	for h := 0; h < hop; h++ {
		var next []string
		for _, src := range frontier {
			rows, err := tx.Query(ctx, `
SELECT id, source_id, relation, target_id, user_id, agent_id, run_id, mentions, created_at, updated_at
FROM edges WHERE source_id=$1 AND user_id=$2 AND agent_id=$3 AND run_id=$4
ORDER BY mentions DESC, updated_at DESC
LIMIT $5
`, src, scope.UserID, scope.AgentID, scope.RunID, maxEdges)
			if err != nil {
				return nil, err
			}
			var edges []GraphEdge
			for rows.Next() {
				var e GraphEdge
				if err := rows.Scan(&e.ID, &e.Source, &e.Relation, &e.Target, &e.Scope.UserID, &e.Scope.AgentID, &e.Scope.RunID, &e.Mentions, &e.CreatedAt, &e.UpdatedAt); err != nil {
					rows.Close()
					return nil, err
				}
				edges = append(edges, e)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, err
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
	sort.Slice(collected, func(i, j int) bool {
		if collected[i].Mentions != collected[j].Mentions {
			return collected[i].Mentions > collected[j].Mentions
		}
		return collected[i].UpdatedAt.After(collected[j].UpdatedAt)
	})
	return collected, nil
}
