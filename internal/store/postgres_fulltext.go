package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgFullText is the Postgres tsvector-backed FullTextStore, coinciding with
// pgVector's `memories` table per spec §6.
type pgFullText struct {
	pool *pgxpool.Pool
}

// NewPostgresFullText adds a generated tsvector column + GIN index to the
// `memories` table (created by NewPostgresVector) and returns a
// FullTextStore over it.
func NewPostgresFullText(ctx context.Context, pool *pgxpool.Pool) (FullTextStore, error) {
	if _, err := pool.Exec(ctx, `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS ts tsvector
  GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,''))) STORED;
CREATE INDEX IF NOT EXISTS memories_ts_idx ON memories USING GIN (ts);
`); err != nil {
		return nil, err
	}
	return &pgFullText{pool: pool}, nil
}

func (p *pgFullText) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Index is a no-op: the tsvector column is derived automatically from
// `content` by the generated-column expression set up at construction time.
func (p *pgFullText) Index(context.Context, MemoryFact) error { return nil }

func (p *pgFullText) Remove(context.Context, int64) error { return nil }

func parserToConfig(parser string) string {
	switch parser {
	case "ik", "ngram", "ngram2", "beng":
		return "simple"
	default:
		return "simple"
	}
}

func (p *pgFullText) Search(ctx context.Context, query string, k int, filter Filter, parser string) ([]TextResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	cfg := parserToConfig(parser)
	where, args := buildWhere(filter, 2)
	cond := "ts @@ websearch_to_tsquery($2::regconfig, $1)"
	if where == "" {
		where = "WHERE " + cond
	} else {
		where += " AND " + cond
	}
	args = append([]any{q, cfg}, args...)
	args = append(args, k)
	sql := fmt.Sprintf(`SELECT id, ts_rank(ts, websearch_to_tsquery($2::regconfig,$1)) AS score,
left(content,160) AS snippet, user_id, agent_id, run_id, actor_id, content, hash, metadata, created_at, updated_at
FROM memories %s ORDER BY score DESC LIMIT $%d`, where, len(args))
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TextResult
	for rows.Next() {
		var r TextResult
		var f MemoryFact
		var md []byte
		if err := rows.Scan(&f.ID, &r.Score, &r.Snippet, &f.Scope.UserID, &f.Scope.AgentID, &f.Scope.RunID, &f.Scope.ActorID, &f.Content, &f.Hash, &md, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Metadata = decodeMeta(md)
		r.ID = f.ID
		r.Fact = f
		out = append(out, r)
	}
	return out, rows.Err()
}
