package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgVector is the Postgres/pgvector-backed VectorStore, operating on the
// shared `memories` table described in spec §6.
type pgVector struct {
	pool   *pgxpool.Pool
	dim    int
	metric string
}

// NewPostgresVector creates the `memories` table (if absent) and returns a
// VectorStore backed by it.
func NewPostgresVector(ctx context.Context, pool *pgxpool.Pool, dim int, metric string) (VectorStore, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, err
	}
	vecType := "vector"
	if dim > 0 {
		vecType = fmt.Sprintf("vector(%d)", dim)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memories (
  id BIGINT PRIMARY KEY,
  user_id TEXT NOT NULL DEFAULT '',
  agent_id TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  actor_id TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL,
  hash TEXT NOT NULL DEFAULT '',
  embedding %s,
  tier TEXT NOT NULL DEFAULT 'WORKING',
  memory_type TEXT NOT NULL DEFAULT '',
  importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  retention_strength DOUBLE PRECISION NOT NULL DEFAULT 0,
  access_count BIGINT NOT NULL DEFAULT 0,
  last_accessed TIMESTAMPTZ,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS memories_scope_idx ON memories(user_id, agent_id, run_id);
`, vecType)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, err
	}
	return &pgVector{pool: pool, dim: dim, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

func (p *pgVector) Dimension() int { return p.dim }

func (p *pgVector) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *pgVector) checkDim(v []float32) error {
	if p.dim > 0 && len(v) != p.dim {
		return fmt.Errorf("store: embedding dimension %d does not match configured dimension %d", len(v), p.dim)
	}
	return nil
}

func (p *pgVector) Insert(ctx context.Context, fact MemoryFact) error { return p.Upsert(ctx, fact) }

func (p *pgVector) Upsert(ctx context.Context, fact MemoryFact) error {
	if err := p.checkDim(fact.Embedding); err != nil {
		return err
	}
	md, err := json.Marshal(nonNilMap(fact.Metadata))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO memories(id, user_id, agent_id, run_id, actor_id, content, hash, embedding,
  tier, memory_type, importance_score, retention_strength, access_count, last_accessed,
  metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
  content=EXCLUDED.content, hash=EXCLUDED.hash, embedding=EXCLUDED.embedding,
  tier=EXCLUDED.tier, memory_type=EXCLUDED.memory_type,
  importance_score=EXCLUDED.importance_score, retention_strength=EXCLUDED.retention_strength,
  access_count=EXCLUDED.access_count, last_accessed=EXCLUDED.last_accessed,
  metadata=EXCLUDED.metadata, updated_at=EXCLUDED.updated_at
`, fact.ID, fact.Scope.UserID, fact.Scope.AgentID, fact.Scope.RunID, fact.Scope.ActorID,
		fact.Content, fact.Hash, toVectorLiteral(fact.Embedding),
		string(fact.Tier), fact.MemoryType, fact.ImportanceScore, fact.RetentionStrength,
		fact.AccessCount, fact.LastAccessed, md, fact.CreatedAt, fact.UpdatedAt)
	return err
}

func (p *pgVector) Delete(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memories WHERE id=$1`, id)
	return err
}

const factColumns = `id, user_id, agent_id, run_id, actor_id, content, hash, embedding::text,
  tier, memory_type, importance_score, retention_strength, access_count, last_accessed,
  metadata, created_at, updated_at`

// scanFact scans a row selected with factColumns into a MemoryFact.
func scanFact(row rowScanner) (MemoryFact, error) {
	var f MemoryFact
	var md []byte
	var vecText *string
	var tier string
	var lastAccessed *time.Time
	if err := row.Scan(&f.ID, &f.Scope.UserID, &f.Scope.AgentID, &f.Scope.RunID, &f.Scope.ActorID,
		&f.Content, &f.Hash, &vecText, &tier, &f.MemoryType, &f.ImportanceScore, &f.RetentionStrength,
		&f.AccessCount, &lastAccessed, &md, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return MemoryFact{}, err
	}
	finalizeFact(&f, tier, vecText, lastAccessed, md)
	return f, nil
}

// finalizeFact applies the post-scan conversions shared by scanFact and
// scanFactScore: tier string to Tier, pgvector text literal to []float32,
// nullable last_accessed, and metadata JSONB to map.
func finalizeFact(f *MemoryFact, tier string, vecText *string, lastAccessed *time.Time, md []byte) {
	f.Tier = Tier(tier)
	if lastAccessed != nil {
		f.LastAccessed = *lastAccessed
	}
	if vecText != nil {
		f.Embedding = fromVectorLiteral(*vecText)
	}
	f.Metadata = decodeMeta(md)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (p *pgVector) Get(ctx context.Context, id int64) (MemoryFact, bool, error) {
	row := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM memories WHERE id=$1`, factColumns), id)
	f, err := scanFact(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return MemoryFact{}, false, nil
		}
		return MemoryFact{}, false, err
	}
	return f, true, nil
}

func (p *pgVector) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]VectorResult, error) {
	if err := p.checkDim(vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	op, scoreExpr := p.metricExprs()
	where, args := buildWhere(filter, 2)
	args = append([]any{toVectorLiteral(vector)}, args...)
	args = append(args, k)
	query := fmt.Sprintf(`SELECT %s, (%s) AS score
FROM memories %s ORDER BY embedding %s $1::vector LIMIT $%d`, factColumns, scoreExpr, where, op, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VectorResult
	for rows.Next() {
		f, score, err := scanFactScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, VectorResult{ID: f.ID, Score: score, Fact: f})
	}
	return out, rows.Err()
}

// scanFactScore scans a row selected with factColumns followed by a
// trailing similarity-score column.
func scanFactScore(row rowScanner) (MemoryFact, float64, error) {
	var f MemoryFact
	var md []byte
	var vecText *string
	var tier string
	var lastAccessed *time.Time
	var score float64
	if err := row.Scan(&f.ID, &f.Scope.UserID, &f.Scope.AgentID, &f.Scope.RunID, &f.Scope.ActorID,
		&f.Content, &f.Hash, &vecText, &tier, &f.MemoryType, &f.ImportanceScore, &f.RetentionStrength,
		&f.AccessCount, &lastAccessed, &md, &f.CreatedAt, &f.UpdatedAt, &score); err != nil {
		return MemoryFact{}, 0, err
	}
	finalizeFact(&f, tier, vecText, lastAccessed, md)
	return f, score, nil
}

func (p *pgVector) List(ctx context.Context, filter Filter, limit int, cursor string) ([]MemoryFact, string, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := buildWhere(filter, 1)
	if cursor != "" {
		if where == "" {
			where = fmt.Sprintf("WHERE id > $%d", len(args)+1)
		} else {
			where += fmt.Sprintf(" AND id > $%d", len(args)+1)
		}
		args = append(args, cursor)
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s
FROM memories %s ORDER BY id ASC LIMIT $%d`, factColumns, where, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []MemoryFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, f)
	}
	var next string
	if len(out) == limit {
		next = fmt.Sprintf("%d", out[len(out)-1].ID)
	}
	return out, next, rows.Err()
}

// metricExprs returns the ORDER BY distance operator and a score expression
// rescaled into [0,1] (VectorResult.Score's documented contract): cosine and
// dot-product distances assume unit-normalized embeddings, so their raw
// similarity in [-1,1] is remapped via (x+1)/2; Euclidean distance is
// non-negative and unbounded, so it is remapped via 1/(1+d).
func (p *pgVector) metricExprs() (op, scoreExpr string) {
	switch p.metric {
	case "l2", "euclidean":
		return "<->", "1.0 / (1.0 + (embedding <-> $1::vector))"
	case "ip", "dot":
		return "<#>", "(-(embedding <#> $1::vector) + 1) / 2"
	default:
		return "<=>", "(1 - (embedding <=> $1::vector) + 1) / 2"
	}
}

// buildWhere renders a Filter's scope + clauses into a SQL WHERE clause and
// its positional args, starting parameter numbering at startIdx+1.
func buildWhere(f Filter, startIdx int) (string, []any) {
	var conds []string
	var args []any
	idx := startIdx
	next := func() int { idx++; return idx }

	if f.Scope.UserID != "" {
		conds = append(conds, fmt.Sprintf("user_id = $%d", next()))
		args = append(args, f.Scope.UserID)
	}
	if f.Scope.AgentID != "" {
		conds = append(conds, fmt.Sprintf("agent_id = $%d", next()))
		args = append(args, f.Scope.AgentID)
	}
	if f.Scope.RunID != "" {
		conds = append(conds, fmt.Sprintf("run_id = $%d", next()))
		args = append(args, f.Scope.RunID)
	}
	for _, c := range f.Clauses {
		cond, carg, ok := clauseSQL(c, next())
		if ok {
			conds = append(conds, cond)
			args = append(args, carg)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func clauseSQL(c Clause, param int) (string, any, bool) {
	path := fmt.Sprintf("metadata->>'%s'", c.Field)
	switch c.Op {
	case OpEq:
		return fmt.Sprintf("%s = $%d", path, param), fmt.Sprintf("%v", c.Value), true
	case OpNe:
		return fmt.Sprintf("%s <> $%d", path, param), fmt.Sprintf("%v", c.Value), true
	case OpGt:
		return fmt.Sprintf("(%s)::numeric > $%d", path, param), c.Value, true
	case OpGte:
		return fmt.Sprintf("(%s)::numeric >= $%d", path, param), c.Value, true
	case OpLt:
		return fmt.Sprintf("(%s)::numeric < $%d", path, param), c.Value, true
	case OpLte:
		return fmt.Sprintf("(%s)::numeric <= $%d", path, param), c.Value, true
	case OpLike:
		return fmt.Sprintf("%s LIKE $%d", path, param), fmt.Sprintf("%v", c.Value), true
	case OpIlike:
		return fmt.Sprintf("%s ILIKE $%d", path, param), fmt.Sprintf("%v", c.Value), true
	default:
		return "", nil, false
	}
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

// fromVectorLiteral parses pgvector's text output format ("[1,2,3]") back
// into a float32 slice. Malformed entries are skipped rather than failing
// the whole read, since a partially-unparsable embedding is still more
// useful to the caller than erroring out the fact entirely.
func fromVectorLiteral(s string) []float32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func decodeMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
