package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgHistory is the Postgres-backed HistoryStore, using the append-only
// `memory_history` table described in spec §6.
type pgHistory struct{ pool *pgxpool.Pool }

// NewPostgresHistory creates the memory_history table (if absent) and
// returns a HistoryStore backed by it.
func NewPostgresHistory(ctx context.Context, pool *pgxpool.Pool) (HistoryStore, error) {
	ddl := `
CREATE TABLE IF NOT EXISTS memory_history (
  event_id BIGSERIAL PRIMARY KEY,
  memory_id BIGINT NOT NULL,
  event TEXT NOT NULL,
  prev_value TEXT NOT NULL DEFAULT '',
  new_value TEXT NOT NULL DEFAULT '',
  actor TEXT NOT NULL DEFAULT '',
  ts TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS memory_history_memory_idx ON memory_history(memory_id, ts);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, err
	}
	return &pgHistory{pool: pool}, nil
}

func (p *pgHistory) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *pgHistory) Append(ctx context.Context, event HistoryEvent) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO memory_history(memory_id, event, prev_value, new_value, actor, ts)
VALUES ($1,$2,$3,$4,$5,$6)
`, event.MemoryID, string(event.Event), event.PrevValue, event.NewValue, event.Actor, event.Timestamp)
	return err
}

func (p *pgHistory) List(ctx context.Context, memoryID int64) ([]HistoryEvent, error) {
	rows, err := p.pool.Query(ctx, `
SELECT event_id, memory_id, event, prev_value, new_value, actor, ts
FROM memory_history WHERE memory_id=$1 ORDER BY ts ASC, event_id ASC
`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEvent
	for rows.Next() {
		var e HistoryEvent
		var kind string
		if err := rows.Scan(&e.EventID, &e.MemoryID, &kind, &e.PrevValue, &e.NewValue, &e.Actor, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Event = HistoryEventType(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
