package store

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// chHistory is a ClickHouse-backed HistoryStore. ClickHouse's insert-heavy,
// compaction-friendly MergeTree model fits an append-only audit log better
// than row-level updates, at the cost of losing transactional guarantees —
// acceptable here since history rows are never mutated, only appended.
type chHistory struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseHistory parses dsn, opens a ClickHouse connection, and
// ensures the history table exists.
func NewClickHouseHistory(ctx context.Context, dsn string) (HistoryStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_history (
  event_id UInt64,
  memory_id Int64,
  event String,
  prev_value String,
  new_value String,
  actor String,
  ts DateTime64(3)
) ENGINE = MergeTree ORDER BY (memory_id, ts)
`); err != nil {
		return nil, err
	}
	return &chHistory{conn: conn, table: "memory_history"}, nil
}

func (c *chHistory) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

func (c *chHistory) Close() { _ = c.conn.Close() }

func (c *chHistory) Append(ctx context.Context, event HistoryEvent) error {
	return c.conn.Exec(ctx, `
INSERT INTO memory_history (event_id, memory_id, event, prev_value, new_value, actor, ts)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, uint64(event.EventID), event.MemoryID, string(event.Event), event.PrevValue, event.NewValue, event.Actor, event.Timestamp)
}

func (c *chHistory) List(ctx context.Context, memoryID int64) ([]HistoryEvent, error) {
	rows, err := c.conn.Query(ctx, `
SELECT event_id, memory_id, event, prev_value, new_value, actor, ts
FROM memory_history WHERE memory_id = ? ORDER BY ts ASC, event_id ASC
`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEvent
	for rows.Next() {
		var e HistoryEvent
		var eid uint64
		var kind string
		if err := rows.Scan(&eid, &e.MemoryID, &kind, &e.PrevValue, &e.NewValue, &e.Actor, &e.Timestamp); err != nil {
			return nil, err
		}
		e.EventID = int64(eid)
		e.Event = HistoryEventType(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
