package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgProfile is the Postgres-backed ProfileStore, one row per (user_id,
// agent_id, run_id) triple as required by spec §4.8.
type pgProfile struct{ pool *pgxpool.Pool }

// NewPostgresProfile creates the user_profiles table (if absent) and
// returns a ProfileStore backed by it.
func NewPostgresProfile(ctx context.Context, pool *pgxpool.Pool) (ProfileStore, error) {
	ddl := `
CREATE TABLE IF NOT EXISTS user_profiles (
  user_id TEXT NOT NULL DEFAULT '',
  agent_id TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  profile_text TEXT NOT NULL DEFAULT '',
  topics JSONB NOT NULL DEFAULT '[]',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, agent_id, run_id)
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, err
	}
	return &pgProfile{pool: pool}, nil
}

func (p *pgProfile) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *pgProfile) Get(ctx context.Context, userID, agentID, runID string) (UserProfile, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT user_id, agent_id, run_id, profile_text, topics, created_at, updated_at
FROM user_profiles WHERE user_id=$1 AND agent_id=$2 AND run_id=$3
`, userID, agentID, runID)
	var out UserProfile
	var topics []byte
	if err := row.Scan(&out.UserID, &out.AgentID, &out.RunID, &out.ProfileText, &topics, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return UserProfile{}, false, nil
		}
		return UserProfile{}, false, err
	}
	if len(topics) > 0 {
		if err := json.Unmarshal(topics, &out.Topics); err != nil {
			return UserProfile{}, false, err
		}
	}
	return out, true, nil
}

func (p *pgProfile) Put(ctx context.Context, prof UserProfile) error {
	topics, err := json.Marshal(prof.Topics)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO user_profiles(user_id, agent_id, run_id, profile_text, topics, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, agent_id, run_id) DO UPDATE SET
  profile_text = EXCLUDED.profile_text,
  topics = EXCLUDED.topics,
  updated_at = EXCLUDED.updated_at
`, prof.UserID, prof.AgentID, prof.RunID, prof.ProfileText, topics, prof.CreatedAt, prof.UpdatedAt)
	return err
}

func (p *pgProfile) Delete(ctx context.Context, userID, agentID, runID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM user_profiles WHERE user_id=$1 AND agent_id=$2 AND run_id=$3`, userID, agentID, runID)
	return err
}
