package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestQdrantVectorIntegration exercises the real Qdrant-backed VectorStore
// against a live Qdrant instance. It is skipped unless
// POWERMEM_QDRANT_TEST_DSN is set, since it requires a reachable server.
func TestQdrantVectorIntegration(t *testing.T) {
	dsn := os.Getenv("POWERMEM_QDRANT_TEST_DSN")
	if dsn == "" {
		t.Skip("POWERMEM_QDRANT_TEST_DSN not set; skipping Qdrant integration test")
	}
	ctx := context.Background()
	v, err := NewQdrantVector(ctx, dsn, "powermem_integration_test", 3, "cosine")
	require.NoError(t, err)

	f := MemoryFact{
		ID: 9002, Content: "integration fact", Embedding: []float32{0, 1, 0},
		Tier: TierLongTerm, ImportanceScore: 0.6, MemoryType: "fact",
	}
	require.NoError(t, v.Upsert(ctx, f))
	defer func() { _ = v.Delete(ctx, f.ID) }()

	got, ok, err := v.Get(ctx, f.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.Tier, got.Tier)
	require.Equal(t, f.Embedding, got.Embedding)

	results, err := v.Search(ctx, []float32{0, 1, 0}, 5, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.GreaterOrEqual(t, results[0].Score, 0.0)
	require.LessOrEqual(t, results[0].Score, 1.0)
}
