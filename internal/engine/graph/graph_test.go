package graph

import (
	"context"
	"testing"
	"time"

	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	replies []string
	calls   int
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	i := p.calls
	p.calls++
	if i >= len(p.replies) {
		return llm.Message{Content: p.replies[len(p.replies)-1]}, nil
	}
	return llm.Message{Content: p.replies[i]}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestExtractRewritesUserSentinel(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"triples":[{"subject":"USER_ID","relation":"likes","object":"pizza"}]}`}}
	e := New(store.NewMemoryGraph(), p, "test-model")
	triples, err := e.Extract(context.Background(), "I like pizza", store.Scope{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, "u1", triples[0].Subject)
}

func TestIngestBumpsMentionsOnRepeat(t *testing.T) {
	gs := store.NewMemoryGraph()
	p := &scriptedProvider{replies: []string{`{"supersede": false}`}}
	e := New(gs, p, "test-model")
	sc := store.Scope{UserID: "u1"}
	now := time.Now()
	tr := Triple{Subject: "u1", Relation: "likes", Object: "pizza"}

	require.NoError(t, e.Ingest(context.Background(), tr, sc, now))
	require.NoError(t, e.Ingest(context.Background(), tr, sc, now.Add(time.Minute)))

	edges, err := gs.EdgesFrom(context.Background(), "u1", sc)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(2), edges[0].Mentions)
}

func TestIngestCoexistsWhenNotSuperseded(t *testing.T) {
	gs := store.NewMemoryGraph()
	p := &scriptedProvider{replies: []string{`{"supersede": false}`}}
	e := New(gs, p, "test-model")
	sc := store.Scope{UserID: "u1"}
	now := time.Now()

	require.NoError(t, e.Ingest(context.Background(), Triple{Subject: "u1", Relation: "likes", Object: "pizza"}, sc, now))
	require.NoError(t, e.Ingest(context.Background(), Triple{Subject: "u1", Relation: "dislikes", Object: "pizza"}, sc, now))

	edges, err := gs.EdgesFrom(context.Background(), "u1", sc)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestIngestDeletesSupersededEdge(t *testing.T) {
	gs := store.NewMemoryGraph()
	p := &scriptedProvider{replies: []string{`{"supersede": true}`}}
	e := New(gs, p, "test-model")
	sc := store.Scope{UserID: "u1"}
	now := time.Now()

	require.NoError(t, e.Ingest(context.Background(), Triple{Subject: "u1", Relation: "works_at", Object: "acme"}, sc, now))
	require.NoError(t, e.Ingest(context.Background(), Triple{Subject: "u1", Relation: "worked_at", Object: "acme"}, sc, now))

	edges, err := gs.EdgesFrom(context.Background(), "u1", sc)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "worked_at", edges[0].Relation)
}

func TestNeighborsClampsToConfiguredCaps(t *testing.T) {
	gs := store.NewMemoryGraph()
	e := New(gs, &scriptedProvider{}, "test-model", WithTraversalLimits(2, 5))
	sc := store.Scope{UserID: "u1"}
	now := time.Now()
	_, _, err := gs.UpsertEdge(context.Background(), store.GraphEdge{Source: "u1", Relation: "likes", Target: "pizza", Scope: sc, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	edges, err := e.Neighbors(context.Background(), "u1", sc, 10, 100)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}
