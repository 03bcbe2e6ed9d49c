package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantVector is a Qdrant-backed VectorStore. Qdrant natively accepts
// positive integer point ids, which line up with MemoryFact's time-ordered
// int64 id, so unlike a generic-key store no UUID indirection is needed.
type qdrantVector struct {
	client     *qdrant.Client
	collection string
	dim        int
	metric     string
}

// NewQdrantVector parses dsn (host[:port] with an optional ?api_key= query
// param), connects over gRPC, and ensures the collection exists with the
// configured dimension and distance metric.
func NewQdrantVector(ctx context.Context, dsn, collection string, dim int, metric string) (VectorStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("store: qdrant collection name is required")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse qdrant dsn: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("store: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if u.Scheme == "https" {
		cfg.UseTLS = true
	}
	if key := u.Query().Get("api_key"); key != "" {
		cfg.APIKey = key
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create qdrant client: %w", err)
	}
	qv := &qdrantVector{client: client, collection: collection, dim: dim, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := qv.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return qv, nil
}

func (q *qdrantVector) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("store: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	if q.dim <= 0 {
		return fmt.Errorf("store: qdrant requires a positive embedding dimension")
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: uint64(q.dim), Distance: distance}),
	})
}

// normalizeScore rescales Qdrant's native score into VectorResult.Score's
// documented [0,1] similarity range. Cosine and dot-product distances return
// raw (possibly negative) similarity, which this maps via (x+1)/2 assuming
// unit-normalized embeddings; Euclidean distance is non-negative and maps
// via 1/(1+d) so 0 distance scores 1 and similarity decays toward 0.
func (q *qdrantVector) normalizeScore(score float64) float64 {
	switch q.metric {
	case "l2", "euclidean":
		return 1 / (1 + score)
	default:
		return (score + 1) / 2
	}
}

func (q *qdrantVector) Dimension() int { return q.dim }

func (q *qdrantVector) Ping(ctx context.Context) error {
	_, err := q.client.CollectionExists(ctx, q.collection)
	return err
}

func (q *qdrantVector) Close() { q.client.Close() }

func factPayload(f MemoryFact) map[string]any {
	p := map[string]any{
		"user_id": f.Scope.UserID, "agent_id": f.Scope.AgentID, "run_id": f.Scope.RunID, "actor_id": f.Scope.ActorID,
		"content": f.Content, "hash": f.Hash,
		"created_at": f.CreatedAt.Unix(), "updated_at": f.UpdatedAt.Unix(),
		"last_accessed":      f.LastAccessed.Unix(),
		"access_count":       f.AccessCount,
		"importance_score":   f.ImportanceScore,
		"retention_strength": f.RetentionStrength,
		"memory_type":        f.MemoryType,
		"tier":               string(f.Tier),
	}
	for k, v := range f.Metadata {
		p["md_"+k] = v
	}
	return p
}

func (q *qdrantVector) Insert(ctx context.Context, fact MemoryFact) error { return q.Upsert(ctx, fact) }

func (q *qdrantVector) Upsert(ctx context.Context, fact MemoryFact) error {
	if q.dim > 0 && len(fact.Embedding) != q.dim {
		return fmt.Errorf("store: embedding dimension %d does not match configured dimension %d", len(fact.Embedding), q.dim)
	}
	vec := append([]float32(nil), fact.Embedding...)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDNum(uint64(fact.ID)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(factPayload(fact)),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	return err
}

func (q *qdrantVector) Delete(ctx context.Context, id int64) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(uint64(id))),
	})
	return err
}

func (q *qdrantVector) Get(ctx context.Context, id int64) (MemoryFact, bool, error) {
	pts, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return MemoryFact{}, false, err
	}
	if len(pts) == 0 {
		return MemoryFact{}, false, nil
	}
	f := payloadToFact(id, pts[0].Payload)
	f.Embedding = vectorsToEmbedding(pts[0].Vectors)
	return f, true, nil
}

func payloadToFact(id int64, payload map[string]*qdrant.Value) MemoryFact {
	f := MemoryFact{ID: id, Metadata: map[string]any{}}
	for k, v := range payload {
		switch k {
		case "user_id":
			f.Scope.UserID = v.GetStringValue()
		case "agent_id":
			f.Scope.AgentID = v.GetStringValue()
		case "run_id":
			f.Scope.RunID = v.GetStringValue()
		case "actor_id":
			f.Scope.ActorID = v.GetStringValue()
		case "content":
			f.Content = v.GetStringValue()
		case "hash":
			f.Hash = v.GetStringValue()
		case "last_accessed":
			f.LastAccessed = time.Unix(v.GetIntegerValue(), 0).UTC()
		case "access_count":
			f.AccessCount = v.GetIntegerValue()
		case "importance_score":
			f.ImportanceScore = v.GetDoubleValue()
		case "retention_strength":
			f.RetentionStrength = v.GetDoubleValue()
		case "memory_type":
			f.MemoryType = v.GetStringValue()
		case "tier":
			f.Tier = Tier(v.GetStringValue())
		case "created_at":
			f.CreatedAt = time.Unix(v.GetIntegerValue(), 0).UTC()
		case "updated_at":
			f.UpdatedAt = time.Unix(v.GetIntegerValue(), 0).UTC()
		default:
			if strings.HasPrefix(k, "md_") {
				f.Metadata[strings.TrimPrefix(k, "md_")] = v.GetStringValue()
			}
		}
	}
	return f
}

// vectorsToEmbedding extracts the dense vector from a point's vector output,
// returning nil if the point carries no (or a non-dense) vector.
func vectorsToEmbedding(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if dense := v.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}

func (q *qdrantVector) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := append([]float32(nil), vector...)
	var qf *qdrant.Filter
	if must := filterToQdrant(filter); len(must) > 0 {
		qf = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]VectorResult, 0, len(hits))
	for _, h := range hits {
		id := int64(h.Id.GetNum())
		f := payloadToFact(id, h.Payload)
		f.Embedding = vectorsToEmbedding(h.Vectors)
		out = append(out, VectorResult{ID: id, Score: q.normalizeScore(float64(h.Score)), Fact: f})
	}
	return out, nil
}

func filterToQdrant(f Filter) []*qdrant.Condition {
	var conds []*qdrant.Condition
	if f.Scope.UserID != "" {
		conds = append(conds, qdrant.NewMatch("user_id", f.Scope.UserID))
	}
	if f.Scope.AgentID != "" {
		conds = append(conds, qdrant.NewMatch("agent_id", f.Scope.AgentID))
	}
	if f.Scope.RunID != "" {
		conds = append(conds, qdrant.NewMatch("run_id", f.Scope.RunID))
	}
	for _, c := range f.Clauses {
		if c.Op == OpEq {
			if s, ok := c.Value.(string); ok {
				conds = append(conds, qdrant.NewMatch("md_"+c.Field, s))
			}
		}
	}
	return conds
}

// List is a best-effort scroll over the collection; Qdrant has no native
// cursor-by-id ordering so the returned cursor is the last scrolled
// point-id offset re-encoded as a string.
func (q *qdrantVector) List(ctx context.Context, filter Filter, limit int, cursor string) ([]MemoryFact, string, error) {
	if limit <= 0 {
		limit = 50
	}
	var qf *qdrant.Filter
	if must := filterToQdrant(filter); len(must) > 0 {
		qf = &qdrant.Filter{Must: must}
	}
	req := &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         qf,
		Limit:          uintPtr(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if cursor != "" {
		if n, err := strconv.ParseUint(cursor, 10, 64); err == nil {
			req.Offset = qdrant.NewIDNum(n)
		}
	}
	pts, err := q.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", err
	}
	out := make([]MemoryFact, 0, len(pts))
	var next string
	for _, p := range pts {
		id := int64(p.Id.GetNum())
		f := payloadToFact(id, p.Payload)
		f.Embedding = vectorsToEmbedding(p.Vectors)
		out = append(out, f)
		next = strconv.FormatInt(id, 10)
	}
	return out, next, nil
}

func uintPtr(v uint32) *uint32 { return &v }
