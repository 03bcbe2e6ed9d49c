// Package embedding provides the embedding-provider client used by the
// fact/mutation pipeline to vectorize memory content and search queries.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/powermem/powermem/internal/config"
)

// Embedder embeds free text into the fixed-dimension vector space a
// VectorStore was configured with. Implementations must return a vector of
// exactly the configured dimension or an error; a dimension mismatch is
// treated as fatal by VectorStore implementations.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// httpEmbedder is an OpenAI-compatible embeddings-endpoint client.
type httpEmbedder struct {
	cfg config.EmbedderConfig
}

// New builds an Embedder from configuration. The provider field only
// selects the wire format (all supported providers here speak the
// OpenAI-compatible /embeddings shape); BaseURL/APIKey select the
// concrete endpoint.
func New(cfg config.EmbedderConfig) Embedder {
	return &httpEmbedder{cfg: cfg}
}

func (e *httpEmbedder) Dimension() int { return e.cfg.Dims }

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	reqBody, _ := json.Marshal(embedReq{Model: e.cfg.Model, Input: inputs})
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	url := e.cfg.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding: endpoint error: %s: %s", resp.Status, string(bodyBytes))
	}

	var er embedResp
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		n := len(bodyBytes)
		if n > 200 {
			n = 200
		}
		return nil, fmt.Errorf("embedding: parse response (input count %d, body %q): %w", len(inputs), bodyBytes[:n], err)
	}
	if len(er.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: unexpected count: got %d, want %d", len(er.Data), len(inputs))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		if e.cfg.Dims > 0 && len(er.Data[i].Embedding) != e.cfg.Dims {
			return nil, fmt.Errorf("embedding: dimension mismatch: got %d, configured %d", len(er.Data[i].Embedding), e.cfg.Dims)
		}
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// CheckReachability verifies the configured embedding endpoint responds.
func CheckReachability(ctx context.Context, cfg config.EmbedderConfig) error {
	_, err := New(cfg).Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding: reachability check failed: %w", err)
	}
	return nil
}
