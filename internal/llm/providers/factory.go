// Package providers selects and constructs the configured llm.Provider.
package providers

import (
	"fmt"
	"net/http"

	"github.com/powermem/powermem/internal/config"
	"github.com/powermem/powermem/internal/llm"
	"github.com/powermem/powermem/internal/llm/anthropic"
	"github.com/powermem/powermem/internal/llm/google"
	openaillm "github.com/powermem/powermem/internal/llm/openai"
)

// Build constructs an llm.Provider based on cfg.LLM.Provider.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openaillm.New(cfg.LLM, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLM, httpClient), nil
	case "google":
		return google.New(cfg.LLM, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
