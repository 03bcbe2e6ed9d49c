package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIntelligenceThresholds(t *testing.T) {
	cfg := Default()
	require.Equal(t, 0.75, cfg.Intelligence.Thresholds.LongTerm)
	require.Equal(t, 0.4, cfg.Intelligence.Thresholds.ShortTerm)
	require.InDelta(t, 0.8210, cfg.Intelligence.RetentionLambda, 1e-4)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("POWERMEM_LLM_PROVIDER", "anthropic")
	t.Setenv("POWERMEM_EMBEDDER_DIMS", "1536")
	t.Setenv("POWERMEM_GRAPH_ENABLED", "true")
	t.Setenv("POWERMEM_CONFIG_FILE", "/nonexistent/powermem.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, 1536, cfg.Embedder.Dims)
	require.True(t, cfg.GraphStore.Enabled)
}

func TestLoadYAMLOverlay(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "powermem-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("llm:\n  provider: openai\n  model: gpt-4o\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("POWERMEM_CONFIG_FILE", f.Name())
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
}
