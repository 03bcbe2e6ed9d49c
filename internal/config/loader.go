package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds a Config starting from Default(), overlaying an optional YAML
// file (POWERMEM_CONFIG_FILE, default "powermem.yaml" if present), then
// overlaying environment variables (loaded from a .env file via
// godotenv.Overload when present). Environment variables take precedence
// over the YAML file, matching the reference loader's env-first convention.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Default()

	yamlPath := firstNonEmpty(os.Getenv("POWERMEM_CONFIG_FILE"), "powermem.yaml")
	if b, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LLM.Provider = firstNonEmpty(os.Getenv("POWERMEM_LLM_PROVIDER"), cfg.LLM.Provider)
	cfg.LLM.Model = firstNonEmpty(os.Getenv("POWERMEM_LLM_MODEL"), cfg.LLM.Model)
	cfg.LLM.APIKey = firstNonEmpty(os.Getenv("POWERMEM_LLM_API_KEY"), cfg.LLM.APIKey)
	cfg.LLM.BaseURL = firstNonEmpty(os.Getenv("POWERMEM_LLM_BASE_URL"), cfg.LLM.BaseURL)
	if v, ok := floatEnv("POWERMEM_LLM_TEMPERATURE"); ok {
		cfg.LLM.Temperature = v
	}
	if v, ok := intEnv("POWERMEM_LLM_MAX_TOKENS"); ok {
		cfg.LLM.MaxTokens = v
	}

	cfg.Embedder.Provider = firstNonEmpty(os.Getenv("POWERMEM_EMBEDDER_PROVIDER"), cfg.Embedder.Provider)
	cfg.Embedder.Model = firstNonEmpty(os.Getenv("POWERMEM_EMBEDDER_MODEL"), cfg.Embedder.Model)
	cfg.Embedder.APIKey = firstNonEmpty(os.Getenv("POWERMEM_EMBEDDER_API_KEY"), cfg.Embedder.APIKey)
	cfg.Embedder.BaseURL = firstNonEmpty(os.Getenv("POWERMEM_EMBEDDER_BASE_URL"), cfg.Embedder.BaseURL)
	if v, ok := intEnv("POWERMEM_EMBEDDER_DIMS"); ok {
		cfg.Embedder.Dims = v
	}

	cfg.VectorStore.Backend = firstNonEmpty(os.Getenv("POWERMEM_VECTOR_BACKEND"), cfg.VectorStore.Backend)
	cfg.VectorStore.Connection = firstNonEmpty(os.Getenv("POWERMEM_VECTOR_DSN"), cfg.VectorStore.Connection)
	cfg.VectorStore.Collection = firstNonEmpty(os.Getenv("POWERMEM_VECTOR_COLLECTION"), cfg.VectorStore.Collection)
	cfg.VectorStore.Metric = firstNonEmpty(os.Getenv("POWERMEM_VECTOR_METRIC"), cfg.VectorStore.Metric)

	cfg.FullTextStore.Backend = firstNonEmpty(os.Getenv("POWERMEM_FULLTEXT_BACKEND"), cfg.FullTextStore.Backend)
	cfg.FullTextStore.Connection = firstNonEmpty(os.Getenv("POWERMEM_FULLTEXT_DSN"), cfg.FullTextStore.Connection)

	cfg.GraphStore.Backend = firstNonEmpty(os.Getenv("POWERMEM_GRAPH_BACKEND"), cfg.GraphStore.Backend)
	cfg.GraphStore.Connection = firstNonEmpty(os.Getenv("POWERMEM_GRAPH_DSN"), cfg.GraphStore.Connection)
	if v, ok := boolEnv("POWERMEM_GRAPH_ENABLED"); ok {
		cfg.GraphStore.Enabled = v
	}

	cfg.HistoryStore.Backend = firstNonEmpty(os.Getenv("POWERMEM_HISTORY_BACKEND"), cfg.HistoryStore.Backend)
	cfg.HistoryStore.Connection = firstNonEmpty(os.Getenv("POWERMEM_HISTORY_DSN"), cfg.HistoryStore.Connection)

	cfg.ProfileStore.Backend = firstNonEmpty(os.Getenv("POWERMEM_PROFILE_BACKEND"), cfg.ProfileStore.Backend)
	cfg.ProfileStore.Connection = firstNonEmpty(os.Getenv("POWERMEM_PROFILE_DSN"), cfg.ProfileStore.Connection)

	cfg.Lock.Backend = firstNonEmpty(os.Getenv("POWERMEM_LOCK_BACKEND"), cfg.Lock.Backend)
	cfg.Lock.Connection = firstNonEmpty(os.Getenv("POWERMEM_LOCK_DSN"), cfg.Lock.Connection)

	cfg.EventBus.Backend = firstNonEmpty(os.Getenv("POWERMEM_EVENTBUS_BACKEND"), cfg.EventBus.Backend)
	if brokers := os.Getenv("POWERMEM_EVENTBUS_BROKERS"); brokers != "" {
		cfg.EventBus.Brokers = strings.Split(brokers, ",")
	}

	cfg.Logging.Level = firstNonEmpty(os.Getenv("POWERMEM_LOG_LEVEL"), cfg.Logging.Level)
	cfg.Logging.LogPath = firstNonEmpty(os.Getenv("POWERMEM_LOG_PATH"), cfg.Logging.LogPath)

	cfg.Telemetry.OTLPEndpoint = firstNonEmpty(os.Getenv("POWERMEM_OTEL_ENDPOINT"), cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = firstNonEmpty(os.Getenv("POWERMEM_OTEL_SERVICE_NAME"), cfg.Telemetry.ServiceName)
	cfg.Telemetry.ServiceVersion = firstNonEmpty(os.Getenv("POWERMEM_OTEL_SERVICE_VERSION"), cfg.Telemetry.ServiceVersion)
	cfg.Telemetry.Environment = firstNonEmpty(os.Getenv("POWERMEM_OTEL_ENVIRONMENT"), cfg.Telemetry.Environment)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func floatEnv(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func boolEnv(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}
