// Package config defines PowerMem's typed configuration surface and loads it
// from environment variables (optionally a .env file) and/or a YAML file.
package config

import "time"

// LLMConfig selects and configures the LLM provider used for fact
// extraction, mutation planning, relation extraction/reconciliation,
// importance evaluation, and profile consolidation.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // anthropic | openai | google
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EmbedderConfig configures the embedding provider. Dims is required and is
// immutable for the lifetime of a vector store.
type EmbedderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Dims     int    `yaml:"dims"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// VectorStoreConfig configures the backend used for dense similarity search.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // memory | postgres | qdrant
	Collection string `yaml:"collection,omitempty"`
	Connection string `yaml:"connection,omitempty"`
	IndexType  string `yaml:"index_type,omitempty"`
	Metric     string `yaml:"metric,omitempty"` // cosine | l2 | ip
}

// FullTextStoreConfig configures the backend used for lexical search. It may
// coincide with the vector store's backend (e.g. Postgres tsvector).
type FullTextStoreConfig struct {
	Backend    string `yaml:"backend"` // memory | postgres
	Connection string `yaml:"connection,omitempty"`
	Parser     string `yaml:"parser,omitempty"` // ik | ngram | ngram2 | beng | space
}

// GraphStoreConfig configures the entity/relation graph backend.
type GraphStoreConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Backend        string `yaml:"backend"` // memory | postgres
	Connection     string `yaml:"connection,omitempty"`
	MaxHop         int    `yaml:"max_hop"`
	MaxEdgesPerHop int    `yaml:"max_edges_per_hop"`
}

// HistoryStoreConfig configures the append-only audit-log backend.
type HistoryStoreConfig struct {
	Backend    string `yaml:"backend"` // memory | postgres | clickhouse
	Connection string `yaml:"connection,omitempty"`
}

// ProfileStoreConfig configures the per-user consolidated profile backend
// (C8).
type ProfileStoreConfig struct {
	Backend    string `yaml:"backend"` // memory | postgres
	Connection string `yaml:"connection,omitempty"`
}

// Thresholds configures the score boundaries used for initial tier
// assignment (§4.7).
type Thresholds struct {
	LongTerm  float64 `yaml:"long_term"`  // score >= this -> LONG_TERM
	ShortTerm float64 `yaml:"short_term"` // score >= this -> SHORT_TERM
}

// IntelligentMemoryConfig configures the Ebbinghaus lifecycle manager (C7).
type IntelligentMemoryConfig struct {
	Enabled               bool          `yaml:"enabled"`
	RetentionLambda       float64       `yaml:"retention_lambda"`
	RMin                  float64       `yaml:"r_min"`
	RReinforceAlpha       float64       `yaml:"r_reinforce_alpha"`
	SMax                  float64       `yaml:"s_max"`
	ArchiveGraceDays      int           `yaml:"archive_grace_days"`
	AllowLongTermArchival bool          `yaml:"allow_long_term_archival"`
	Thresholds            Thresholds    `yaml:"thresholds"`
	MaintenanceInterval   time.Duration `yaml:"maintenance_interval"`
}

// FusionConfig configures hybrid-retrieval score fusion (C5).
type FusionConfig struct {
	Method  string             `yaml:"method"` // rrf | weighted
	Weights FusionWeightConfig `yaml:"weights"`
	RRFK    int                `yaml:"rrf_k"`
}

// FusionWeightConfig holds per-branch weights for weighted fusion.
type FusionWeightConfig struct {
	Vector float64 `yaml:"vector"`
	Text   float64 `yaml:"text"`
	Graph  float64 `yaml:"graph"`
}

// PromptsConfig holds overridable prompt templates; empty fields fall back
// to the engine's built-in defaults.
type PromptsConfig struct {
	FactExtraction      string `yaml:"fact_extraction,omitempty"`
	UpdateMemory         string `yaml:"update_memory,omitempty"`
	ImportanceEvaluation string `yaml:"importance_evaluation,omitempty"`
	ExtractRelations     string `yaml:"extract_relations,omitempty"`
	UpdateGraph          string `yaml:"update_graph,omitempty"`
	DeleteRelations       string `yaml:"delete_relations,omitempty"`
}

// ConcurrencyConfig bounds the engine's internal worker pool and per-call
// timeouts (§5).
type ConcurrencyConfig struct {
	WorkerPoolSize int           `yaml:"worker_pool_size"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	LockStripes    int           `yaml:"lock_stripes"`
}

// LoggingConfig configures ambient structured logging.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// TelemetryConfig configures the optional OpenTelemetry tracing/metrics
// exporters for LLM request spans, token metrics and host metrics. Empty
// OTLPEndpoint disables export
// entirely; logging is unaffected (see LoggingConfig).
type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
	ServiceName    string `yaml:"service_name,omitempty"`
	ServiceVersion string `yaml:"service_version,omitempty"`
	Environment    string `yaml:"environment,omitempty"`
}

// LockConfig selects the per-id mutation lock backend.
type LockConfig struct {
	Backend    string `yaml:"backend"` // memory | redis
	Connection string `yaml:"connection,omitempty"`
}

// EventBusConfig configures the event bus carrying MemoryMutated events for
// C8 profile consolidation.
type EventBusConfig struct {
	Backend  string   `yaml:"backend"` // memory | kafka
	Brokers  []string `yaml:"brokers,omitempty"`
	Topic    string   `yaml:"topic,omitempty"`
	GroupID  string   `yaml:"group_id,omitempty"`
}

// Config is the root typed configuration record for the memory engine.
type Config struct {
	LLM           LLMConfig
	Embedder      EmbedderConfig
	VectorStore   VectorStoreConfig
	FullTextStore FullTextStoreConfig
	GraphStore    GraphStoreConfig
	HistoryStore  HistoryStoreConfig
	ProfileStore  ProfileStoreConfig
	Intelligence  IntelligentMemoryConfig
	Fusion        FusionConfig
	Prompts       PromptsConfig
	Concurrency   ConcurrencyConfig
	Logging       LoggingConfig
	Lock          LockConfig
	EventBus      EventBusConfig
	Telemetry     TelemetryConfig
}

// Default returns a Config with the spec's documented defaults, suitable as
// a base before env/YAML overrides are applied.
func Default() Config {
	return Config{
		VectorStore:   VectorStoreConfig{Backend: "memory", Metric: "cosine"},
		FullTextStore: FullTextStoreConfig{Backend: "memory", Parser: "space"},
		GraphStore:    GraphStoreConfig{Backend: "memory", MaxHop: 2, MaxEdgesPerHop: 20},
		HistoryStore:  HistoryStoreConfig{Backend: "memory"},
		ProfileStore:  ProfileStoreConfig{Backend: "memory"},
		Intelligence: IntelligentMemoryConfig{
			Enabled:             true,
			RetentionLambda:      0.8210,
			RMin:                 0.20,
			RReinforceAlpha:      0.25,
			SMax:                 10,
			ArchiveGraceDays:     30,
			Thresholds:           Thresholds{LongTerm: 0.75, ShortTerm: 0.4},
			MaintenanceInterval:  time.Hour,
		},
		Fusion: FusionConfig{
			Method:  "rrf",
			Weights: FusionWeightConfig{Vector: 1, Text: 1, Graph: 1},
			RRFK:    60,
		},
		Concurrency: ConcurrencyConfig{
			WorkerPoolSize: 32,
			CallTimeout:    30 * time.Second,
			LockStripes:    1024,
		},
		Logging: LoggingConfig{Level: "info"},
		Lock:    LockConfig{Backend: "memory"},
		EventBus: EventBusConfig{Backend: "memory", Topic: "powermem.memory-mutated", GroupID: "powermem"},
		Telemetry: TelemetryConfig{ServiceName: "powermemd", Environment: "development"},
	}
}
