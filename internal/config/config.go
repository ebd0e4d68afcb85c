// Package config loads the pipeline's configuration: a YAML file
// overlaid with environment variables, env winning wherever both name
// the same field.
package config

// ServerConfig configures the reference HTTP surface (internal/httpapi).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig configures internal/klog.
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path,omitempty"`
}

// CatalogConfig configures the Postgres-backed Catalog (C8).
type CatalogConfig struct {
	DSN string `yaml:"dsn"`
}

// VectorConfig configures the Vector Index (C1) factory.
type VectorConfig struct {
	Backend   string `yaml:"backend"` // memory (default) | postgres | qdrant
	DSN       string `yaml:"dsn,omitempty"`
	Dimension int    `yaml:"dimension"`
	Metric    string `yaml:"metric"` // cosine (default) | l2 | ip
}

// RedisConfig configures the Draft Store's (C6) TTL state and distributed
// finalize lock.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password,omitempty"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify,omitempty"`
}

// S3SSEConfig configures server-side encryption for the object store.
type S3SSEConfig struct {
	Mode     string `yaml:"mode,omitempty"` // "", sse-s3, sse-kms
	KMSKeyID string `yaml:"kms_key_id,omitempty"`
}

// S3Config configures internal/objectstore's S3Store. Works against AWS S3
// or any S3-compatible service (MinIO) via Endpoint/UsePathStyle.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint,omitempty"`
	Prefix                string      `yaml:"prefix,omitempty"`
	AccessKey             string      `yaml:"access_key,omitempty"`
	SecretKey             string      `yaml:"secret_key,omitempty"`
	UsePathStyle          bool        `yaml:"use_path_style,omitempty"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify,omitempty"`
	SSE                   S3SSEConfig `yaml:"sse,omitempty"`
}

// EmbedderConfig selects and tunes the Embedder (C2).
type EmbedderConfig struct {
	Provider     string `yaml:"provider"` // "local" (deterministic) | "http"
	Model        string `yaml:"model"`
	Dimension    int    `yaml:"dimension"`
	Normalized   bool   `yaml:"normalized"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	APIKey       string `yaml:"api_key,omitempty"`
	BatchSize    int    `yaml:"batch_size"`
	RateLimitRPS int    `yaml:"rate_limit_rps,omitempty"`
}

// QuotaConfig bounds per-workspace resource usage, enforced at finalize
// time and at per-stage admission.
type QuotaConfig struct {
	MaxConcurrentRunsPerWorkspace int `yaml:"max_concurrent_runs_per_workspace"`
	MaxChunksPerKB                int `yaml:"max_chunks_per_kb"`
	MaxTotalVectorsPerWorkspace   int `yaml:"max_total_vectors_per_workspace"`
	MaxUploadBytes                int64 `yaml:"max_upload_bytes"`
}

// OrchestratorConfig tunes the stage-machine driver (C7).
type OrchestratorConfig struct {
	SourceConcurrency    int `yaml:"source_concurrency"`
	IngestTimeoutSeconds int `yaml:"ingest_timeout_seconds"`
	ParseTimeoutSeconds  int `yaml:"parse_timeout_seconds"`
	EmbedTimeoutSeconds  int `yaml:"embed_timeout_seconds"`
	IndexTimeoutSeconds  int `yaml:"index_timeout_seconds"`
}

// DraftConfig tunes the Draft Store (C6).
type DraftConfig struct {
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
	MaxTTLSeconds     int `yaml:"max_ttl_seconds"`
}

// ReconcilerConfig tunes the background reconcile sweep.
type ReconcilerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Config is the pipeline's top-level configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Vector       VectorConfig       `yaml:"vector"`
	Redis        RedisConfig        `yaml:"redis"`
	ObjectStore  S3Config           `yaml:"object_store"`
	Embedder     EmbedderConfig     `yaml:"embedder"`
	Quota        QuotaConfig        `yaml:"quota"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Draft        DraftConfig        `yaml:"draft"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
}

// Default returns a Config with the pipeline's stock defaults: the
// memory vector backend, a 4-way orchestrator fan-out, 24h/7d draft TTL
// bounds, a 32-text embedder batch size, and a 5-minute reconcile sweep.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8089},
		Log:    LogConfig{Level: "info"},
		Vector: VectorConfig{Backend: "memory", Dimension: 384, Metric: "cosine"},
		Embedder: EmbedderConfig{
			Provider:  "local",
			Model:     "hash-3gram",
			Dimension: 384,
			BatchSize: 32,
		},
		Quota: QuotaConfig{
			MaxConcurrentRunsPerWorkspace: 2,
			MaxChunksPerKB:                200000,
			MaxTotalVectorsPerWorkspace:   2000000,
			MaxUploadBytes:                50 * 1024 * 1024,
		},
		Orchestrator: OrchestratorConfig{
			SourceConcurrency:    4,
			IngestTimeoutSeconds: 120,
			ParseTimeoutSeconds:  60,
			EmbedTimeoutSeconds:  30,
			IndexTimeoutSeconds:  15,
		},
		Draft: DraftConfig{
			DefaultTTLSeconds: 24 * 60 * 60,
			MaxTTLSeconds:     7 * 24 * 60 * 60,
		},
		Reconciler: ReconcilerConfig{IntervalSeconds: 300},
	}
}
