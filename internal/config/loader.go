package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads path (if it exists) as YAML over Default(), then applies
// environment variable overrides: file first, then KB_* env vars win,
// assigning only when the variable is set and non-empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides: every field is only touched when its KB_* variable
// is set and non-blank.
func applyEnvOverrides(cfg *Config) {
	if v := trimmedEnv("KB_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := trimmedEnv("KB_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := trimmedEnv("KB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := trimmedEnv("KB_LOG_PATH"); v != "" {
		cfg.Log.Path = v
	}

	if v := trimmedEnv("KB_CATALOG_DSN"); v != "" {
		cfg.Catalog.DSN = v
	}

	if v := trimmedEnv("KB_VECTOR_BACKEND"); v != "" {
		cfg.Vector.Backend = v
	}
	if v := trimmedEnv("KB_VECTOR_DSN"); v != "" {
		cfg.Vector.DSN = v
	}
	if v := trimmedEnv("KB_VECTOR_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vector.Dimension = n
		}
	}
	if v := trimmedEnv("KB_VECTOR_METRIC"); v != "" {
		cfg.Vector.Metric = v
	}

	if v := trimmedEnv("KB_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v, cfg.Redis.Enabled)
	}
	if v := trimmedEnv("KB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := trimmedEnv("KB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := trimmedEnv("KB_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := trimmedEnv("KB_REDIS_TLS_INSECURE_SKIP_VERIFY"); v != "" {
		cfg.Redis.TLSInsecureSkipVerify = parseBool(v, cfg.Redis.TLSInsecureSkipVerify)
	}

	if v := trimmedEnv("KB_S3_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := trimmedEnv("KB_S3_REGION"); v != "" {
		cfg.ObjectStore.Region = v
	}
	if v := trimmedEnv("KB_S3_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := trimmedEnv("KB_S3_PREFIX"); v != "" {
		cfg.ObjectStore.Prefix = v
	}
	if v := firstNonEmpty(trimmedEnv("KB_S3_ACCESS_KEY"), trimmedEnv("AWS_ACCESS_KEY_ID")); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := firstNonEmpty(trimmedEnv("KB_S3_SECRET_KEY"), trimmedEnv("AWS_SECRET_ACCESS_KEY")); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := trimmedEnv("KB_S3_USE_PATH_STYLE"); v != "" {
		cfg.ObjectStore.UsePathStyle = parseBool(v, cfg.ObjectStore.UsePathStyle)
	}
	if v := trimmedEnv("KB_S3_SSE_MODE"); v != "" {
		cfg.ObjectStore.SSE.Mode = v
	}
	if v := trimmedEnv("KB_S3_SSE_KMS_KEY_ID"); v != "" {
		cfg.ObjectStore.SSE.KMSKeyID = v
	}

	if v := trimmedEnv("KB_EMBEDDER_PROVIDER"); v != "" {
		cfg.Embedder.Provider = v
	}
	if v := trimmedEnv("KB_EMBEDDER_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
	if v := trimmedEnv("KB_EMBEDDER_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedder.Dimension = n
		}
	}
	if v := trimmedEnv("KB_EMBEDDER_ENDPOINT"); v != "" {
		cfg.Embedder.Endpoint = v
	}
	if v := trimmedEnv("KB_EMBEDDER_API_KEY"); v != "" {
		cfg.Embedder.APIKey = v
	}
	if v := trimmedEnv("KB_EMBEDDER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedder.BatchSize = n
		}
	}

	if v := trimmedEnv("KB_DRAFT_DEFAULT_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Draft.DefaultTTLSeconds = n
		}
	}
	if v := trimmedEnv("KB_DRAFT_MAX_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Draft.MaxTTLSeconds = n
		}
	}

	if v := trimmedEnv("KB_ORCHESTRATOR_SOURCE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.SourceConcurrency = n
		}
	}

	if v := trimmedEnv("KB_RECONCILER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconciler.IntervalSeconds = n
		}
	}
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// firstNonEmpty returns the first non-blank value (prefer the
// KB_*-prefixed var, fall back to the provider's own well-known
// variable).
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
