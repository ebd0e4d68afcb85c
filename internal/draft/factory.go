package draft

import "kbetl/internal/config"

// New selects the Draft Store backend the same way vectorstore.NewStore
// picks a vector backend: Redis when enabled in configuration (multi-
// process deployments need the shared TTL state and finalize lock),
// otherwise the in-process store used for single-binary runs and tests.
func New(cfg config.RedisConfig, previewer Previewer) (Store, error) {
	if !cfg.Enabled {
		return NewMemory(previewer), nil
	}
	return NewRedis(RedisDialConfig{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}, previewer)
}
