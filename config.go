package continuum

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds engine initialization parameters: dependency-injected
// providers with nil meaning "use the default", a single ApplyDefaults
// pass, and no package-level mutable state.
type Config struct {
	// Storage
	DBPath          string  // default ./data/continuum.db
	MinLinkStrength float64 // strength assigned to a newly-created edge (default 0.3)
	PruneThreshold  float64 // minimum strength an edge survives a prune sweep at (default 0.05)
	DecayFactor     float64 // per-day decay factor (default 0.995)
	HebbianRate     float64 // per-touch reinforcement (default 0.1)

	// Multi-tenancy
	DefaultTenantID string // TENANT_ID env override

	// Cache
	CacheEnabled      bool
	CacheHost         string
	CachePort         int
	CachePassword     string
	SearchCacheTTL    time.Duration // default 300s
	StatsCacheTTL     time.Duration // default 60s
	InProcessCacheCap int           // default 10000

	// Query engine
	MinExpansionStrength float64 // default 0.2
	ExpansionFactor      int     // default 3
	SchemaVersion        int     // bumped when RecallResult's cached shape changes (default 1)

	// Providers (nil = use defaults / no-op)
	EmbeddingProvider EmbeddingProvider
	NeuralPredictor   NeuralPredictor
	ConceptSource     ConceptSource

	// Neural attention
	NeuralAttentionEnabled bool
	NeuralModelPath        string
	UsePaidEmbeddings      bool

	// Decay worker
	DecayInterval time.Duration // default 12h

	// Logging
	Logger *zap.SugaredLogger // nil = production JSON logger

	// Metrics (nil = no-op, every recording becomes a cheap nil check)
	Metrics *Metrics

	// resolved after ApplyDefaults
	resolved bool
}

// ApplyDefaults fills zero-valued fields with sensible defaults. Idempotent.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./data/continuum.db"
	}
	if c.MinLinkStrength == 0 {
		c.MinLinkStrength = 0.3
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = 0.05
	}
	if c.DecayFactor == 0 {
		c.DecayFactor = 0.995
	}
	if c.HebbianRate == 0 {
		c.HebbianRate = 0.1
	}
	if c.DefaultTenantID == "" {
		c.DefaultTenantID = "default"
	}
	if c.SearchCacheTTL == 0 {
		c.SearchCacheTTL = 300 * time.Second
	}
	if c.StatsCacheTTL == 0 {
		c.StatsCacheTTL = 60 * time.Second
	}
	if c.InProcessCacheCap == 0 {
		c.InProcessCacheCap = 10000
	}
	if c.MinExpansionStrength == 0 {
		c.MinExpansionStrength = 0.2
	}
	if c.ExpansionFactor == 0 {
		c.ExpansionFactor = 3
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = 1
	}
	if c.DecayInterval == 0 {
		c.DecayInterval = 12 * time.Hour
	}
	if c.Logger == nil {
		l, _ := zap.NewProduction()
		if l == nil {
			l = zap.NewNop()
		}
		c.Logger = l.Sugar()
	}
	c.resolved = true
}

// LoadConfigFromEnv binds a fixed set of environment variables (DB_PATH,
// TENANT_ID, CACHE_ENABLED, CACHE_HOST, CACHE_PORT, CACHE_PASSWORD,
// NEURAL_ATTENTION, NEURAL_MODEL_PATH, USE_PAID_EMBEDDINGS) via viper's
// automatic env support and returns a Config with defaults applied. It
// never reads a config file — env vars only.
func LoadConfigFromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("") // vars are unprefixed
	v.AutomaticEnv()

	for _, key := range []string{
		"db_path", "tenant_id", "cache_enabled", "cache_host", "cache_port",
		"cache_password", "neural_attention", "neural_model_path",
		"use_paid_embeddings",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("continuum: bind env %s: %w", key, err)
		}
	}

	cfg := Config{
		DBPath:                 v.GetString("db_path"),
		DefaultTenantID:        v.GetString("tenant_id"),
		CacheEnabled:           v.GetBool("cache_enabled"),
		CacheHost:              v.GetString("cache_host"),
		CachePort:              v.GetInt("cache_port"),
		CachePassword:          v.GetString("cache_password"),
		NeuralAttentionEnabled: v.GetBool("neural_attention"),
		NeuralModelPath:        v.GetString("neural_model_path"),
		UsePaidEmbeddings:      v.GetBool("use_paid_embeddings"),
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
