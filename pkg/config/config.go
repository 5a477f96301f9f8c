// Package config loads application configuration from a YAML file and
// environment variables using viper. Environment variables use the
// SCENTMEMORY_ prefix with underscores, e.g. SCENTMEMORY_REDIS_ADDRESS.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	Environment   string        `mapstructure:"environment"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds connection settings for the shared key-value store
// backing both the recommendation cache and the rate limit counters.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// OpenAIConfig holds settings for the completion and embedding APIs.
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LimitsConfig holds the per-day quota ceilings and the per-minute
// client fallback limit.
type LimitsConfig struct {
	UploadsPerDay        int  `mapstructure:"uploads_per_day"`
	QueriesPerDay        int  `mapstructure:"queries_per_day"`
	ProfileUpdatesPerDay int  `mapstructure:"profile_updates_per_day"`
	RequestsPerMinute    int  `mapstructure:"requests_per_minute"`
	GlobalRPS            int  `mapstructure:"global_rps"`
	GlobalBurst          int  `mapstructure:"global_burst"`
	FailOpen             bool `mapstructure:"fail_open"`
}

// CacheConfig holds recommendation cache tunables.
type CacheConfig struct {
	TTL                 time.Duration `mapstructure:"ttl"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	MaxScan             int           `mapstructure:"max_scan"`
}

// VectorConfig holds settings for the embedded vector store.
type VectorConfig struct {
	PersistPath string `mapstructure:"persist_path"`
	Compress    bool   `mapstructure:"compress"`
	TopK        int    `mapstructure:"top_k"`
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// Load reads configuration from the given file (optional) and the
// environment, applies defaults, and validates required settings.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCENTMEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Running on defaults and environment alone is fine.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 characters")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be between 0 and 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 90*time.Second)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 5*time.Second)
	v.SetDefault("redis.write_timeout", 5*time.Second)

	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("limits.uploads_per_day", 3)
	v.SetDefault("limits.queries_per_day", 4)
	v.SetDefault("limits.profile_updates_per_day", 1)
	v.SetDefault("limits.requests_per_minute", 100)
	v.SetDefault("limits.global_rps", 1000)
	v.SetDefault("limits.global_burst", 2000)
	v.SetDefault("limits.fail_open", true)

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.similarity_threshold", 0.85)
	v.SetDefault("cache.max_scan", 50)

	v.SetDefault("vector.persist_path", "")
	v.SetDefault("vector.compress", false)
	v.SetDefault("vector.top_k", 5)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_timeout", 5*time.Second)
}
