// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Corpus, Search, Spell, Cache, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Search    SearchConfig    `yaml:"search"`
	Spell     SpellConfig     `yaml:"spell"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows
	// any. RateLimitPerMinute bounds requests per client IP; 0 disables it.
	CORSOrigins        []string `yaml:"corsOrigins"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CorpusReload    string `yaml:"corpusReload"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// CorpusConfig selects where study records are loaded from. Source is
// "file" (a JSON array of records at Path) or "postgres" (Table).
type CorpusConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Table  string `yaml:"table"`
	Watch  bool   `yaml:"watch"`
	// BuildWorkers bounds the tokenizer pool used while building the index.
	BuildWorkers int `yaml:"buildWorkers"`
}

// SearchConfig holds the retrieval heuristics. The values are policy, not
// derived from data, so every threshold is overridable.
type SearchConfig struct {
	DefaultPageSize      int     `yaml:"defaultPageSize"`
	MaxPageSize          int     `yaml:"maxPageSize"`
	AndFallbackHigh      float64 `yaml:"andFallbackHigh"`
	AndFallbackLow       float64 `yaml:"andFallbackLow"`
	SmartMinMatchRatio   float64 `yaml:"smartMinMatchRatio"`
	SpellMaxConfidence   float64 `yaml:"spellMaxConfidence"`
	TokenSuggestMinScore float64 `yaml:"tokenSuggestMinScore"`
	PhraseMinLength      int     `yaml:"phraseMinLength"`
	FuzzyTitleThreshold  float64 `yaml:"fuzzyTitleThreshold"`
	FuzzyTitleTopK       int     `yaml:"fuzzyTitleTopK"`
	EmergingTopics       int     `yaml:"emergingTopics"`
}

// SpellConfig controls vocabulary selection and suggestion policy.
type SpellConfig struct {
	MinFrequency     int     `yaml:"minFrequency"`
	CommonFrequency  int     `yaml:"commonFrequency"`
	RareWordRatio    int     `yaml:"rareWordRatio"`
	QueryMinScore    float64 `yaml:"queryMinScore"`
	MaxDistance      int     `yaml:"maxDistance"`
	QuerySuggestions int     `yaml:"querySuggestions"`
}

// CacheConfig controls the result cache. When Redis is enabled entries are
// mirrored there so that several searcher replicas share hits.
type CacheConfig struct {
	MaxEntries   int           `yaml:"maxEntries"`
	RedisEnabled bool          `yaml:"redisEnabled"`
	RedisTTL     time.Duration `yaml:"redisTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AnalyticsConfig controls the standalone analytics service. When Persist
// is set, aggregated stats are saved to Table every SaveInterval and rows
// older than Retention are pruned. A zero Retention keeps everything.
type AnalyticsConfig struct {
	Persist      bool          `yaml:"persist"`
	Table        string        `yaml:"table"`
	SaveInterval time.Duration `yaml:"saveInterval"`
	Retention    time.Duration `yaml:"retention"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Corpus.Source {
	case "file":
		if c.Corpus.Path == "" {
			return fmt.Errorf("corpus.path is required for file source")
		}
	case "postgres":
		if c.Corpus.Table == "" {
			return fmt.Errorf("corpus.table is required for postgres source")
		}
	default:
		return fmt.Errorf("unknown corpus.source %q", c.Corpus.Source)
	}
	if c.Search.MaxPageSize < 1 {
		return fmt.Errorf("search.maxPageSize must be positive")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.maxEntries must be positive")
	}
	if c.Analytics.Persist && c.Analytics.SaveInterval <= 0 {
		return fmt.Errorf("analytics.saveInterval must be positive when persisting")
	}
	return nil
}

// Default returns a Config with the defaults used for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "studies",
			User:            "studies",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "study-search",
			Topics: KafkaTopics{
				CorpusReload:    "corpus-reload",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Corpus: CorpusConfig{
			Source:       "file",
			Path:         "data/studies.json",
			Table:        "studies",
			BuildWorkers: 4,
		},
		Search: SearchConfig{
			DefaultPageSize:      20,
			MaxPageSize:          200,
			AndFallbackHigh:      0.7,
			AndFallbackLow:       0.5,
			SmartMinMatchRatio:   0.6,
			SpellMaxConfidence:   0.7,
			TokenSuggestMinScore: 0.5,
			PhraseMinLength:      4,
			FuzzyTitleThreshold:  0.72,
			FuzzyTitleTopK:       25,
			EmergingTopics:       5,
		},
		Spell: SpellConfig{
			MinFrequency:     2,
			CommonFrequency:  50,
			RareWordRatio:    3,
			QueryMinScore:    0.35,
			MaxDistance:      2,
			QuerySuggestions: 5,
		},
		Cache: CacheConfig{
			MaxEntries: 256,
			RedisTTL:   10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Analytics: AnalyticsConfig{
			Table:        "search_analytics_snapshots",
			SaveInterval: time.Minute,
			Retention:    30 * 24 * time.Hour,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_CORPUS_SOURCE"); v != "" {
		cfg.Corpus.Source = v
	}
	if v := os.Getenv("SP_CORPUS_PATH"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := os.Getenv("SP_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("SP_ANALYTICS_PERSIST"); v != "" {
		cfg.Analytics.Persist = v == "true" || v == "1"
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
