// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Archive, GitHub, Search, Cache, Store, Kafka, etc.).
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
	Archive   ArchiveConfig   `yaml:"archive"`
	GitHub    GitHubConfig    `yaml:"github"`
	Local     LocalConfig     `yaml:"local"`
	Parser    ParserConfig    `yaml:"parser"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// ArchiveConfig selects where reports are read from and how they are fetched.
type ArchiveConfig struct {
	Kind         string        `yaml:"kind"` // github | local
	Timeout      time.Duration `yaml:"timeout"`
	BatchSize    int           `yaml:"batchSize"`
	ContentTTL   time.Duration `yaml:"contentTTL"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// GitHubConfig identifies the archive repository and API credentials.
type GitHubConfig struct {
	Owner             string  `yaml:"owner"`
	Repo              string  `yaml:"repo"`
	Ref               string  `yaml:"ref"`
	Token             string  `yaml:"token"`
	BaseURL           string  `yaml:"baseUrl"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	MaxRetries        int     `yaml:"maxRetries"`
}

// LocalConfig points at a checkout of the archive on disk.
type LocalConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// ParserConfig controls content parsing policies.
type ParserConfig struct {
	DuplicatePolicy string `yaml:"duplicatePolicy"` // keep-all | first-wins | last-wins
}

// SearchConfig controls query execution limits and result presentation.
type SearchConfig struct {
	MaxResults     int    `yaml:"maxResults"`
	ExcerptLength  int    `yaml:"excerptLength"`
	MaxQueryLength int    `yaml:"maxQueryLength"`
	HighlightOpen  string `yaml:"highlightOpen"`
	HighlightClose string `yaml:"highlightClose"`
}

// CacheConfig controls the search result cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory | redis
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// StoreConfig selects the report snapshot store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // none | sqlite | postgres
	Path   string `yaml:"path"`
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
	SearchEvents   string `yaml:"searchEvents"`
	ReportsIndexed string `yaml:"reportsIndexed"`
}

// IndexerConfig holds the indexer service's health endpoint.
type IndexerConfig struct {
	Port int `yaml:"port"`
}

// AnalyticsConfig controls search event batching.
type AnalyticsConfig struct {
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	Port          int           `yaml:"port"`
}

// RateLimitConfig controls per-client API throttling.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allowOrigins"`
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

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
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

// Validate rejects enumerated settings with unknown values.
func (c *Config) Validate() error {
	switch c.Archive.Kind {
	case "github", "local":
	default:
		return fmt.Errorf("archive.kind must be github or local, got %q", c.Archive.Kind)
	}
	if c.Archive.Kind == "local" && c.Local.Dir == "" {
		return fmt.Errorf("local.dir is required when archive.kind is local")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Store.Driver {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be none, sqlite or postgres, got %q", c.Store.Driver)
	}
	switch c.Parser.DuplicatePolicy {
	case "keep-all", "first-wins", "last-wins":
	default:
		return fmt.Errorf("parser.duplicatePolicy %q is not supported", c.Parser.DuplicatePolicy)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.maxResults must be positive")
	}
	if c.Archive.BatchSize <= 0 {
		return fmt.Errorf("archive.batchSize must be positive")
	}
	return nil
}

// defaultConfig returns a Config with defaults matching the public archive.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Archive: ArchiveConfig{
			Kind:         "github",
			Timeout:      15 * time.Second,
			BatchSize:    3,
			ContentTTL:   5 * time.Minute,
			PollInterval: 5 * time.Minute,
		},
		GitHub: GitHubConfig{
			Owner:             "OnlineMo",
			Repo:              "DeepResearch-Archive",
			RequestsPerSecond: 1.2,
			MaxRetries:        3,
		},
		Parser: ParserConfig{
			DuplicatePolicy: "keep-all",
		},
		Search: SearchConfig{
			MaxResults:     50,
			ExcerptLength:  200,
			MaxQueryLength: 256,
			HighlightOpen:  "<mark>",
			HighlightClose: "</mark>",
		},
		Cache: CacheConfig{
			Backend:       "memory",
			TTL:           10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Store: StoreConfig{
			Driver: "none",
			Path:   "deepresearch.db",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "deepresearch",
			User:            "deepresearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "deepresearch-web",
			Topics: KafkaTopics{
				SearchEvents:   "search.events",
				ReportsIndexed: "reports.indexed",
			},
		},
		Indexer: IndexerConfig{
			Port: 8082,
		},
		Analytics: AnalyticsConfig{
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
			Port:          8083,
		},
		RateLimit: RateLimitConfig{
			Limit:  120,
			Window: time.Minute,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DR_ARCHIVE_KIND"); v != "" {
		cfg.Archive.Kind = v
	}
	if v := os.Getenv("DR_LOCAL_DIR"); v != "" {
		cfg.Local.Dir = v
	}
	if v := os.Getenv("DR_GITHUB_OWNER"); v != "" {
		cfg.GitHub.Owner = v
	}
	if v := os.Getenv("DR_GITHUB_REPO"); v != "" {
		cfg.GitHub.Repo = v
	}
	if v := os.Getenv("DR_GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	} else if v := os.Getenv("GITHUB_TOKEN"); v != "" && cfg.GitHub.Token == "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("DR_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("DR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DR_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DR_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("DR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
