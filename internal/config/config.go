// Package config loads and validates crawl configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob of a crawl, loaded from defaults, an optional
// YAML file, and CRAWLKIT_* environment variables.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Cache      CacheConfig      `mapstructure:"cache"`
	State      StateConfig      `mapstructure:"state"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Adapter    AdapterConfig    `mapstructure:"adapter"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// CrawlConfig names the crawl and sizes the worker pool.
type CrawlConfig struct {
	Name        string        `mapstructure:"name"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	MaxItems    int64         `mapstructure:"max_items"`
	// StateDir holds the lock file, the report, and default backend paths.
	StateDir string `mapstructure:"state_dir"`
}

// FetcherConfig selects and tunes the network engine.
type FetcherConfig struct {
	Engine        string            `mapstructure:"engine"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	MaxRedirects  int               `mapstructure:"max_redirects"`
	UserAgents    []string          `mapstructure:"user_agents"`
	RespectRobots bool              `mapstructure:"respect_robots"`
	MaxBodyBytes  int               `mapstructure:"max_body_bytes"`
	Headers       map[string]string `mapstructure:"headers"`
}

// HostLimit overrides the default spacing for one host. Overrides are a list
// rather than a map keyed by host because viper splits keys on ".".
type HostLimit struct {
	Host        string        `mapstructure:"host"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Burst       int           `mapstructure:"burst"`
}

// RateLimitConfig controls per-host politeness.
type RateLimitConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	Burst       int           `mapstructure:"burst"`
	Jitter      float64       `mapstructure:"jitter"`
	Hosts       []HostLimit   `mapstructure:"hosts"`
}

// RetryConfig bounds transient-failure retries.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// ProxyConfig lists egress proxies. An empty list means direct egress.
type ProxyConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	DegradeAfter int           `mapstructure:"degrade_after"`
	BanAfter     int           `mapstructure:"ban_after"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// CacheConfig selects the request cache backend.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Freshness     time.Duration `mapstructure:"freshness"`
	MaxEntries    int           `mapstructure:"max_entries"`
	MemoryEntries int           `mapstructure:"memory_entries"`
	Path          string        `mapstructure:"path"`
}

// StateConfig selects where the dedup index and failure ledger live.
type StateConfig struct {
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// CheckpointConfig optionally moves the checkpoint to its own store.
type CheckpointConfig struct {
	// Backend is empty to share the state backend, or "file".
	Backend string `mapstructure:"backend"`
}

// PostgresConfig is shared by the postgres state backend and record sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SinkConfig selects the record sink.
type SinkConfig struct {
	Kind   string       `mapstructure:"kind"`
	Path   string       `mapstructure:"path"`
	GCS    GCSConfig    `mapstructure:"gcs"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// GCSConfig names the bucket for the gcs sink.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig names the topic for the pubsub sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// AdapterConfig selects how work items are enumerated and extracted.
type AdapterConfig struct {
	Kind     string         `mapstructure:"kind"`
	Source   string         `mapstructure:"source"`
	Selector SelectorConfig `mapstructure:"selector"`
}

// SelectorConfig holds goquery selectors. Field names are lowercased by the
// config loader.
type SelectorConfig struct {
	Content string            `mapstructure:"content"`
	Title   string            `mapstructure:"title"`
	Fields  map[string]string `mapstructure:"fields"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.name", "default")
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.queue_size", 0)
	v.SetDefault("crawl.grace_period", "10s")
	v.SetDefault("crawl.max_items", 0)
	v.SetDefault("crawl.state_dir", "data/state")
	v.SetDefault("fetcher.engine", "resty")
	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("fetcher.max_redirects", 10)
	v.SetDefault("fetcher.user_agents", []string{})
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.max_body_bytes", 10*1024*1024)
	v.SetDefault("rate_limit.min_interval", "1s")
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("rate_limit.jitter", 0.25)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("proxy.addresses", []string{})
	v.SetDefault("proxy.degrade_after", 3)
	v.SetDefault("proxy.ban_after", 5)
	v.SetDefault("proxy.cooldown", "5m")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.freshness", "1h")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.memory_entries", 1000)
	v.SetDefault("cache.path", "")
	v.SetDefault("state.backend", "leveldb")
	v.SetDefault("state.path", "")
	v.SetDefault("state.lock_ttl", "1m")
	v.SetDefault("checkpoint.backend", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table_prefix", "crawlkit_")
	v.SetDefault("postgres.max_conns", 8)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", "30m")
	v.SetDefault("sink.kind", "jsonl")
	v.SetDefault("sink.path", "")
	v.SetDefault("sink.gcs.bucket", "")
	v.SetDefault("sink.gcs.prefix", "records")
	v.SetDefault("sink.pubsub.project_id", "")
	v.SetDefault("sink.pubsub.topic_id", "")
	v.SetDefault("adapter.kind", "urllist")
	v.SetDefault("adapter.source", "")
	v.SetDefault("adapter.selector.content", "body")
	v.SetDefault("adapter.selector.title", "title")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "crawlkit")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// resolvePaths places unset backend paths under the state directory.
func (c *Config) resolvePaths() {
	if c.State.Path == "" {
		switch c.State.Backend {
		case "leveldb":
			c.State.Path = filepath.Join(c.Crawl.StateDir, "state.ldb")
		case "sqlite":
			c.State.Path = filepath.Join(c.Crawl.StateDir, "state.sqlite")
		}
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(c.Crawl.StateDir, "cache.ldb")
	}
	if c.Sink.Path == "" {
		c.Sink.Path = filepath.Join(c.Crawl.StateDir, "records.jsonl")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawl.Name) == "" {
		return fmt.Errorf("crawl.name must be set")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.QueueSize < 0 {
		return fmt.Errorf("crawl.queue_size must be >= 0")
	}
	if c.Crawl.GracePeriod < 0 {
		return fmt.Errorf("crawl.grace_period must be >= 0")
	}
	if c.Crawl.MaxItems < 0 {
		return fmt.Errorf("crawl.max_items must be >= 0")
	}
	if c.Crawl.StateDir == "" {
		return fmt.Errorf("crawl.state_dir must be set")
	}
	if !oneOf(c.Fetcher.Engine, "resty", "colly") {
		return fmt.Errorf("fetcher.engine must be resty or colly")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.RateLimit.MinInterval < 0 {
		return fmt.Errorf("rate_limit.min_interval must be >= 0")
	}
	if c.RateLimit.Jitter < 0 || c.RateLimit.Jitter > 1 {
		return fmt.Errorf("rate_limit.jitter must be between 0 and 1")
	}
	if err := validateHostLimits(c.RateLimit.Hosts); err != nil {
		return err
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}
	if c.Proxy.BanAfter > 0 && c.Proxy.DegradeAfter > c.Proxy.BanAfter {
		return fmt.Errorf("proxy.ban_after must be >= proxy.degrade_after")
	}
	if !oneOf(c.Cache.Backend, "memory", "leveldb", "tiered") {
		return fmt.Errorf("cache.backend must be memory, leveldb or tiered")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}
	if c.Cache.Backend == "tiered" && c.Cache.MemoryEntries <= 0 {
		return fmt.Errorf("cache.memory_entries must be > 0 for the tiered cache")
	}
	if !oneOf(c.State.Backend, "leveldb", "sqlite", "postgres", "memory") {
		return fmt.Errorf("state.backend must be leveldb, sqlite, postgres or memory")
	}
	if !oneOf(c.Checkpoint.Backend, "", "file") {
		return fmt.Errorf("checkpoint.backend must be empty or file")
	}
	if !oneOf(c.Sink.Kind, "jsonl", "postgres", "gcs", "pubsub", "memory") {
		return fmt.Errorf("sink.kind must be jsonl, postgres, gcs, pubsub or memory")
	}
	if (c.State.Backend == "postgres" || c.Sink.Kind == "postgres") && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when postgres is used")
	}
	if c.Sink.Kind == "gcs" && c.Sink.GCS.Bucket == "" {
		return fmt.Errorf("sink.gcs.bucket must be set for the gcs sink")
	}
	if c.Sink.Kind == "pubsub" && (c.Sink.PubSub.ProjectID == "" || c.Sink.PubSub.TopicID == "") {
		return fmt.Errorf("sink.pubsub.project_id and sink.pubsub.topic_id must be set for the pubsub sink")
	}
	if !oneOf(c.Adapter.Kind, "urllist", "feed") {
		return fmt.Errorf("adapter.kind must be urllist or feed")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	return slices.Contains(options, v)
}

func validateHostLimits(hosts []HostLimit) error {
	seen := make(map[string]struct{}, len(hosts))
	for i, hl := range hosts {
		host := strings.ToLower(strings.TrimSpace(hl.Host))
		if !strings.Contains(host, ".") {
			return fmt.Errorf("rate_limit.hosts[%d].host %q must be a hostname", i, hl.Host)
		}
		if _, dup := seen[host]; dup {
			return fmt.Errorf("rate_limit.hosts[%d].host %q is listed twice", i, hl.Host)
		}
		seen[host] = struct{}{}
		if hl.MinInterval <= 0 {
			return fmt.Errorf("rate_limit.hosts[%d].min_interval must be > 0", i)
		}
		if hl.Burst < 0 {
			return fmt.Errorf("rate_limit.hosts[%d].burst must be >= 0", i)
		}
	}
	return nil
}
