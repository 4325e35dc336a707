// Package config provides configuration management for the paper harvester.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Proxy provider kinds.
const (
	ProviderShenlong = "shenlong"
	ProviderStatic   = "static"
	ProviderNone     = "none"
)

// EnvPrefix is the prefix for all harvester environment variables.
const EnvPrefix = "HARVESTER"

// envFiles are loaded into the process environment before viper reads it.
// Existing variables are never overridden.
var envFiles = []string{".env.local", ".env"}

// Config holds all configuration for the paper harvester.
type Config struct {
	// Harvest selects what to crawl and where results go.
	Harvest HarvestConfig `mapstructure:"harvest"`
	// Scheduler bounds concurrent per-paper tasks.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	// ProxyPool contains pool sizing and health settings.
	ProxyPool ProxyPoolConfig `mapstructure:"proxy_pool"`
	// ProxyProvider selects and configures the upstream address provider.
	ProxyProvider ProxyProviderConfig `mapstructure:"proxy_provider"`
	// Network contains outbound request settings.
	Network NetworkConfig `mapstructure:"network"`
	// Render contains headless browser settings.
	Render RenderConfig `mapstructure:"render"`
	// Resolver contains fallback and retry settings.
	Resolver ResolverConfig `mapstructure:"resolver"`
	// Sources contains per-source settings keyed by source ID.
	Sources map[string]SourceConfig `mapstructure:"sources"`
	// Metadata contains DBLP query settings.
	Metadata MetadataConfig `mapstructure:"metadata"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Kafka contains paper event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// S3 contains output export settings.
	S3 S3Config `mapstructure:"s3"`
	// Server contains ops HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// HarvestConfig selects the venues and years to harvest.
type HarvestConfig struct {
	// Tier is the CCF tier (a, b, c).
	Tier string `mapstructure:"tier" validate:"oneof=a b c"`
	// Classification is conf or journal.
	Classification string `mapstructure:"classification" validate:"oneof=conf journal"`
	// YearFrom is the first year harvested (inclusive).
	YearFrom int `mapstructure:"year_from" validate:"min=1950,max=2100"`
	// YearTo is the last year harvested (inclusive).
	YearTo int `mapstructure:"year_to" validate:"min=1950,max=2100"`
	// Venues restricts the run to these venue keys when non-empty.
	Venues []string `mapstructure:"venues"`
	// OutputDir is where venue-year JSON files are written.
	OutputDir string `mapstructure:"output_dir" validate:"required"`
	// InputDir, when set, re-reads existing venue-year files instead of querying DBLP.
	InputDir string `mapstructure:"input_dir"`
	// Resume skips DBLP editions whose output file already exists.
	Resume bool `mapstructure:"resume"`
	// RetryUnavailable re-harvests papers previously stored as unavailable (requires database).
	RetryUnavailable bool `mapstructure:"retry_unavailable"`
	// CatalogPath overrides the embedded venue catalog.
	CatalogPath string `mapstructure:"catalog_path"`
}

// SchedulerConfig holds concurrency settings.
type SchedulerConfig struct {
	// MaxConcurrent is the maximum number of in-flight paper tasks.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"min=1,max=1000"`
}

// ProxyPoolConfig holds proxy pool settings.
type ProxyPoolConfig struct {
	// Enabled routes traffic through the pool; when false every call is direct.
	Enabled bool `mapstructure:"enabled"`
	// Size is the target and maximum number of pooled proxies.
	Size int `mapstructure:"size" validate:"min=1,max=500"`
	// MaxFailures is the consecutive failure count a proxy may reach; one more evicts it.
	MaxFailures int `mapstructure:"max_failures" validate:"min=0"`
	// TTL is how long an admitted proxy is considered usable.
	TTL time.Duration `mapstructure:"ttl"`
	// ReplenishInterval is the period of background replenishment rounds.
	ReplenishInterval time.Duration `mapstructure:"replenish_interval"`
	// DegradeAfter is the number of consecutive failed rounds before degraded mode.
	DegradeAfter int `mapstructure:"degrade_after" validate:"min=1"`
	// AcquireWait bounds how long Acquire waits on an empty, non-degraded pool.
	AcquireWait time.Duration `mapstructure:"acquire_wait"`
	// Overfetch is the number of extra candidates requested per round.
	Overfetch int `mapstructure:"overfetch" validate:"min=0"`
	// ProbeURL is fetched through each candidate before admission.
	ProbeURL string `mapstructure:"probe_url"`
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// ProbeConcurrency bounds concurrent probes per round.
	ProbeConcurrency int `mapstructure:"probe_concurrency" validate:"min=1"`
}

// ProxyProviderConfig configures the upstream proxy address provider.
type ProxyProviderConfig struct {
	// Kind is shenlong, static or none.
	Kind string `mapstructure:"kind" validate:"oneof=shenlong static none"`
	// BaseURL is the provider API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Protocol is the provider protocol code (2 = http).
	Protocol int `mapstructure:"protocol"`
	// Timeout bounds a provider request.
	Timeout time.Duration `mapstructure:"timeout"`
	// Addresses is the address list for the static provider.
	Addresses []string `mapstructure:"addresses"`
	// APIKey authenticates against the provider. Loaded from env only.
	APIKey string `mapstructure:"-"`
	// APISign is the provider signature. Loaded from env only.
	APISign string `mapstructure:"-"`
	// Username is the proxy auth user. Loaded from env only.
	Username string `mapstructure:"-"`
	// Password is the proxy auth password. Loaded from env only.
	Password string `mapstructure:"-"`
}

// HostLimit is a per-host rate limit override.
type HostLimit struct {
	Host  string  `mapstructure:"host" validate:"required"`
	RPS   float64 `mapstructure:"rps" validate:"gt=0"`
	Burst int     `mapstructure:"burst" validate:"min=1"`
}

// NetworkConfig holds outbound request settings.
type NetworkConfig struct {
	// Timeout bounds a single request.
	Timeout time.Duration `mapstructure:"timeout"`
	// UserAgent is sent with every request.
	UserAgent string `mapstructure:"user_agent"`
	// DefaultRPS is the per-host rate when no override applies.
	DefaultRPS float64 `mapstructure:"default_rps" validate:"gt=0"`
	// DefaultBurst is the per-host burst when no override applies.
	DefaultBurst int `mapstructure:"default_burst" validate:"min=1"`
	// HostLimits overrides the rate for specific hosts.
	HostLimits []HostLimit `mapstructure:"host_limits" validate:"dive"`
	// MaxProxySwaps bounds fresh-proxy retries within one call.
	MaxProxySwaps int `mapstructure:"max_proxy_swaps" validate:"min=0"`
	// TransportCacheSize bounds the number of cached per-proxy transports.
	TransportCacheSize int `mapstructure:"transport_cache_size" validate:"min=1"`
	// MaxBodyBytes bounds response bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=1024"`
}

// RenderConfig holds headless browser settings.
type RenderConfig struct {
	// Enabled turns on render-required site adapters.
	Enabled bool `mapstructure:"enabled"`
	// ExecPath overrides the Chrome executable.
	ExecPath string `mapstructure:"exec_path"`
	// Timeout bounds a single page render.
	Timeout time.Duration `mapstructure:"timeout"`
	// Headless runs the browser without a window.
	Headless bool `mapstructure:"headless"`
}

// ResolverConfig holds fallback resolver settings.
type ResolverConfig struct {
	// MaxAttempts is the default per-source attempt cap for transient failures.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1,max=20"`
	// BackoffInitial is the first retry delay.
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	// BackoffMax caps a single retry delay.
	BackoffMax time.Duration `mapstructure:"backoff_max"`
	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" validate:"gte=1"`
	// BackoffJitter is the randomization factor (0 to 1).
	BackoffJitter float64 `mapstructure:"backoff_jitter" validate:"gte=0,lte=1"`
	// CacheSize bounds the DOI memo; 0 disables it.
	CacheSize int `mapstructure:"cache_size" validate:"min=0"`
}

// SourceConfig holds per-source settings.
type SourceConfig struct {
	// Enabled registers the source.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL overrides the source endpoint (API sources only).
	BaseURL string `mapstructure:"base_url"`
	// MaxAttempts overrides the resolver default when positive.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=0,max=20"`
	// APIKey is loaded from env only.
	APIKey string `mapstructure:"-"`
}

// MetadataConfig holds DBLP query settings.
type MetadataConfig struct {
	// BaseURL is the DBLP publication search endpoint.
	BaseURL string `mapstructure:"base_url" validate:"required"`
	// PageSize is the hits per page (DBLP caps at 1000).
	PageSize int `mapstructure:"page_size" validate:"min=1,max=1000"`
	// PageDelay is the pause between pages.
	PageDelay time.Duration `mapstructure:"page_delay"`
	// Timeout bounds a DBLP request.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the DBLP retry count.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`
	// Concurrency bounds parallel venue-year queries.
	Concurrency int `mapstructure:"concurrency" validate:"min=1"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Enabled turns on the Postgres writer.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password. Loaded from env only.
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath overrides the migrations embedded in the binary with a directory.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations on harvester startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// Table is the papers table name.
	Table string `mapstructure:"table"`
}

// KafkaConfig holds paper event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives paper events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the writer batch size.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout flushes incomplete batches.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// S3Config holds output export settings.
type S3Config struct {
	// Enabled uploads every flushed venue-year file.
	Enabled bool `mapstructure:"enabled"`
	// Bucket is the destination bucket.
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to object keys.
	Prefix string `mapstructure:"prefix"`
	// Region is the AWS region.
	Region string `mapstructure:"region"`
}

// ServerConfig holds the ops server configuration.
type ServerConfig struct {
	// Enabled starts the ops server.
	Enabled bool `mapstructure:"enabled"`
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// Port is the HTTP port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Namespace prefixes all metric names.
	Namespace string `mapstructure:"namespace"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Address returns the server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Source returns the settings for a source ID, or a disabled zero value.
func (c *Config) Source(id string) SourceConfig {
	if c.Sources == nil {
		return SourceConfig{}
	}
	return c.Sources[id]
}

// Load loads configuration from env files, environment variables and config files.
func Load() (*Config, error) {
	return LoadWithViper(viper.New())
}

// LoadWithViper loads configuration using the given viper instance.
// Tests use it to inject a config file.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	loadEnvFiles()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/paper-harvester")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadEnvFiles loads dotenv files that exist. godotenv.Load never overrides
// variables already present in the environment.
func loadEnvFiles() {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.ProxyProvider.APIKey = getenvFallback(EnvPrefix+"_PROXY_API_KEY", "PROXY_API_KEY")
	cfg.ProxyProvider.APISign = getenvFallback(EnvPrefix+"_PROXY_API_SIGN", "PROXY_API_SIGN")
	cfg.ProxyProvider.Username = getenvFallback(EnvPrefix+"_PROXY_USERNAME", "PROXY_USERNAME")
	cfg.ProxyProvider.Password = getenvFallback(EnvPrefix+"_PROXY_PASSWORD", "PROXY_PASSWORD")

	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")

	if s2, ok := cfg.Sources["semantic_scholar"]; ok {
		s2.APIKey = os.Getenv(EnvPrefix + "_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
		cfg.Sources["semantic_scholar"] = s2
	}
}

func getenvFallback(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Harvest defaults
	v.SetDefault("harvest.tier", "a")
	v.SetDefault("harvest.classification", "conf")
	v.SetDefault("harvest.year_from", 2020)
	v.SetDefault("harvest.year_to", 2025)
	v.SetDefault("harvest.venues", []string{})
	v.SetDefault("harvest.output_dir", "data/paper")
	v.SetDefault("harvest.input_dir", "")
	v.SetDefault("harvest.resume", false)
	v.SetDefault("harvest.retry_unavailable", false)
	v.SetDefault("harvest.catalog_path", "")

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrent", 20)

	// Proxy pool defaults
	v.SetDefault("proxy_pool.enabled", true)
	v.SetDefault("proxy_pool.size", 10)
	v.SetDefault("proxy_pool.max_failures", 2)
	// Provider addresses live 180s; stop handing them out a little earlier.
	v.SetDefault("proxy_pool.ttl", "170s")
	v.SetDefault("proxy_pool.replenish_interval", "15s")
	v.SetDefault("proxy_pool.degrade_after", 3)
	v.SetDefault("proxy_pool.acquire_wait", "2s")
	v.SetDefault("proxy_pool.overfetch", 2)
	v.SetDefault("proxy_pool.probe_url", "https://api.openalex.org/works?per_page=1")
	v.SetDefault("proxy_pool.probe_timeout", "5s")
	v.SetDefault("proxy_pool.probe_concurrency", 8)

	// Proxy provider defaults
	// Credentials are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("proxy_provider.kind", ProviderShenlong)
	v.SetDefault("proxy_provider.base_url", "http://api.shenlongip.com")
	v.SetDefault("proxy_provider.protocol", 2)
	v.SetDefault("proxy_provider.timeout", "10s")
	v.SetDefault("proxy_provider.addresses", []string{})

	// Network defaults
	v.SetDefault("network.timeout", "12s")
	v.SetDefault("network.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("network.default_rps", 5.0)
	v.SetDefault("network.default_burst", 5)
	v.SetDefault("network.host_limits", []map[string]any{
		{"host": "api.openalex.org", "rps": 10.0, "burst": 10},
		{"host": "api.crossref.org", "rps": 10.0, "burst": 10},
		{"host": "dl.acm.org", "rps": 1.0, "burst": 2},
		{"host": "ieeexplore.ieee.org", "rps": 1.0, "burst": 2},
	})
	v.SetDefault("network.max_proxy_swaps", 3)
	v.SetDefault("network.transport_cache_size", 64)
	v.SetDefault("network.max_body_bytes", 10<<20)

	// Render defaults
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("render.timeout", "120s")
	v.SetDefault("render.headless", true)

	// Resolver defaults
	v.SetDefault("resolver.max_attempts", 3)
	v.SetDefault("resolver.backoff_initial", "500ms")
	v.SetDefault("resolver.backoff_max", "10s")
	v.SetDefault("resolver.backoff_multiplier", 2.0)
	v.SetDefault("resolver.backoff_jitter", 0.5)
	v.SetDefault("resolver.cache_size", 4096)

	// Source defaults. Semantic Scholar is registered but disabled by default.
	v.SetDefault("sources", map[string]any{
		"openalex":         map[string]any{"enabled": true, "base_url": "https://api.openalex.org"},
		"crossref":         map[string]any{"enabled": true, "base_url": "https://api.crossref.org", "max_attempts": 2},
		"semantic_scholar": map[string]any{"enabled": false, "base_url": "https://api.semanticscholar.org"},
		"sites":            map[string]any{"enabled": true},
	})

	// Metadata defaults
	v.SetDefault("metadata.base_url", "https://dblp.org/search/publ/api")
	v.SetDefault("metadata.page_size", 1000)
	v.SetDefault("metadata.page_delay", "500ms")
	v.SetDefault("metadata.timeout", "30s")
	v.SetDefault("metadata.max_retries", 5)
	v.SetDefault("metadata.concurrency", 2)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "harvester")
	v.SetDefault("database.name", "paper_harvester")
	// Default to "require" for production security. Use HARVESTER_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.table", "papers")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.paper_harvester.papers")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "50ms")

	// S3 defaults
	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "paper-harvester")
	v.SetDefault("s3.region", "us-east-1")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9091)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "paper_harvester")
	v.SetDefault("metrics.path", "/metrics")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Harvest.YearFrom > c.Harvest.YearTo {
		return fmt.Errorf("harvest year_from (%d) must be <= year_to (%d)", c.Harvest.YearFrom, c.Harvest.YearTo)
	}

	for id, src := range c.Sources {
		if src.MaxAttempts < 0 {
			return fmt.Errorf("source %s max_attempts must not be negative", id)
		}
	}

	switch c.ProxyProvider.Kind {
	case ProviderShenlong:
		if c.ProxyPool.Enabled && (c.ProxyProvider.APIKey == "" || c.ProxyProvider.APISign == "") {
			return fmt.Errorf("proxy provider %q requires PROXY_API_KEY and PROXY_API_SIGN to be set", c.ProxyProvider.Kind)
		}
		if _, err := url.ParseRequestURI(c.ProxyProvider.BaseURL); err != nil {
			return fmt.Errorf("invalid proxy provider base_url: %w", err)
		}
	case ProviderStatic:
		if c.ProxyPool.Enabled && len(c.ProxyProvider.Addresses) == 0 {
			return fmt.Errorf("static proxy provider requires at least one address")
		}
	}

	if c.ProxyPool.Enabled && c.ProxyPool.TTL <= 0 {
		return fmt.Errorf("proxy_pool ttl must be positive")
	}

	if c.Resolver.BackoffInitial <= 0 || c.Resolver.BackoffMax < c.Resolver.BackoffInitial {
		return fmt.Errorf("resolver backoff_initial must be positive and <= backoff_max")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}
	if c.Harvest.RetryUnavailable && !c.Database.Enabled {
		return fmt.Errorf("harvest retry_unavailable requires the database to be enabled")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket is required when s3 export is enabled")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
