package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/deck-agent/dagent"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Reasoner  ReasonerConfig  `mapstructure:"reasoner"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Log       LogConfig       `mapstructure:"log"`
}

// AppConfig stores process-wide settings.
type AppConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	Type         string `mapstructure:"type"`
	AuthToken    string `mapstructure:"auth_token"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ReasonerConfig stores settings for the remote reasoning engine.
type ReasonerConfig struct {
	Provider           string  `mapstructure:"provider"` // "openai"
	Model              string  `mapstructure:"model"`
	APIKey             string  `mapstructure:"api_key"`
	BaseURL            string  `mapstructure:"base_url"`
	Temperature        float32 `mapstructure:"temperature"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	ParseTextToolCalls bool    `mapstructure:"parse_text_tool_calls"` // recover tool calls embedded in plain text
}

// HarnessConfig stores orchestration settings.
type HarnessConfig struct {
	// Suspension point budgets
	SnapshotTimeout  time.Duration `mapstructure:"snapshot_timeout"`
	ReasoningTimeout time.Duration `mapstructure:"reasoning_timeout"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`

	// Fault retry handled by the runtime
	RetryCount       int           `mapstructure:"retry_count"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval"`

	// Snapshot structure cache
	CacheEnabled    bool `mapstructure:"cache_enabled"`
	CacheCapacity   int  `mapstructure:"cache_capacity"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`

	// Reasoner throughput
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Tool access
	AllowedTools []string `mapstructure:"allowed_tools"` // empty means the whole catalog
	AllowAnyPath bool     `mapstructure:"allow_any_path"`

	// Signal intake: "libsql", "memory" or "jetstream"
	Mailbox      string        `mapstructure:"mailbox"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	EnableTracing bool `mapstructure:"enable_tracing"`
}

// DocumentsConfig stores settings for the document activities.
type DocumentsConfig struct {
	MutationCommand []string `mapstructure:"mutation_command"` // external worker; empty disables mutation
	IgnoreFile      string   `mapstructure:"ignore_file"`
}

// ServerConfig stores the HTTP surface settings.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// NATSConfig stores JetStream mailbox settings.
type NATSConfig struct {
	URL        string        `mapstructure:"url"`
	Stream     string        `mapstructure:"stream"`
	SubjectPfx string        `mapstructure:"subject_prefix"`
	AckWait    time.Duration `mapstructure:"ack_wait"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// reasoner.api_key becomes DAGENT_REASONER_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.data_dir", internal.DefaultDataDir)

	v.SetDefault("database.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("database.type", internal.DefaultDatabaseType)
	v.SetDefault("database.max_open_conns", 1) // single embedded writer

	v.SetDefault("reasoner.provider", "openai")
	v.SetDefault("reasoner.model", "o3-mini")
	v.SetDefault("reasoner.api_key", "")
	_ = v.BindEnv("reasoner.api_key", "DAGENT_REASONER_API_KEY", "OPENAI_API_KEY")
	v.SetDefault("reasoner.base_url", "")
	v.SetDefault("reasoner.temperature", 0)
	v.SetDefault("reasoner.max_tokens", 0)
	v.SetDefault("reasoner.parse_text_tool_calls", false)

	// Budgets: refresh seconds-scale, reasoning minutes-scale, tool under a minute
	v.SetDefault("harness.snapshot_timeout", "30s")
	v.SetDefault("harness.reasoning_timeout", "2m")
	v.SetDefault("harness.tool_timeout", "1m")
	v.SetDefault("harness.retry_count", 3)
	v.SetDefault("harness.retry_backoff", "1s")
	v.SetDefault("harness.retry_max_interval", "30s")
	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 256)
	v.SetDefault("harness.cache_ttl_seconds", 3600)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.allowed_tools", []string{})
	v.SetDefault("harness.allow_any_path", false)
	v.SetDefault("harness.mailbox", "libsql")
	v.SetDefault("harness.poll_interval", "500ms")
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("documents.mutation_command", []string{})
	v.SetDefault("documents.ignore_file", ".dagentignore")

	v.SetDefault("server.listen_addr", internal.DefaultListenAddr)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "DAGENT_SIGNALS")
	v.SetDefault("nats.subject_prefix", "dagent.signals")
	v.SetDefault("nats.ack_wait", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects settings the harness cannot run with.
func (c *Config) Validate() error {
	switch c.Harness.Mailbox {
	case "libsql", "memory", "jetstream":
	default:
		return fmt.Errorf("unsupported harness.mailbox %q", c.Harness.Mailbox)
	}
	if c.Reasoner.Provider != "openai" {
		return fmt.Errorf("unsupported reasoner.provider %q", c.Reasoner.Provider)
	}
	if c.Harness.SnapshotTimeout <= 0 || c.Harness.ReasoningTimeout <= 0 || c.Harness.ToolTimeout <= 0 {
		return fmt.Errorf("harness timeouts must be positive")
	}
	if c.Harness.RetryCount < 0 {
		return fmt.Errorf("harness.retry_count must not be negative: %d", c.Harness.RetryCount)
	}
	return nil
}
