// Package config loads the service configuration: a YAML file located
// through LEADFORGE_CONFIG with env-var overrides on every key, plus a
// watcher that re-reads the hot-reloadable side files (rate plans,
// outreach policies) while the process runs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigPath names the env var holding the config file location.
const EnvConfigPath = "LEADFORGE_CONFIG"

type ServiceConfig struct {
	Name          string        `mapstructure:"name"`
	HTTPPort      int           `mapstructure:"http_port"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PipelineConfig struct {
	PoolSize         int      `mapstructure:"pool_size"`
	DispatchPoolSize int      `mapstructure:"dispatch_pool_size"`
	BatchSize        int      `mapstructure:"batch_size"`
	SearchPages      int      `mapstructure:"search_pages"`
	DefaultMinScore  float64  `mapstructure:"default_min_score"`
	DefaultHoursOld  int      `mapstructure:"default_hours_old"`
	TargetRoles      []string `mapstructure:"target_roles"`
	Blacklist        []string `mapstructure:"blacklist"`
	PenaltyKeywords  []string `mapstructure:"penalty_keywords"`
}

// ProviderConfig is one external API endpoint. Messenger-only fields
// (FromEmail, FromName) are ignored by sources and verifiers.
type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Enabled   bool          `mapstructure:"enabled"`
	FromEmail string        `mapstructure:"from_email"`
	FromName  string        `mapstructure:"from_name"`
}

// QuotaConfig bounds one messenger's send volume. Zero means unlimited
// for that window.
type QuotaConfig struct {
	Daily   int `mapstructure:"daily"`
	Monthly int `mapstructure:"monthly"`
}

type DispatchConfig struct {
	// Tiers maps a campaign tier to its ordered messenger chain.
	Tiers              map[string][]string    `mapstructure:"tiers"`
	Quotas             map[string]QuotaConfig `mapstructure:"quotas"`
	PersonalizeEnabled bool                   `mapstructure:"personalize_enabled"`
	OpenAIKey          string                 `mapstructure:"openai_key"`
	OpenAIBaseURL      string                 `mapstructure:"openai_base_url"`
	Model              string                 `mapstructure:"model"`
	SenderName         string                 `mapstructure:"sender_name"`
	SenderTitle        string                 `mapstructure:"sender_title"`
}

type PolicyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Mode        string `mapstructure:"mode"`
	Dir         string `mapstructure:"dir"`
	FailClosed  bool   `mapstructure:"fail_closed"`
	Environment string `mapstructure:"environment"`
}

type StreamingConfig struct {
	RingCapacity int `mapstructure:"ring_capacity"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Config is the full service configuration.
type Config struct {
	Service         ServiceConfig             `mapstructure:"service"`
	Logging         LoggingConfig             `mapstructure:"logging"`
	Database        DatabaseConfig            `mapstructure:"database"`
	Redis           RedisConfig               `mapstructure:"redis"`
	Pipeline        PipelineConfig            `mapstructure:"pipeline"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	Dispatch        DispatchConfig            `mapstructure:"dispatch"`
	RateControlPath string                    `mapstructure:"rate_control_path"`
	Policy          PolicyConfig              `mapstructure:"policy"`
	Streaming       StreamingConfig           `mapstructure:"streaming"`
	Tracing         TracingConfig             `mapstructure:"tracing"`
}

// Load reads the config file named by LEADFORGE_CONFIG, or searches the
// conventional locations when the var is unset. A missing file is fine
// in the search case; every key then comes from defaults and env vars
// (LEADFORGE_SECTION_KEY form).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEADFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvConfigPath); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("leadforge")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults cover every scalar key so env-var overrides bind even when
// no config file exists.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "leadforge")
	v.SetDefault("service.http_port", 8080)
	v.SetDefault("service.shutdown_grace", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "leadforge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "leadforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("pipeline.pool_size", 4)
	v.SetDefault("pipeline.dispatch_pool_size", 2)
	v.SetDefault("pipeline.batch_size", 25)
	v.SetDefault("pipeline.search_pages", 2)
	v.SetDefault("pipeline.default_min_score", 0.5)
	v.SetDefault("pipeline.default_hours_old", 720)

	v.SetDefault("dispatch.personalize_enabled", false)
	v.SetDefault("dispatch.model", "gpt-4o-mini")
	v.SetDefault("dispatch.tiers", map[string][]string{
		"bulk":       {"instantly", "smartlead"},
		"automation": {"smartlead", "instantly"},
		"premium":    {"ses"},
	})

	v.SetDefault("rate_control_path", "config/ratecontrol.yaml")

	v.SetDefault("policy.enabled", false)
	v.SetDefault("policy.mode", "off")
	v.SetDefault("policy.dir", "config/policies")
	v.SetDefault("policy.fail_closed", false)
	v.SetDefault("policy.environment", "dev")

	v.SetDefault("streaming.ring_capacity", 256)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Validate rejects values that would make the service misbehave rather
// than fail fast, like a zero worker pool or an out-of-range score.
func (c *Config) Validate() error {
	if c.Service.HTTPPort < 1 || c.Service.HTTPPort > 65535 {
		return fmt.Errorf("service.http_port must be between 1 and 65535, got %d", c.Service.HTTPPort)
	}
	if c.Service.ShutdownGrace < 0 {
		return fmt.Errorf("service.shutdown_grace must not be negative, got %s", c.Service.ShutdownGrace)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Pipeline.PoolSize < 1 {
		return fmt.Errorf("pipeline.pool_size must be at least 1, got %d", c.Pipeline.PoolSize)
	}
	if c.Pipeline.DispatchPoolSize < 1 {
		return fmt.Errorf("pipeline.dispatch_pool_size must be at least 1, got %d", c.Pipeline.DispatchPoolSize)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.SearchPages < 1 {
		return fmt.Errorf("pipeline.search_pages must be at least 1, got %d", c.Pipeline.SearchPages)
	}
	if c.Pipeline.DefaultMinScore < 0 || c.Pipeline.DefaultMinScore > 1 {
		return fmt.Errorf("pipeline.default_min_score must be between 0 and 1, got %v", c.Pipeline.DefaultMinScore)
	}
	if c.Pipeline.DefaultHoursOld < 1 {
		return fmt.Errorf("pipeline.default_hours_old must be at least 1, got %d", c.Pipeline.DefaultHoursOld)
	}
	for provider, q := range c.Dispatch.Quotas {
		if q.Daily < 0 || q.Monthly < 0 {
			return fmt.Errorf("dispatch.quotas.%s must not be negative", provider)
		}
	}
	switch c.Policy.Mode {
	case "off", "dry-run", "enforce":
	default:
		return fmt.Errorf("policy.mode must be off, dry-run, or enforce, got %q", c.Policy.Mode)
	}
	if c.Streaming.RingCapacity < 1 {
		return fmt.Errorf("streaming.ring_capacity must be at least 1, got %d", c.Streaming.RingCapacity)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	return nil
}
