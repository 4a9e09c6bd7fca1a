package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level hub configuration.
type Config struct {
	Routing  RoutingConfig  `yaml:"routing"`
	Cache    CacheConfig    `yaml:"cache"`
	Context  ContextConfig  `yaml:"context"`
	Crews    CrewsConfig    `yaml:"crews"`
	Metadata MetadataConfig `yaml:"metadata"`
	Events   EventsConfig   `yaml:"events"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// RoutingConfig holds tenant/domain resolution settings.
type RoutingConfig struct {
	// AccountDomains maps sourceAccountId → domain (most specific).
	AccountDomains map[string]string `yaml:"account_domains"`
	// ChannelDomains maps sourceChannelId → domain.
	ChannelDomains map[string]string `yaml:"channel_domains"`
	// AccountTenants maps sourceAccountId → tenant for accounts whose
	// tenant is not the account ID itself.
	AccountTenants map[string]string `yaml:"account_tenants,omitempty"`
	// FallbackDomain is the global default used when no mapping matches.
	FallbackDomain string `yaml:"fallback_domain"`
	// AllowFallback permits routing through the fallback domain. When
	// false, an unmapped key is a hard resolution failure.
	AllowFallback bool `yaml:"allow_fallback"`
	// MessageTimeout is the overall per-message processing deadline.
	MessageTimeout time.Duration `yaml:"message_timeout"`
	// TenantRatePerSec and TenantBurst bound inbound throughput per
	// tenant. Zero disables rate limiting.
	TenantRatePerSec float64 `yaml:"tenant_rate_per_sec"`
	TenantBurst      int     `yaml:"tenant_burst"`
}

// CacheConfig holds tiered cache settings.
type CacheConfig struct {
	LocalTTL        time.Duration `yaml:"local_ttl"`
	LocalMaxEntries int           `yaml:"local_max_entries"`
	RedisURL        string        `yaml:"redis_url"` // empty = tier 2 disabled
	RedisTTL        time.Duration `yaml:"redis_ttl"`
	KeyPrefix       string        `yaml:"key_prefix"`
}

// ContextConfig holds conversation context settings.
type ContextConfig struct {
	MaxTurns      int           `yaml:"max_turns"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CrewsConfig holds crew materialization settings.
type CrewsConfig struct {
	ConfigDir    string        `yaml:"config_dir"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
}

// MetadataConfig holds messaging-hub metadata provider settings.
type MetadataConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EventsConfig holds AMQP routing-event publisher settings.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() *Config {
	return &Config{
		Routing: RoutingConfig{
			AllowFallback:  true,
			FallbackDomain: "_default",
			MessageTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			LocalTTL:        5 * time.Minute,
			LocalMaxEntries: 1024,
			RedisTTL:        30 * time.Minute,
			KeyPrefix:       "hub",
		},
		Context: ContextConfig{
			MaxTurns:      40,
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Crews: CrewsConfig{
			ConfigDir:    "./config/domains",
			BuildTimeout: 10 * time.Second,
		},
		Metadata: MetadataConfig{
			Timeout: 5 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads the YAML config at path, applies env overrides, and validates.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies HUB_* environment variables over cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HUB_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("HUB_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("HUB_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("HUB_AMQP_URL"); v != "" {
		cfg.Events.AMQPURL = v
		cfg.Events.Enabled = true
	}
	if v := os.Getenv("HUB_FALLBACK_DOMAIN"); v != "" {
		cfg.Routing.FallbackDomain = v
	}
	if v := os.Getenv("HUB_ALLOW_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Routing.AllowFallback = b
		}
	}
	if v := os.Getenv("HUB_CREWS_CONFIG_DIR"); v != "" {
		cfg.Crews.ConfigDir = v
	}
	if v := os.Getenv("HUB_METADATA_TOKEN"); v != "" {
		cfg.Metadata.AccessToken = v
	}
}

// Validate checks cross-field constraints that YAML parsing cannot express.
func Validate(cfg *Config) error {
	if cfg.Routing.AllowFallback && cfg.Routing.FallbackDomain == "" {
		return fmt.Errorf("routing: allow_fallback requires fallback_domain")
	}
	if cfg.Routing.MessageTimeout <= 0 {
		return fmt.Errorf("routing: message_timeout must be positive")
	}
	if cfg.Context.MaxTurns < 0 {
		return fmt.Errorf("context: max_turns must not be negative")
	}
	if cfg.Context.IdleTTL <= 0 {
		return fmt.Errorf("context: idle_ttl must be positive")
	}
	if cfg.Context.SweepInterval <= 0 {
		return fmt.Errorf("context: sweep_interval must be positive")
	}
	if cfg.Cache.LocalMaxEntries <= 0 {
		return fmt.Errorf("cache: local_max_entries must be positive")
	}
	if cfg.Crews.ConfigDir == "" {
		return fmt.Errorf("crews: config_dir must be set")
	}
	if cfg.Crews.BuildTimeout <= 0 {
		return fmt.Errorf("crews: build_timeout must be positive")
	}
	if cfg.Metadata.Enabled && cfg.Metadata.BaseURL == "" {
		return fmt.Errorf("metadata: enabled requires base_url")
	}
	if cfg.Events.Enabled {
		if cfg.Events.AMQPURL == "" {
			return fmt.Errorf("events: enabled requires amqp_url")
		}
		if cfg.Events.Exchange == "" {
			cfg.Events.Exchange = "hub.events"
		}
	}
	return nil
}
