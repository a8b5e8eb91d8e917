package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultProviderTimeout    = 60
	DefaultStreamIdleTimeout  = 30
	MaxProviderTimeoutSeconds = 300
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Usage     UsageConfig      `mapstructure:"usage"`
	Transport TransportConfig  `mapstructure:"transport"`
	Tracing   TracingConfig    `mapstructure:"tracing"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// DebugAddr serves expvar on a separate listener when set.
	DebugAddr string `mapstructure:"debug_addr"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// UsageConfig selects where per-call usage records go: "none", "sqlite" or "redis".
type UsageConfig struct {
	Sink          string        `mapstructure:"sink" validate:"oneof=none sqlite redis"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	Stream        string        `mapstructure:"stream"`
	StreamMaxLen  int64         `mapstructure:"stream_max_len" validate:"min=0"`
	BatchSize     int           `mapstructure:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type TransportConfig struct {
	MaxIdleConnsPerHost int   `mapstructure:"max_idle_conns_per_host"`
	MaxBodyBytes        int64 `mapstructure:"max_body_bytes"`
}

// TracingConfig controls span export. Spans are always recorded; Export
// writes them to stdout.
type TracingConfig struct {
	Export      bool    `mapstructure:"export"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ProviderConfig is one upstream endpoint. Type names the codec; Config
// carries codec options such as "version", "organization" or
// "split_think_tags". Timeouts are in seconds.
type ProviderConfig struct {
	ID                string            `mapstructure:"id" validate:"required"`
	Type              string            `mapstructure:"type" validate:"required"`
	Name              string            `mapstructure:"name"`
	APIKey            string            `mapstructure:"api_key"`
	BaseURL           string            `mapstructure:"base_url" validate:"omitempty,url"`
	AuthScheme        string            `mapstructure:"auth_scheme"`
	Timeout           int               `mapstructure:"timeout" validate:"min=1,max=300"`
	StreamIdleTimeout int               `mapstructure:"stream_idle_timeout" validate:"min=1,max=300"`
	Models            []string          `mapstructure:"models"`
	Config            map[string]string `mapstructure:"config"`
	Headers           map[string]string `mapstructure:"headers"`
	Enabled           bool              `mapstructure:"enabled"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.debug_addr", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("usage.sink", "none")
	v.SetDefault("usage.sqlite_path", "prism.db")
	v.SetDefault("usage.stream", "prism:usage")
	v.SetDefault("usage.stream_max_len", 100000)
	v.SetDefault("usage.batch_size", 50)
	v.SetDefault("usage.flush_interval", 5*time.Second)
	v.SetDefault("transport.max_idle_conns_per_host", 32)
	v.SetDefault("transport.max_body_bytes", 32<<20)
	v.SetDefault("tracing.export", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.APIKey = resolveSecret(v, p.APIKey)
		if p.Timeout == 0 {
			p.Timeout = DefaultProviderTimeout
		}
		if p.StreamIdleTimeout == 0 {
			p.StreamIdleTimeout = DefaultStreamIdleTimeout
		}
		if p.Name == "" {
			p.Name = p.ID
		}
	}

	return &cfg, nil
}

// resolveSecret expands the "ENV:VAR" indirection used for api keys.
func resolveSecret(v *viper.Viper, raw string) string {
	if !strings.HasPrefix(raw, "ENV:") {
		return raw
	}
	envVar := strings.TrimPrefix(raw, "ENV:")
	// Check process environment first (explicit override)
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v.GetString(envVar)
}

func (p ProviderConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

func (p ProviderConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(p.StreamIdleTimeout) * time.Second
}
