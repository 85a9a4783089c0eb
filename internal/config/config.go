package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// Config is the full gateway configuration, loaded from an optional YAML
// file plus PROMPTGATE_-prefixed environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

type DatabaseConfig struct {
	// Driver is "sqlite", "postgres", or "" to run memory-only.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LLMConfig struct {
	// Provider selects the upstream: "anthropic" or "openai".
	Provider        string   `mapstructure:"provider"`
	Model           string   `mapstructure:"model"`
	AnthropicAPIKey string   `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string   `mapstructure:"openai_api_key"`
	BaseURL         string   `mapstructure:"base_url"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	Temperature     *float64 `mapstructure:"temperature"`
	SystemPrompt    string   `mapstructure:"system_prompt"`
}

type ToolsConfig struct {
	Providers        []SeedProvider `mapstructure:"providers"`
	DiscoveryTimeout time.Duration  `mapstructure:"discovery_timeout"`
	MaxSteps         int            `mapstructure:"max_steps"`
}

// SeedProvider describes an MCP service registered at startup.
type SeedProvider struct {
	Name        string `mapstructure:"name"`
	URL         string `mapstructure:"url"`
	Type        string `mapstructure:"type"`
	Description string `mapstructure:"description"`
	Enabled     *bool  `mapstructure:"enabled"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "promptgate.db")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("tools.discovery_timeout", 10*time.Second)
	v.SetDefault("tools.max_steps", 10)
	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
}

// Load reads configuration from path (optional, "" skips the file) and
// the environment. Environment variables override file values, e.g.
// PROMPTGATE_SERVER_API_KEY overrides server.api_key.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROMPTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeConfig, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "failed to parse configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperrors.New(apperrors.ErrCodeConfig, "server.port must be in 1-65535", nil)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return apperrors.New(apperrors.ErrCodeConfig, "llm.provider must be anthropic or openai", nil)
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return apperrors.New(apperrors.ErrCodeConfig, "database.driver must be sqlite, postgres, or empty", nil)
	}
	if c.Tools.MaxSteps <= 0 {
		return apperrors.New(apperrors.ErrCodeConfig, "tools.max_steps must be positive", nil)
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return apperrors.New(apperrors.ErrCodeConfig, "stream.heartbeat_interval must be positive", nil)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
