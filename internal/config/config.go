// Package config holds all taskchat configuration. Config is loaded from a
// YAML file, then environment variables override individual fields, then
// defaults fill anything still unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all taskchat configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// External generative classification/extraction service (optional)
	GenAI GenAIConfig `yaml:"genai"`

	// Task execution backend
	Backend BackendConfig `yaml:"backend"`

	// Conversation/session settings
	Conversation ConversationConfig `yaml:"conversation"`

	// Confirmation settings
	Confirmation ConfirmationConfig `yaml:"confirmation"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// GenAIConfig configures the optional Gemini collaborator. When APIKey is
// empty the pipeline runs entirely rule-based.
type GenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// BackendConfig configures the task execution collaborator.
type BackendConfig struct {
	// DatabasePath is the SQLite file used by the local backend.
	DatabasePath string `yaml:"database_path"`
}

// ConversationConfig configures session lifecycle.
type ConversationConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ConfirmationConfig configures destructive-action confirmation lifecycle.
type ConfirmationConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8085",
		},
		GenAI: GenAIConfig{
			Model:   "gemini-2.0-flash",
			Timeout: 5 * time.Second,
		},
		Backend: BackendConfig{
			DatabasePath: "taskchat.db",
		},
		Conversation: ConversationConfig{
			SessionTTL:    24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Confirmation: ConfirmationConfig{
			TTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path. A missing file is not an error: the
// defaults (plus env overrides) are returned instead, matching how a fresh
// checkout runs without any config present.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// applyEnv overrides individual fields from the environment. Env always wins
// over file values so deployments can keep secrets out of the YAML.
func (c *Config) applyEnv() {
	if v := os.Getenv("TASKCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GenAI.APIKey = v
	}
	if v := os.Getenv("TASKCHAT_GENAI_MODEL"); v != "" {
		c.GenAI.Model = v
	}
	if v := os.Getenv("TASKCHAT_DB_PATH"); v != "" {
		c.Backend.DatabasePath = v
	}
	if v := os.Getenv("TASKCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TASKCHAT_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Conversation.SessionTTL = d
		}
	}
	if v := os.Getenv("TASKCHAT_CONFIRMATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Confirmation.TTL = d
		}
	}
}

// fillDefaults restores zero-valued fields a partial YAML file left unset.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.GenAI.Model == "" {
		c.GenAI.Model = def.GenAI.Model
	}
	if c.GenAI.Timeout <= 0 {
		c.GenAI.Timeout = def.GenAI.Timeout
	}
	if c.Backend.DatabasePath == "" {
		c.Backend.DatabasePath = def.Backend.DatabasePath
	}
	if c.Conversation.SessionTTL <= 0 {
		c.Conversation.SessionTTL = def.Conversation.SessionTTL
	}
	if c.Conversation.SweepInterval <= 0 {
		c.Conversation.SweepInterval = def.Conversation.SweepInterval
	}
	if c.Confirmation.TTL <= 0 {
		c.Confirmation.TTL = def.Confirmation.TTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}
