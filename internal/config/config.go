package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the chat widget coordinator.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Service     ServiceConfig             `json:"service" yaml:"service"`
	Session     SessionConfig             `json:"session" yaml:"session"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	// StorageDriver selects the durable key-value backend: sqlite3, sqlite,
	// mysql, redis or memory.
	StorageDriver string `json:"storage_driver" yaml:"storage_driver"`
}

type ServiceConfig struct {
	// Mode is "http" (talk to the chat API) or "direct" (call a model provider).
	Mode                  string `json:"mode" yaml:"mode"`
	BaseURL               string `json:"base_url" yaml:"base_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	SessionID             string `json:"session_id" yaml:"session_id"`
	Provider              string `json:"provider" yaml:"provider"`
	Model                 string `json:"model" yaml:"model"`
	Token                 string `json:"token" yaml:"token"`
	SystemPrompt          string `json:"system_prompt" yaml:"system_prompt"`
}

type SessionConfig struct {
	HistoryCapacity    int    `json:"history_capacity" yaml:"history_capacity"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	NoticeSeconds      int    `json:"notice_seconds" yaml:"notice_seconds"`
	WelcomeMessage     string `json:"welcome_message" yaml:"welcome_message"`
	ApologyMessage     string `json:"apology_message" yaml:"apology_message"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	Username        string `json:"username" yaml:"username"`
	Password        string `json:"password" yaml:"password"`
	DB              int    `json:"db" yaml:"db"`
	KeyPrefix       string `json:"key_prefix" yaml:"key_prefix"`
	PresenceChannel string `json:"presence_channel" yaml:"presence_channel"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

const (
	DefaultWelcomeMessage = "¡Hola! Soy el asistente virtual. ¿En qué puedo ayudarte hoy?"
	DefaultApologyMessage = "Lo siento, ocurrió un error. Por favor intenta nuevamente."
)

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// relative sqlite files live next to the config file
	for _, driver := range []string{"sqlite3", "sqlite"} {
		dbCfg, ok := cfg.Databases[driver]
		if !ok || dbCfg.DSN == "" || dbCfg.DSN == ":memory:" || strings.HasPrefix(dbCfg.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[driver] = dbCfg
		}
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = "127.0.0.1:8091"
	}
	if c.BasicConfig.StorageDriver == "" {
		c.BasicConfig.StorageDriver = "sqlite3"
	}
	if c.Service.Mode == "" {
		c.Service.Mode = "http"
	}
	if c.Service.BaseURL == "" {
		c.Service.BaseURL = "http://127.0.0.1:8000"
	}
	if c.Service.RequestTimeoutSeconds <= 0 {
		c.Service.RequestTimeoutSeconds = 30
	}
	if c.Session.HistoryCapacity <= 0 {
		c.Session.HistoryCapacity = 50
	}
	if c.Session.IdleTimeoutSeconds <= 0 {
		c.Session.IdleTimeoutSeconds = 60
	}
	if c.Session.NoticeSeconds <= 0 {
		c.Session.NoticeSeconds = 3
	}
	if c.Session.WelcomeMessage == "" {
		c.Session.WelcomeMessage = DefaultWelcomeMessage
	}
	if c.Session.ApologyMessage == "" {
		c.Session.ApologyMessage = DefaultApologyMessage
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/waverchat.db"}
	}
	if _, ok := c.Databases["sqlite"]; !ok {
		c.Databases["sqlite"] = DatabaseConfig{DSN: "./data/waverchat.db"}
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "waverchat:"
	}
	if c.Redis.PresenceChannel == "" {
		c.Redis.PresenceChannel = "waverchat:presence"
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Service.Mode {
	case "http", "direct":
	default:
		return fmt.Errorf("unsupported service mode: %s", c.Service.Mode)
	}
	if c.Service.Mode == "direct" && c.Service.Provider == "" {
		return fmt.Errorf("service.provider must be configured in direct mode")
	}
	switch strings.ToLower(c.BasicConfig.StorageDriver) {
	case "sqlite3", "sqlite", "redis", "memory":
	case "mysql":
		if _, ok := c.Databases["mysql"]; !ok {
			return fmt.Errorf("database config for mysql not found")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.BasicConfig.StorageDriver)
	}
	return nil
}

// RequestTimeout is the bound on one outbound chat request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.RequestTimeoutSeconds) * time.Second
}

// IdleTimeout is the presence inactivity window.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSeconds) * time.Second
}

// NoticeDuration is how long the disconnected notice stays up.
func (c *Config) NoticeDuration() time.Duration {
	return time.Duration(c.Session.NoticeSeconds) * time.Second
}
