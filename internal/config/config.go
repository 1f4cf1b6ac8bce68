package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models frontdesk.yml.
type Config struct {
	Escalation    EscalationConfig    `yaml:"escalation"`
	Storage       StorageConfig       `yaml:"storage"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Voice         VoiceConfig         `yaml:"voice"`
	Server        ServerConfig        `yaml:"server"`
}

type EscalationConfig struct {
	Delay          time.Duration `yaml:"delay"`
	FallbackAnswer string        `yaml:"fallback_answer"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	TimeoutRetries int           `yaml:"timeout_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

type StorageConfig struct {
	Backend   string         `yaml:"backend"`
	Workspace string         `yaml:"workspace"`
	DynamoDB  DynamoDBConfig `yaml:"dynamodb"`
}

type DynamoDBConfig struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	RequestsTable  string `yaml:"requests_table"`
	KnowledgeTable string `yaml:"knowledge_table"`
}

type KnowledgeConfig struct {
	// Backend overrides the storage backend for the answer cache. Empty
	// means the answer cache lives next to the help requests.
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type NotificationsConfig struct {
	Log      bool            `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type VoiceConfig struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	APISecretParam string        `yaml:"api_secret_param"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// Load reads and validates config from workspace. A missing file yields the
// defaults.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
		cfg.Storage.Workspace = workspace
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Workspace == "" {
		cfg.Storage.Workspace = workspace
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses raw YAML on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "frontdesk.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Escalation.Delay <= 0 {
		return fmt.Errorf("config.escalation.delay must be positive")
	}
	if strings.TrimSpace(c.Escalation.FallbackAnswer) == "" {
		return fmt.Errorf("config.escalation.fallback_answer is required")
	}
	if c.Escalation.SweepInterval < 0 {
		return fmt.Errorf("config.escalation.sweep_interval must not be negative")
	}
	if c.Escalation.TimeoutRetries < 0 {
		return fmt.Errorf("config.escalation.timeout_retries must not be negative")
	}
	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendDynamoDB:
		if c.Storage.DynamoDB.RequestsTable == "" {
			return fmt.Errorf("config.storage.dynamodb.requests_table is required")
		}
		if c.Storage.DynamoDB.KnowledgeTable == "" && c.Knowledge.Backend == "" {
			return fmt.Errorf("config.storage.dynamodb.knowledge_table is required")
		}
	default:
		return fmt.Errorf("config.storage.backend must be one of sqlite, dynamodb (got %q)", c.Storage.Backend)
	}
	switch c.Knowledge.Backend {
	case "", BackendSQLite, BackendDynamoDB:
		if c.Knowledge.Backend != "" && c.Knowledge.Backend != c.Storage.Backend {
			return fmt.Errorf("config.knowledge.backend %s requires storage.backend %s", c.Knowledge.Backend, c.Knowledge.Backend)
		}
	case BackendRedis:
		if c.Knowledge.Redis.Addr == "" {
			return fmt.Errorf("config.knowledge.redis.addr is required")
		}
	default:
		return fmt.Errorf("config.knowledge.backend must be empty or redis (got %q)", c.Knowledge.Backend)
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.notifications.webhooks[%d] has empty event type", i)
			}
		}
	}
	if c.Voice.TokenTTL < 0 {
		return fmt.Errorf("config.voice.token_ttl must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// ApplyEnv applies the deployment variables the service has always
// honoured: HELP_REQUEST_TIMEOUT_MINUTES and PORT.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("HELP_REQUEST_TIMEOUT_MINUTES")); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return fmt.Errorf("HELP_REQUEST_TIMEOUT_MINUTES must be a positive integer (got %q)", v)
		}
		c.Escalation.Delay = time.Duration(minutes) * time.Minute
	}
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT must be numeric (got %q)", v)
		}
		host := "0.0.0.0"
		if h, _, ok := strings.Cut(c.Server.Addr, ":"); ok && h != "" {
			host = h
		}
		c.Server.Addr = host + ":" + v
	}
	return nil
}

const defaultTemplate = `escalation:
  delay: 5m
  fallback_answer: "Let me check with my supervisor and get back to you."
  sweep_interval: 1m
  timeout_retries: 3
  retry_backoff: 200ms

storage:
  backend: sqlite
  dynamodb:
    requests_table: frontdesk-help-requests
    knowledge_table: frontdesk-knowledge

knowledge:
  redis:
    key: frontdesk:knowledge

notifications:
  log: true

voice:
  token_ttl: 6h

server:
  addr: 127.0.0.1:5000
  base_path: /api
`
