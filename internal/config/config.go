// Package config loads and validates execd kernel configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for execd.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Internal InternalConfig  `yaml:"internal"`
	Runtimes []RuntimeConfig `yaml:"runtimes"`
	Tasks    TasksConfig     `yaml:"tasks"`
	Janitor  JanitorConfig   `yaml:"janitor"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the public control-plane HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SessionSecret signs anonymous-session tokens handed to clients.
	SessionSecret string `yaml:"session_secret"`
}

// DatabaseConfig configures the embedded SQLite store.
type DatabaseConfig struct {
	// Path is the storage file location; ":memory:" for ephemeral use.
	Path string `yaml:"path"`
}

// InternalConfig configures the callback surface used by remote runtimes.
type InternalConfig struct {
	// Token is the shared-secret bearer token remote sandboxes present.
	Token string `yaml:"token"`

	// CallbackBaseURL is the address remote sandboxes reach the kernel at,
	// e.g. "http://kernel:8081". Advertised at dispatch.
	CallbackBaseURL string `yaml:"callback_base_url"`
}

// RuntimeType selects a runtime implementation.
type RuntimeType string

const (
	// RuntimeSubprocess executes task code through a local interpreter argv.
	RuntimeSubprocess RuntimeType = "subprocess"

	// RuntimeRemote dispatches task code to an out-of-process isolate host.
	RuntimeRemote RuntimeType = "remote"
)

// RuntimeConfig describes one enabled runtime in the catalog.
type RuntimeConfig struct {
	// ID is the identifier tasks select with runtime_id.
	ID string `yaml:"id"`

	Type RuntimeType `yaml:"type"`

	// Command is the interpreter argv for subprocess runtimes; the task
	// code is written to a temp file appended as the final argument.
	Command []string `yaml:"command,omitempty"`

	// URL is the sandbox host endpoint for remote runtimes.
	URL string `yaml:"url,omitempty"`

	// AuthToken authenticates the kernel to the sandbox host.
	AuthToken string `yaml:"auth_token,omitempty"`

	// RequestTimeout bounds the outbound dispatch request.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// TasksConfig holds task scheduling defaults.
type TasksConfig struct {
	// DefaultTimeout applies when a task omits timeout_ms.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// ListLimit caps ListTasks responses.
	ListLimit int `yaml:"list_limit"`
}

// JanitorConfig controls background maintenance.
type JanitorConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression; defaults to hourly.
	Schedule string `yaml:"schedule"`

	// SessionTTL prunes anonymous sessions idle longer than this.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// TaskRetention prunes terminal tasks older than this.
	TaskRetention time.Duration `yaml:"task_retention"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "execd.db",
		},
		Tasks: TasksConfig{
			DefaultTimeout: 15 * time.Second,
			ListLimit:      500,
		},
		Janitor: JanitorConfig{
			Enabled:       true,
			Schedule:      "@hourly",
			SessionTTL:    30 * 24 * time.Hour,
			TaskRetention: 90 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file, expanding ${ENV} references, and
// merges it over the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Tasks.DefaultTimeout <= 0 {
		return fmt.Errorf("tasks.default_timeout must be positive")
	}
	if c.Tasks.ListLimit <= 0 {
		return fmt.Errorf("tasks.list_limit must be positive")
	}
	seen := map[string]bool{}
	for i, rt := range c.Runtimes {
		if strings.TrimSpace(rt.ID) == "" {
			return fmt.Errorf("runtimes[%d]: id is required", i)
		}
		if seen[rt.ID] {
			return fmt.Errorf("runtimes[%d]: duplicate id %q", i, rt.ID)
		}
		seen[rt.ID] = true
		switch rt.Type {
		case RuntimeSubprocess:
			if len(rt.Command) == 0 {
				return fmt.Errorf("runtime %q: command is required for subprocess runtimes", rt.ID)
			}
		case RuntimeRemote:
			if strings.TrimSpace(rt.URL) == "" {
				return fmt.Errorf("runtime %q: url is required for remote runtimes", rt.ID)
			}
			if strings.TrimSpace(c.Internal.Token) == "" {
				return fmt.Errorf("runtime %q: internal.token is required for remote runtimes", rt.ID)
			}
		default:
			return fmt.Errorf("runtime %q: unknown type %q", rt.ID, rt.Type)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

// LogLevel maps the configured level string to a slog level name.
func (c *Config) LogLevel() string {
	if c.Logging.Level == "" {
		return "info"
	}
	return c.Logging.Level
}
