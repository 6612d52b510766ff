// Package config provides configuration management for AgentMux.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for AgentMux.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Home    HomeConfig    `mapstructure:"home"`
	Tmux    TmuxConfig    `mapstructure:"tmux"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	WebPort      int    `mapstructure:"webPort"`
	MCPPort      int    `mapstructure:"mcpPort"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// HomeConfig holds the process-wide snapshot directory.
type HomeConfig struct {
	// Dir is the directory holding all snapshot files (default: ~/.agentmux).
	Dir string `mapstructure:"dir"`
}

// TmuxConfig holds terminal multiplexer driver configuration.
type TmuxConfig struct {
	Binary         string `mapstructure:"binary"`         // tmux binary name or path
	CommandTimeout int    `mapstructure:"commandTimeout"` // per-invocation timeout in seconds
	CaptureTimeout int    `mapstructure:"captureTimeout"` // capture-pane timeout in seconds
	CaptureLines   int    `mapstructure:"captureLines"`   // default lines for capture-pane
}

// AgentConfig holds supervisor and workflow configuration.
type AgentConfig struct {
	// RegistrationTimeout is the overall deadline for the escalation protocol, in seconds.
	RegistrationTimeout int `mapstructure:"registrationTimeout"`

	// RegistrationPollInterval is the cadence of registration checks, in seconds.
	RegistrationPollInterval int `mapstructure:"registrationPollInterval"`

	// RuntimeFreshness is how recent a runtime record must be to count as
	// registration evidence, in seconds.
	RuntimeFreshness int `mapstructure:"runtimeFreshness"`

	// CreateBatchSize caps concurrent session creations during a team start.
	CreateBatchSize int `mapstructure:"createBatchSize"`

	// CreateBatchDelay is the pause between creation batches, in seconds.
	CreateBatchDelay int `mapstructure:"createBatchDelay"`

	// DefaultCheckInterval is the default check-in cadence, in minutes.
	DefaultCheckInterval int `mapstructure:"defaultCheckInterval"`

	// AutoCommitInterval is the commit reminder cadence, in minutes. Zero disables it.
	AutoCommitInterval int `mapstructure:"autoCommitInterval"`

	// TPMFileGating enables the file-gated TPM workflow instead of scheduled
	// check-ins for the tpm role. Disabled by default.
	TPMFileGating bool `mapstructure:"tpmFileGating"`
}

// MonitorConfig holds activity monitor configuration.
type MonitorConfig struct {
	Interval     int  `mapstructure:"interval"`     // poll interval in seconds
	CaptureLines int  `mapstructure:"captureLines"` // pane lines inspected per poll
	WatchTasks   bool `mapstructure:"watchTasks"`   // fsnotify watcher on task trees
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// CommandTimeoutDuration returns the tmux invocation timeout as a time.Duration.
func (t *TmuxConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(t.CommandTimeout) * time.Second
}

// CaptureTimeoutDuration returns the capture-pane timeout as a time.Duration.
func (t *TmuxConfig) CaptureTimeoutDuration() time.Duration {
	return time.Duration(t.CaptureTimeout) * time.Second
}

// RegistrationTimeoutDuration returns the escalation deadline as a time.Duration.
func (a *AgentConfig) RegistrationTimeoutDuration() time.Duration {
	return time.Duration(a.RegistrationTimeout) * time.Second
}

// RegistrationPollDuration returns the registration poll cadence as a time.Duration.
func (a *AgentConfig) RegistrationPollDuration() time.Duration {
	return time.Duration(a.RegistrationPollInterval) * time.Second
}

// RuntimeFreshnessDuration returns the registration freshness window as a time.Duration.
func (a *AgentConfig) RuntimeFreshnessDuration() time.Duration {
	return time.Duration(a.RuntimeFreshness) * time.Second
}

// CreateBatchDelayDuration returns the inter-batch pause as a time.Duration.
func (a *AgentConfig) CreateBatchDelayDuration() time.Duration {
	return time.Duration(a.CreateBatchDelay) * time.Second
}

// IntervalDuration returns the monitor poll interval as a time.Duration.
func (m *MonitorConfig) IntervalDuration() time.Duration {
	return time.Duration(m.Interval) * time.Second
}

// ExpandedHomeDir returns the home directory with ~ expanded, including the
// trailing .agentmux component.
func (h *HomeConfig) ExpandedHomeDir() (string, error) {
	path := h.Dir
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if env := os.Getenv("AGENTMUX_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.webPort", 8788)
	v.SetDefault("server.mcpPort", 8789)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Home defaults
	v.SetDefault("home.dir", "~/.agentmux")

	// Tmux defaults
	v.SetDefault("tmux.binary", "tmux")
	v.SetDefault("tmux.commandTimeout", 10)
	v.SetDefault("tmux.captureTimeout", 5)
	v.SetDefault("tmux.captureLines", 50)

	// Agent defaults
	v.SetDefault("agent.registrationTimeout", 90)
	v.SetDefault("agent.registrationPollInterval", 2)
	v.SetDefault("agent.runtimeFreshness", 60)
	v.SetDefault("agent.createBatchSize", 2)
	v.SetDefault("agent.createBatchDelay", 1)
	v.SetDefault("agent.defaultCheckInterval", 15)
	v.SetDefault("agent.autoCommitInterval", 30)
	v.SetDefault("agent.tpmFileGating", false)

	// Monitor defaults
	v.SetDefault("monitor.interval", 15)
	v.SetDefault("monitor.captureLines", 50)
	v.SetDefault("monitor.watchTasks", false)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentmux")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTMUX_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/agentmux/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	_ = v.BindEnv("server.webPort", "AGENTMUX_WEB_PORT")
	_ = v.BindEnv("server.mcpPort", "AGENTMUX_MCP_PORT")
	_ = v.BindEnv("home.dir", "AGENTMUX_HOME")
	_ = v.BindEnv("agent.defaultCheckInterval", "AGENTMUX_DEFAULT_CHECK_INTERVAL")
	_ = v.BindEnv("agent.autoCommitInterval", "AGENTMUX_AUTO_COMMIT_INTERVAL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentmux/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.WebPort <= 0 || cfg.Server.WebPort > 65535 {
		errs = append(errs, "server.webPort must be between 1 and 65535")
	}
	if cfg.Server.MCPPort <= 0 || cfg.Server.MCPPort > 65535 {
		errs = append(errs, "server.mcpPort must be between 1 and 65535")
	}
	if cfg.Home.Dir == "" {
		errs = append(errs, "home.dir must not be empty")
	}
	if cfg.Tmux.Binary == "" {
		errs = append(errs, "tmux.binary must not be empty")
	}
	if cfg.Agent.RegistrationTimeout <= 0 {
		errs = append(errs, "agent.registrationTimeout must be positive")
	}
	if cfg.Agent.CreateBatchSize <= 0 {
		errs = append(errs, "agent.createBatchSize must be positive")
	}
	if cfg.Monitor.Interval <= 0 {
		errs = append(errs, "monitor.interval must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
