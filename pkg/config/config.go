// Package config loads and validates chauffeur configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultHost              = "localhost"
	DefaultPort              = 9222
	DefaultConnectTimeoutMs  = 10000
	DefaultCommandTimeoutMs  = 30000
	DefaultEnableTimeoutMs   = 5000
	DefaultConsoleLogCap     = 500
	DefaultNetworkLogCap     = 500
	DefaultEventQueueSize    = 256
	DefaultNavigateSettleMs  = 2000
	DefaultPollIntervalMs    = 500
	DefaultScreenshotQuality = 80
	DefaultMaxIterations     = 10
	DefaultDecisionWaitMs    = 120000
	DefaultArtifactDir       = ".chauffeur"
)

// EndpointConfig locates the browser debugging endpoint.
type EndpointConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

// ChannelConfig tunes the command/event channel.
type ChannelConfig struct {
	CommandTimeoutMs int `yaml:"command_timeout_ms"`
	EnableTimeoutMs  int `yaml:"enable_timeout_ms"`
	ConsoleLogCap    int `yaml:"console_log_cap"`
	NetworkLogCap    int `yaml:"network_log_cap"`
	EventQueueSize   int `yaml:"event_queue_size"`
}

// ActionsConfig tunes the high-level action library.
type ActionsConfig struct {
	NavigateSettleMs  int `yaml:"navigate_settle_ms"`
	PollIntervalMs    int `yaml:"poll_interval_ms"`
	ScreenshotQuality int `yaml:"screenshot_quality"`
	ViewportWidth     int `yaml:"viewport_width"`
	ViewportHeight    int `yaml:"viewport_height"`
}

// LoopConfig tunes the task loop coordinator and its file contract.
type LoopConfig struct {
	ArtifactDir    string `yaml:"artifact_dir"`
	MaxIterations  int    `yaml:"max_iterations"`
	DecisionWaitMs int    `yaml:"decision_wait_ms"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Bind string `yaml:"bind"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the complete chauffeur configuration.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint"`
	Channel  ChannelConfig  `yaml:"channel"`
	Actions  ActionsConfig  `yaml:"actions"`
	Loop     LoopConfig     `yaml:"loop"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DefaultConfig returns the recommended defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Host:             DefaultHost,
			Port:             DefaultPort,
			ConnectTimeoutMs: DefaultConnectTimeoutMs,
		},
		Channel: ChannelConfig{
			CommandTimeoutMs: DefaultCommandTimeoutMs,
			EnableTimeoutMs:  DefaultEnableTimeoutMs,
			ConsoleLogCap:    DefaultConsoleLogCap,
			NetworkLogCap:    DefaultNetworkLogCap,
			EventQueueSize:   DefaultEventQueueSize,
		},
		Actions: ActionsConfig{
			NavigateSettleMs:  DefaultNavigateSettleMs,
			PollIntervalMs:    DefaultPollIntervalMs,
			ScreenshotQuality: DefaultScreenshotQuality,
			ViewportWidth:     1280,
			ViewportHeight:    720,
		},
		Loop: LoopConfig{
			ArtifactDir:    DefaultArtifactDir,
			MaxIterations:  DefaultMaxIterations,
			DecisionWaitMs: DefaultDecisionWaitMs,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layered over defaults. A missing file
// is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("CHAUFFEUR_DEBUG_HOST"); host != "" {
		c.Endpoint.Host = host
	}
	if port := os.Getenv("CHAUFFEUR_DEBUG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Endpoint.Port = p
		}
	}
	if dir := os.Getenv("CHAUFFEUR_ARTIFACT_DIR"); dir != "" {
		c.Loop.ArtifactDir = dir
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Endpoint.Host == "" {
		return fmt.Errorf("endpoint.host is required")
	}
	if c.Endpoint.Port <= 0 || c.Endpoint.Port > 65535 {
		return fmt.Errorf("endpoint.port out of range: %d", c.Endpoint.Port)
	}
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("loop.max_iterations must be positive")
	}
	if c.Channel.EventQueueSize <= 0 {
		return fmt.Errorf("channel.event_queue_size must be positive")
	}
	if q := c.Actions.ScreenshotQuality; q < 1 || q > 100 {
		return fmt.Errorf("actions.screenshot_quality out of range: %d", q)
	}
	return nil
}

// DebugAddr returns the host:port of the debugging endpoint.
func (c *Config) DebugAddr() string {
	return net.JoinHostPort(c.Endpoint.Host, strconv.Itoa(c.Endpoint.Port))
}

// ConnectTimeout returns the bounded connect timeout.
func (e EndpointConfig) ConnectTimeout() time.Duration {
	if e.ConnectTimeoutMs <= 0 {
		return DefaultConnectTimeoutMs * time.Millisecond
	}
	return time.Duration(e.ConnectTimeoutMs) * time.Millisecond
}

// CommandTimeout returns the default per-command timeout.
func (c ChannelConfig) CommandTimeout() time.Duration {
	if c.CommandTimeoutMs <= 0 {
		return DefaultCommandTimeoutMs * time.Millisecond
	}
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

// EnableTimeout returns the per-domain handshake timeout.
func (c ChannelConfig) EnableTimeout() time.Duration {
	if c.EnableTimeoutMs <= 0 {
		return DefaultEnableTimeoutMs * time.Millisecond
	}
	return time.Duration(c.EnableTimeoutMs) * time.Millisecond
}

// NavigateSettle returns the post-navigation settle interval.
func (a ActionsConfig) NavigateSettle() time.Duration {
	if a.NavigateSettleMs < 0 {
		return 0
	}
	if a.NavigateSettleMs == 0 {
		return DefaultNavigateSettleMs * time.Millisecond
	}
	return time.Duration(a.NavigateSettleMs) * time.Millisecond
}

// PollInterval returns the wait-for-selector poll interval.
func (a ActionsConfig) PollInterval() time.Duration {
	if a.PollIntervalMs <= 0 {
		return DefaultPollIntervalMs * time.Millisecond
	}
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// DecisionWait returns the per-iteration decision wait timeout.
func (l LoopConfig) DecisionWait() time.Duration {
	if l.DecisionWaitMs <= 0 {
		return DefaultDecisionWaitMs * time.Millisecond
	}
	return time.Duration(l.DecisionWaitMs) * time.Millisecond
}

// StateFile returns the path of the atomically overwritten state file.
func (l LoopConfig) StateFile() string {
	return filepath.Join(l.ArtifactDir, "browser_state.json")
}

// DecisionFile returns the path of the externally written action batch file.
func (l LoopConfig) DecisionFile() string {
	return filepath.Join(l.ArtifactDir, "actions.json")
}

// ScreenshotsDir returns the per-iteration screenshot directory.
func (l LoopConfig) ScreenshotsDir() string {
	return filepath.Join(l.ArtifactDir, "screenshots")
}
