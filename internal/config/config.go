// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration. Populate through
// NewConfigFromViper so defaults, env bindings and validation all apply.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Vision  VisionConfig  `mapstructure:"vision" yaml:"vision"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Runner  RunnerConfig  `mapstructure:"runner" yaml:"runner"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// VisionConfig describes the vision inference endpoint. The endpoint speaks
// the OpenAI chat-completions dialect.
type VisionConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`

	// RateLimitRPS and RateBurst shape the shared request budget when
	// several agent loops run concurrently. Zero RPS disables limiting.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateBurst    int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// BrowserConfig holds settings for browser sessions. WebSocketURL attaches
// to an already-running browser over CDP; when empty a local headless
// instance is launched.
type BrowserConfig struct {
	WebSocketURL      string        `mapstructure:"websocket_url" yaml:"websocket_url"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// TypeDelay spaces the key events of a TYPE action.
	TypeDelay time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
	// ScrollStep is how many pixels one SCROLL action moves.
	ScrollStep int `mapstructure:"scroll_step" yaml:"scroll_step"`
}

// AgentConfig tunes the decision loop.
type AgentConfig struct {
	// HistoryWindow caps how many recent steps are described to the model.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// TransportRetries bounds backoff retries after a transport failure.
	TransportRetries int `mapstructure:"transport_retries" yaml:"transport_retries"`
	// FailureStreakLimit ends the task after this many consecutive
	// target-resolution failures.
	FailureStreakLimit int `mapstructure:"failure_streak_limit" yaml:"failure_streak_limit"`
	// NavRetries bounds attempts at the initial navigation.
	NavRetries int `mapstructure:"nav_retries" yaml:"nav_retries"`
	// ScreenshotDelay settles the page before each capture.
	ScreenshotDelay time.Duration `mapstructure:"screenshot_delay" yaml:"screenshot_delay"`
}

// RunnerConfig tunes multi-task execution.
type RunnerConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// MaxVerificationRounds bounds resume-after-verification cycles.
	MaxVerificationRounds int `mapstructure:"max_verification_rounds" yaml:"max_verification_rounds"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.log_file", "pagepilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Vision --
	v.SetDefault("vision.endpoint", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("vision.model", "gemini-2.5-flash")
	v.SetDefault("vision.api_timeout", "120s")
	v.SetDefault("vision.temperature", 0.1)
	v.SetDefault("vision.max_tokens", 2048)
	v.SetDefault("vision.rate_limit_rps", 0.0)
	v.SetDefault("vision.rate_burst", 1)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.type_delay", "50ms")
	v.SetDefault("browser.scroll_step", 300)

	// -- Agent --
	v.SetDefault("agent.history_window", 5)
	v.SetDefault("agent.transport_retries", 3)
	v.SetDefault("agent.failure_streak_limit", 3)
	v.SetDefault("agent.nav_retries", 3)
	v.SetDefault("agent.screenshot_delay", "1s")

	// -- Runner --
	v.SetDefault("runner.concurrency", 2)
	v.SetDefault("runner.max_verification_rounds", 3)
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The inference credential only ever comes from the environment.
	v.BindEnv("vision.api_key", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Vision.APIKey == "" {
		cfg.Vision.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Vision.Endpoint == "" {
		return fmt.Errorf("vision.endpoint is required")
	}
	if c.Vision.Model == "" {
		return fmt.Errorf("vision.model is required")
	}
	if c.Vision.APITimeout <= 0 {
		return fmt.Errorf("vision.api_timeout must be a positive duration")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Agent.HistoryWindow < 0 {
		return fmt.Errorf("agent.history_window must not be negative")
	}
	if c.Agent.TransportRetries < 0 {
		return fmt.Errorf("agent.transport_retries must not be negative")
	}
	if c.Agent.FailureStreakLimit <= 0 {
		return fmt.Errorf("agent.failure_streak_limit must be a positive integer")
	}
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be a positive integer")
	}
	return nil
}
