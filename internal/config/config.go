// Package config loads classpulse settings from defaults, the environment
// and an optional JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"classpulse/pkg/types"
)

const envPrefix = "CLASSPULSE_"

type Config struct {
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Grading    *GradingConfig    `json:"grading"`
	Session    *SessionConfig    `json:"session"`
	Fanout     *FanoutConfig     `json:"fanout"`
	Submission *SubmissionConfig `json:"submission"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// GradingConfig points at an OpenAI-compatible chat completions provider.
// An empty APIKey or "dummy-key" selects the offline grader.
type GradingConfig struct {
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"-"`
	Timeout      time.Duration `json:"timeout"`
	DefaultModel string        `json:"default_model"`
}

type SessionConfig struct {
	AllowConcurrent bool `json:"allow_concurrent"`
}

type FanoutConfig struct {
	BufferSize int `json:"buffer_size"`
}

// SubmissionConfig limits how fast one student may submit answers.
type SubmissionConfig struct {
	RatePerMinute int `json:"rate_per_minute"`
	Burst         int `json:"burst"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/classpulse.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Grading: &GradingConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			Timeout:      20 * time.Second,
			DefaultModel: types.DefaultAIModel,
		},
		Session: &SessionConfig{},
		Fanout: &FanoutConfig{
			BufferSize: 1000,
		},
		Submission: &SubmissionConfig{
			RatePerMinute: 30,
			Burst:         5,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Grading == nil {
		return fmt.Errorf("grading configuration is required")
	}
	if c.Grading.BaseURL == "" {
		return fmt.Errorf("grading base URL cannot be empty")
	}
	if c.Grading.Timeout <= 0 {
		return fmt.Errorf("grading timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= c.Grading.Timeout {
		return fmt.Errorf("HTTP write timeout must exceed the grading timeout")
	}
	if c.Grading.DefaultModel == "" {
		return fmt.Errorf("grading default model cannot be empty")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Fanout == nil || c.Fanout.BufferSize <= 0 {
		return fmt.Errorf("fanout buffer size must be positive")
	}
	if c.Submission == nil {
		return fmt.Errorf("submission configuration is required")
	}
	if c.Submission.RatePerMinute < 0 || c.Submission.Burst < 0 {
		return fmt.Errorf("submission limits cannot be negative")
	}
	if c.Submission.RatePerMinute > 0 && c.Submission.Burst == 0 {
		return fmt.Errorf("submission burst must be positive when a rate is set")
	}

	return nil
}

// LoadDotEnv reads .env style files into the process environment. Variables
// that are already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("DATABASE_PATH", &config.Database.Path)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	envString("GRADING_BASE_URL", &config.Grading.BaseURL)
	envDuration("GRADING_TIMEOUT", &config.Grading.Timeout)
	envString("GRADING_DEFAULT_MODEL", &config.Grading.DefaultModel)
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		config.Grading.APIKey = key
	}
	envString("GRADING_API_KEY", &config.Grading.APIKey)

	envBool("ALLOW_CONCURRENT_SESSIONS", &config.Session.AllowConcurrent)
	envInt("FANOUT_BUFFER_SIZE", &config.Fanout.BufferSize)
	envInt("SUBMISSION_RATE_PER_MINUTE", &config.Submission.RatePerMinute)
	envInt("SUBMISSION_BURST", &config.Submission.Burst)
}

// Malformed values are ignored and the previous value is kept.

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// ConfigFile is the JSON layout on disk. Durations are strings such as "20s".
type ConfigFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		Host         string `json:"host"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Grading *struct {
		BaseURL      string `json:"base_url"`
		Timeout      string `json:"timeout"`
		DefaultModel string `json:"default_model"`
	} `json:"grading"`
	Session *struct {
		AllowConcurrent *bool `json:"allow_concurrent"`
	} `json:"session"`
	Fanout *struct {
		BufferSize int `json:"buffer_size"`
	} `json:"fanout"`
	Submission *struct {
		RatePerMinute *int `json:"rate_per_minute"`
		Burst         *int `json:"burst"`
	} `json:"submission"`
}

func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var parseErr error
	duration := func(field, v string, dst *time.Duration) {
		if v == "" || parseErr != nil {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			parseErr = fmt.Errorf("invalid %s %q in %s: %w", field, v, filepath, err)
			return
		}
		*dst = d
	}

	if cf.Database != nil {
		if cf.Database.Path != "" {
			config.Database.Path = cf.Database.Path
		}
		duration("database.timeout", cf.Database.Timeout, &config.Database.Timeout)
	}
	if cf.HTTP != nil {
		if cf.HTTP.Port > 0 {
			config.HTTP.Port = cf.HTTP.Port
		}
		if cf.HTTP.Host != "" {
			config.HTTP.Host = cf.HTTP.Host
		}
		duration("http.read_timeout", cf.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", cf.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if cf.WebSocket != nil {
		if cf.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = cf.WebSocket.BufferSize
		}
		duration("websocket.ping_interval", cf.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", cf.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", cf.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
	}
	if cf.Grading != nil {
		if cf.Grading.BaseURL != "" {
			config.Grading.BaseURL = cf.Grading.BaseURL
		}
		if cf.Grading.DefaultModel != "" {
			config.Grading.DefaultModel = cf.Grading.DefaultModel
		}
		duration("grading.timeout", cf.Grading.Timeout, &config.Grading.Timeout)
	}
	if cf.Session != nil && cf.Session.AllowConcurrent != nil {
		config.Session.AllowConcurrent = *cf.Session.AllowConcurrent
	}
	if cf.Fanout != nil && cf.Fanout.BufferSize > 0 {
		config.Fanout.BufferSize = cf.Fanout.BufferSize
	}
	if cf.Submission != nil {
		if cf.Submission.RatePerMinute != nil {
			config.Submission.RatePerMinute = *cf.Submission.RatePerMinute
		}
		if cf.Submission.Burst != nil {
			config.Submission.Burst = *cf.Submission.Burst
		}
	}

	return parseErr
}

// LoadConfigWithPrecedence layers defaults, then the environment, then the
// file. A file that cannot be read or parsed is skipped. The grading API key
// only ever comes from the environment.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()
	if filepath == "" {
		return config
	}

	layered := LoadFromEnv()
	if err := applyFile(layered, filepath); err != nil {
		return config
	}
	if err := layered.Validate(); err != nil {
		return config
	}
	return layered
}
