package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultMaxBodySize int64 = 2 * 1024 * 1024 // 2MB
	DefaultConfigPath        = "config.yaml"
)

// GitHubConfig holds GitHub App credentials and platform client settings.
// Credentials come from the environment, never from YAML.
type GitHubConfig struct {
	AppID          int64         `yaml:"-"` // From Env: GITHUB_APP_ID
	PrivateKeyPath string        `yaml:"-"` // From Env: GITHUB_PRIVATE_KEY_PATH
	APIBaseURL     string        `yaml:"api_base_url"` // Override for GitHub Enterprise; empty = github.com
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TokenSkew      time.Duration `yaml:"token_skew"` // Refresh tokens this long before expiry
}

// LLMConfig holds settings for the external review/rewrite collaborator.
type LLMConfig struct {
	Model      string        `yaml:"model"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"-"` // From Env: LLM_API_KEY
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ReviewConfig holds settings for the review/autofix task runner.
type ReviewConfig struct {
	MaxConcurrentFiles int           `yaml:"max_concurrent_files"` // Bounded per-file LLM fan-out (default: 3)
	FocusAreas         []string      `yaml:"focus_areas"`
	FallbackLanguage   string        `yaml:"fallback_language"` // Language for unknown extensions
	TaskTimeout        time.Duration `yaml:"task_timeout"`      // Deadline for one background task
	DebounceTTL        time.Duration `yaml:"debounce_ttl"`      // Coalesce rapid synchronize events per PR
}

// StorageConfig holds configuration for task history and delivery dedup persistence.
type StorageConfig struct {
	Driver  string        `yaml:"driver"` // sqlite or empty (in-memory)
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds the configuration for the patchwork service
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`    // Megabytes
			MaxBackups int  `yaml:"max_backups"` // Number of old files to keep
			MaxAge     int  `yaml:"max_age"`     // Days to keep
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port             int           `yaml:"port"`
		ConcurrencyLimit int64         `yaml:"concurrency_limit"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxBodySize      int64         `yaml:"max_body_size"`
		WebhookSecret    string        `yaml:"-"` // From Env: GITHUB_WEBHOOK_SECRET
	} `yaml:"server"`

	GitHub  GitHubConfig  `yaml:"github"`
	LLM     LLMConfig     `yaml:"llm"`
	Review  ReviewConfig  `yaml:"review"`
	Storage StorageConfig `yaml:"storage"`
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML file and supplements with environment variables
func LoadConfig() *Config {
	cfg := &Config{}

	// Set some defaults before loading
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Server.Port = 8080
	cfg.Server.ConcurrencyLimit = 10
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.MaxBodySize = DefaultMaxBodySize

	cfg.GitHub.RequestTimeout = 30 * time.Second
	cfg.GitHub.TokenSkew = time.Minute

	cfg.LLM.Endpoint = "https://api.groq.com/openai/v1"
	cfg.LLM.Model = "llama-3.3-70b-versatile"
	cfg.LLM.Timeout = 120 * time.Second
	cfg.LLM.MaxRetries = 2

	cfg.Review.MaxConcurrentFiles = 3
	cfg.Review.FocusAreas = []string{"bugs", "security", "performance"}
	cfg.Review.FallbackLanguage = "Python"
	cfg.Review.TaskTimeout = 15 * time.Minute
	cfg.Review.DebounceTTL = 10 * time.Second

	// Log Rotation defaults
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	// Storage defaults
	cfg.Storage.Timeout = 5 * time.Second

	// Try to load from YAML
	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	// Always supplement/override with environment variables for secrets and critical items
	cfg.Server.WebhookSecret = getEnv("GITHUB_WEBHOOK_SECRET", cfg.Server.WebhookSecret)
	cfg.GitHub.PrivateKeyPath = getEnv("GITHUB_PRIVATE_KEY_PATH", cfg.GitHub.PrivateKeyPath)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)

	if appID := getEnv("GITHUB_APP_ID", ""); appID != "" {
		id, err := strconv.ParseInt(appID, 10, 64)
		if err != nil {
			slog.Error("invalid GITHUB_APP_ID", "value", appID)
			os.Exit(1)
		}
		cfg.GitHub.AppID = id
	}

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Log.Level = envLogLevel
	}
	if envLogFormat := os.Getenv("LOG_FORMAT"); envLogFormat != "" {
		cfg.Log.Format = envLogFormat
	}
	if envLogOutput := getEnv("LOG_OUTPUT", ""); envLogOutput != "" {
		cfg.Log.Output = envLogOutput
	}

	return cfg
}

// Validate validates the configuration.
// Missing GitHub App credentials are tolerated here: the auth manager fails
// closed at use time with a structured error, and the webhook verifier rejects
// everything while the secret is unset.
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}

	if c.Server.WebhookSecret == "" {
		slog.Warn("GITHUB_WEBHOOK_SECRET not set, all webhook deliveries will be rejected")
	}
	if c.GitHub.AppID == 0 || c.GitHub.PrivateKeyPath == "" {
		slog.Warn("GitHub App credentials not configured, platform operations will fail")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
