package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI      AIConfig      `yaml:"ai"`
	Story   StoryConfig   `yaml:"story"`
	Limits  Limits        `yaml:"limits"`
	Roles   RolesConfig   `yaml:"roles"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

type AIConfig struct {
	Provider   string        `yaml:"provider" env:"STORYWEAVER_AI_PROVIDER" validate:"oneof=anthropic openai mock"`
	APIKey     string        `yaml:"api_key" env:"STORYWEAVER_API_KEY" validate:"required_unless=Provider mock"`
	Model      string        `yaml:"model" env:"STORYWEAVER_MODEL" validate:"required"`
	BaseURL    string        `yaml:"base_url" env:"STORYWEAVER_BASE_URL" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=1s,max=1h"`
	PromptsDir string        `yaml:"prompts_dir" env:"STORYWEAVER_PROMPTS_DIR"`
}

type StoryConfig struct {
	QualityThreshold float64 `yaml:"quality_threshold" env:"STORYWEAVER_QUALITY_THRESHOLD" validate:"gte=0,lte=1"`
	MaxIterations    int     `yaml:"max_iterations" env:"STORYWEAVER_MAX_ITERATIONS" validate:"min=1,max=20"`
	SceneHorizon     int     `yaml:"scene_horizon" validate:"min=1,max=60"`
	ContinuityWindow int     `yaml:"continuity_window" validate:"min=0,max=10"`
	DefaultGenre     string  `yaml:"default_genre"`
	DefaultLength    string  `yaml:"default_length" validate:"oneof=short_story novella novel"`
	ParallelScenes   bool    `yaml:"parallel_scenes" env:"STORYWEAVER_PARALLEL_SCENES"`
	SceneWorkers     int     `yaml:"scene_workers" validate:"min=1,max=32"`
	EvaluationBudget int     `yaml:"evaluation_budget" validate:"min=1000"`
}

type StorageConfig struct {
	Backend      string        `yaml:"backend" env:"STORYWEAVER_STORAGE_BACKEND" validate:"oneof=filesystem sqlite"`
	DataDir      string        `yaml:"data_dir" env:"STORYWEAVER_DATA_DIR"`
	DatabasePath string        `yaml:"database_path" env:"STORYWEAVER_DATABASE_PATH"`
	CacheEnabled bool          `yaml:"cache_enabled" env:"STORYWEAVER_CACHE_ENABLED"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"min=1m"`
	Naming       string        `yaml:"naming" validate:"omitempty,oneof=id timestamp descriptive"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"STORYWEAVER_LISTEN_ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=1s"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"STORYWEAVER_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"STORYWEAVER_LOG_FORMAT" validate:"oneof=text json"`
}

// SlogLevel maps the configured level name to a slog.Level
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns a configuration that needs only an API key to run.
func Default() Config {
	return Config{
		AI: AIConfig{
			Provider: "anthropic",
			Model:    "claude-3-5-sonnet-20241022",
			BaseURL:  "https://api.anthropic.com/v1",
			Timeout:  120 * time.Second,
		},
		Story:  DefaultStory(),
		Limits: DefaultLimits(),
		Roles:  DefaultRoles(),
		Storage: StorageConfig{
			Backend:  "filesystem",
			CacheTTL: 24 * time.Hour,
			Naming:   "id",
		},
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, or the first location found by
// getConfigPath when path is empty. A missing file yields defaults.
// Environment variables override file values.
// LoadOption overrides loaded settings before they are validated.
type LoadOption func(*Config)

// WithProvider forces the AI provider regardless of file or environment.
func WithProvider(provider string) LoadOption {
	return func(c *Config) {
		c.AI.Provider = provider
	}
}

func Load(path string, opts ...LoadOption) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	configPath := getConfigPath(path)
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err) && path == "":
		// No config file; defaults and environment only
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.applyAPIKeyFallback()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func getConfigPath(explicit string) string {
	// 1. Command line flag
	if explicit != "" {
		return expandTilde(explicit)
	}

	// 2. Explicit config path via environment variable
	if path := os.Getenv("STORYWEAVER_CONFIG"); path != "" {
		return expandTilde(path)
	}

	// 3. XDG_CONFIG_HOME (XDG Base Directory Specification)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "storyweaver", "config.yaml")
	}

	// 4. Default to ~/.config/storyweaver/config.yaml (XDG fallback)
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "storyweaver", "config.yaml")
}

func (c *Config) applyAPIKeyFallback() {
	if c.AI.APIKey != "" && !strings.HasPrefix(c.AI.APIKey, "${") {
		return
	}
	c.AI.APIKey = ""

	primary, secondary := "ANTHROPIC_API_KEY", "OPENAI_API_KEY"
	if c.AI.Provider == "openai" {
		primary, secondary = secondary, primary
	}
	for _, name := range []string{primary, secondary} {
		if key := os.Getenv(name); key != "" {
			c.AI.APIKey = key
			return
		}
	}
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func dataHome() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "storyweaver")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "storyweaver")
}

func (c *Config) validate() error {
	// Set XDG-compliant defaults before validation
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = dataHome()
	} else {
		c.Storage.DataDir = expandTilde(c.Storage.DataDir)
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "stories.db")
	} else {
		c.Storage.DatabasePath = expandTilde(c.Storage.DatabasePath)
	}
	if c.AI.PromptsDir != "" {
		c.AI.PromptsDir = expandTilde(c.AI.PromptsDir)
	}
	if c.AI.Provider == "openai" {
		defaults := Default().AI
		if c.AI.BaseURL == defaults.BaseURL {
			c.AI.BaseURL = "https://api.openai.com/v1"
		}
		if c.AI.Model == defaults.Model {
			c.AI.Model = "gpt-4o-mini"
		}
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// Validate checks an already-built configuration, filling path defaults.
func (c *Config) Validate() error {
	return c.validate()
}
