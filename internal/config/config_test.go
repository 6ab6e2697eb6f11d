package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dotcommander/storyweaver/internal/agent"
)

// clearEnv isolates a test from the developer's environment
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"STORYWEAVER_CONFIG", "STORYWEAVER_API_KEY", "STORYWEAVER_AI_PROVIDER",
		"STORYWEAVER_MODEL", "STORYWEAVER_QUALITY_THRESHOLD", "STORYWEAVER_LISTEN_ADDR",
		"STORYWEAVER_REQUEST_TIMEOUT", "STORYWEAVER_DATA_DIR", "STORYWEAVER_STORAGE_BACKEND",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.AI.APIKey = "sk-1234567890abcdef1234567890abcdef"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing API key",
			mutate:  func(c *Config) { c.AI.APIKey = "" },
			wantErr: true,
			errMsg:  "APIKey",
		},
		{
			name: "mock provider needs no key",
			mutate: func(c *Config) {
				c.AI.Provider = "mock"
				c.AI.APIKey = ""
			},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.AI.Provider = "llama" },
			wantErr: true,
			errMsg:  "Provider",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Story.QualityThreshold = 1.5 },
			wantErr: true,
			errMsg:  "QualityThreshold",
		},
		{
			name:    "zero iterations",
			mutate:  func(c *Config) { c.Story.MaxIterations = 0 },
			wantErr: true,
			errMsg:  "MaxIterations",
		},
		{
			name:    "unknown length",
			mutate:  func(c *Config) { c.Story.DefaultLength = "epic" },
			wantErr: true,
			errMsg:  "DefaultLength",
		},
		{
			name:    "request timeout too short",
			mutate:  func(c *Config) { c.Limits.RequestTimeout = time.Millisecond },
			wantErr: true,
			errMsg:  "RequestTimeout",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: true,
			errMsg:  "Backend",
		},
		{
			name:    "role temperature out of range",
			mutate:  func(c *Config) { c.Roles.Scribe.Temperature = 3 },
			wantErr: true,
			errMsg:  "Temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", t.TempDir())
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.errMsg)
			}
		})
	}
}

func TestDefaultsFillPaths(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataDir)

	cfg := Default()
	cfg.AI.Provider = "mock"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	wantDir := filepath.Join(dataDir, "storyweaver")
	if cfg.Storage.DataDir != wantDir {
		t.Errorf("DataDir = %q, want %q", cfg.Storage.DataDir, wantDir)
	}
	if cfg.Storage.DatabasePath != filepath.Join(wantDir, "stories.db") {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
}

func TestLoad(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORYWEAVER_AI_PROVIDER", "mock")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Story.QualityThreshold != 0.85 || cfg.Story.MaxIterations != 3 {
			t.Errorf("story defaults = %+v", cfg.Story)
		}
		if cfg.Limits.MaxConcurrentStories != 10 {
			t.Errorf("MaxConcurrentStories = %d, want 10", cfg.Limits.MaxConcurrentStories)
		}
		if cfg.Server.Addr != ":8000" {
			t.Errorf("Addr = %q, want :8000", cfg.Server.Addr)
		}
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		clearEnv(t)
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("Load() expected error for missing explicit file")
		}
	})

	t.Run("file then environment overrides", func(t *testing.T) {
		clearEnv(t)

		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
ai:
  provider: anthropic
  api_key: file-key
story:
  quality_threshold: 0.7
  scene_horizon: 10
limits:
  request_timeout: 5m
roles:
  scribe:
    temperature: 0.9
    max_tokens: 3000
storage:
  backend: sqlite
  cache_ttl: 2h
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("STORYWEAVER_QUALITY_THRESHOLD", "0.9")
		t.Setenv("STORYWEAVER_LISTEN_ADDR", ":9090")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.AI.APIKey != "file-key" {
			t.Errorf("APIKey = %q, want file-key", cfg.AI.APIKey)
		}
		if cfg.Story.QualityThreshold != 0.9 {
			t.Errorf("QualityThreshold = %v, want env override 0.9", cfg.Story.QualityThreshold)
		}
		if cfg.Story.SceneHorizon != 10 {
			t.Errorf("SceneHorizon = %d, want 10", cfg.Story.SceneHorizon)
		}
		if cfg.Story.MaxIterations != 3 {
			t.Errorf("MaxIterations = %d, want default 3", cfg.Story.MaxIterations)
		}
		if cfg.Limits.RequestTimeout != 5*time.Minute {
			t.Errorf("RequestTimeout = %v, want 5m", cfg.Limits.RequestTimeout)
		}
		if cfg.Storage.CacheTTL != 2*time.Hour {
			t.Errorf("CacheTTL = %v, want 2h", cfg.Storage.CacheTTL)
		}
		if cfg.Server.Addr != ":9090" {
			t.Errorf("Addr = %q, want :9090", cfg.Server.Addr)
		}

		scribe := cfg.Roles.Profiles()[agent.RoleScribe]
		if scribe.Options.Temperature != 0.9 || scribe.Options.MaxTokens != 3000 {
			t.Errorf("scribe options = %+v", scribe.Options)
		}
	})

	t.Run("provider option overrides environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORYWEAVER_AI_PROVIDER", "anthropic")

		if _, err := Load(""); err == nil {
			t.Fatal("Load() without an API key should fail for anthropic")
		}
		cfg, err := Load("", WithProvider("mock"))
		if err != nil {
			t.Fatalf("Load(WithProvider) error = %v", err)
		}
		if cfg.AI.Provider != "mock" {
			t.Errorf("Provider = %q, want mock", cfg.AI.Provider)
		}
		if got := os.Getenv("STORYWEAVER_AI_PROVIDER"); got != "anthropic" {
			t.Errorf("STORYWEAVER_AI_PROVIDER = %q, Load must not touch the environment", got)
		}
	})

	t.Run("api key fallback from provider environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORYWEAVER_AI_PROVIDER", "openai")
		t.Setenv("OPENAI_API_KEY", "openai-env-key")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.AI.APIKey != "openai-env-key" {
			t.Errorf("APIKey = %q, want openai-env-key", cfg.AI.APIKey)
		}
		if cfg.AI.BaseURL != "https://api.openai.com/v1" {
			t.Errorf("BaseURL = %q, want OpenAI default", cfg.AI.BaseURL)
		}
	})
}

func TestDefaultRoles(t *testing.T) {
	profiles := DefaultRoles().Profiles()

	tests := []struct {
		role        agent.Role
		temperature float64
		maxTokens   int
	}{
		{agent.RoleArchitect, 0.7, 2000},
		{agent.RoleScribe, 0.8, 4000},
		{agent.RoleEditor, 0.3, 2000},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			p := profiles[tt.role]
			if p.Options.Temperature != tt.temperature || p.Options.MaxTokens != tt.maxTokens {
				t.Errorf("%s options = %+v, want %v/%d", tt.role, p.Options, tt.temperature, tt.maxTokens)
			}
		})
	}
}
