package config

import (
	"time"

	"github.com/dotcommander/storyweaver/internal/agent"
)

type Limits struct {
	MaxConcurrentStories int             `yaml:"max_concurrent_stories" env:"STORYWEAVER_MAX_CONCURRENT_STORIES" validate:"min=1,max=1000"`
	RequestTimeout       time.Duration   `yaml:"request_timeout" env:"STORYWEAVER_REQUEST_TIMEOUT" validate:"min=1s,max=24h"`
	MaxPromptSize        int             `yaml:"max_prompt_size" validate:"min=100,max=1000000"`
	MaxRetries           int             `yaml:"max_retries" validate:"min=0,max=10"`
	RateLimit            RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"min=1,max=10000"`
	BurstSize         int `yaml:"burst_size" validate:"min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentStories: 10,
		RequestTimeout:       60 * time.Minute,
		MaxPromptSize:        20000,
		MaxRetries:           3,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         5,
		},
	}
}

func DefaultStory() StoryConfig {
	return StoryConfig{
		QualityThreshold: 0.85,
		MaxIterations:    3,
		SceneHorizon:     15,
		ContinuityWindow: 2,
		DefaultLength:    "short_story",
		SceneWorkers:     4,
		EvaluationBudget: 8000,
	}
}

// RoleConfig overrides the generation options of one role
type RoleConfig struct {
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"min=1,max=200000"`
	Persona     string  `yaml:"persona,omitempty"`
}

type RolesConfig struct {
	Architect RoleConfig `yaml:"architect"`
	Scribe    RoleConfig `yaml:"scribe"`
	Editor    RoleConfig `yaml:"editor"`
}

func DefaultRoles() RolesConfig {
	defaults := agent.DefaultProfiles()
	role := func(r agent.Role) RoleConfig {
		return RoleConfig{
			Temperature: defaults[r].Options.Temperature,
			MaxTokens:   defaults[r].Options.MaxTokens,
		}
	}
	return RolesConfig{
		Architect: role(agent.RoleArchitect),
		Scribe:    role(agent.RoleScribe),
		Editor:    role(agent.RoleEditor),
	}
}

// Profiles converts the role configuration into agent profiles. An empty
// persona keeps the built-in one.
func (r RolesConfig) Profiles() map[agent.Role]agent.Profile {
	build := func(role agent.Role, rc RoleConfig) agent.Profile {
		return agent.Profile{
			Role:    role,
			Persona: rc.Persona,
			Options: agent.GenerateOptions{
				Temperature: rc.Temperature,
				MaxTokens:   rc.MaxTokens,
			},
		}
	}
	return map[agent.Role]agent.Profile{
		agent.RoleArchitect: build(agent.RoleArchitect, r.Architect),
		agent.RoleScribe:    build(agent.RoleScribe, r.Scribe),
		agent.RoleEditor:    build(agent.RoleEditor, r.Editor),
	}
}
