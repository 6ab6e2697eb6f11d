package agent

import "log/slog"

// Role names one of the specialised generation roles
type Role string

const (
	RoleArchitect Role = "architect"
	RoleScribe    Role = "scribe"
	RoleEditor    Role = "editor"
)

// Task binds a prompt template to the role that runs it.
type Task struct {
	Name string
	Role Role
	JSON bool
}

var (
	TaskOutlinePlan   = Task{Name: "outline_plan", Role: RoleArchitect, JSON: true}
	TaskOutlineRefine = Task{Name: "outline_refine", Role: RoleArchitect, JSON: true}
	TaskCausalHorizon = Task{Name: "causal_horizon", Role: RoleArchitect, JSON: true}
	TaskChoiceImpact  = Task{Name: "choice_impact", Role: RoleArchitect, JSON: true}
	TaskSceneWrite    = Task{Name: "scene_write", Role: RoleScribe}
	TaskSceneRevise   = Task{Name: "scene_revise", Role: RoleEditor}
	TaskDraftEvaluate = Task{Name: "draft_evaluate", Role: RoleEditor, JSON: true}
)

// AllTasks lists every task with a prompt template
func AllTasks() []Task {
	return []Task{
		TaskOutlinePlan,
		TaskOutlineRefine,
		TaskCausalHorizon,
		TaskChoiceImpact,
		TaskSceneWrite,
		TaskSceneRevise,
		TaskDraftEvaluate,
	}
}

// Profile is the persona and default generation options for a role.
type Profile struct {
	Role    Role            `yaml:"-"`
	Persona string          `yaml:"persona"`
	Options GenerateOptions `yaml:",inline"`
}

// DefaultProfiles returns the built-in personas and options per role
func DefaultProfiles() map[Role]Profile {
	return map[Role]Profile{
		RoleArchitect: {
			Role:    RoleArchitect,
			Persona: "You are an expert story architect specializing in narrative design with causal relationships.",
			Options: GenerateOptions{Temperature: 0.7, MaxTokens: 2000},
		},
		RoleScribe: {
			Role:    RoleScribe,
			Persona: "You are a master storyteller and prose writer.",
			Options: GenerateOptions{Temperature: 0.8, MaxTokens: 4000},
		},
		RoleEditor: {
			Role:    RoleEditor,
			Persona: "You are an expert literary editor focused on story quality and consistency.",
			Options: GenerateOptions{Temperature: 0.3, MaxTokens: 2000},
		},
	}
}

// AgentFactory creates role agents sharing one generator and prompt cache
type AgentFactory struct {
	generator TextGenerator
	prompts   *PromptCache
	profiles  map[Role]Profile
	logger    *slog.Logger
}

// NewAgentFactory creates a new agent factory. Roles missing from profiles
// fall back to DefaultProfiles.
func NewAgentFactory(generator TextGenerator, prompts *PromptCache, profiles map[Role]Profile) *AgentFactory {
	merged := DefaultProfiles()
	for role, p := range profiles {
		p.Role = role
		if p.Persona == "" {
			p.Persona = merged[role].Persona
		}
		merged[role] = p
	}
	if prompts == nil {
		prompts = NewPromptCache("")
	}
	return &AgentFactory{
		generator: generator,
		prompts:   prompts,
		profiles:  merged,
		logger:    slog.Default().With("component", "agent_factory"),
	}
}

// Agent returns the agent for a role
func (f *AgentFactory) Agent(role Role) *Agent {
	profile, ok := f.profiles[role]
	if !ok {
		f.logger.Warn("unknown role, using editor profile", "role", role)
		profile = f.profiles[RoleEditor]
	}
	return &Agent{
		generator: f.generator,
		profile:   profile,
		prompts:   f.prompts,
		logger:    slog.Default().With("component", "agent", "role", string(profile.Role)),
	}
}

// Generator exposes the underlying generator
func (f *AgentFactory) Generator() TextGenerator {
	return f.generator
}
