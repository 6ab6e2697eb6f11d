package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Agent renders a task's prompt template and sends it to the generator with
// the role's persona and options.
type Agent struct {
	generator TextGenerator
	profile   Profile
	prompts   *PromptCache
	logger    *slog.Logger
}

// New creates an agent directly from a profile
func New(generator TextGenerator, prompts *PromptCache, profile Profile) *Agent {
	if prompts == nil {
		prompts = NewPromptCache("")
	}
	return &Agent{
		generator: generator,
		profile:   profile,
		prompts:   prompts,
		logger:    slog.Default().With("component", "agent", "role", string(profile.Role)),
	}
}

// Role returns the role this agent plays
func (a *Agent) Role() Role {
	return a.profile.Role
}

// Options returns the generation options used for task.
func (a *Agent) Options(task Task) GenerateOptions {
	opts := a.profile.Options
	opts.JSON = task.JSON
	return opts
}

// Run executes task with data as the template context.
func (a *Agent) Run(ctx context.Context, task Task, data any) (string, error) {
	startTime := time.Now()

	system, user, err := a.prompts.Render(task.Name, data)
	if err != nil {
		a.logger.Error("prompt rendering failed",
			"task", task.Name,
			"error", err)
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	if a.profile.Persona != "" {
		system = a.profile.Persona + "\n\n" + system
	}

	a.logger.Debug("running task",
		"task", task.Name,
		"system_length", len(system),
		"user_length", len(user),
		"json", task.JSON)

	response, err := a.generator.Generate(ctx, system, user, a.Options(task))
	if err != nil {
		a.logger.Error("task failed",
			"task", task.Name,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return "", err
	}

	a.logger.Debug("task completed",
		"task", task.Name,
		"response_length", len(response),
		"duration_ms", time.Since(startTime).Milliseconds())

	return response, nil
}
