// Package fiction implements the generator-backed pipeline stages: outline
// planning, scene drafting, quality evaluation and revision.
package fiction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dotcommander/storyweaver/internal/agent"
	"github.com/dotcommander/storyweaver/internal/core"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase"
)

// DefaultSceneHorizon caps the number of scenes an outline may plan
const DefaultSceneHorizon = 15

// OutlineBuilder turns a prompt into a structured Outline using the architect role.
type OutlineBuilder struct {
	phase.BasePhase
	agent   *agent.Agent
	horizon int
}

type OutlineOption func(*outlineConfig)

type outlineConfig struct {
	horizon int
	base    []phase.BasePhaseOption
}

// WithSceneHorizon sets the maximum number of planned scenes
func WithSceneHorizon(n int) OutlineOption {
	return func(c *outlineConfig) {
		if n > 0 {
			c.horizon = n
		}
	}
}

func WithOutlineLogger(logger *slog.Logger) OutlineOption {
	return func(c *outlineConfig) {
		c.base = append(c.base, phase.WithLogger(logger))
	}
}

func NewOutlineBuilder(architect *agent.Agent, opts ...OutlineOption) *OutlineBuilder {
	cfg := outlineConfig{horizon: DefaultSceneHorizon}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OutlineBuilder{
		BasePhase: phase.NewBasePhase("outline_builder", cfg.base...),
		agent:     architect,
		horizon:   cfg.horizon,
	}
}

func (b *OutlineBuilder) Horizon() int {
	return b.horizon
}

// PlanRequest is the input to Build. PriorContext is passed to the
// generator verbatim as background.
type PlanRequest struct {
	Prompt       string
	Genre        string
	PriorContext map[string]any
}

// Plan builds an outline for prompt with no genre preference.
func (b *OutlineBuilder) Plan(ctx context.Context, prompt string, priorContext map[string]any) (domain.Outline, error) {
	return b.Build(ctx, PlanRequest{Prompt: prompt, PriorContext: priorContext})
}

// Build asks the generator for an outline and parses it. A response that
// does not parse or fails structural checks is a MalformedOutlineError;
// nothing is defaulted.
func (b *OutlineBuilder) Build(ctx context.Context, req PlanRequest) (domain.Outline, error) {
	if err := phase.ValidateText("prompt", req.Prompt, 0); err != nil {
		return domain.Outline{}, err
	}
	if err := b.ValidateContext(ctx); err != nil {
		return domain.Outline{}, err
	}

	var prior string
	if len(req.PriorContext) > 0 {
		data, err := json.Marshal(req.PriorContext)
		if err != nil {
			return domain.Outline{}, core.NewValidationError("story_bible", "cannot be encoded as JSON", nil)
		}
		prior = string(data)
	}

	startTime := time.Now()
	b.LogStart(ctx, "outline planning", "prompt_length", len(req.Prompt), "horizon", b.horizon)

	response, err := b.agent.Run(ctx, agent.TaskOutlinePlan, map[string]any{
		"Prompt":       strings.TrimSpace(req.Prompt),
		"Genre":        strings.TrimSpace(req.Genre),
		"PriorContext": prior,
		"Horizon":      b.horizon,
	})
	if err != nil {
		err = b.GenerationFailure(err)
		b.LogError(ctx, "outline planning", err, time.Since(startTime))
		return domain.Outline{}, err
	}

	outline, err := b.parseOutline(response)
	if err != nil {
		b.LogError(ctx, "outline planning", err, time.Since(startTime))
		return domain.Outline{}, err
	}

	b.LogComplete(ctx, "outline planning", time.Since(startTime),
		"title", outline.Title,
		"scene_count", len(outline.Scenes),
		"causal_links", len(outline.CausalChains))

	return outline, nil
}

// Refine asks the generator to rework outline according to feedback. The
// causal chains of outline are kept unless the feedback concerns causality.
// outline itself is never modified.
func (b *OutlineBuilder) Refine(ctx context.Context, outline domain.Outline, feedback string) (domain.Outline, error) {
	if err := phase.ValidateText("feedback", feedback, 0); err != nil {
		return domain.Outline{}, err
	}
	if err := b.ValidateContext(ctx); err != nil {
		return domain.Outline{}, err
	}

	prior, err := json.Marshal(outline)
	if err != nil {
		return domain.Outline{}, fmt.Errorf("encoding outline: %w", err)
	}

	preserve := !IsCausalFeedback(feedback)
	startTime := time.Now()
	b.LogStart(ctx, "outline refinement", "preserve_causality", preserve)

	response, err := b.agent.Run(ctx, agent.TaskOutlineRefine, map[string]any{
		"Outline":           string(prior),
		"Feedback":          strings.TrimSpace(feedback),
		"Horizon":           b.horizon,
		"PreserveCausality": preserve,
	})
	if err != nil {
		err = b.GenerationFailure(err)
		b.LogError(ctx, "outline refinement", err, time.Since(startTime))
		return domain.Outline{}, err
	}

	refined, err := b.parseOutline(response)
	if err != nil {
		b.LogError(ctx, "outline refinement", err, time.Since(startTime))
		return domain.Outline{}, err
	}

	if preserve {
		refined.CausalChains = domain.CloneLinks(outline.CausalChains)
	}

	b.LogComplete(ctx, "outline refinement", time.Since(startTime),
		"title", refined.Title,
		"scene_count", len(refined.Scenes))

	return refined, nil
}

var causalFeedbackPattern = regexp.MustCompile(`(?i)\b(causal\w*|caus(e|es|ed|ing)|consequences?|dependenc(y|ies)|depends?|timelines?)\b`)

// IsCausalFeedback reports whether feedback talks about the causal
// structure of the story.
func IsCausalFeedback(feedback string) bool {
	return causalFeedbackPattern.MatchString(feedback)
}

func (b *OutlineBuilder) parseOutline(response string) (domain.Outline, error) {
	cleaned := phase.CleanJSONResponse(response)

	var outline domain.Outline
	if err := phase.DecodeStrict(cleaned, &outline); err != nil {
		return domain.Outline{}, core.NewMalformedOutlineError("response is not an outline object", cleaned, err)
	}
	if err := phase.ValidateStruct(outline); err != nil {
		return domain.Outline{}, core.NewMalformedOutlineError("outline failed structural checks", cleaned, err)
	}

	seen := make(map[string]struct{}, len(outline.CausalChains))
	for _, link := range outline.CausalChains {
		if _, dup := seen[link.ID]; dup {
			return domain.Outline{}, core.NewMalformedOutlineError(
				fmt.Sprintf("duplicate causal link id %q", link.ID), cleaned, nil)
		}
		seen[link.ID] = struct{}{}
	}

	if len(outline.Scenes) > b.horizon {
		b.Logger().Debug("truncating outline to scene horizon",
			"planned", len(outline.Scenes),
			"horizon", b.horizon)
		outline.Scenes = outline.Scenes[:b.horizon]
	}

	return outline.Normalize(), nil
}

// Consequence is one projected effect of a choice.
type Consequence struct {
	Description string  `json:"description"`
	Likelihood  float64 `json:"likelihood"`
	SceneOffset int     `json:"scene_offset"`
}

// HorizonProjection is the forecast for a choice point within the scene horizon.
type HorizonProjection struct {
	ChoicePoint  string        `json:"choice_point"`
	Horizon      int           `json:"horizon"`
	Consequences []Consequence `json:"consequences"`
}

// SimulateCausalHorizon projects the consequences of choicePoint over the
// builder's scene horizon. Consequences outside the horizon are dropped and
// likelihoods are clamped to [0, 1].
func (b *OutlineBuilder) SimulateCausalHorizon(ctx context.Context, outline domain.Outline, choicePoint string) (HorizonProjection, error) {
	if err := phase.ValidateText("choice_point", choicePoint, 0); err != nil {
		return HorizonProjection{}, err
	}
	if err := b.ValidateContext(ctx); err != nil {
		return HorizonProjection{}, err
	}

	data, err := json.Marshal(outline)
	if err != nil {
		return HorizonProjection{}, fmt.Errorf("encoding outline: %w", err)
	}

	response, err := b.agent.Run(ctx, agent.TaskCausalHorizon, map[string]any{
		"Outline":     string(data),
		"ChoicePoint": strings.TrimSpace(choicePoint),
		"Horizon":     b.horizon,
	})
	if err != nil {
		return HorizonProjection{}, b.GenerationFailure(err)
	}

	cleaned := phase.CleanJSONResponse(response)
	var parsed struct {
		Consequences []Consequence `json:"consequences"`
	}
	if err := phase.DecodeLenient(cleaned, &parsed); err != nil {
		return HorizonProjection{}, core.NewMalformedOutlineError("response is not a horizon projection", cleaned, err)
	}

	projection := HorizonProjection{
		ChoicePoint:  strings.TrimSpace(choicePoint),
		Horizon:      b.horizon,
		Consequences: make([]Consequence, 0, len(parsed.Consequences)),
	}
	for _, c := range parsed.Consequences {
		if c.SceneOffset < 0 || c.SceneOffset > b.horizon || strings.TrimSpace(c.Description) == "" {
			continue
		}
		c.Likelihood = min(max(c.Likelihood, 0), 1)
		projection.Consequences = append(projection.Consequences, c)
	}

	return projection, nil
}
