package causality

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/storyweaver/internal/agent"
	"github.com/dotcommander/storyweaver/internal/phase"
)

// impactConfidence is reported for every successful analysis
const impactConfidence = 0.75

// ChoiceImpact describes how a choice ripples through a story.
type ChoiceImpact struct {
	ImmediateConsequences []string `json:"immediate_consequences"`
	LongTermEffects       []string `json:"long_term_effects"`
	AlternativePaths      []string `json:"alternative_paths"`
	ButterflyEffects      []string `json:"butterfly_effects"`
	Confidence            float64  `json:"confidence"`
}

// Degraded reports whether the analysis could not be produced
func (c ChoiceImpact) Degraded() bool {
	return c.Confidence == 0
}

func emptyImpact() ChoiceImpact {
	return ChoiceImpact{
		ImmediateConsequences: []string{},
		LongTermEffects:       []string{},
		AlternativePaths:      []string{},
		ButterflyEffects:      []string{},
	}
}

// ImpactAnalyzer asks the architect role to project the effects of a choice.
type ImpactAnalyzer struct {
	phase.BasePhase
	agent *agent.Agent
}

func NewImpactAnalyzer(architect *agent.Agent, opts ...phase.BasePhaseOption) *ImpactAnalyzer {
	return &ImpactAnalyzer{
		BasePhase: phase.NewBasePhase("choice_impact", opts...),
		agent:     architect,
	}
}

// AnalyzeChoiceImpact never returns an error. Any failure yields an empty
// analysis with zero confidence.
func (a *ImpactAnalyzer) AnalyzeChoiceImpact(ctx context.Context, choice string, storyState map[string]any) ChoiceImpact {
	startTime := time.Now()

	impact, err := a.analyze(ctx, choice, storyState)
	if err != nil {
		a.Logger().WarnContext(ctx, "choice impact analysis failed, returning empty result",
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return emptyImpact()
	}

	a.LogComplete(ctx, "choice_impact", time.Since(startTime),
		"immediate", len(impact.ImmediateConsequences),
		"long_term", len(impact.LongTermEffects))
	return impact
}

func (a *ImpactAnalyzer) analyze(ctx context.Context, choice string, storyState map[string]any) (ChoiceImpact, error) {
	if err := phase.ValidateText("choice", choice, 0); err != nil {
		return ChoiceImpact{}, err
	}
	if err := a.ValidateContext(ctx); err != nil {
		return ChoiceImpact{}, err
	}

	state := "{}"
	if len(storyState) > 0 {
		data, err := json.Marshal(storyState)
		if err != nil {
			return ChoiceImpact{}, fmt.Errorf("encoding story state: %w", err)
		}
		state = string(data)
	}

	response, err := a.agent.Run(ctx, agent.TaskChoiceImpact, map[string]any{
		"Choice":     strings.TrimSpace(choice),
		"StoryState": state,
	})
	if err != nil {
		return ChoiceImpact{}, a.GenerationFailure(err)
	}

	impact := emptyImpact()
	if err := phase.DecodeLenient(phase.CleanJSONResponse(response), &impact); err != nil {
		return ChoiceImpact{}, fmt.Errorf("parsing choice impact: %w", err)
	}
	impact.ImmediateConsequences = nonEmpty(impact.ImmediateConsequences)
	impact.LongTermEffects = nonEmpty(impact.LongTermEffects)
	impact.AlternativePaths = nonEmpty(impact.AlternativePaths)
	impact.ButterflyEffects = nonEmpty(impact.ButterflyEffects)
	impact.Confidence = impactConfidence

	return impact, nil
}

// nonEmpty drops blank entries and never returns nil
func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
