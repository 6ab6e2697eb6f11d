package fiction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotcommander/storyweaver/internal/agent"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase"
)

// DefaultEvaluationBudget is the number of draft characters sent for evaluation
const DefaultEvaluationBudget = 8000

// Weights combine the six sub-scores into the overall score.
type Weights struct {
	Coherence            float64
	Engagement           float64
	CharacterConsistency float64
	Pacing               float64
	LanguageQuality      float64
	CausalIntegrity      float64
}

// DefaultWeights sum to 1.
var DefaultWeights = Weights{
	Coherence:            0.20,
	Engagement:           0.20,
	CharacterConsistency: 0.15,
	Pacing:               0.15,
	LanguageQuality:      0.15,
	CausalIntegrity:      0.15,
}

// Score returns the weighted sum of m's sub-scores clamped to [0, 1].
func (w Weights) Score(m domain.QualityMetrics) float64 {
	s := w.Coherence*m.Coherence +
		w.Engagement*m.Engagement +
		w.CharacterConsistency*m.CharacterConsistency +
		w.Pacing*m.Pacing +
		w.LanguageQuality*m.LanguageQuality +
		w.CausalIntegrity*m.CausalIntegrity
	return min(max(s, 0), 1)
}

// FallbackMetrics is the neutral evaluation returned when a draft cannot be scored.
func FallbackMetrics() domain.QualityMetrics {
	return domain.QualityMetrics{
		Coherence:            0.5,
		Engagement:           0.5,
		CharacterConsistency: 0.5,
		Pacing:               0.5,
		LanguageQuality:      0.5,
		CausalIntegrity:      0.5,
		IssuesFound:          []string{"Evaluation failed"},
		Suggestions:          []string{"Manual review required"},
		OverallScore:         0.5,
		Degraded:             true,
	}
}

// QualityEvaluator scores drafts with the editor role. It never fails:
// unusable responses yield FallbackMetrics.
type QualityEvaluator struct {
	phase.BasePhase
	agent   *agent.Agent
	weights Weights
	budget  int
}

type EvaluatorOption func(*evaluatorConfig)

type evaluatorConfig struct {
	budget int
	base   []phase.BasePhaseOption
}

// WithEvaluationBudget caps the draft characters included in the prompt.
func WithEvaluationBudget(chars int) EvaluatorOption {
	return func(c *evaluatorConfig) {
		if chars > 0 {
			c.budget = chars
		}
	}
}

func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(c *evaluatorConfig) {
		c.base = append(c.base, phase.WithLogger(logger))
	}
}

func NewQualityEvaluator(editor *agent.Agent, opts ...EvaluatorOption) *QualityEvaluator {
	cfg := evaluatorConfig{budget: DefaultEvaluationBudget}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &QualityEvaluator{
		BasePhase: phase.NewBasePhase("quality_evaluator", cfg.base...),
		agent:     editor,
		weights:   DefaultWeights,
		budget:    cfg.budget,
	}
}

// Weights returns the weights used for the overall score
func (e *QualityEvaluator) Weights() Weights {
	return e.weights
}

// evaluationResponse is the editor's JSON reply. Any overall score the
// model volunteers is ignored.
type evaluationResponse struct {
	Coherence            *float64 `json:"coherence_score"`
	Engagement           *float64 `json:"engagement_score"`
	CharacterConsistency *float64 `json:"character_consistency"`
	Pacing               *float64 `json:"pacing_score"`
	LanguageQuality      *float64 `json:"language_quality"`
	CausalIntegrity      *float64 `json:"causal_integrity"`
	IssuesFound          []string `json:"issues_found"`
	Suggestions          []string `json:"suggestions"`
}

// Evaluate scores draft against outline.
func (e *QualityEvaluator) Evaluate(ctx context.Context, draft domain.Draft, outline domain.Outline) domain.QualityMetrics {
	startTime := time.Now()

	metrics, err := e.evaluate(ctx, draft, outline)
	if err != nil {
		e.Logger().WarnContext(ctx, "evaluation failed, using fallback metrics",
			"error", err,
			"duration_ms", time.Since(startTime).Milliseconds())
		return FallbackMetrics()
	}

	e.LogComplete(ctx, "evaluation", time.Since(startTime),
		"overall_score", metrics.OverallScore,
		"issue_count", len(metrics.IssuesFound))
	return metrics
}

func (e *QualityEvaluator) evaluate(ctx context.Context, draft domain.Draft, outline domain.Outline) (domain.QualityMetrics, error) {
	if err := e.ValidateContext(ctx); err != nil {
		return domain.QualityMetrics{}, err
	}

	summary, err := json.Marshal(outlineSummary(outline))
	if err != nil {
		return domain.QualityMetrics{}, fmt.Errorf("encoding outline: %w", err)
	}

	response, err := e.agent.Run(ctx, agent.TaskDraftEvaluate, map[string]any{
		"Outline": string(summary),
		"Draft":   truncateRunes(draft.FullText, e.budget),
	})
	if err != nil {
		return domain.QualityMetrics{}, err
	}

	var parsed evaluationResponse
	if err := phase.DecodeLenient(phase.CleanJSONResponse(response), &parsed); err != nil {
		return domain.QualityMetrics{}, fmt.Errorf("parsing evaluation: %w", err)
	}

	scores := []struct {
		name  string
		value *float64
	}{
		{"coherence_score", parsed.Coherence},
		{"engagement_score", parsed.Engagement},
		{"character_consistency", parsed.CharacterConsistency},
		{"pacing_score", parsed.Pacing},
		{"language_quality", parsed.LanguageQuality},
		{"causal_integrity", parsed.CausalIntegrity},
	}
	for _, s := range scores {
		if s.value == nil {
			return domain.QualityMetrics{}, fmt.Errorf("evaluation missing %s", s.name)
		}
		if *s.value < 0 || *s.value > 1 {
			return domain.QualityMetrics{}, fmt.Errorf("evaluation %s out of range: %v", s.name, *s.value)
		}
	}

	metrics := domain.QualityMetrics{
		Coherence:            *parsed.Coherence,
		Engagement:           *parsed.Engagement,
		CharacterConsistency: *parsed.CharacterConsistency,
		Pacing:               *parsed.Pacing,
		LanguageQuality:      *parsed.LanguageQuality,
		CausalIntegrity:      *parsed.CausalIntegrity,
		IssuesFound:          nonNil(parsed.IssuesFound),
		Suggestions:          nonNil(parsed.Suggestions),
	}
	metrics.OverallScore = e.weights.Score(metrics)
	return metrics, nil
}

// outlineSummary keeps the parts of an outline an evaluator needs
func outlineSummary(o domain.Outline) map[string]any {
	scenes := make([]string, len(o.Scenes))
	for i, s := range o.Scenes {
		scenes[i] = s.Description
	}
	characters := make([]string, len(o.Characters))
	for i, c := range o.Characters {
		characters[i] = c.Name
	}
	return map[string]any{
		"title":         o.Title,
		"genre":         o.Genre,
		"plot_summary":  o.PlotSummary,
		"characters":    characters,
		"scenes":        scenes,
		"themes":        o.Themes,
		"causal_chains": o.CausalChains,
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
