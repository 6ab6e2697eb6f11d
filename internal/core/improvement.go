package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
)

// SessionState is the lifecycle state of an improvement session
type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionAccepted  SessionState = "accepted"
	SessionExhausted SessionState = "exhausted"
)

// ImprovementConfig configures the improvement loop
type ImprovementConfig struct {
	MaxIterations    int     `json:"max_iterations"`
	QualityThreshold float64 `json:"quality_threshold"`
}

func DefaultImprovementConfig() ImprovementConfig {
	return ImprovementConfig{
		MaxIterations:    3,
		QualityThreshold: 0.85,
	}
}

func (c ImprovementConfig) Validate() error {
	if c.MaxIterations < 1 {
		return NewValidationError("max_iterations", "must be at least 1", c.MaxIterations)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return NewValidationError("quality_threshold", "must be within [0, 1]", c.QualityThreshold)
	}
	return nil
}

// ImprovementSession tracks one run of the loop
type ImprovementSession struct {
	ID               string                `json:"id"`
	CurrentDraft     domain.Draft          `json:"current_draft"`
	CurrentMetrics   domain.QualityMetrics `json:"current_metrics"`
	Iteration        int                   `json:"iteration"`
	MaxIterations    int                   `json:"max_iterations"`
	QualityThreshold float64               `json:"quality_threshold"`
	State            SessionState          `json:"state"`
	History          []ImprovementStep     `json:"history"`
	StartedAt        time.Time             `json:"started_at"`
	FinishedAt       time.Time             `json:"finished_at,omitempty"`
}

// Revisions returns how many revisions the session applied
func (s *ImprovementSession) Revisions() int {
	n := 0
	for _, step := range s.History {
		if step.Revised {
			n++
		}
	}
	return n
}

// ImprovementStep represents one evaluation inside the loop. Score is the
// score that led to the decision; Revised reports whether a revision followed.
type ImprovementStep struct {
	Iteration int       `json:"iteration"`
	Score     float64   `json:"score"`
	Degraded  bool      `json:"degraded,omitempty"`
	Revised   bool      `json:"revised"`
	Diff      string    `json:"diff,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ImprovementLoop alternates evaluation and revision until a draft meets the
// quality threshold or the iteration budget is spent. Runs are sequential;
// one loop may serve concurrent requests.
type ImprovementLoop struct {
	evaluator   Evaluator
	reviser     Reviser
	config      ImprovementConfig
	checkpoints *CheckpointManager
	logger      *slog.Logger
}

type LoopOption func(*ImprovementLoop)

// WithCheckpoints saves a session snapshot after every step
func WithCheckpoints(cm *CheckpointManager) LoopOption {
	return func(l *ImprovementLoop) {
		l.checkpoints = cm
	}
}

func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *ImprovementLoop) {
		l.logger = logger.With("component", "improvement_loop")
	}
}

func NewImprovementLoop(evaluator Evaluator, reviser Reviser, config ImprovementConfig, opts ...LoopOption) (*ImprovementLoop, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &ImprovementLoop{
		evaluator: evaluator,
		reviser:   reviser,
		config:    config,
		logger:    slog.Default().With("component", "improvement_loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *ImprovementLoop) Config() ImprovementConfig {
	return l.config
}

// Run improves initial against outline. The returned session's State is
// Accepted when an evaluation inside the loop met the threshold and Exhausted
// otherwise; CurrentMetrics always comes from a final evaluation of
// CurrentDraft. Cancellation is observed between calls.
func (l *ImprovementLoop) Run(ctx context.Context, initial domain.Draft, outline domain.Outline) (*ImprovementSession, error) {
	session := &ImprovementSession{
		ID:               "session_" + uuid.NewString()[:8],
		CurrentDraft:     initial,
		MaxIterations:    l.config.MaxIterations,
		QualityThreshold: l.config.QualityThreshold,
		State:            SessionRunning,
		StartedAt:        time.Now(),
	}
	logger := l.logger.With("session_id", session.ID)

	logger.Info("starting improvement session",
		"max_iterations", l.config.MaxIterations,
		"quality_threshold", l.config.QualityThreshold,
		"scenes", len(initial.Scenes))

	draft := initial
	iteration := 0

	for {
		if err := checkContext(ctx, "improve"); err != nil {
			return nil, err
		}

		metrics := l.evaluator.Evaluate(ctx, draft, outline)
		step := ImprovementStep{
			Iteration: iteration,
			Score:     metrics.OverallScore,
			Degraded:  metrics.Degraded,
			Timestamp: time.Now(),
		}

		if metrics.OverallScore >= l.config.QualityThreshold {
			session.State = SessionAccepted
			session.History = append(session.History, step)
			logger.Info("draft accepted",
				"iteration", iteration,
				"overall_score", metrics.OverallScore)
			break
		}

		if iteration == l.config.MaxIterations-1 {
			session.State = SessionExhausted
			session.History = append(session.History, step)
			logger.Info("iteration budget exhausted",
				"iteration", iteration,
				"overall_score", metrics.OverallScore)
			break
		}

		if err := checkContext(ctx, "improve"); err != nil {
			return nil, err
		}

		revised := l.reviser.Revise(ctx, draft, metrics)
		// A reviser that fails hands back the draft it was given
		step.Revised = revised.FullText != draft.FullText
		if differ, ok := l.reviser.(Differ); ok && step.Revised {
			step.Diff = differ.Diff(draft, revised)
		}
		session.History = append(session.History, step)

		logger.Debug("draft revised",
			"iteration", iteration,
			"overall_score", metrics.OverallScore,
			"issues", len(metrics.IssuesFound))

		draft = revised
		iteration++

		session.CurrentDraft = draft
		session.Iteration = iteration
		l.checkpoint(ctx, session)
	}

	if err := checkContext(ctx, "improve"); err != nil {
		return nil, err
	}

	session.CurrentDraft = draft
	session.CurrentMetrics = l.evaluator.Evaluate(ctx, draft, outline)
	session.Iteration = iteration
	session.FinishedAt = time.Now()
	l.checkpoint(ctx, session)

	logger.Info("improvement session finished",
		"state", session.State,
		"iteration", iteration,
		"revisions", session.Revisions(),
		"overall_score", session.CurrentMetrics.OverallScore,
		"duration_ms", session.FinishedAt.Sub(session.StartedAt).Milliseconds())

	return session, nil
}

func (l *ImprovementLoop) checkpoint(ctx context.Context, session *ImprovementSession) {
	if l.checkpoints == nil {
		return
	}
	if err := l.checkpoints.Save(ctx, session); err != nil {
		l.logger.Warn("failed to save checkpoint",
			"session_id", session.ID,
			"error", err)
	}
}

func checkContext(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return TimeoutFromContext(step, fmt.Errorf("%s interrupted: %w", step, err))
	}
	return nil
}
