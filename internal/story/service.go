// Package story composes the pipeline stages into end-to-end story
// generation requests.
package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/dotcommander/storyweaver/internal/bible"
	"github.com/dotcommander/storyweaver/internal/causality"
	"github.com/dotcommander/storyweaver/internal/core"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase"
	"github.com/dotcommander/storyweaver/internal/phase/fiction"
	"github.com/dotcommander/storyweaver/internal/storage"
)

const tracerName = "storyweaver/story"

// ErrPersistenceDisabled is returned by lookups when no repository is configured.
var ErrPersistenceDisabled = fmt.Errorf("story persistence is not configured: %w", storage.ErrNotFound)

type Outliner interface {
	Build(ctx context.Context, req fiction.PlanRequest) (domain.Outline, error)
	Refine(ctx context.Context, outline domain.Outline, feedback string) (domain.Outline, error)
	SimulateCausalHorizon(ctx context.Context, outline domain.Outline, choicePoint string) (fiction.HorizonProjection, error)
}

type Drafter interface {
	WriteDraft(ctx context.Context, outline domain.Outline, length domain.Length) (domain.Draft, error)
}

type Improver interface {
	Run(ctx context.Context, initial domain.Draft, outline domain.Outline) (*core.ImprovementSession, error)
}

type CausalValidator interface {
	Validate(chains []domain.CausalLink) domain.CausalReport
}

// Editor applies free-form feedback to a draft.
type Editor interface {
	ReviseWithFeedback(ctx context.Context, draft domain.Draft, feedback string) domain.Draft
	Diff(before, after domain.Draft) string
}

// SceneReviser rewrites one scene of a draft against its outline.
type SceneReviser interface {
	ReviseScene(ctx context.Context, outline domain.Outline, scene domain.SceneText, feedback string) (string, error)
}

type ImpactAnalyzer interface {
	AnalyzeChoiceImpact(ctx context.Context, choice string, storyState map[string]any) causality.ChoiceImpact
}

// Dependencies are the pipeline stages a Service composes. Repository,
// Impact, Scenes and Review are optional.
type Dependencies struct {
	Outliner   Outliner
	Drafter    Drafter
	Improver   Improver
	Checker    CausalValidator
	Editor     Editor
	Scenes     SceneReviser
	Impact     ImpactAnalyzer
	Repository storage.Repository
	Review     func(text string) fiction.ComplianceReport
}

// Request is one story generation request.
type Request struct {
	Prompt     string         `json:"prompt" validate:"required"`
	Genre      string         `json:"genre,omitempty"`
	Length     string         `json:"length,omitempty"`
	StoryBible map[string]any `json:"story_bible,omitempty"`
	// Choices are folded into the story bible and the outline's causal chain
	// before validation.
	Choices []bible.Choice `json:"choices,omitempty" validate:"dive"`
}

// Result is a generated story.
type Result struct {
	StoryID        string                   `json:"story_id"`
	Title          string                   `json:"title"`
	Content        string                   `json:"content"`
	Outline        domain.Outline           `json:"outline"`
	Draft          domain.Draft             `json:"draft"`
	QualityMetrics domain.QualityMetrics    `json:"quality_metrics"`
	CausalReport   domain.CausalReport      `json:"causal_report"`
	Compliance     fiction.ComplianceReport `json:"compliance"`
	Iterations     int                      `json:"iterations"`
	State          core.SessionState        `json:"state"`
	Events         []bible.Event            `json:"events,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

// Service runs story generation requests. It is safe for concurrent use;
// independent requests share nothing but the stages' generators.
type Service struct {
	deps           Dependencies
	slots          *semaphore.Weighted
	requestTimeout time.Duration
	maxPromptSize  int
	defaultGenre   string
	defaultLength  domain.Length
	weights        fiction.Weights
	tracer         trace.Tracer
	now            func() time.Time
	logger         *slog.Logger
}

type Option func(*Service)

// WithMaxConcurrentStories caps the number of in-flight generations
func WithMaxConcurrentStories(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRequestTimeout bounds each generation. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.requestTimeout = d
	}
}

func WithMaxPromptSize(runes int) Option {
	return func(s *Service) {
		s.maxPromptSize = runes
	}
}

func WithDefaults(genre string, length domain.Length) Option {
	return func(s *Service) {
		s.defaultGenre = genre
		if length.Valid() {
			s.defaultLength = length
		}
	}
}

// WithWeights sets the weights used to rescore merged metrics
func WithWeights(w fiction.Weights) Option {
	return func(s *Service) {
		s.weights = w
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger.With("component", "story_service")
		}
	}
}

func New(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		deps:           deps,
		slots:          semaphore.NewWeighted(10),
		requestTimeout: 60 * time.Minute,
		defaultLength:  domain.LengthShortStory,
		weights:        fiction.DefaultWeights,
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		logger:         slog.Default().With("component", "story_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deps.Review == nil {
		s.deps.Review = fiction.CheckCompliance
	}
	return s
}

// NewStoryID returns an id of the form story_YYYYMMDD_HHMMSS_<8 hex>.
func NewStoryID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("story_%s_%s", now.Format("20060102_150405"), suffix)
}

func (s *Service) validateRequest(req Request) (domain.Length, error) {
	if err := phase.ValidateText("prompt", req.Prompt, s.maxPromptSize); err != nil {
		return "", err
	}
	if err := phase.ValidateStruct(req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Length) == "" {
		return s.defaultLength, nil
	}
	length, err := domain.ParseLength(req.Length)
	if err != nil {
		return "", core.NewValidationError("length", err.Error(), req.Length)
	}
	return length, nil
}

// acquire takes a generation slot and applies the request timeout. The
// returned release must be called once the request finishes.
func (s *Service) acquire(ctx context.Context, step string) (context.Context, func(), error) {
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		if err := s.slots.Acquire(ctx, 1); err != nil {
			cancel()
			return nil, nil, core.TimeoutFromContext(step, fmt.Errorf("waiting for a generation slot: %w", err))
		}
		return ctx, func() { s.slots.Release(1); cancel() }, nil
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, nil, core.TimeoutFromContext(step, fmt.Errorf("waiting for a generation slot: %w", err))
	}
	return ctx, func() { s.slots.Release(1) }, nil
}

// Generate runs outline, draft, improvement and causal validation for one
// request. On any failure nothing is persisted.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	length, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, release, err := s.acquire(ctx, "generate")
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := s.now()
	storyID := NewStoryID(startTime)
	logger := s.logger.With("story_id", storyID)

	ctx, span := s.tracer.Start(ctx, "story.generate", trace.WithAttributes(
		attribute.String("story.id", storyID),
		attribute.String("story.length", string(length)),
	))
	defer span.End()

	logger.Info("generating story",
		"prompt_length", len(req.Prompt),
		"genre", req.Genre,
		"length", length)

	result, err := s.generate(ctx, storyID, req, length)
	if err == nil {
		// A deadline that expired during the last call still fails the request
		err = ctx.Err()
	}
	if err != nil {
		err = core.TimeoutFromContext("generate", err)
		recordError(span, err)
		logger.Error("story generation failed",
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("story.scenes", len(result.Draft.Scenes)),
		attribute.Int("story.iterations", result.Iterations),
		attribute.Float64("story.overall_score", result.QualityMetrics.OverallScore),
	)

	s.persist(ctx, req, result, logger)

	logger.Info("story generated",
		"title", result.Title,
		"state", result.State,
		"iterations", result.Iterations,
		"overall_score", result.QualityMetrics.OverallScore,
		"word_count", result.Draft.WordCount,
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

func (s *Service) generate(ctx context.Context, storyID string, req Request, length domain.Length) (*Result, error) {
	var outline domain.Outline
	err := s.stage(ctx, "story.outline", func(ctx context.Context) error {
		var err error
		outline, err = s.deps.Outliner.Build(ctx, s.planRequest(req.Prompt, req.Genre, req.StoryBible))
		if err != nil {
			return fmt.Errorf("planning outline: %w", err)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("story.scenes", outline.SceneCount()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	log, outline := s.recordBible(outline, req.Choices)

	var draft domain.Draft
	err = s.stage(ctx, "story.draft", func(ctx context.Context) error {
		var err error
		draft, err = s.deps.Drafter.WriteDraft(ctx, outline, length)
		if err != nil {
			return fmt.Errorf("writing draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var session *core.ImprovementSession
	err = s.stage(ctx, "story.improve", func(ctx context.Context) error {
		var err error
		session, err = s.deps.Improver.Run(ctx, draft, outline)
		if err != nil {
			return fmt.Errorf("improving draft: %w", err)
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("story.iterations", session.Iteration),
			attribute.String("story.state", string(session.State)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var report domain.CausalReport
	_ = s.stage(ctx, "story.validate_causality", func(ctx context.Context) error {
		report = s.deps.Checker.Validate(outline.CausalChains)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Float64("story.causal_confidence", report.ConfidenceScore))
		return nil
	})

	final := session.CurrentDraft
	compliance := s.deps.Review(final.FullText)

	return &Result{
		StoryID:        storyID,
		Title:          outline.Title,
		Content:        final.FullText,
		Outline:        outline,
		Draft:          final,
		QualityMetrics: MergeMetrics(s.weights, session.CurrentMetrics, report, compliance),
		CausalReport:   report,
		Compliance:     compliance,
		Iterations:     session.Iteration,
		State:          session.State,
		Events:         log.Events(),
		CreatedAt:      s.now(),
	}, nil
}

func (s *Service) planRequest(prompt, genre string, storyBible map[string]any) fiction.PlanRequest {
	if strings.TrimSpace(genre) == "" {
		genre = s.defaultGenre
	}
	return fiction.PlanRequest{
		Prompt:       prompt,
		Genre:        genre,
		PriorContext: storyBible,
	}
}

// recordBible seeds a story bible with the outline's causal links and folds
// choices into it. The returned outline carries the extended chain.
func (s *Service) recordBible(outline domain.Outline, choices []bible.Choice) (*bible.Log, domain.Outline) {
	log, _ := bible.NewLog()
	for _, link := range outline.CausalChains {
		l := domain.CloneLinks([]domain.CausalLink{link})[0]
		log.Append(bible.Event{
			Kind:        bible.KindEvent,
			Description: l.EffectDescription,
			CausalLink:  &l,
		})
	}
	for _, choice := range choices {
		_, outline = bible.PropagateChoice(log, outline, choice)
	}
	return log, outline
}

// MergeMetrics folds the causal report and content review into the
// evaluator's final metrics. Causal integrity is replaced by the checker's
// confidence and the overall score is recomputed.
func MergeMetrics(w fiction.Weights, m domain.QualityMetrics, report domain.CausalReport, compliance fiction.ComplianceReport) domain.QualityMetrics {
	merged := m
	merged.CausalIntegrity = report.ConfidenceScore
	merged.IssuesFound = joinLists(m.IssuesFound, report.Issues)
	merged.Suggestions = joinLists(m.Suggestions, report.Suggestions, compliance.Issues)
	merged.OverallScore = w.Score(merged)
	return merged
}

// joinLists concatenates lists into a new slice that is never nil.
func joinLists(lists ...[]string) []string {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]string, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func (s *Service) persist(ctx context.Context, req Request, result *Result, logger *slog.Logger) {
	if s.deps.Repository == nil {
		return
	}

	record := storage.StoryRecord{
		ID:           result.StoryID,
		Title:        result.Title,
		Genre:        result.Outline.Genre,
		Prompt:       req.Prompt,
		Status:       string(result.State),
		Content:      result.Content,
		Outline:      result.Outline,
		Draft:        result.Draft,
		Metrics:      result.QualityMetrics,
		CausalReport: result.CausalReport,
		Iterations:   result.Iterations,
		CreatedAt:    result.CreatedAt,
	}
	if err := s.deps.Repository.SaveStory(ctx, record); err != nil {
		logger.Warn("failed to persist story", "error", err)
		return
	}
	for _, event := range result.Events {
		if err := s.deps.Repository.AppendEvent(ctx, result.StoryID, event); err != nil {
			logger.Warn("failed to persist story bible event",
				"event_id", event.ID,
				"error", err)
			return
		}
	}
}

func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// OutlineRequest asks for an outline without drafting it. Feedback, when
// set, refines the planned outline once.
type OutlineRequest struct {
	Prompt     string         `json:"prompt" validate:"required"`
	Genre      string         `json:"genre,omitempty"`
	StoryBible map[string]any `json:"story_bible,omitempty"`
	Feedback   string         `json:"feedback,omitempty"`
}

type OutlineResult struct {
	Outline        domain.Outline      `json:"outline"`
	CausalAnalysis domain.CausalReport `json:"causal_analysis"`
}

// Outline plans an outline and checks its causal chain.
func (s *Service) Outline(ctx context.Context, req OutlineRequest) (*OutlineResult, error) {
	if err := phase.ValidateText("prompt", req.Prompt, s.maxPromptSize); err != nil {
		return nil, err
	}

	ctx, release, err := s.acquire(ctx, "outline")
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "story.outline")
	defer span.End()

	outline, err := s.deps.Outliner.Build(ctx, s.planRequest(req.Prompt, req.Genre, req.StoryBible))
	if err == nil && strings.TrimSpace(req.Feedback) != "" {
		outline, err = s.deps.Outliner.Refine(ctx, outline, req.Feedback)
	}
	if err != nil {
		err = core.TimeoutFromContext("outline", err)
		recordError(span, err)
		return nil, err
	}

	return &OutlineResult{
		Outline:        outline,
		CausalAnalysis: s.deps.Checker.Validate(outline.CausalChains),
	}, nil
}

// RevisionRequest revises either a stored story or free-standing content.
// SceneIndex limits the revision to one scene of a stored story.
type RevisionRequest struct {
	StoryID    string `json:"story_id,omitempty" validate:"required_with=SceneIndex"`
	Content    string `json:"content,omitempty" validate:"required_without=StoryID"`
	Feedback   string `json:"feedback" validate:"required"`
	SceneIndex *int   `json:"scene_index,omitempty"`
}

// RevisionResult reports a revision. Revised is false when the editor kept
// the original text.
type RevisionResult struct {
	StoryID string `json:"story_id,omitempty"`
	Content string `json:"revised_content"`
	Diff    string `json:"diff,omitempty"`
	Revised bool   `json:"revised"`
}

// Revise applies feedback to a stored story's draft, saving the revision,
// or to free-standing content treated as a single scene.
func (s *Service) Revise(ctx context.Context, req RevisionRequest) (*RevisionResult, error) {
	if err := phase.ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := phase.ValidateText("feedback", req.Feedback, s.maxPromptSize); err != nil {
		return nil, err
	}

	var record *storage.StoryRecord
	var draft domain.Draft
	if req.StoryID != "" {
		r, err := s.Get(ctx, req.StoryID)
		if err != nil {
			return nil, err
		}
		record, draft = r, r.Draft
		if err := s.checkSceneIndex(req.SceneIndex, len(draft.Scenes)); err != nil {
			return nil, err
		}
	} else {
		if err := phase.ValidateText("content", req.Content, 0); err != nil {
			return nil, err
		}
		draft = domain.NewDraft("", "", "", []string{strings.TrimSpace(req.Content)})
	}

	ctx, release, err := s.acquire(ctx, "revise")
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "story.revise")
	defer span.End()

	var revised domain.Draft
	if req.SceneIndex != nil {
		revised, err = s.reviseScene(ctx, record, *req.SceneIndex, req.Feedback)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
	} else {
		revised = s.deps.Editor.ReviseWithFeedback(ctx, draft, req.Feedback)
	}
	if err := ctx.Err(); err != nil {
		err = core.TimeoutFromContext("revise", err)
		recordError(span, err)
		return nil, err
	}

	result := &RevisionResult{
		StoryID: req.StoryID,
		Content: revised.FullText,
		Revised: revised.FullText != draft.FullText,
	}
	if result.Revised {
		result.Diff = s.deps.Editor.Diff(draft, revised)
	}

	if record != nil && result.Revised {
		record.Draft = revised
		record.Content = revised.FullText
		record.Status = "revised"
		if err := s.deps.Repository.SaveStory(ctx, *record); err != nil {
			s.logger.Warn("failed to persist revision",
				"story_id", record.ID,
				"error", err)
		}
	}

	return result, nil
}

func (s *Service) checkSceneIndex(index *int, count int) error {
	if index == nil {
		return nil
	}
	if s.deps.Scenes == nil {
		return core.NewValidationError("scene_index", "scene revision is not configured", *index)
	}
	if *index < 0 || *index >= count {
		return &core.SceneIndexOutOfRangeError{Index: *index, Count: count}
	}
	return nil
}

// reviseScene rewrites the scene at index and reassembles the draft around it.
func (s *Service) reviseScene(ctx context.Context, record *storage.StoryRecord, index int, feedback string) (domain.Draft, error) {
	draft := record.Draft
	text, err := s.deps.Scenes.ReviseScene(ctx, record.Outline, draft.Scenes[index], feedback)
	if err != nil {
		return domain.Draft{}, core.TimeoutFromContext("revise", err)
	}
	texts := draft.Texts()
	texts[index] = text
	return draft.WithTexts(texts), nil
}

// HorizonRequest asks how a choice point in a stored story plays out.
type HorizonRequest struct {
	StoryID     string `json:"-" validate:"required"`
	ChoicePoint string `json:"choice_point" validate:"required"`
}

// Horizon projects the consequences of a choice point over the stored
// story's outline without recording anything.
func (s *Service) Horizon(ctx context.Context, req HorizonRequest) (*fiction.HorizonProjection, error) {
	if err := phase.ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := phase.ValidateText("choice_point", req.ChoicePoint, s.maxPromptSize); err != nil {
		return nil, err
	}

	record, err := s.Get(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}

	ctx, release, err := s.acquire(ctx, "horizon")
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "story.horizon",
		trace.WithAttributes(attribute.String("story.id", req.StoryID)))
	defer span.End()

	projection, err := s.deps.Outliner.SimulateCausalHorizon(ctx, record.Outline, req.ChoicePoint)
	if err != nil {
		err = core.TimeoutFromContext("horizon", err)
		recordError(span, err)
		return nil, err
	}
	return &projection, nil
}

// ChoiceRequest records a reader or author choice against a stored story.
type ChoiceRequest struct {
	StoryID string       `json:"-" validate:"required"`
	Choice  bible.Choice `json:"choice"`
}

type ChoiceResult struct {
	Event        bible.Event            `json:"event"`
	Impact       causality.ChoiceImpact `json:"impact"`
	CausalReport domain.CausalReport    `json:"causal_report"`
}

// RecordChoice analyzes a choice's impact, appends it to the story bible and
// revalidates the extended causal chain. The choice's consequence defaults
// to the first immediate consequence the analysis projects.
func (s *Service) RecordChoice(ctx context.Context, req ChoiceRequest) (*ChoiceResult, error) {
	if err := phase.ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := phase.ValidateText("choice.description", req.Choice.Description, s.maxPromptSize); err != nil {
		return nil, err
	}

	record, err := s.Get(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}
	events, err := s.deps.Repository.Events(ctx, req.StoryID)
	if err != nil {
		return nil, fmt.Errorf("loading story bible: %w", err)
	}
	log, err := bible.NewLog(events...)
	if err != nil {
		return nil, fmt.Errorf("replaying story bible: %w", err)
	}

	impact := causality.ChoiceImpact{}
	if s.deps.Impact != nil {
		impact = s.deps.Impact.AnalyzeChoiceImpact(ctx, req.Choice.Description, map[string]any{
			"title":        record.Title,
			"plot_summary": record.Outline.PlotSummary,
			"characters":   log.CharacterStates(),
			"causal_links": log.CausalLinks(),
		})
	}

	choice := req.Choice
	if strings.TrimSpace(choice.Consequence) == "" && len(impact.ImmediateConsequences) > 0 {
		choice.Consequence = impact.ImmediateConsequences[0]
	}

	event, outline := bible.PropagateChoice(log, record.Outline, choice)

	// The story carries the extended chain before the event is logged, so a
	// failed save leaves both untouched.
	previous := *record
	record.Outline = outline
	record.CausalReport = s.deps.Checker.Validate(outline.CausalChains)
	if err := s.deps.Repository.SaveStory(ctx, *record); err != nil {
		return nil, fmt.Errorf("saving story: %w", err)
	}
	if err := s.deps.Repository.AppendEvent(ctx, req.StoryID, event); err != nil {
		if restoreErr := s.deps.Repository.SaveStory(ctx, previous); restoreErr != nil {
			s.logger.Warn("failed to restore story after choice",
				"story_id", req.StoryID,
				"error", restoreErr)
		}
		return nil, fmt.Errorf("recording choice: %w", err)
	}

	s.logger.Info("choice recorded",
		"story_id", req.StoryID,
		"event_id", event.ID,
		"consistent", record.CausalReport.IsConsistent)

	return &ChoiceResult{
		Event:        event,
		Impact:       impact,
		CausalReport: record.CausalReport,
	}, nil
}

// ValidateCausality runs the causal checker on a free-standing chain
func (s *Service) ValidateCausality(chains []domain.CausalLink) domain.CausalReport {
	return s.deps.Checker.Validate(chains)
}

// Get loads a persisted story
func (s *Service) Get(ctx context.Context, storyID string) (*storage.StoryRecord, error) {
	if s.deps.Repository == nil {
		return nil, ErrPersistenceDisabled
	}
	record, err := s.deps.Repository.LoadStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("loading story %s: %w", storyID, err)
	}
	return record, nil
}

// List returns stored story summaries newest first
func (s *Service) List(ctx context.Context) ([]storage.StorySummary, error) {
	if s.deps.Repository == nil {
		return []storage.StorySummary{}, nil
	}
	return s.deps.Repository.ListStories(ctx)
}

// Persistent reports whether generated stories are saved
func (s *Service) Persistent() bool {
	return s.deps.Repository != nil
}

// IsNotFound reports whether err means the story does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
