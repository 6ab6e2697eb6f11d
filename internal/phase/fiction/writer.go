package fiction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dotcommander/storyweaver/internal/agent"
	"github.com/dotcommander/storyweaver/internal/core"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase"
)

// DefaultContinuityWindow is how many preceding scenes a scene prompt sees
const DefaultContinuityWindow = 2

// DraftWriter writes scene prose from an outline using the scribe role.
type DraftWriter struct {
	phase.BasePhase
	agent   *agent.Agent
	window  int
	workers int
}

type WriterOption func(*writerConfig)

type writerConfig struct {
	window  int
	workers int
	base    []phase.BasePhaseOption
}

// WithContinuityWindow sets how many previous scenes feed each prompt.
func WithContinuityWindow(n int) WriterOption {
	return func(c *writerConfig) {
		if n >= 0 {
			c.window = n
		}
	}
}

// WithParallelScenes drafts scenes concurrently with the given worker count.
// Parallel scenes see the outline descriptions of their predecessors instead
// of the predecessors' prose.
func WithParallelScenes(workers int) WriterOption {
	return func(c *writerConfig) {
		c.workers = workers
	}
}

func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) {
		c.base = append(c.base, phase.WithLogger(logger))
	}
}

func NewDraftWriter(scribe *agent.Agent, opts ...WriterOption) *DraftWriter {
	cfg := writerConfig{window: DefaultContinuityWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &DraftWriter{
		BasePhase: phase.NewBasePhase("draft_writer", cfg.base...),
		agent:     scribe,
		window:    cfg.window,
		workers:   cfg.workers,
	}
}

// WriteScene writes the scene at sceneIndex. Only the last entries of
// previous, up to the continuity window, are sent as context.
func (w *DraftWriter) WriteScene(ctx context.Context, outline domain.Outline, sceneIndex int, previous []string) (string, error) {
	if sceneIndex < 0 || sceneIndex >= len(outline.Scenes) {
		return "", &core.SceneIndexOutOfRangeError{Index: sceneIndex, Count: len(outline.Scenes)}
	}
	return w.writeScene(ctx, outline, sceneIndex, lastN(previous, w.window))
}

func (w *DraftWriter) writeScene(ctx context.Context, outline domain.Outline, sceneIndex int, continuity []string) (string, error) {
	if err := w.ValidateContext(ctx); err != nil {
		return "", err
	}

	scene := outline.Scenes[sceneIndex]
	startTime := time.Now()

	text, err := w.agent.Run(ctx, agent.TaskSceneWrite, map[string]any{
		"Title":       outline.Title,
		"Genre":       outline.Genre,
		"Style":       domain.StyleForGenre(outline.Genre),
		"Tone":        domain.ToneForThemes(outline.Themes),
		"Characters":  outline.Characters,
		"Number":      sceneIndex + 1,
		"Total":       len(outline.Scenes),
		"Description": scene.Description,
		"Purpose":     scene.Purpose,
		"Context":     continuity,
	})
	if err != nil {
		return "", w.GenerationFailure(err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", core.NewGenerationError(w.Name(), fmt.Sprintf("empty text for scene %d", sceneIndex), nil)
	}

	w.Logger().Debug("scene written",
		"scene_index", sceneIndex,
		"word_count", domain.CountWords(text),
		"duration_ms", time.Since(startTime).Milliseconds())

	return text, nil
}

// WriteDraft writes min(len(outline.Scenes), length.TargetScenes()) scenes in
// index order. Any scene failure aborts the draft.
func (w *DraftWriter) WriteDraft(ctx context.Context, outline domain.Outline, length domain.Length) (domain.Draft, error) {
	if !length.Valid() {
		return domain.Draft{}, core.NewValidationError("target_length", "must be one of short_story novella novel", string(length))
	}
	if len(outline.Scenes) == 0 {
		return domain.Draft{}, core.NewValidationError("outline.scenes", "cannot be empty", nil)
	}

	count := min(len(outline.Scenes), length.TargetScenes())
	startTime := time.Now()
	w.LogStart(ctx, "draft writing", "scene_count", count, "parallel", w.workers > 1)

	var (
		texts []string
		err   error
	)
	if w.workers > 1 {
		texts, err = w.writeParallel(ctx, outline, count)
	} else {
		texts, err = w.writeSequential(ctx, outline, count)
	}
	if err != nil {
		w.LogError(ctx, "draft writing", err, time.Since(startTime))
		return domain.Draft{}, err
	}

	draft := domain.NewDraft(
		outline.Title,
		domain.StyleForGenre(outline.Genre),
		domain.ToneForThemes(outline.Themes),
		texts,
	)

	w.LogComplete(ctx, "draft writing", time.Since(startTime),
		"scene_count", len(draft.Scenes),
		"word_count", draft.WordCount)

	return draft, nil
}

func (w *DraftWriter) writeSequential(ctx context.Context, outline domain.Outline, count int) ([]string, error) {
	texts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		text, err := w.writeScene(ctx, outline, i, lastN(texts, w.window))
		if err != nil {
			return nil, fmt.Errorf("writing scene %d: %w", i, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

type sceneItem struct {
	index int
}

func (s sceneItem) ID() string    { return fmt.Sprintf("scene_%d", s.index) }
func (s sceneItem) Priority() int { return -s.index }

func (w *DraftWriter) writeParallel(ctx context.Context, outline domain.Outline, count int) ([]string, error) {
	items := make([]sceneItem, count)
	for i := range items {
		items[i] = sceneItem{index: i}
	}

	pool := phase.NewWorkerPool[sceneItem, string](
		phase.WithWorkers(w.workers),
		phase.WithPoolLogger(w.Logger()),
	)
	return pool.Process(ctx, items, func(ctx context.Context, item sceneItem) (string, error) {
		return w.writeScene(ctx, outline, item.index, w.outlineContext(outline, item.index))
	})
}

// outlineContext describes the scenes preceding index from the outline alone.
func (w *DraftWriter) outlineContext(outline domain.Outline, index int) []string {
	start := max(0, index-w.window)
	lines := make([]string, 0, index-start)
	for i := start; i < index; i++ {
		lines = append(lines, fmt.Sprintf("Scene %d (planned): %s", i+1, outline.Scenes[i].Description))
	}
	return lines
}

// ReviseScene rewrites one scene according to feedback.
func (w *DraftWriter) ReviseScene(ctx context.Context, outline domain.Outline, scene domain.SceneText, feedback string) (string, error) {
	if scene.Index < 0 || scene.Index >= len(outline.Scenes) {
		return "", &core.SceneIndexOutOfRangeError{Index: scene.Index, Count: len(outline.Scenes)}
	}
	if err := phase.ValidateText("feedback", feedback, 0); err != nil {
		return "", err
	}
	if err := w.ValidateContext(ctx); err != nil {
		return "", err
	}

	revised, err := reviseScene(ctx, w.agent, sceneRevision{
		Style:    domain.StyleForGenre(outline.Genre),
		Tone:     domain.ToneForThemes(outline.Themes),
		Text:     scene.Text,
		Feedback: feedback,
	})
	if err != nil {
		return "", w.GenerationFailure(err)
	}
	return revised, nil
}

type sceneRevision struct {
	Style    string
	Tone     string
	Text     string
	Feedback string
}

var errEmptyRevision = errors.New("revision returned empty text")

func reviseScene(ctx context.Context, a *agent.Agent, r sceneRevision) (string, error) {
	text, err := a.Run(ctx, agent.TaskSceneRevise, map[string]any{
		"Style":    r.Style,
		"Tone":     r.Tone,
		"Scene":    r.Text,
		"Feedback": r.Feedback,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyRevision
	}
	return text, nil
}

func lastN(texts []string, n int) []string {
	if n <= 0 || len(texts) == 0 {
		return nil
	}
	if len(texts) <= n {
		return texts
	}
	return texts[len(texts)-n:]
}
