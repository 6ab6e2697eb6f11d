package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dotcommander/storyweaver/internal/bible"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
)

// StoryRecord is a generated story as persisted.
type StoryRecord struct {
	ID           string                `json:"story_id"`
	Title        string                `json:"title"`
	Genre        string                `json:"genre"`
	Prompt       string                `json:"prompt"`
	Status       string                `json:"status"`
	Content      string                `json:"content"`
	Outline      domain.Outline        `json:"outline"`
	Draft        domain.Draft          `json:"draft"`
	Metrics      domain.QualityMetrics `json:"quality_metrics"`
	CausalReport domain.CausalReport   `json:"causal_report"`
	Iterations   int                   `json:"iterations"`
	CreatedAt    time.Time             `json:"created_at"`
}

// StorySummary is the listing view of a StoryRecord
type StorySummary struct {
	ID           string    `json:"story_id"`
	Title        string    `json:"title"`
	Genre        string    `json:"genre"`
	Status       string    `json:"status"`
	OverallScore float64   `json:"overall_score"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r StoryRecord) Summary() StorySummary {
	return StorySummary{
		ID:           r.ID,
		Title:        r.Title,
		Genre:        r.Genre,
		Status:       r.Status,
		OverallScore: r.Metrics.OverallScore,
		CreatedAt:    r.CreatedAt,
	}
}

// Repository persists stories and their story-bible events.
type Repository interface {
	SaveStory(ctx context.Context, record StoryRecord) error
	LoadStory(ctx context.Context, storyID string) (*StoryRecord, error)
	ListStories(ctx context.Context) ([]StorySummary, error)
	AppendEvent(ctx context.Context, storyID string, event bible.Event) error
	Events(ctx context.Context, storyID string) ([]bible.Event, error)
}

func validateStoryID(storyID string) error {
	if storyID == "" {
		return fmt.Errorf("story id is empty")
	}
	if strings.ContainsAny(storyID, `/\`) || strings.Contains(storyID, "..") {
		return fmt.Errorf("invalid story id %q", storyID)
	}
	return nil
}

// FileRepository stores each story as JSON documents under stories/<id>/.
type FileRepository struct {
	storage Storage
	mu      sync.Mutex
	logger  *slog.Logger
}

func NewFileRepository(storage Storage) *FileRepository {
	return &FileRepository{
		storage: storage,
		logger:  slog.Default().With("component", "file_repository"),
	}
}

func storyFile(storyID, name string) string {
	return path.Join("stories", storyID, name)
}

func (r *FileRepository) SaveStory(ctx context.Context, record StoryRecord) error {
	if err := validateStoryID(record.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling story: %w", err)
	}

	if err := r.storage.Save(ctx, storyFile(record.ID, "story.json"), data); err != nil {
		return fmt.Errorf("saving story %s: %w", record.ID, err)
	}

	r.logger.Debug("story saved",
		"story_id", record.ID,
		"bytes", len(data))

	return nil
}

func (r *FileRepository) LoadStory(ctx context.Context, storyID string) (*StoryRecord, error) {
	if err := validateStoryID(storyID); err != nil {
		return nil, fmt.Errorf("loading story: %w", ErrNotFound)
	}

	data, err := r.storage.Load(ctx, storyFile(storyID, "story.json"))
	if err != nil {
		return nil, fmt.Errorf("loading story %s: %w", storyID, err)
	}

	var record StoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parsing story %s: %w", storyID, err)
	}
	return &record, nil
}

// ListStories returns summaries newest first.
func (r *FileRepository) ListStories(ctx context.Context) ([]StorySummary, error) {
	files, err := r.storage.List(ctx, "stories/*/story.json")
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}

	summaries := make([]StorySummary, 0, len(files))
	for _, file := range files {
		data, err := r.storage.Load(ctx, file)
		if err != nil {
			r.logger.Warn("skipping unreadable story", "path", file, "error", err)
			continue
		}
		var record StoryRecord
		if err := json.Unmarshal(data, &record); err != nil {
			r.logger.Warn("skipping corrupt story", "path", file, "error", err)
			continue
		}
		summaries = append(summaries, record.Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (r *FileRepository) AppendEvent(ctx context.Context, storyID string, event bible.Event) error {
	if err := validateStoryID(storyID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.events(ctx, storyID)
	if err != nil {
		return err
	}
	if event.Sequence != len(events)+1 {
		return fmt.Errorf("appending event %s: sequence %d, want %d", event.ID, event.Sequence, len(events)+1)
	}
	events = append(events, event)

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}
	if err := r.storage.Save(ctx, storyFile(storyID, "events.json"), data); err != nil {
		return fmt.Errorf("saving events for %s: %w", storyID, err)
	}
	return nil
}

func (r *FileRepository) Events(ctx context.Context, storyID string) ([]bible.Event, error) {
	if err := validateStoryID(storyID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events(ctx, storyID)
}

func (r *FileRepository) events(ctx context.Context, storyID string) ([]bible.Event, error) {
	data, err := r.storage.Load(ctx, storyFile(storyID, "events.json"))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading events for %s: %w", storyID, err)
	}

	var events []bible.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parsing events for %s: %w", storyID, err)
	}
	return events, nil
}
