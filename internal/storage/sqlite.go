package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dotcommander/storyweaver/internal/bible"
)

// timeLayout is fixed-width so created_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS stories (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	genre TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	overall_score REAL NOT NULL DEFAULT 0,
	record_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stories_created ON stories(created_at);
CREATE TABLE IF NOT EXISTS bible_events (
	story_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	id TEXT NOT NULL,
	kind TEXT NOT NULL,
	event_json TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (story_id, sequence)
);
`

// SQLiteRepository stores stories and bible events in a SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens or creates the database at path. Use ":memory:" for an
// in-process database.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening story database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing story schema: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: slog.Default().With("component", "sqlite_repository"),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveStory(ctx context.Context, record StoryRecord) error {
	if err := validateStoryID(record.ID); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling story: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO stories
		(id, title, genre, status, overall_score, record_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			genre = excluded.genre,
			status = excluded.status,
			overall_score = excluded.overall_score,
			record_json = excluded.record_json`,
		record.ID, record.Title, record.Genre, record.Status,
		record.Metrics.OverallScore, string(data),
		record.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving story %s: %w", record.ID, err)
	}

	r.logger.Debug("story saved", "story_id", record.ID)
	return nil
}

func (r *SQLiteRepository) LoadStory(ctx context.Context, storyID string) (*StoryRecord, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT record_json FROM stories WHERE id = ?`, storyID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading story %s: %w", storyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading story %s: %w", storyID, err)
	}

	var record StoryRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("parsing story %s: %w", storyID, err)
	}
	return &record, nil
}

// ListStories returns summaries newest first.
func (r *SQLiteRepository) ListStories(ctx context.Context) ([]StorySummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, genre, status, overall_score, created_at
		FROM stories ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying stories: %w", err)
	}
	defer rows.Close()

	summaries := make([]StorySummary, 0)
	for rows.Next() {
		var (
			s         StorySummary
			createdAt string
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Genre, &s.Status, &s.OverallScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning story: %w", err)
		}
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			s.CreatedAt = t
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *SQLiteRepository) AppendEvent(ctx context.Context, storyID string, event bible.Event) error {
	if err := validateStoryID(storyID); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	// The primary key rejects a second event with the same sequence
	_, err = r.db.ExecContext(ctx, `INSERT INTO bible_events
		(story_id, sequence, id, kind, event_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		storyID, event.Sequence, event.ID, string(event.Kind), string(data),
		event.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("appending event %s: %w", event.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Events(ctx context.Context, storyID string) ([]bible.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_json FROM bible_events
		WHERE story_id = ? ORDER BY sequence`, storyID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []bible.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var e bible.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("parsing event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
