package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dotcommander/storyweaver/internal/agent"
	"github.com/dotcommander/storyweaver/internal/causality"
	"github.com/dotcommander/storyweaver/internal/config"
	"github.com/dotcommander/storyweaver/internal/core"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase/fiction"
	"github.com/dotcommander/storyweaver/internal/storage"
	"github.com/dotcommander/storyweaver/internal/story"
)

// app holds the wired pipeline for one process.
type app struct {
	cfg     *config.Config
	mode    string
	service *story.Service
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newGenerator(cfg *config.Config, forceMock bool, logger *slog.Logger) (agent.TextGenerator, string) {
	if forceMock || cfg.AI.Provider == "mock" {
		return agent.NewMockClient(), "mock"
	}
	return agent.NewClient(cfg.AI.APIKey,
		agent.WithAPIConfig(cfg.AI.BaseURL, cfg.AI.Model),
		agent.WithProvider(cfg.AI.Provider),
		agent.WithTimeout(cfg.AI.Timeout),
		agent.WithRetry(cfg.Limits.MaxRetries),
		agent.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize),
		agent.WithLogger(logger),
	), "live"
}

// openRepository is swapped in tests
var openRepository = newRepository

func newRepository(cfg *config.Config, fs *storage.FileSystem) (storage.Repository, func() error, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		repo, err := storage.OpenSQLite(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return storage.NewFileRepository(fs), func() error { return nil }, nil
	}
}

// buildApp wires generators, stages and persistence from configuration.
func buildApp(cfg *config.Config, forceMock bool, logger *slog.Logger) (*app, error) {
	generator, mode := newGenerator(cfg, forceMock, logger)

	fs := storage.NewFileSystem(cfg.Storage.DataDir)
	if cfg.Storage.CacheEnabled && mode == "live" {
		generator = agent.WithCache(generator, agent.NewResponseCache(fs, cfg.Storage.CacheTTL))
	}

	factory := agent.NewAgentFactory(generator, agent.NewPromptCache(cfg.AI.PromptsDir), cfg.Roles.Profiles())
	architect := factory.Agent(agent.RoleArchitect)
	scribe := factory.Agent(agent.RoleScribe)
	editor := factory.Agent(agent.RoleEditor)

	writerOpts := []fiction.WriterOption{
		fiction.WithContinuityWindow(cfg.Story.ContinuityWindow),
		fiction.WithWriterLogger(logger),
	}
	if cfg.Story.ParallelScenes {
		writerOpts = append(writerOpts, fiction.WithParallelScenes(cfg.Story.SceneWorkers))
	}

	evaluator := fiction.NewQualityEvaluator(editor,
		fiction.WithEvaluationBudget(cfg.Story.EvaluationBudget),
		fiction.WithEvaluatorLogger(logger))
	reviser := fiction.NewDraftReviser(editor)

	loop, err := core.NewImprovementLoop(evaluator, reviser,
		core.ImprovementConfig{
			MaxIterations:    cfg.Story.MaxIterations,
			QualityThreshold: cfg.Story.QualityThreshold,
		},
		core.WithCheckpoints(core.NewCheckpointManager(fs)),
		core.WithLoopLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("configuring improvement loop: %w", err)
	}

	repo, closeRepo, err := openRepository(cfg, fs)
	if err != nil {
		return nil, fmt.Errorf("opening story repository: %w", err)
	}

	length, err := domain.ParseLength(cfg.Story.DefaultLength)
	if err != nil {
		return nil, errors.Join(err, closeRepo())
	}

	writer := fiction.NewDraftWriter(scribe, writerOpts...)
	service := story.New(story.Dependencies{
		Outliner:   fiction.NewOutlineBuilder(architect, fiction.WithSceneHorizon(cfg.Story.SceneHorizon), fiction.WithOutlineLogger(logger)),
		Drafter:    writer,
		Improver:   loop,
		Checker:    causality.NewChecker(causality.WithLogger(logger)),
		Editor:     reviser,
		Scenes:     writer,
		Impact:     causality.NewImpactAnalyzer(architect),
		Repository: repo,
	},
		story.WithMaxConcurrentStories(cfg.Limits.MaxConcurrentStories),
		story.WithRequestTimeout(cfg.Limits.RequestTimeout),
		story.WithMaxPromptSize(cfg.Limits.MaxPromptSize),
		story.WithDefaults(cfg.Story.DefaultGenre, length),
		story.WithWeights(evaluator.Weights()),
		story.WithLogger(logger),
	)

	return &app{
		cfg:     cfg,
		mode:    mode,
		service: service,
		closers: []func() error{closeRepo},
	}, nil
}
