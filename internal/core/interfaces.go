package core

import (
	"context"

	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
)

// Evaluator scores a draft against its outline. It never fails; an
// evaluation that cannot be produced yields a degraded neutral value.
type Evaluator interface {
	Evaluate(ctx context.Context, draft domain.Draft, outline domain.Outline) domain.QualityMetrics
}

// Reviser produces a new draft addressing the metrics' issues. On failure it
// returns the input draft unchanged.
type Reviser interface {
	Revise(ctx context.Context, draft domain.Draft, metrics domain.QualityMetrics) domain.Draft
}

// Differ is implemented by revisers that can describe a revision.
type Differ interface {
	Diff(before, after domain.Draft) string
}

type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}
