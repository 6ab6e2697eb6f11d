package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotcommander/storyweaver/internal/core"
)

// BasePhase provides the naming, logging and context checks shared by the
// pipeline stages.
type BasePhase struct {
	name   string
	logger *slog.Logger
}

// BasePhaseOption allows customization of BasePhase
type BasePhaseOption func(*BasePhase)

// WithLogger configures a custom logger
func WithLogger(logger *slog.Logger) BasePhaseOption {
	return func(b *BasePhase) {
		if logger != nil {
			b.logger = logger.With("component", b.name)
		}
	}
}

// NewBasePhase creates a new base phase with optional configuration
func NewBasePhase(name string, options ...BasePhaseOption) BasePhase {
	base := BasePhase{
		name:   name,
		logger: slog.Default().With("component", name),
	}

	for _, option := range options {
		option(&base)
	}

	return base
}

// Name returns the phase name
func (b BasePhase) Name() string {
	return b.name
}

func (b BasePhase) Logger() *slog.Logger {
	return b.logger
}

// ValidateContext checks the context before issuing a generator call. A
// passed deadline is reported as a GenerationTimeoutError.
func (b BasePhase) ValidateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("phase %s: context cannot be nil", b.name)
	}

	if err := ctx.Err(); err != nil {
		return core.TimeoutFromContext(b.name, fmt.Errorf("phase %s: context already cancelled: %w", b.name, err))
	}
	return nil
}

// LogStart logs the start of an operation
func (b BasePhase) LogStart(ctx context.Context, op string, attrs ...any) {
	b.logger.DebugContext(ctx, "starting "+op, attrs...)
}

// LogComplete logs successful completion of an operation
func (b BasePhase) LogComplete(ctx context.Context, op string, duration time.Duration, attrs ...any) {
	attrs = append(attrs, "duration_ms", duration.Milliseconds())
	b.logger.InfoContext(ctx, op+" completed", attrs...)
}

// LogError logs a failed operation
func (b BasePhase) LogError(ctx context.Context, op string, err error, duration time.Duration) {
	b.logger.ErrorContext(ctx, op+" failed",
		"error", err,
		"duration_ms", duration.Milliseconds())
}

// GenerationFailure normalizes a generator error for this phase. Typed
// generation errors pass through, deadlines become GenerationTimeoutError
// and anything else is wrapped in a GenerationError.
func (b BasePhase) GenerationFailure(err error) error {
	if err == nil {
		return nil
	}
	if core.IsTimeout(err) || core.IsGenerationError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.TimeoutFromContext(b.name, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.NewGenerationError(b.name, "text generation failed", err)
}
