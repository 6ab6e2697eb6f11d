package agent

import "context"

// TextGenerator is the boundary to the natural-language generation provider.
// Implementations must be safe for concurrent use by multiple requests.
type TextGenerator interface {
	Generate(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error)
}

// GenerateOptions tunes a single generation call
type GenerateOptions struct {
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" validate:"gte=1,lte=200000"`
	// JSON asks the provider for a single JSON object response.
	JSON bool `json:"json,omitempty" yaml:"-"`
}

// GeneratorFunc adapts a function to TextGenerator.
type GeneratorFunc func(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error) {
	return f(ctx, systemInstruction, userInstruction, opts)
}
