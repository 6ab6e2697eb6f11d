package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"validation", NewValidationError("prompt", "must not be empty", ""), false},
		{"rate limited", NewGenerationError("messages", "429", ErrRateLimited), true},
		{"provider unavailable", NewGenerationError("messages", "503", ErrProviderUnavailable), true},
		{"plain generation error", NewGenerationError("messages", "400", nil), false},
		{"timeout", &GenerationTimeoutError{Step: "generate", Timeout: time.Minute}, true},
		{"wrapped timeout", fmt.Errorf("drafting: %w", &GenerationTimeoutError{Step: "draft"}), true},
		{"no api key", NewGenerationError("generate", "no key", ErrNoAPIKey), false},
		{"scene out of range", &SceneIndexOutOfRangeError{Index: 5, Count: 3}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestMalformedOutlineError(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := fmt.Errorf("planning: %w", NewMalformedOutlineError("decoding outline", "{", cause))

	if !errors.Is(err, ErrMalformedOutline) {
		t.Error("errors.Is(err, ErrMalformedOutline) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}

	var malformed *MalformedOutlineError
	if !errors.As(err, &malformed) || malformed.Raw != "{" {
		t.Errorf("errors.As() = %+v", malformed)
	}
}

func TestTimeoutFromContext(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantTimeout bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("calling: %w", context.DeadlineExceeded), true},
		{"canceled stays canceled", context.Canceled, false},
		{"already timeout", &GenerationTimeoutError{Step: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeoutFromContext("draft", tt.err)
			if IsTimeout(got) != tt.wantTimeout {
				t.Errorf("IsTimeout(TimeoutFromContext()) = %v, want %v", IsTimeout(got), tt.wantTimeout)
			}
			if tt.err != nil && !errors.Is(got, tt.err) {
				t.Errorf("TimeoutFromContext() lost original error %v", tt.err)
			}
		})
	}
}
