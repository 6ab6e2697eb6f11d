package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Predefined Error Values
// =============================================================================

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTimeout             = errors.New("operation timed out")
	ErrRateLimited         = errors.New("rate limited")
	ErrProviderUnavailable = errors.New("text generation provider unavailable")
	ErrNoAPIKey            = errors.New("API key not configured")
	ErrMalformedOutline    = errors.New("malformed outline")
	ErrSceneOutOfRange     = errors.New("scene index out of range")
)

// =============================================================================
// Core Error Types
// =============================================================================

// ValidationError reports input rejected before any text generation call.
type ValidationError struct {
	Field   string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// MalformedOutlineError is returned when generated outline text cannot be
// parsed into an Outline or fails structural checks. Raw holds the cleaned
// response for diagnostics.
type MalformedOutlineError struct {
	Reason string
	Raw    string
	Cause  error
}

func (e *MalformedOutlineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed outline: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("malformed outline: %s", e.Reason)
}

func (e *MalformedOutlineError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrMalformedOutline, e.Cause}
	}
	return []error{ErrMalformedOutline}
}

// SceneIndexOutOfRangeError rejects a scene write for an index the outline
// does not declare.
type SceneIndexOutOfRangeError struct {
	Index int
	Count int
}

func (e *SceneIndexOutOfRangeError) Error() string {
	return fmt.Sprintf("scene index %d out of range [0, %d)", e.Index, e.Count)
}

func (e *SceneIndexOutOfRangeError) Unwrap() error {
	return ErrSceneOutOfRange
}

// GenerationError represents a text generation provider failure
type GenerationError struct {
	Step    string // Pipeline step that issued the call
	Details string // Detailed error description
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation failed at %s: %s: %v", e.Step, e.Details, e.Cause)
	}
	return fmt.Sprintf("generation failed at %s: %s", e.Step, e.Details)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// GenerationTimeoutError is returned when a provider call or the whole
// request exceeds its time budget. It is always retryable.
type GenerationTimeoutError struct {
	Step    string
	Timeout time.Duration
	Cause   error
}

func (e *GenerationTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("generation timed out at %s after %v", e.Step, e.Timeout)
	}
	return fmt.Sprintf("generation timed out at %s", e.Step)
}

func (e *GenerationTimeoutError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrTimeout, e.Cause}
	}
	return []error{ErrTimeout}
}

// Retryable reports that the request may be resubmitted.
func (e *GenerationTimeoutError) Retryable() bool {
	return true
}

// =============================================================================
// Error Creation Helpers
// =============================================================================

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewGenerationError creates a new GenerationError
func NewGenerationError(step, details string, cause error) *GenerationError {
	return &GenerationError{
		Step:    step,
		Details: details,
		Cause:   cause,
	}
}

// NewMalformedOutlineError creates a new MalformedOutlineError
func NewMalformedOutlineError(reason, raw string, cause error) *MalformedOutlineError {
	return &MalformedOutlineError{
		Reason: reason,
		Raw:    raw,
		Cause:  cause,
	}
}

// TimeoutFromContext converts a context deadline into a GenerationTimeoutError.
// Other errors are returned unchanged.
func TimeoutFromContext(step string, err error) error {
	if err == nil {
		return nil
	}
	var timeoutErr *GenerationTimeoutError
	if errors.As(err, &timeoutErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerationTimeoutError{Step: step, Cause: err}
	}
	return err
}

// =============================================================================
// Error Classification Functions
// =============================================================================

// IsRetryable determines if an error can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var timeoutErr *GenerationTimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsGenerationError checks if an error is a generation error
func IsGenerationError(err error) bool {
	var generationErr *GenerationError
	return errors.As(err, &generationErr)
}

// IsTimeout checks if an error is a generation timeout
func IsTimeout(err error) bool {
	var timeoutErr *GenerationTimeoutError
	return errors.As(err, &timeoutErr)
}
