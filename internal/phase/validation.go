package phase

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/dotcommander/storyweaver/internal/core"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so messages match the wire format
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs the validate tags on v and reports the first failure
// as a core.ValidationError.
func ValidateStruct(v any) error {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return core.NewValidationError(fe.Field(), describeTag(fe), nil)
	}
	return fmt.Errorf("validating %T: %w", v, err)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// ValidateText rejects blank text and text longer than maxRunes characters.
// A maxRunes of zero disables the length check.
func ValidateText(field, text string, maxRunes int) error {
	if strings.TrimSpace(text) == "" {
		return core.NewValidationError(field, "cannot be empty", nil)
	}
	if maxRunes > 0 {
		if n := utf8.RuneCountInString(text); n > maxRunes {
			return core.NewValidationError(field, fmt.Sprintf("exceeds %d characters", maxRunes), n)
		}
	}
	return nil
}
