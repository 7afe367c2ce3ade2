package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// v is the shared validator instance; go-playground validators are
// thread-safe, so one serves every handler.
var v *validator.Validate

// stageNamePattern matches pipeline stage names: short identifiers that
// become map keys and transition labels, so no whitespace or separators
// beyond dash and underscore.
var stageNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

func init() {
	v = validator.New()

	_ = v.RegisterValidation("stagename", func(fl validator.FieldLevel) bool {
		return stageNamePattern.MatchString(fl.Field().String())
	})
}

// FieldError describes one failed field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors is the error returned for invalid input; its text
// lists every failed field.
type ValidationErrors []FieldError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a struct's validate tags and returns
// ValidationErrors when any field fails.
func Validate(value any) error {
	err := v.Struct(value)
	if err == nil {
		return nil
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	out := make(ValidationErrors, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldError{
			Field:   jsonFieldName(e.Field()),
			Message: messageFor(e),
		})
	}
	return out
}

// jsonFieldName lowercases the first rune so messages reference the
// camelCase names callers actually sent.
func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// messageFor covers the tags the input structs use; anything new falls
// through to the generic form.
func messageFor(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", e.Param())
		}
		return fmt.Sprintf("must have at least %s entries", e.Param())
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", e.Param())
		}
		return fmt.Sprintf("must have at most %s entries", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "stagename":
		return "must be a valid stage name (letters, digits, dash, underscore; max 64 characters)"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}
