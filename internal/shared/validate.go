package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidInput is the root of every input validation failure.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is a single failed constraint.
type FieldError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s failed %s", f.Field, f.Rule))
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterAlias("name", "required,max=200")
	})
	return validate
}

// Validate checks the `validate` tags of s and returns a *ValidationError
// when any constraint fails.
func Validate(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Namespace(), Rule: fe.Tag()})
	}
	return out
}

// TrimmedName trims surrounding whitespace from a user supplied name.
func TrimmedName(s string) string {
	return strings.TrimSpace(s)
}
