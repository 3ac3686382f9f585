package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigValidation marks errors caused by invalid workflow or action
	// configuration. They are raised before any side effect.
	ErrConfigValidation = errors.New("configuration validation failed")

	// ErrWorkflowNotFound is returned when a workflow directory has no config.toml.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// ValidationError lists every problem found in a workflow definition.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %s", e.Source, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrConfigValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigValidation
}

// Invalidf returns an ErrConfigValidation-wrapped error for problems found
// while executing an action.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigValidation, fmt.Sprintf(format, args...))
}
