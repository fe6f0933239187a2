package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPipeline is returned when Execute is called with no steps.
	ErrEmptyPipeline = errors.New("pipeline has no steps")

	// ErrPrecondition marks a step that found a required context field missing.
	ErrPrecondition = errors.New("step precondition failed")
)

// StepError identifies the step that halted a run.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Missing returns an ErrPrecondition naming the absent field.
func Missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrPrecondition, field)
}
