package pipeline

import "context"

// Step is one named stage of a pipeline. Execute receives the current
// context value and returns the next one; it must not keep references
// to the input after returning.
type Step[C any] interface {
	Name() string
	Execute(ctx context.Context, in C) (C, error)
}

// StepFunc adapts a function into a Step.
type StepFunc[C any] struct {
	StepName string
	Fn       func(ctx context.Context, in C) (C, error)
}

// NewStepFunc returns a Step named name that runs fn.
func NewStepFunc[C any](name string, fn func(ctx context.Context, in C) (C, error)) StepFunc[C] {
	return StepFunc[C]{StepName: name, Fn: fn}
}

func (s StepFunc[C]) Name() string {
	return s.StepName
}

func (s StepFunc[C]) Execute(ctx context.Context, in C) (C, error) {
	return s.Fn(ctx, in)
}
