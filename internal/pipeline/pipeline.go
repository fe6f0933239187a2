package pipeline

import (
	"context"
	"time"

	"github.com/cuongbtq/applyflow/internal/costguard"
)

// Pipeline runs an ordered list of steps, threading a context value
// through them. Steps run in the order they were added, are never
// retried, and the first error halts the run.
type Pipeline[C any] struct {
	steps     []Step[C]
	observers []Observer
	now       func() time.Time
}

// New creates a pipeline with the given steps in order.
func New[C any](steps ...Step[C]) *Pipeline[C] {
	return &Pipeline[C]{
		steps: append([]Step[C](nil), steps...),
		now:   time.Now,
	}
}

// AddStep appends a step and returns the pipeline for chaining.
func (p *Pipeline[C]) AddStep(s Step[C]) *Pipeline[C] {
	p.steps = append(p.steps, s)
	return p
}

// Observe registers observers that receive every step event.
func (p *Pipeline[C]) Observe(obs ...Observer) *Pipeline[C] {
	p.observers = append(p.observers, obs...)
	return p
}

// StepNames returns the step names in execution order.
func (p *Pipeline[C]) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Execute runs every step in order. On failure it returns the last
// context produced by a successful step together with a *StepError. The
// FAILED event carries the usage the failing step reported, if any.
func (p *Pipeline[C]) Execute(ctx context.Context, initial C) (C, error) {
	current := initial
	if len(p.steps) == 0 {
		return current, ErrEmptyPipeline
	}

	for i, step := range p.steps {
		name := step.Name()
		start := p.now()

		p.emit(ctx, Event{Step: name, Index: i, Status: StatusStart, Timestamp: start})

		next, err := step.Execute(ctx, current)
		elapsed := p.now().Sub(start)

		if err != nil {
			stepErr := &StepError{Step: name, Index: i, Err: err}
			p.emit(ctx, Event{
				Step:      name,
				Index:     i,
				Status:    StatusFailed,
				Timestamp: p.now(),
				Duration:  elapsed,
				Usage:     usageOf(next),
				Err:       stepErr,
			})
			return current, stepErr
		}

		current = next
		p.emit(ctx, Event{
			Step:      name,
			Index:     i,
			Status:    StatusSuccess,
			Timestamp: p.now(),
			Duration:  elapsed,
			Usage:     usageOf(current),
		})
	}

	return current, nil
}

func (p *Pipeline[C]) emit(ctx context.Context, e Event) {
	for _, o := range p.observers {
		o.OnEvent(ctx, e)
	}
}

func usageOf(c any) *costguard.TokenUsage {
	r, ok := c.(UsageReporter)
	if !ok {
		return nil
	}
	u := r.TokenUsage()
	return &u
}
