package costguard

import (
	"errors"
	"fmt"
)

// ErrCeilingExceeded is matched by every CeilingExceededError.
var ErrCeilingExceeded = errors.New("cost ceiling exceeded")

// CeilingExceededError reports a run whose spend reached the per-run cap.
type CeilingExceededError struct {
	Cost    float64
	Ceiling float64
}

func (e *CeilingExceededError) Error() string {
	return fmt.Sprintf("cost ceiling exceeded: spent $%.4f of $%.4f", e.Cost, e.Ceiling)
}

func (e *CeilingExceededError) Is(target error) bool {
	return target == ErrCeilingExceeded
}

// Config holds the governor settings.
type Config struct {
	MaxCostPerRun float64
	Rates         RateTable
	DefaultRate   ModelRate
}

// Governor prices token usage and enforces the per-run ceiling.
// It holds no per-run state; callers carry the TokenUsage.
type Governor struct {
	maxCostPerRun float64
	rates         RateTable
	defaultRate   ModelRate
}

// NewGovernor creates a Governor. A non-positive ceiling disables it.
func NewGovernor(cfg Config) *Governor {
	rates := cfg.Rates
	if len(rates) == 0 {
		rates = DefaultRates()
	}

	normalized := make(RateTable, len(rates))
	for model, rate := range rates {
		normalized[normalizeModel(model)] = rate
	}

	return &Governor{
		maxCostPerRun: cfg.MaxCostPerRun,
		rates:         normalized,
		defaultRate:   cfg.DefaultRate,
	}
}

// MaxCostPerRun returns the configured ceiling.
func (g *Governor) MaxCostPerRun() float64 {
	return g.maxCostPerRun
}

// UpdateUsage returns u plus the priced delta for model.
func (g *Governor) UpdateUsage(u TokenUsage, model string, d Delta) TokenUsage {
	rate := g.rates.Lookup(model, g.defaultRate)

	return u.Add(TokenUsage{
		Input:       d.Input,
		Output:      d.Output,
		CachedInput: d.CachedInput,
		Total:       d.Input + d.Output,
		Cost:        rate.Cost(d),
	})
}

// CheckCeiling fails once the accumulated cost has reached the ceiling.
func (g *Governor) CheckCeiling(u TokenUsage) error {
	if g.maxCostPerRun <= 0 {
		return nil
	}
	if u.Cost >= g.maxCostPerRun {
		return &CeilingExceededError{Cost: u.Cost, Ceiling: g.maxCostPerRun}
	}
	return nil
}

// CheckProjected fails when the call described by d would push the run
// past the ceiling. It is used with estimated prompt sizes before a call.
func (g *Governor) CheckProjected(u TokenUsage, model string, d Delta) error {
	if err := g.CheckCeiling(u); err != nil {
		return err
	}
	if g.maxCostPerRun <= 0 {
		return nil
	}

	projected := g.UpdateUsage(u, model, d)
	if projected.Cost > g.maxCostPerRun {
		return &CeilingExceededError{Cost: projected.Cost, Ceiling: g.maxCostPerRun}
	}
	return nil
}
