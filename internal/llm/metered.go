package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/applyflow/internal/costguard"
)

// Recorder receives per-call accounting. internal/metrics implements it.
type Recorder interface {
	ObserveCall(provider, model string, usage Usage, cost float64, latency time.Duration, err error)
	CeilingBlocked(provider, model string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCall(string, string, Usage, float64, time.Duration, error) {}
func (nopRecorder) CeilingBlocked(string, string)                                    {}

// Metered guards a Client with the cost governor. Every call checks the
// ceiling first and returns the updated accumulator afterwards.
type Metered struct {
	client    Client
	governor  *costguard.Governor
	estimator *TokenEstimator
	recorder  Recorder
	logger    *slog.Logger
}

// MeteredOption configures a Metered client.
type MeteredOption func(*Metered)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) MeteredOption {
	return func(m *Metered) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithEstimator sets the prompt token estimator used for the projected check.
func WithEstimator(e *TokenEstimator) MeteredOption {
	return func(m *Metered) {
		m.estimator = e
	}
}

// NewMetered wraps client.
func NewMetered(client Client, governor *costguard.Governor, logger *slog.Logger, opts ...MeteredOption) *Metered {
	m := &Metered{
		client:   client,
		governor: governor,
		recorder: nopRecorder{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Model returns the wrapped client's model name.
func (m *Metered) Model() string {
	return m.client.Model()
}

// Complete checks the ceiling, calls the provider and prices the result.
// A failed call still prices whatever usage the provider reported, so the
// returned accumulator only equals the input when nothing was billed.
func (m *Metered) Complete(ctx context.Context, usage costguard.TokenUsage, req Request) (Response, costguard.TokenUsage, error) {
	provider, model := m.client.Provider(), m.client.Model()

	if err := m.precheck(usage, model, req); err != nil {
		m.recorder.CeilingBlocked(provider, model)
		m.logger.Warn("LLM call blocked by cost ceiling",
			slog.String("provider", provider),
			slog.String("model", model),
			slog.Float64("cost", usage.Cost),
			slog.Float64("ceiling", m.governor.MaxCostPerRun()),
		)
		return Response{}, usage, err
	}

	start := time.Now()
	resp, err := m.client.Complete(ctx, req)
	latency := time.Since(start)
	next := usage
	if resp.Usage != (Usage{}) {
		next = m.governor.UpdateUsage(usage, model, costguard.Delta{
			Input:       resp.Usage.PromptTokens,
			Output:      resp.Usage.CompletionTokens,
			CachedInput: resp.Usage.CachedTokens,
		})
	}
	m.recorder.ObserveCall(provider, model, resp.Usage, next.Cost-usage.Cost, latency, err)
	if err != nil {
		return Response{}, next, err
	}

	m.logger.Debug("LLM call completed",
		slog.String("provider", provider),
		slog.String("model", model),
		slog.Int64("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int64("completion_tokens", resp.Usage.CompletionTokens),
		slog.Float64("run_cost", next.Cost),
		slog.Duration("latency", latency),
	)

	return resp, next, nil
}

func (m *Metered) precheck(usage costguard.TokenUsage, model string, req Request) error {
	if m.estimator == nil {
		return m.governor.CheckCeiling(usage)
	}
	prompt := int64(m.estimator.Count(req.System) + m.estimator.Count(req.Prompt))
	return m.governor.CheckProjected(usage, model, costguard.Delta{Input: prompt})
}
