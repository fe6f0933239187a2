package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/applyflow/internal/llm"
	"github.com/cuongbtq/applyflow/internal/pipeline"
)

var (
	_ llm.Recorder      = (*Metrics)(nil)
	_ pipeline.Observer = (*Metrics)(nil)
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.JobEnqueued("TRIAL_TIER")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsEnqueued.WithLabelValues("trial_tier")))
}

func TestObserveCall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCall("OpenAI", "gpt-4o-mini", llm.Usage{PromptTokens: 120, CompletionTokens: 30, CachedTokens: 20}, 0.002, time.Second, nil)
	m.ObserveCall("openai", "gpt-4o-mini", llm.Usage{PromptTokens: 10}, 0.001, time.Second, errors.New("boom"))
	m.CeilingBlocked("openai", "gpt-4o-mini")

	assert.Equal(t, 130.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("openai", "gpt-4o-mini", "input")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("openai", "gpt-4o-mini", "output")))
	assert.InDelta(t, 0.003, testutil.ToFloat64(m.llmCost.WithLabelValues("openai", "gpt-4o-mini")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ceilingBlocked.WithLabelValues("openai", "gpt-4o-mini")))
}

func TestOnEvent_IgnoresStart(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OnEvent(context.Background(), pipeline.Event{Step: "RenderPDF", Status: pipeline.StatusStart})
	m.OnEvent(context.Background(), pipeline.Event{Step: "RenderPDF", Status: pipeline.StatusSuccess, Duration: time.Second})
	m.OnEvent(context.Background(), pipeline.Event{Step: "RenderPDF", Status: pipeline.StatusFailed, Duration: time.Second})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("RenderPDF", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("RenderPDF", "FAILED")))
}

func TestTrackRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.TrackRun()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done("SUCCESS")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}
