package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/applyflow/internal/llm"
	"github.com/cuongbtq/applyflow/internal/pipeline"
)

const namespace = "applyflow"

// Metrics holds the Prometheus collectors for the api and the worker.
// It implements llm.Recorder and pipeline.Observer.
type Metrics struct {
	jobsEnqueued   *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobsReclaimed  prometheus.Counter
	quotaRejected  *prometheus.CounterVec
	messagesDrop   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	stepDuration   *prometheus.HistogramVec
	stepsTotal     *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	llmCost        *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	ceilingBlocked *prometheus.CounterVec
	inFlight       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted by the api, by tier.",
		}, []string{"tier"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status, by status and stage.",
		}, []string{"status", "stage"}),
		jobsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reclaimed_total",
			Help:      "IN_PROGRESS jobs failed because their worker lease expired.",
		}),
		quotaRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Enqueue requests rejected by the rate limiter, by tier.",
		}, []string{"tier"}),
		messagesDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_dropped_total",
			Help:      "Queue messages acknowledged without processing, by reason.",
		}, []string{"reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{1, 5, 10, 20, 40, 60, 120, 300},
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of each pipeline step.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"step", "status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_steps_total",
			Help:      "Completed pipeline steps by outcome.",
		}, []string{"step", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed per provider/model and kind (input, output, cached).",
		}, []string{"provider", "model", "kind"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated spend in USD per provider/model.",
		}, []string{"provider", "model"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "LLM call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider", "model", "success"}),
		ceilingBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_ceiling_blocks_total",
			Help:      "LLM calls refused by the per-run cost ceiling.",
		}, []string{"provider", "model"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Pipelines currently running in this worker.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.jobsEnqueued, m.jobsFinished, m.jobsReclaimed, m.quotaRejected,
			m.messagesDrop, m.jobDuration, m.stepDuration, m.stepsTotal,
			m.llmTokens, m.llmCost, m.llmLatency, m.ceilingBlocked, m.inFlight,
		)
	}
	return m
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (m *Metrics) JobEnqueued(tier string) {
	m.jobsEnqueued.WithLabelValues(norm(tier)).Inc()
}

func (m *Metrics) QuotaRejected(tier string) {
	m.quotaRejected.WithLabelValues(norm(tier)).Inc()
}

// JobFinished records a terminal transition. stage names where a failure happened.
func (m *Metrics) JobFinished(status, stage string) {
	m.jobsFinished.WithLabelValues(status, stage).Inc()
}

func (m *Metrics) JobsReclaimed(n int) {
	m.jobsReclaimed.Add(float64(n))
}

func (m *Metrics) MessageDropped(reason string) {
	m.messagesDrop.WithLabelValues(reason).Inc()
}

// TrackRun marks a pipeline as running and returns the function that ends it.
func (m *Metrics) TrackRun() func(status string) {
	start := time.Now()
	m.inFlight.Inc()
	return func(status string) {
		m.inFlight.Dec()
		m.jobDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

// OnEvent implements pipeline.Observer.
func (m *Metrics) OnEvent(_ context.Context, e pipeline.Event) {
	if e.Status == pipeline.StatusStart {
		return
	}
	m.stepsTotal.WithLabelValues(e.Step, string(e.Status)).Inc()
	m.stepDuration.WithLabelValues(e.Step, string(e.Status)).Observe(e.Duration.Seconds())
}

// ObserveCall implements llm.Recorder.
func (m *Metrics) ObserveCall(provider, model string, usage llm.Usage, cost float64, latency time.Duration, err error) {
	p, md := norm(provider), norm(model)
	m.llmTokens.WithLabelValues(p, md, "input").Add(float64(usage.PromptTokens))
	m.llmTokens.WithLabelValues(p, md, "output").Add(float64(usage.CompletionTokens))
	m.llmTokens.WithLabelValues(p, md, "cached").Add(float64(usage.CachedTokens))
	m.llmCost.WithLabelValues(p, md).Add(cost)
	m.llmLatency.WithLabelValues(p, md, strconv.FormatBool(err == nil)).Observe(latency.Seconds())
}

// CeilingBlocked implements llm.Recorder.
func (m *Metrics) CeilingBlocked(provider, model string) {
	m.ceilingBlocked.WithLabelValues(norm(provider), norm(model)).Inc()
}
