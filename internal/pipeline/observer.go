package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/applyflow/internal/costguard"
)

// Status is the lifecycle marker of an Event.
type Status string

const (
	StatusStart   Status = "START"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Event is emitted around every step.
type Event struct {
	Step      string
	Index     int
	Status    Status
	Timestamp time.Time
	// Duration and Usage are set on SUCCESS; Duration is also set on FAILED.
	Duration time.Duration
	Usage    *costguard.TokenUsage
	Err      error
}

// Observer receives step events. Implementations must not block for long;
// they run inline with the pipeline.
type Observer interface {
	OnEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) OnEvent(ctx context.Context, e Event) {
	f(ctx, e)
}

// UsageReporter is implemented by contexts that carry a token accumulator.
type UsageReporter interface {
	TokenUsage() costguard.TokenUsage
}

// LogObserver writes events to a slog logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnEvent(ctx context.Context, e Event) {
	attrs := []slog.Attr{
		slog.String("step", e.Step),
		slog.Int("index", e.Index),
		slog.String("status", string(e.Status)),
	}

	switch e.Status {
	case StatusStart:
		o.logger.LogAttrs(ctx, slog.LevelInfo, "Pipeline step started", attrs...)
	case StatusSuccess:
		attrs = append(attrs, slog.Duration("duration", e.Duration))
		if e.Usage != nil {
			attrs = append(attrs,
				slog.Int64("tokens_total", e.Usage.Total),
				slog.Float64("cost", e.Usage.Cost),
			)
		}
		o.logger.LogAttrs(ctx, slog.LevelInfo, "Pipeline step completed", attrs...)
	case StatusFailed:
		attrs = append(attrs, slog.Duration("duration", e.Duration))
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}
		o.logger.LogAttrs(ctx, slog.LevelError, "Pipeline step failed", attrs...)
	}
}
