package worker

import (
	"context"
	"log/slog"
	"time"
)

// consume is the receive loop. Receive errors back off and reconnect,
// a batch that hit a transient store failure backs off too; the loop only
// exits when ctx is canceled.
func (w *Worker) consume(ctx context.Context) {
	w.logger.Info("Message consumer started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("Message consumer stopped - context canceled")
			return
		}

		msgs, err := w.transport.Receive(ctx, w.batchSize, w.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Message consumer stopped - context canceled")
				return
			}

			w.logger.Error("Failed to receive messages",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.loopBackoff),
			)
			if !sleep(ctx, w.loopBackoff) {
				return
			}
			if err := w.transport.Reconnect(); err != nil {
				w.logger.Error("Failed to reconnect transport",
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if len(msgs) == 0 {
			continue
		}

		w.logger.Debug("Received batch", slog.Int("messages", len(msgs)))
		if w.processBatch(ctx, msgs) {
			w.logger.Warn("Backing off after transient failure",
				slog.Duration("backoff", w.loopBackoff),
			)
			if !sleep(ctx, w.loopBackoff) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
