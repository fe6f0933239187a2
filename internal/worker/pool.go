package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type disposition int

const (
	// ack removes the message for good.
	ack disposition = iota
	// release hands the message back for redelivery.
	release
	// retryLater releases the message and pauses the receive loop for
	// loopBackoff, for failures that redelivery alone cannot fix.
	retryLater
)

func (d disposition) String() string {
	switch d {
	case ack:
		return "ack"
	case retryLater:
		return "retry_later"
	}
	return "release"
}

// processBatch handles one received batch with at most w.concurrency jobs
// in flight. Messages for the same job run one after another so a
// duplicate in the batch sees the first one's outcome. A received batch
// is always finished, so shutdown does not cancel it. It reports whether
// any message asked the loop to back off.
func (w *Worker) processBatch(ctx context.Context, msgs []Message) bool {
	ctx = context.WithoutCancel(ctx)

	var (
		g       errgroup.Group
		backoff atomic.Bool
	)
	g.SetLimit(w.concurrency)

	for _, group := range groupByJob(msgs) {
		g.Go(func() error {
			for _, m := range group {
				d := w.safeHandle(ctx, m)
				if d == retryLater {
					backoff.Store(true)
				}
				w.settle(ctx, m, d)
			}
			return nil
		})
	}

	_ = g.Wait()
	return backoff.Load()
}

// safeHandle keeps a panic outside the pipeline from taking the process
// down. The message goes back to the queue.
func (w *Worker) safeHandle(ctx context.Context, m Message) (d disposition) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Message handling panicked",
				slog.String("message_id", m.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			d = retryLater
		}
	}()
	return w.handle(ctx, m)
}

// groupByJob keeps receive order within a job and across first
// occurrences. Bodies that do not carry a job id get their own group.
func groupByJob(msgs []Message) [][]Message {
	var (
		order  []string
		groups = make(map[string][]Message, len(msgs))
	)

	for _, m := range msgs {
		key := "msg:" + m.ID
		var peek struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(m.Body, &peek); err == nil && peek.JobID != "" {
			key = "job:" + peek.JobID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	out := make([][]Message, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// settle acks or releases m. retryLater releases too.
func (w *Worker) settle(ctx context.Context, m Message, d disposition) {
	var err error
	if d == ack {
		err = w.transport.Delete(ctx, m)
	} else {
		err = w.transport.Release(ctx, m)
	}

	if err != nil {
		w.logger.Error("Failed to settle message",
			slog.String("message_id", m.ID),
			slog.String("action", d.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Debug("Message settled",
		slog.String("message_id", m.ID),
		slog.String("action", d.String()),
	)
}
