// Package worker runs queued backlink tasks with bounded, retried attempts.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/logging"
	"github.com/JakeFAU/backlink-monitor/internal/metrics"
)

// Handler executes one attempt of a task. task.Attempt and task.MaxAttempts are set.
type Handler interface {
	Handle(ctx context.Context, task backlink.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task backlink.Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task backlink.Task) error {
	return f(ctx, task)
}

// Config controls Worker behavior.
type Config struct {
	// Pool labels logs and metrics, e.g. "verify" or "deliver".
	Pool string
	// AttemptTimeout bounds each attempt; zero means no per-attempt deadline.
	AttemptTimeout time.Duration
	// Tracer records one span per attempt. Nil uses the global provider.
	Tracer trace.Tracer
}

const tracerName = "github.com/JakeFAU/backlink-monitor/internal/worker"

// Worker consumes tasks from a queue until the queue closes or the context ends.
type Worker struct {
	queue   backlink.Queue
	handler Handler
	retry   RetryPolicy
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue backlink.Queue, handler Handler, retry RetryPolicy, cfg Config, logger *zap.Logger) *Worker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		retry:   retry,
		cfg:     cfg,
		logger:  logger.With(zap.String("pool", cfg.Pool)),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, backlink.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task backlink.Task) {
	metrics.IncActiveWorkers(w.cfg.Pool)
	defer metrics.DecActiveWorkers(w.cfg.Pool)

	kind := string(task.Kind)
	task.MaxAttempts = w.retry.MaxAttempts()
	for attempt := 1; ; attempt++ {
		task.Attempt = attempt
		err := w.attempt(ctx, task)
		if err == nil {
			metrics.ObserveTaskAttempt(kind, "success")
			return
		}
		fields := append(logging.TaskFields(task), zap.Error(err))
		if ctx.Err() != nil {
			metrics.ObserveTaskAttempt(kind, "canceled")
			w.logger.Warn("task abandoned on shutdown", fields...)
			return
		}
		if !w.retry.ShouldRetry(err, attempt) {
			metrics.ObserveTaskAttempt(kind, "failure")
			metrics.ObserveTaskExhausted(kind)
			w.logger.Error("task failed", fields...)
			return
		}
		metrics.ObserveTaskAttempt(kind, "retry")
		delay := w.retry.Backoff(attempt)
		w.logger.Warn("task attempt failed, retrying", append(fields, zap.Duration("backoff", delay))...)
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (w *Worker) attempt(ctx context.Context, task backlink.Task) error {
	ctx, span := w.cfg.Tracer.Start(ctx, "task."+string(task.Kind), trace.WithAttributes(
		attribute.String("pool", w.cfg.Pool),
		attribute.Int("attempt", task.Attempt),
		attribute.Int64("backlink_id", task.BacklinkID),
		attribute.String("alert_id", task.AlertID),
	))
	defer span.End()

	if w.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()
	}
	err := w.handler.Handle(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
