package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"scout.app/research/common/llm"
	"scout.app/research/common/logger"
	"scout.app/research/internal/queue"
	"scout.app/research/internal/research"
	"scout.app/research/internal/store"
)

// Reports is the persistence surface the worker needs.
type Reports interface {
	MarkRunning(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, result research.Result) error
	Fail(ctx context.Context, id int64, result research.Result, errMsg string) error
}

// Consumer is the queue surface the worker needs. Satisfied by
// queue.RedisConsumer.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

type Config struct {
	MaxAttempts int

	// Defaults applied when a job leaves depth or time limit unset.
	DefaultMaxDepth  int
	DefaultTimeLimit time.Duration
}

// Worker consumes research jobs from the queue, runs the engine with a
// discard sink, and persists the resulting report.
type Worker struct {
	consumer Consumer
	engine   *research.Engine
	reports  Reports
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, engine *research.Engine, reports Reports, cfg Config) *Worker {
	if cfg.DefaultMaxDepth <= 0 {
		cfg.DefaultMaxDepth = research.DefaultMaxDepth
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = research.DefaultTimeLimit
	}
	return &Worker{
		consumer:  consumer,
		engine:    engine,
		reports:   reports,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"report_id", msg.ReportID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"report_id", msg.ReportID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_research_job",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ReportID:  logger.Ptr(msg.ReportID),
		Topic:     logger.Ptr(msg.Topic),
		MessageID: logger.Ptr(msg.ID),
		Component: "scout.worker",
	})

	req := research.Request{
		Topic:     msg.Topic,
		MaxDepth:  w.cfg.DefaultMaxDepth,
		TimeLimit: msg.TimeLimit,
	}
	// An explicit zero depth means synthesis-only; only an absent field
	// falls back to the default.
	if msg.MaxDepth != nil && *msg.MaxDepth >= 0 {
		req.MaxDepth = *msg.MaxDepth
	}
	if req.TimeLimit <= 0 {
		req.TimeLimit = w.cfg.DefaultTimeLimit
	}

	slog.InfoContext(ctx, "processing research job",
		"max_depth", req.MaxDepth,
		"attempt", msg.Attempt)

	if err := w.reports.MarkRunning(ctx, msg.ReportID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Report row is gone; nothing to run against. ACK and move on.
			slog.WarnContext(ctx, "report not found, skipping job")
			return w.ackBestEffort(ctx, msg)
		}
		return fmt.Errorf("marking report running: %w", err)
	}

	result := w.engine.Run(ctx, req, research.DiscardSink)

	if result.Success {
		if err := w.reports.Complete(ctx, msg.ReportID, result); err != nil {
			return fmt.Errorf("persisting completed report: %w", err)
		}
	} else {
		if err := w.reports.Fail(ctx, msg.ReportID, result, result.Error); err != nil {
			return fmt.Errorf("persisting failed report: %w", err)
		}
	}

	slog.InfoContext(ctx, "research job finished",
		"success", result.Success,
		"findings", len(result.Findings),
		"completed_steps", result.CompletedSteps)

	return w.ackBestEffort(ctx, msg)
}

func (w *Worker) ackBestEffort(ctx context.Context, msg queue.Message) error {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed but the run is
		// idempotent at the report level.
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	// Retrying a non-retryable failure (bad request, cancelled context)
	// would just burn attempts; route those straight to the DLQ.
	if msg.Attempt >= w.cfg.MaxAttempts || !llm.IsRetryable(ctx, err) {
		slog.ErrorContext(ctx, "not retryable or max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"report_id", msg.ReportID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"report_id", msg.ReportID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
