package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	jobmetrics "github.com/Matteomic94/ElementMedica-sub007/internal/jobs"
)

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditQueue is an audit.Sink that hands events to the worker.
type AuditQueue struct {
	enqueuer Enqueuer
}

// NewAuditQueue constructs an AuditQueue.
func NewAuditQueue(enqueuer Enqueuer) *AuditQueue {
	return &AuditQueue{enqueuer: enqueuer}
}

// Write implements audit.Sink.
func (q *AuditQueue) Write(ctx context.Context, event audit.Event) error {
	task, err := NewAuditDeliverTask(event)
	if err != nil {
		return err
	}
	if _, err := q.enqueuer.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("jobs: enqueue audit event: %w", err)
	}
	return nil
}

// AuditDeliveryJob writes queued audit events to their final sink.
type AuditDeliveryJob struct {
	Sink    audit.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditDeliveryJob initialises the delivery handler.
func NewAuditDeliveryJob(sink audit.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditDeliveryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditDeliveryJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditDeliver tasks.
func (j *AuditDeliveryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sink == nil {
		return errors.New("audit delivery: handler not configured")
	}
	var event audit.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		j.Logger.Error("drop malformed audit task", slog.Any("error", err))
		return fmt.Errorf("audit delivery: decode: %v: %w", err, asynq.SkipRetry)
	}
	if err := event.Validate(); err != nil {
		j.Logger.Error("drop invalid audit event", slog.String("event", event.ID.String()), slog.Any("error", err))
		return fmt.Errorf("audit delivery: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.Sink.Write(ctx, event); err != nil {
		return fmt.Errorf("audit delivery: write: %w", err)
	}
	j.Metrics.IncDelivered()
	return nil
}
