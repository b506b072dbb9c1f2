package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit events waiting for delivery.
	QueueAudit = "audit"

	// TaskAuditDeliver persists one queued audit event.
	TaskAuditDeliver = "audit:deliver"
	// TaskSoftDeletePurge erases rows soft-deleted beyond the retention period.
	TaskSoftDeletePurge = "softdelete:purge"
)

// NewAuditDeliverTask wraps an audit event. The event id doubles as task id
// so a retried enqueue never stores the event twice.
func NewAuditDeliverTask(event audit.Event) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode audit event: %w", err)
	}
	return asynq.NewTask(TaskAuditDeliver, data,
		asynq.Queue(QueueAudit),
		asynq.TaskID(event.ID.String()),
		asynq.MaxRetry(20),
		asynq.Retention(24*time.Hour),
	), nil
}

// SoftDeletePurgePayload narrows a purge run.
type SoftDeletePurgePayload struct {
	// Entities limits the purge; empty means every timestamp soft-delete entity.
	Entities []string `json:"entities,omitempty"`
	// Retention overrides the configured retention when positive.
	Retention time.Duration `json:"retention,omitempty"`
}

// NewSoftDeletePurgeTask builds a purge task.
func NewSoftDeletePurgeTask(payload SoftDeletePurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSoftDeletePurge, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
