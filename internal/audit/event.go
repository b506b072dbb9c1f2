// Package audit records security-relevant authorization events.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies audit events.
type EventType string

const (
	EventPermissionDenied    EventType = "permission_denied"
	EventCrossTenant         EventType = "cross_tenant_violation"
	EventPrivilegedOperation EventType = "privileged_operation"
	EventBypassAccess        EventType = "bypass_access"
	EventConfigurationError  EventType = "configuration_error"
)

// Outcome is the result of the audited attempt.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Event is one audit record.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	OccurredAt time.Time      `json:"occurredAt"`
	Type       EventType      `json:"type"`
	ActorID    string         `json:"actorId"`
	TenantID   string         `json:"tenantId,omitempty"`
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	Outcome    Outcome        `json:"outcome"`
	Entity     string         `json:"entity,omitempty"`
	RecordID   string         `json:"recordId,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Validate checks required attributes.
func (e Event) Validate() error {
	if e.Type == "" || e.Resource == "" || e.Action == "" || e.Outcome == "" {
		return fmt.Errorf("audit: event requires type/resource/action/outcome")
	}
	return nil
}

// Sink persists or forwards audit events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Write logs the event at Info, or Warn for denials and violations.
func (s LogSink) Write(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if event.Outcome != OutcomeAllowed || event.Type == EventPrivilegedOperation {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "audit event",
		slog.String("id", event.ID.String()),
		slog.String("type", string(event.Type)),
		slog.String("actor", event.ActorID),
		slog.String("tenant", event.TenantID),
		slog.String("resource", event.Resource),
		slog.String("action", event.Action),
		slog.String("outcome", string(event.Outcome)),
		slog.String("entity", event.Entity),
		slog.String("record", event.RecordID),
	)
	return nil
}

const defaultEmitTimeout = 5 * time.Second

// Emitter delivers events without blocking or failing the request that
// produced them. Delivery errors are logged and dropped.
type Emitter struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewEmitter constructs an Emitter over sink.
func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, logger: logger, timeout: defaultEmitTimeout, now: time.Now}
}

// Emit stamps and delivers the event in the background. A nil Emitter
// discards events.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil || e.sink == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now().UTC()
	}
	deliveryCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("audit sink panicked", slog.Any("panic", r), slog.String("event", event.ID.String()))
			}
		}()
		writeCtx, cancel := context.WithTimeout(deliveryCtx, e.timeout)
		defer cancel()
		if err := e.sink.Write(writeCtx, event); err != nil {
			e.logger.Error("audit delivery failed",
				slog.String("event", event.ID.String()),
				slog.String("type", string(event.Type)),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (e *Emitter) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}
