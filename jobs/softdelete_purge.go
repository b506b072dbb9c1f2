package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/gate"
	jobmetrics "github.com/Matteomic94/ElementMedica-sub007/internal/jobs"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

const purgeLockTTL = 30 * time.Minute

// SoftDeletePurgeJob hard-deletes rows whose soft-delete timestamp is older
// than the retention period. It runs as the system principal through the
// gate, so every erasure is logged and audited like any other.
type SoftDeletePurgeJob struct {
	Gate      *gate.Gate
	Retention time.Duration
	// Redis, when set, keeps concurrent runs from overlapping.
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSoftDeletePurgeJob initialises the purge handler.
func NewSoftDeletePurgeJob(g *gate.Gate, retention time.Duration, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *SoftDeletePurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SoftDeletePurgeJob{
		Gate:      g,
		Retention: retention,
		Redis:     client,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one purge run.
func (j *SoftDeletePurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Gate == nil {
		return errors.New("softdelete purge: handler not configured")
	}
	var payload SoftDeletePurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("softdelete purge: decode: %v: %w", err, asynq.SkipRetry)
		}
	}
	if j.Redis != nil {
		key := shared.JobLockKey(TaskSoftDeletePurge)
		acquired, err := j.Redis.SetNX(ctx, key, j.clock().Format(time.RFC3339), purgeLockTTL).Result()
		if err != nil {
			return fmt.Errorf("softdelete purge: acquire lock: %w", err)
		}
		if !acquired {
			j.Logger.Info("soft-delete purge already running, skipping")
			j.Metrics.Skipped(TaskSoftDeletePurge)
			return nil
		}
		defer func() {
			if err := j.Redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
				j.Logger.Warn("release purge lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskSoftDeletePurge)
	_, err := j.Purge(ctx, payload)
	return tracker.End(err)
}

// Purge erases expired rows and returns the number removed per entity.
func (j *SoftDeletePurgeJob) Purge(ctx context.Context, payload SoftDeletePurgePayload) (map[string]int64, error) {
	retention := j.Retention
	if payload.Retention > 0 {
		retention = payload.Retention
	}
	if retention <= 0 {
		return nil, fmt.Errorf("softdelete purge: retention must be positive: %w", asynq.SkipRetry)
	}
	start := j.clock()
	cutoff := start.Add(-retention)

	ctx = authz.ContextWithPrincipal(ctx, gate.SystemPrincipal("softdelete-purge"))
	data, err := j.Gate.Data(ctx)
	if err != nil {
		return nil, fmt.Errorf("softdelete purge: %w", err)
	}

	logger := j.Logger.With(slog.Time("cutoff", cutoff))
	logger.Info("starting soft-delete purge")

	removed := map[string]int64{}
	var errs []error
	for _, pol := range j.targets(payload.Entities) {
		res, err := data.HardDelete(ctx, pol.Name, datastore.Filter{pol.SoftDeleteField: datastore.Lt(cutoff)})
		if err != nil {
			logger.Error("purge entity failed", slog.String("entity", pol.Name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", pol.Name, err))
			continue
		}
		removed[pol.Name] = res.Affected
		j.Metrics.AddPurged(pol.Name, res.Affected)
	}

	logger.Info("completed soft-delete purge",
		slog.Any("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
	if len(errs) > 0 {
		return removed, fmt.Errorf("softdelete purge: %w", errors.Join(errs...))
	}
	return removed, nil
}

// targets lists entities with timestamp soft delete. Flag-based entities
// carry no deletion time and are never purged.
func (j *SoftDeletePurgeJob) targets(only []string) []policy.EntityPolicy {
	registry := j.Gate.Policies()
	names := only
	if len(names) == 0 {
		names = registry.Names()
	}
	out := make([]policy.EntityPolicy, 0, len(names))
	for _, name := range names {
		pol, ok := registry.Lookup(name)
		if !ok || pol.SoftDelete != policy.SoftDeleteTimestamp {
			continue
		}
		out = append(out, pol)
	}
	return out
}
