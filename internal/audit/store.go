package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists audit events into audit_events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Write persists the event.
func (s *Store) Write(ctx context.Context, event Event) error {
	if s == nil || s.pool == nil {
		return errors.New("audit store not initialised")
	}
	if err := event.Validate(); err != nil {
		return err
	}
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("audit: encode detail: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO audit_events
		(id, occurred_at, type, actor_id, tenant_id, resource, action, outcome, entity, record_id, detail)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.OccurredAt, string(event.Type), event.ActorID, event.TenantID,
		event.Resource, event.Action, string(event.Outcome), event.Entity, event.RecordID, detail)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

const selectEvents = `SELECT id, occurred_at, type, actor_id, COALESCE(tenant_id, ''), resource, action, outcome,
	COALESCE(entity, ''), COALESCE(record_id, ''), detail FROM audit_events`

// Window returns events newest first.
func (s *Store) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Event, error) {
	where, args := filterClause(filters)
	args = append(args, limit, offset)
	query := fmt.Sprintf("%s%s ORDER BY occurred_at DESC, id LIMIT $%d OFFSET $%d", selectEvents, where, len(args)-1, len(args))
	return s.query(ctx, query, args...)
}

// All returns every matching event, newest first.
func (s *Store) All(ctx context.Context, filters TimelineFilters) ([]Event, error) {
	where, args := filterClause(filters)
	return s.query(ctx, selectEvents+where+" ORDER BY occurred_at DESC, id", args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			ev     Event
			detail []byte
		)
		if err := row.Scan(&ev.ID, &ev.OccurredAt, &ev.Type, &ev.ActorID, &ev.TenantID, &ev.Resource,
			&ev.Action, &ev.Outcome, &ev.Entity, &ev.RecordID, &detail); err != nil {
			return Event{}, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return Event{}, err
			}
		}
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan events: %w", err)
	}
	return events, nil
}

func filterClause(f TimelineFilters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if v := strings.TrimSpace(f.TenantID); v != "" {
		add("tenant_id = $%d", v)
	}
	if v := strings.TrimSpace(f.Actor); v != "" {
		add("actor_id = $%d", v)
	}
	if v := strings.TrimSpace(f.Type); v != "" {
		add("type = $%d", v)
	}
	if v := strings.TrimSpace(f.Resource); v != "" {
		add("resource = $%d", v)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
