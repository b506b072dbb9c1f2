// Package pgstore executes staged data operations against PostgreSQL.
// Each operation becomes exactly one SQL statement; nested includes are
// rendered as correlated JSON subqueries.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// Querier is the subset of pgxpool.Pool used by the store.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// Store implements datastore.Store over PostgreSQL.
type Store struct {
	db       Querier
	policies *policy.Registry
}

// New constructs a Store.
func New(db Querier, policies *policy.Registry) *Store {
	return &Store{db: db, policies: policies}
}

// Dispatch executes one operation as one statement.
func (s *Store) Dispatch(ctx context.Context, op *datastore.Operation) (datastore.Result, error) {
	if err := op.Validate(); err != nil {
		return datastore.Result{}, fmt.Errorf("%w: %v", shared.ErrInvalidOperation, err)
	}
	pol, ok := s.policies.Lookup(op.Entity)
	if !ok {
		return datastore.Result{}, shared.Misconfigured("pgstore: unknown entity %q", op.Entity)
	}
	stmt, err := Build(s.policies, pol, op)
	if err != nil {
		return datastore.Result{}, err
	}
	res, err := s.run(ctx, pol, op, stmt)
	if err != nil {
		return datastore.Result{}, translate(err)
	}
	return res, nil
}

func (s *Store) run(ctx context.Context, pol policy.EntityPolicy, op *datastore.Operation, stmt Statement) (datastore.Result, error) {
	switch op.Kind {
	case datastore.KindCount:
		var n int64
		if err := s.db.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
			return datastore.Result{}, err
		}
		return datastore.Result{Count: n}, nil
	case datastore.KindAggregate:
		var (
			value any
			n     int64
		)
		if err := s.db.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&value, &n); err != nil {
			return datastore.Result{}, err
		}
		return datastore.Result{Value: value, Count: n}, nil
	case datastore.KindDelete:
		tag, err := s.db.Exec(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return datastore.Result{}, err
		}
		return datastore.Result{Affected: tag.RowsAffected()}, nil
	}
	rows, err := s.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return datastore.Result{}, err
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return datastore.Result{}, err
	}
	records := make([]datastore.Record, 0, len(raws))
	for _, raw := range raws {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return datastore.Result{}, fmt.Errorf("pgstore: decode row: %w", err)
		}
		records = append(records, s.decode(pol, obj, op.Include))
	}
	res := datastore.Result{Records: records}
	if op.Kind.IsRead() {
		res.Count = int64(len(records))
	} else {
		res.Affected = int64(len(records))
	}
	return res, nil
}

// decode renames columns to field names, recursing into included relations.
func (s *Store) decode(pol policy.EntityPolicy, obj map[string]any, includes map[string]*datastore.IncludeSpec) datastore.Record {
	out := make(datastore.Record, len(obj))
	for k, v := range obj {
		if spec, ok := includes[k]; ok {
			target, _ := s.policies.Lookup(pol.Relations[k].Entity)
			var nested map[string]*datastore.IncludeSpec
			if spec != nil {
				nested = spec.Include
			}
			switch t := v.(type) {
			case []any:
				list := make([]datastore.Record, 0, len(t))
				for _, item := range t {
					if m, ok := item.(map[string]any); ok {
						list = append(list, s.decode(target, m, nested))
					}
				}
				out[k] = list
			case map[string]any:
				out[k] = s.decode(target, t, nested)
			default:
				out[k] = nil
			}
			continue
		}
		out[field(k)] = v
	}
	return out
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("pgstore: %s: %w", pgErr.ConstraintName, shared.ErrDuplicate)
		case "42703", "22P02", "22007", "23502", "23503", "42883":
			return shared.Invalid("%s", strings.TrimSpace(pgErr.Message))
		}
	}
	return fmt.Errorf("pgstore: %w", err)
}
