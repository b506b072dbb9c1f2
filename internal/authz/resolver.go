package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// PermissionEntry is one stored permission row of a role, as read from the
// role/permission store. Fields is the raw stored field list: empty means
// every field, otherwise "*" or a JSON array of names.
type PermissionEntry struct {
	Resource  string
	Action    string
	IsGranted bool
	Fields    string
	Scope     string
	Condition string
}

// EntrySource reads the permission entries behind a role assignment.
type EntrySource interface {
	PermissionEntries(ctx context.Context, assignment RoleAssignment) ([]PermissionEntry, error)
}

// ResolverConfig collects Resolver dependencies.
type ResolverConfig struct {
	Source     EntrySource
	Conditions *ConditionEvaluator
	Logger     *slog.Logger
	Now        func() time.Time
	// OnIntegrityWarning is called once per malformed entry.
	OnIntegrityWarning func(reason string)
}

// Resolver computes effective permissions of a principal.
type Resolver struct {
	source     EntrySource
	conditions *ConditionEvaluator
	logger     *slog.Logger
	now        func() time.Time
	onWarning  func(string)
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		source:     cfg.Source,
		conditions: cfg.Conditions,
		logger:     logger,
		now:        now,
		onWarning:  cfg.OnIntegrityWarning,
	}
}

// Resolve returns the grant set of p. Results are memoised in the request
// cache when ctx carries one, and never shared across requests.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (*GrantSet, error) {
	cache := requestCacheFrom(ctx)
	if set, ok := cache.get(p); ok {
		return set, nil
	}
	set, err := r.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	cache.put(p, set)
	return set, nil
}

func (r *Resolver) resolve(ctx context.Context, p Principal) (*GrantSet, error) {
	if IsPrivilegedBypass(p) {
		return &GrantSet{principal: p, universal: true}, nil
	}
	active := p.ActiveAssignments(r.now())
	if len(active) == 0 || r.source == nil {
		return &GrantSet{principal: p}, nil
	}

	results := make([][]PermissionEntry, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range active {
		g.Go(func() error {
			entries, err := r.source.PermissionEntries(gctx, a)
			if err != nil {
				return fmt.Errorf("authz: permission entries for assignment %s: %w", a.ID, err)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &GrantSet{principal: p, roles: make([]roleGrants, 0, len(active))}
	for i, a := range active {
		rg := roleGrants{assignment: a}
		for _, entry := range results[i] {
			if e, ok := r.compile(p, a, entry); ok {
				rg.entries = append(rg.entries, e)
			}
		}
		set.roles = append(set.roles, rg)
	}
	return set, nil
}

// compile validates one stored entry. Malformed grants degrade to nothing
// and malformed denies are kept, so bad data never widens access.
func (r *Resolver) compile(p Principal, a RoleAssignment, entry PermissionEntry) (roleEntry, bool) {
	perm, err := NewPermission(entry.Resource, entry.Action)
	if err != nil {
		r.warn("invalid permission name", a, entry, err)
		return roleEntry{}, false
	}
	if entry.Condition != "" {
		applies, err := r.conditions.Evaluate(entry.Condition, p, a)
		if err != nil {
			r.warn("invalid permission condition", a, entry, err)
			if !entry.IsGranted {
				return roleEntry{perm: perm}, true
			}
			return roleEntry{}, false
		}
		if !applies {
			return roleEntry{}, false
		}
	}
	if !entry.IsGranted {
		return roleEntry{perm: perm}, true
	}
	scope, ok := ParseScope(entry.Scope)
	if !ok {
		r.warn("unknown permission scope", a, entry, fmt.Errorf("scope %q", entry.Scope))
		return roleEntry{}, false
	}
	fields, err := ParseFieldList(entry.Fields)
	if err != nil {
		r.warn("malformed field list", a, entry, err)
		fields = Fields()
	}
	return roleEntry{perm: perm, granted: true, scope: scope, fields: fields}, true
}

func (r *Resolver) warn(reason string, a RoleAssignment, entry PermissionEntry, err error) {
	r.logger.Warn("permission data integrity warning",
		slog.String("reason", reason),
		slog.String("assignment", a.ID),
		slog.String("role", a.RoleType),
		slog.String("resource", entry.Resource),
		slog.String("action", entry.Action),
		slog.Any("error", errors.Join(shared.ErrDataIntegrity, err)),
	)
	if r.onWarning != nil {
		r.onWarning(reason)
	}
}

// ParseFieldList decodes a stored field list.
func ParseFieldList(raw string) (FieldSet, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "", "null", Wildcard, `"*"`:
		return AllFields(), nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return FieldSet{}, fmt.Errorf("authz: field list: %w", err)
	}
	clean := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == Wildcard {
			return AllFields(), nil
		}
		if n == "" {
			return FieldSet{}, fmt.Errorf("authz: field list: empty field name")
		}
		clean = append(clean, n)
	}
	return Fields(clean...), nil
}
