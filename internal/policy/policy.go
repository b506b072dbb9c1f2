// Package policy holds the static per-entity configuration consumed by the
// tenant enforcer, the soft-delete rewriter and the data stores.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// SoftDeleteStrategy selects how an entity marks rows as deleted.
type SoftDeleteStrategy string

const (
	SoftDeleteNone      SoftDeleteStrategy = "none"
	SoftDeleteTimestamp SoftDeleteStrategy = "timestamp"
	SoftDeleteFlag      SoftDeleteStrategy = "flag"
)

const (
	DefaultTenantField    = "tenantId"
	DefaultTimestampField = "deletedAt"
	DefaultFlagField      = "isActive"
	DefaultPrimaryKey     = "id"
)

// Relation describes a navigable link from one entity to another.
// A row of the target matches when target.RemoteField == source.LocalField.
type Relation struct {
	Entity      string `yaml:"entity"`
	LocalField  string `yaml:"localField"`
	RemoteField string `yaml:"remoteField"`
	Many        bool   `yaml:"many"`
}

// EntityPolicy is the static configuration of one entity type.
type EntityPolicy struct {
	Name            string              `yaml:"-"`
	Resource        string              `yaml:"resource"`
	Table           string              `yaml:"table"`
	PrimaryKey      string              `yaml:"primaryKey"`
	TenantScoped    bool                `yaml:"tenantScoped"`
	TenantField     string              `yaml:"tenantField"`
	SoftDelete      SoftDeleteStrategy  `yaml:"softDelete"`
	SoftDeleteField string              `yaml:"softDeleteField"`
	CompanyField    string              `yaml:"companyField"`
	OwnerField      string              `yaml:"ownerField"`
	Relations       map[string]Relation `yaml:"relations"`
}

// SoftDeletes reports whether the entity participates in soft delete.
func (p EntityPolicy) SoftDeletes() bool {
	return p.SoftDelete == SoftDeleteTimestamp || p.SoftDelete == SoftDeleteFlag
}

func (p *EntityPolicy) applyDefaults(name string) {
	p.Name = name
	if p.Resource == "" {
		p.Resource = name
	}
	if p.Table == "" {
		p.Table = name
	}
	if p.PrimaryKey == "" {
		p.PrimaryKey = DefaultPrimaryKey
	}
	if p.TenantScoped && p.TenantField == "" {
		p.TenantField = DefaultTenantField
	}
	if p.SoftDelete == "" {
		p.SoftDelete = SoftDeleteNone
	}
	if p.SoftDeleteField == "" {
		switch p.SoftDelete {
		case SoftDeleteTimestamp:
			p.SoftDeleteField = DefaultTimestampField
		case SoftDeleteFlag:
			p.SoftDeleteField = DefaultFlagField
		}
	}
	for relName, rel := range p.Relations {
		if rel.Many && rel.LocalField == "" {
			rel.LocalField = p.PrimaryKey
		}
		if !rel.Many && rel.RemoteField == "" {
			rel.RemoteField = DefaultPrimaryKey
		}
		p.Relations[relName] = rel
	}
}

// Registry is the immutable set of entity policies. It is built once at
// startup and only read afterwards, so it is safe for concurrent use.
type Registry struct {
	entities map[string]EntityPolicy
	maxDepth int
}

// DefaultMaxDepth bounds nested include traversal.
const DefaultMaxDepth = 8

// NewRegistry validates the given policies and freezes them into a Registry.
func NewRegistry(entities map[string]EntityPolicy, maxDepth int) (*Registry, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	frozen := make(map[string]EntityPolicy, len(entities))
	for name, p := range entities {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("policy: empty entity name")
		}
		rels := make(map[string]Relation, len(p.Relations))
		for k, v := range p.Relations {
			rels[k] = v
		}
		p.Relations = rels
		p.applyDefaults(name)
		switch p.SoftDelete {
		case SoftDeleteNone, SoftDeleteTimestamp, SoftDeleteFlag:
		default:
			return nil, fmt.Errorf("policy: entity %s: unknown soft delete strategy %q", name, p.SoftDelete)
		}
		frozen[name] = p
	}
	for name, p := range frozen {
		for relName, rel := range p.Relations {
			if _, ok := frozen[rel.Entity]; !ok {
				return nil, fmt.Errorf("policy: entity %s: relation %s targets unknown entity %q", name, relName, rel.Entity)
			}
			if rel.LocalField == "" || rel.RemoteField == "" {
				return nil, fmt.Errorf("policy: entity %s: relation %s needs localField and remoteField", name, relName)
			}
		}
	}
	return &Registry{entities: frozen, maxDepth: maxDepth}, nil
}

// Lookup returns the policy for an entity type.
func (r *Registry) Lookup(entity string) (EntityPolicy, bool) {
	if r == nil {
		return EntityPolicy{}, false
	}
	p, ok := r.entities[entity]
	return p, ok
}

// MaxDepth is the include traversal bound.
func (r *Registry) MaxDepth() int {
	if r == nil {
		return DefaultMaxDepth
	}
	return r.maxDepth
}

// Names lists registered entities in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cycles reports relation paths that lead back to an entity already on the
// path. Traversals stay bounded regardless, this is informational.
func (r *Registry) Cycles() []string {
	var found []string
	for _, start := range r.Names() {
		r.walkCycles(start, []string{start}, map[string]bool{start: true}, &found)
	}
	return found
}

func (r *Registry) walkCycles(entity string, path []string, onPath map[string]bool, found *[]string) {
	if len(path) > r.maxDepth {
		return
	}
	p := r.entities[entity]
	rels := make([]string, 0, len(p.Relations))
	for name := range p.Relations {
		rels = append(rels, name)
	}
	sort.Strings(rels)
	for _, name := range rels {
		target := p.Relations[name].Entity
		if onPath[target] {
			if target == path[0] {
				*found = append(*found, strings.Join(append(append([]string{}, path...), target), " -> "))
			}
			continue
		}
		onPath[target] = true
		r.walkCycles(target, append(path, target), onPath, found)
		delete(onPath, target)
	}
}
