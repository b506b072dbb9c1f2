package policy

import (
	"sort"

	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// IncludeVisitor is called for every nested include with the policy of the
// related entity. spec is never nil.
type IncludeVisitor func(target EntityPolicy, spec *datastore.IncludeSpec) error

// WalkIncludes visits the include tree rooted at entity, following the
// static relation map. Traversal is bounded by MaxDepth and by a visited
// check on include nodes, so it terminates on any relation graph.
func (r *Registry) WalkIncludes(entity string, includes map[string]*datastore.IncludeSpec, visit IncludeVisitor) error {
	root, ok := r.Lookup(entity)
	if !ok {
		return shared.Misconfigured("no entity policy for %q", entity)
	}
	w := walker{registry: r, visit: visit, seen: map[*datastore.IncludeSpec]struct{}{}}
	return w.walk(root, includes, 1)
}

type walker struct {
	registry *Registry
	visit    IncludeVisitor
	seen     map[*datastore.IncludeSpec]struct{}
}

func (w walker) walk(parent EntityPolicy, includes map[string]*datastore.IncludeSpec, depth int) error {
	if len(includes) == 0 {
		return nil
	}
	if depth > w.registry.MaxDepth() {
		return shared.Misconfigured("include depth exceeds %d below %s", w.registry.MaxDepth(), parent.Name)
	}
	names := make([]string, 0, len(includes))
	for name := range includes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rel, ok := parent.Relations[name]
		if !ok {
			return shared.Invalid("%s has no relation %q", parent.Name, name)
		}
		target, ok := w.registry.Lookup(rel.Entity)
		if !ok {
			return shared.Misconfigured("relation %s.%s targets unknown entity %q", parent.Name, name, rel.Entity)
		}
		spec := includes[name]
		if spec == nil {
			spec = &datastore.IncludeSpec{}
			includes[name] = spec
		}
		if _, dup := w.seen[spec]; dup {
			return shared.Misconfigured("include %s.%s is reachable twice", parent.Name, name)
		}
		w.seen[spec] = struct{}{}
		if err := w.visit(target, spec); err != nil {
			return err
		}
		if err := w.walk(target, spec.Include, depth+1); err != nil {
			return err
		}
	}
	return nil
}
