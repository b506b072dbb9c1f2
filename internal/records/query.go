package records

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/gate"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type listQuery struct {
	Limit   int `validate:"min=1,max=500"`
	Offset  int `validate:"min=0"`
	Where   datastore.Filter
	Include map[string]*datastore.IncludeSpec
	OrderBy []datastore.Order
}

func parseListQuery(values url.Values) (listQuery, error) {
	q := listQuery{Limit: defaultLimit}
	var err error
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, shared.Invalid("limit must be a number")
		}
	}
	if v := strings.TrimSpace(values.Get("offset")); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil {
			return q, shared.Invalid("offset must be a number")
		}
	}
	if q.Where, err = parseFilterParam(values.Get("filter")); err != nil {
		return q, err
	}
	if q.Include, err = parseInclude(values.Get("include")); err != nil {
		return q, err
	}
	if q.OrderBy, err = parseSort(values.Get("sort")); err != nil {
		return q, err
	}
	return q, nil
}

func parseFilterParam(raw string) (datastore.Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return datastore.Filter{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, shared.Invalid("filter must be a JSON object")
	}
	f, err := datastore.ParseFilter(obj)
	if err != nil {
		return nil, shared.Invalid("%v", err)
	}
	return f, nil
}

// parseInclude reads "company,enrollments.course" into a nested include tree.
func parseInclude(raw string) (map[string]*datastore.IncludeSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	root := map[string]*datastore.IncludeSpec{}
	for _, path := range strings.Split(raw, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		level := root
		for _, name := range strings.Split(path, ".") {
			if !datastore.ValidField(name) {
				return nil, shared.Invalid("invalid include %q", path)
			}
			spec, ok := level[name]
			if !ok {
				spec = &datastore.IncludeSpec{}
				level[name] = spec
			}
			if spec.Include == nil {
				spec.Include = map[string]*datastore.IncludeSpec{}
			}
			level = spec.Include
		}
	}
	prune(root)
	return root, nil
}

func prune(level map[string]*datastore.IncludeSpec) {
	for _, spec := range level {
		if len(spec.Include) == 0 {
			spec.Include = nil
			continue
		}
		prune(spec.Include)
	}
}

// parseSort reads "-createdAt,lastName".
func parseSort(raw string) ([]datastore.Order, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []datastore.Order
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := strings.HasPrefix(part, "-")
		field := strings.TrimPrefix(part, "-")
		if !datastore.ValidField(field) {
			return nil, shared.Invalid("invalid sort field %q", field)
		}
		out = append(out, datastore.Order{Field: field, Desc: desc})
	}
	return out, nil
}

func checkRecord(rec datastore.Record) error {
	if len(rec) == 0 {
		return shared.Invalid("record must not be empty")
	}
	for k := range rec {
		if !datastore.ValidField(k) {
			return shared.Invalid("invalid field name %q", k)
		}
	}
	return nil
}

// guardQuery rejects filters and sort keys the caller could use to learn
// values it cannot read. On ordinary routes the deleted marker is off limits
// entirely: deleted rows are only listed through the admin route.
func guardQuery(ctx context.Context, pol policy.EntityPolicy, where datastore.Filter, order []datastore.Order, hideDeleted bool) error {
	fields := where.Fields()
	for _, o := range order {
		fields = append(fields, o.Field)
	}
	if hideDeleted && pol.SoftDeletes() {
		for _, name := range fields {
			if name == pol.SoftDeleteField {
				return shared.Invalid("%s cannot be filtered or sorted here, use /admin/%s/deleted", name, pol.Name)
			}
		}
	}
	d, ok := gate.DecisionFromContext(ctx)
	if !ok || d.Grant.Fields.All() {
		return nil
	}
	for _, name := range fields {
		if !d.Grant.Fields.Allows(name) {
			current := d.Grant.Fields.Names()
			if current == nil {
				current = []string{}
			}
			return shared.Denied("filtering or sorting on "+name+" is not permitted", []string{name}, current)
		}
	}
	return nil
}

// checkPrimaryKey rejects primary key values that are not scalars.
func checkPrimaryKey(rec datastore.Record, pk string) error {
	switch rec[pk].(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return nil
	default:
		return shared.Invalid("%s must be a scalar value", pk)
	}
}
