package pgstore

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"

	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// column maps a logical field name to its snake_case column.
func column(field string) string {
	var b strings.Builder
	for i, r := range field {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// field maps a column name back to its logical field name.
func field(col string) string {
	var b strings.Builder
	upper := false
	for _, r := range col {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// builder accumulates positional arguments for one statement.
type builder struct {
	args    []any
	aliases int
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) alias() string {
	b.aliases++
	return fmt.Sprintf("r%d", b.aliases)
}

func (b *builder) col(alias, f string) (string, error) {
	if !datastore.ValidField(f) {
		return "", shared.Invalid("invalid field name %q", f)
	}
	return ident(alias, column(f)), nil
}

// where renders a filter as a boolean SQL expression.
func (b *builder) where(alias string, f datastore.Filter) (string, error) {
	if len(f) == 0 {
		return "TRUE", nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := f[k]
		switch k {
		case datastore.KeyAnd, datastore.KeyOr:
			branches, ok := v.([]datastore.Filter)
			if !ok {
				return "", shared.Invalid("%s expects a list of filters", k)
			}
			if len(branches) == 0 {
				continue
			}
			sub := make([]string, 0, len(branches))
			for _, br := range branches {
				s, err := b.where(alias, br)
				if err != nil {
					return "", err
				}
				sub = append(sub, s)
			}
			parts = append(parts, "("+strings.Join(sub, " "+k+" ")+")")
		case datastore.KeyNot:
			nested, ok := v.(datastore.Filter)
			if !ok {
				return "", shared.Invalid("NOT expects a filter")
			}
			s, err := b.where(alias, nested)
			if err != nil {
				return "", err
			}
			parts = append(parts, "NOT ("+s+")")
		default:
			col, err := b.col(alias, k)
			if err != nil {
				return "", err
			}
			s, err := b.cond(col, v)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "TRUE", nil
	}
	return strings.Join(parts, " AND "), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (b *builder) cond(col string, v any) (string, error) {
	c, ok := v.(datastore.Cond)
	if !ok {
		c = datastore.Eq(v)
	}
	switch c.Op {
	case datastore.OpEq:
		if c.Value == nil {
			return col + " IS NULL", nil
		}
		return col + " = " + b.arg(c.Value), nil
	case datastore.OpNe:
		if c.Value == nil {
			return col + " IS NOT NULL", nil
		}
		return col + " IS DISTINCT FROM " + b.arg(c.Value), nil
	case datastore.OpGt:
		return col + " > " + b.arg(c.Value), nil
	case datastore.OpGte:
		return col + " >= " + b.arg(c.Value), nil
	case datastore.OpLt:
		return col + " < " + b.arg(c.Value), nil
	case datastore.OpLte:
		return col + " <= " + b.arg(c.Value), nil
	case datastore.OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return "", shared.Invalid("in expects a list")
		}
		if len(values) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, len(values))
		for i, item := range values {
			placeholders[i] = b.arg(item)
		}
		return col + " IN (" + strings.Join(placeholders, ", ") + ")", nil
	case datastore.OpContains:
		s, ok := c.Value.(string)
		if !ok {
			return "", shared.Invalid("contains expects a string")
		}
		return col + "::text ILIKE " + b.arg("%"+likeEscaper.Replace(s)+"%"), nil
	}
	return "", shared.Invalid("unknown operator %q", c.Op)
}

// rowJSON renders the JSON object of one row including nested relations,
// each as a correlated subquery so the whole read stays one statement.
func (b *builder) rowJSON(registry *policy.Registry, pol policy.EntityPolicy, alias string, includes map[string]*datastore.IncludeSpec) (string, error) {
	expr := "to_jsonb(" + ident(alias) + ".*)"
	if len(includes) == 0 {
		return expr, nil
	}
	names := make([]string, 0, len(includes))
	for name := range includes {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		rel, ok := pol.Relations[name]
		if !ok {
			return "", shared.Invalid("%s has no relation %q", pol.Name, name)
		}
		target, ok := registry.Lookup(rel.Entity)
		if !ok {
			return "", shared.Misconfigured("relation %s.%s targets unknown entity %q", pol.Name, name, rel.Entity)
		}
		spec := includes[name]
		if spec == nil {
			spec = &datastore.IncludeSpec{}
		}
		sub := b.alias()
		inner, err := b.rowJSON(registry, target, sub, spec.Include)
		if err != nil {
			return "", err
		}
		remote, err := b.col(sub, rel.RemoteField)
		if err != nil {
			return "", err
		}
		local, err := b.col(alias, rel.LocalField)
		if err != nil {
			return "", err
		}
		cond, err := b.where(sub, spec.Where)
		if err != nil {
			return "", err
		}
		from := fmt.Sprintf("FROM %s %s WHERE %s = %s AND %s", ident(target.Table), ident(sub), remote, local, cond)
		var subquery string
		if rel.Many {
			subquery = fmt.Sprintf("(SELECT COALESCE(jsonb_agg(%s), '[]'::jsonb) %s)", inner, from)
		} else {
			subquery = fmt.Sprintf("(SELECT %s %s LIMIT 1)", inner, from)
		}
		pairs = append(pairs, "'"+name+"', "+subquery)
	}
	return expr + " || jsonb_build_object(" + strings.Join(pairs, ", ") + ")", nil
}

func (b *builder) orderBy(alias string, order []datastore.Order) (string, error) {
	if len(order) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(order))
	for _, o := range order {
		col, err := b.col(alias, o.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir+" NULLS LAST")
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// assignments renders SET clauses in stable order.
func (b *builder) assignments(data datastore.Record) (string, error) {
	keys := sortedKeys(data)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if !datastore.ValidField(k) {
			return "", shared.Invalid("invalid field name %q", k)
		}
		parts = append(parts, ident(column(k))+" = "+b.arg(data[k]))
	}
	return strings.Join(parts, ", "), nil
}

func sortedKeys(r datastore.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
