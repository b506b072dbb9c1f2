package pgstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// Statement is one rendered SQL statement.
type Statement struct {
	SQL  string
	Args []any
}

const root = "t"

// Build renders op as a single statement.
func Build(registry *policy.Registry, pol policy.EntityPolicy, op *datastore.Operation) (Statement, error) {
	b := &builder{}
	table := ident(pol.Table)
	returning := " RETURNING to_jsonb(" + ident(root) + ".*)"
	var sql string
	switch op.Kind {
	case datastore.KindRead:
		row, err := b.rowJSON(registry, pol, root, op.Include)
		if err != nil {
			return Statement{}, err
		}
		cond, err := b.where(root, op.Where)
		if err != nil {
			return Statement{}, err
		}
		order, err := b.orderBy(root, op.OrderBy)
		if err != nil {
			return Statement{}, err
		}
		sql = fmt.Sprintf("SELECT %s FROM %s %s WHERE %s%s", row, table, ident(root), cond, order)
		if op.Limit > 0 {
			sql += " LIMIT " + b.arg(op.Limit)
		}
		if op.Offset > 0 {
			sql += " OFFSET " + b.arg(op.Offset)
		}
	case datastore.KindCount:
		cond, err := b.where(root, op.Where)
		if err != nil {
			return Statement{}, err
		}
		sql = fmt.Sprintf("SELECT count(*) FROM %s %s WHERE %s", table, ident(root), cond)
	case datastore.KindAggregate:
		expr, err := aggregateExpr(b, op.Aggregate)
		if err != nil {
			return Statement{}, err
		}
		cond, err := b.where(root, op.Where)
		if err != nil {
			return Statement{}, err
		}
		sql = fmt.Sprintf("SELECT %s, count(*) FROM %s %s WHERE %s", expr, table, ident(root), cond)
	case datastore.KindCreate, datastore.KindCreateMany:
		rows := op.Rows
		if op.Kind == datastore.KindCreate {
			rows = []datastore.Record{op.Data}
		}
		insert, err := b.insert(pol, rows)
		if err != nil {
			return Statement{}, err
		}
		sql = insert + returning
	case datastore.KindUpdate:
		set, err := b.assignments(op.Data)
		if err != nil {
			return Statement{}, err
		}
		cond, err := b.where(root, op.Where)
		if err != nil {
			return Statement{}, err
		}
		sql = fmt.Sprintf("UPDATE %s AS %s SET %s WHERE %s%s", table, ident(root), set, cond, returning)
	case datastore.KindUpsert:
		set, err := b.assignments(op.Data)
		if err != nil {
			return Statement{}, err
		}
		cond, err := b.where(root, op.Where)
		if err != nil {
			return Statement{}, err
		}
		cols, selects, payload, err := populate(op.Create)
		if err != nil {
			return Statement{}, err
		}
		sql = fmt.Sprintf(`WITH upd AS (UPDATE %s AS %s SET %s WHERE %s RETURNING %s.*),
ins AS (INSERT INTO %s AS %s (%s) SELECT %s FROM jsonb_populate_record(NULL::%s, %s::jsonb) p WHERE NOT EXISTS (SELECT 1 FROM upd) RETURNING %s.*)
SELECT to_jsonb(x.*) FROM (SELECT * FROM upd UNION ALL SELECT * FROM ins) x`,
			table, ident(root), set, cond, ident(root),
			table, ident(root), cols, selects, table, b.arg(payload), ident(root))
	case datastore.KindDelete:
		cond, err := b.where(root, op.Where)
		if err != nil {
			return Statement{}, err
		}
		sql = fmt.Sprintf("DELETE FROM %s AS %s WHERE %s", table, ident(root), cond)
	default:
		return Statement{}, shared.Invalid("unsupported kind %q", op.Kind)
	}
	return Statement{SQL: sql, Args: b.args}, nil
}

func (b *builder) insert(pol policy.EntityPolicy, rows []datastore.Record) (string, error) {
	colSet := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			if !datastore.ValidField(k) {
				return "", shared.Invalid("invalid field name %q", k)
			}
			colSet[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(colSet))
	for k := range colSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = ident(column(f))
	}
	tuples := make([]string, 0, len(rows))
	for _, row := range rows {
		vals := make([]string, len(fields))
		for i, f := range fields {
			v, ok := row[f]
			if !ok {
				vals[i] = "DEFAULT"
				continue
			}
			vals[i] = b.arg(v)
		}
		tuples = append(tuples, "("+strings.Join(vals, ", ")+")")
	}
	return fmt.Sprintf("INSERT INTO %s AS %s (%s) VALUES %s", ident(pol.Table), ident(root), strings.Join(cols, ", "), strings.Join(tuples, ", ")), nil
}

// populate prepares the create branch of an upsert as a JSON document read
// through jsonb_populate_record, so column types come from the table.
func populate(row datastore.Record) (string, string, string, error) {
	keys := sortedKeys(row)
	cols := make([]string, len(keys))
	selects := make([]string, len(keys))
	doc := make(map[string]any, len(keys))
	for i, k := range keys {
		if !datastore.ValidField(k) {
			return "", "", "", shared.Invalid("invalid field name %q", k)
		}
		cols[i] = ident(column(k))
		selects[i] = ident("p", column(k))
		doc[column(k)] = row[k]
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", "", "", shared.Invalid("encode upsert row: %v", err)
	}
	return strings.Join(cols, ", "), strings.Join(selects, ", "), string(payload), nil
}

func aggregateExpr(b *builder, agg *datastore.Aggregation) (string, error) {
	if agg.Func == datastore.AggCount && agg.Field == "" {
		return "count(*)", nil
	}
	col, err := b.col(root, agg.Field)
	if err != nil {
		return "", err
	}
	switch agg.Func {
	case datastore.AggCount:
		return "count(" + col + ")", nil
	case datastore.AggSum, datastore.AggAvg:
		return string(agg.Func) + "(" + col + ")::float8", nil
	case datastore.AggMin, datastore.AggMax:
		return string(agg.Func) + "(" + col + ")", nil
	}
	return "", shared.Invalid("unknown aggregate %q", agg.Func)
}
