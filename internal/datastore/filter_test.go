package datastore

import (
	"testing"
	"time"
)

func TestFilterMatches(t *testing.T) {
	born := time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC)
	row := Record{"id": "e1", "age": 34, "name": "Ada Lovelace", "deletedAt": nil, "born": born, "active": true}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"equal", Filter{"id": "e1"}, true},
		{"missing field is null", Filter{"deletedAt": nil, "nickname": nil}, true},
		{"numeric across types", Filter{"age": 34.0}, true},
		{"range", Filter{"age": Gte(18), KeyAnd: []Filter{{"age": Lt(65)}}}, true},
		{"in", Filter{"id": In("e2", "e1")}, true},
		{"not in", Filter{"id": In("e2")}, false},
		{"contains folds case", Filter{"name": Contains("LOVE")}, true},
		{"or", Filter{KeyOr: []Filter{{"id": "x"}, {"active": true}}}, true},
		{"not", Filter{KeyNot: Filter{"id": "e1"}}, false},
		{"time", Filter{"born": Lt(born.Add(time.Hour))}, true},
		{"ne nil", Filter{"born": Ne(nil)}, true},
		{"gt on null", Filter{"deletedAt": Gt(born)}, false},
	}
	for _, tc := range cases {
		got, err := tc.filter.Matches(row)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}

	if _, err := (Filter{"age": Gt("old")}).Matches(row); err == nil {
		t.Fatalf("expected error comparing number with string")
	}
	if _, err := (Filter{KeyAnd: "nope"}).Matches(row); err == nil {
		t.Fatalf("expected error for malformed AND")
	}
}

func TestFilterReferences(t *testing.T) {
	f := Filter{
		"id":   "e1",
		KeyOr:  []Filter{{"name": "x"}},
		KeyNot: Filter{"deletedAt": Ne(nil)},
	}
	for _, field := range []string{"id", "name", "deletedAt"} {
		if !f.References(field) {
			t.Fatalf("expected reference to %s", field)
		}
	}
	if f.References("tenantId") {
		t.Fatalf("unexpected reference to tenantId")
	}
	got := f.Fields()
	want := []string{"deletedAt", "id", "name"}
	if len(got) != len(want) {
		t.Fatalf("Fields() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Fields() = %v, want %v", got, want)
		}
	}
	if fields := Filter(nil).Fields(); len(fields) != 0 {
		t.Fatalf("nil filter has fields %v", fields)
	}
}

func TestCloneIsDeep(t *testing.T) {
	op := &Operation{
		Entity:  "employees",
		Kind:    KindUpdate,
		Where:   Filter{"id": In("a", "b"), KeyAnd: []Filter{{"x": 1}}},
		Data:    Record{"tags": []any{"a"}, "profile": map[string]any{"city": "Rome"}},
		Include: map[string]*IncludeSpec{"company": {Where: Filter{"name": "Acme"}}},
	}
	clone := op.Clone()
	clone.Where["id"].(Cond).Value.([]any)[0] = "z"
	clone.Where[KeyAnd].([]Filter)[0]["x"] = 2
	clone.Data["tags"].([]any)[0] = "z"
	clone.Data["profile"].(map[string]any)["city"] = "Milan"
	clone.Include["company"].Where["name"] = "Other"

	if op.Where["id"].(Cond).Value.([]any)[0] != "a" || op.Where[KeyAnd].([]Filter)[0]["x"] != 1 {
		t.Fatalf("filter shared with clone: %v", op.Where)
	}
	if op.Data["tags"].([]any)[0] != "a" || op.Data["profile"].(map[string]any)["city"] != "Rome" {
		t.Fatalf("data shared with clone: %v", op.Data)
	}
	if op.Include["company"].Where["name"] != "Acme" {
		t.Fatalf("include shared with clone")
	}
}

func TestOperationValidate(t *testing.T) {
	bad := []*Operation{
		nil,
		{Kind: KindRead},
		{Entity: "e", Kind: KindCreate},
		{Entity: "e", Kind: KindCreateMany},
		{Entity: "e", Kind: KindUpdate},
		{Entity: "e", Kind: KindUpsert, Data: Record{"a": 1}},
		{Entity: "e", Kind: KindAggregate},
		{Entity: "e", Kind: "truncate"},
		{Entity: "e", Kind: KindRead, Limit: -1},
	}
	for i, op := range bad {
		if err := op.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if err := (&Operation{Entity: "e", Kind: KindDelete}).Validate(); err != nil {
		t.Fatalf("delete without filter is a valid shape: %v", err)
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(map[string]any{
		"age":  map[string]any{"gte": 18.0, "lt": 65.0},
		"name": "Ada",
		"OR":   []any{map[string]any{"id": "e1"}, map[string]any{"id": map[string]any{"in": []any{"e2"}}}},
	})
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if f["name"] != "Ada" {
		t.Fatalf("literal lost: %v", f)
	}
	if c, ok := f["age"].(Cond); !ok || c.Op != OpGte {
		t.Fatalf("first operator should stay on the field: %#v", f["age"])
	}
	and, ok := f[KeyAnd].([]Filter)
	if !ok || len(and) != 1 || and[0]["age"] != Lt(65.0) {
		t.Fatalf("extra operators should move into AND: %#v", f[KeyAnd])
	}
	if ok, _ := f.Matches(Record{"age": 30.0, "name": "Ada", "id": "e2"}); !ok {
		t.Fatalf("parsed filter should match")
	}

	for _, raw := range []map[string]any{
		{"bad field": 1},
		{"age": map[string]any{"between": 1}},
		{"age": map[string]any{}},
		{"id": []any{"a"}},
		{"id": map[string]any{"in": "a"}},
		{"name": map[string]any{"contains": 3}},
		{"OR": "x"},
		{"NOT": []any{}},
	} {
		if _, err := ParseFilter(raw); err == nil {
			t.Fatalf("ParseFilter(%v) expected error", raw)
		}
	}
}
