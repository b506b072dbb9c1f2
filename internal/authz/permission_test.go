package authz

import (
	"testing"
	"time"
)

func TestParsePermission(t *testing.T) {
	cases := []struct {
		raw      string
		want     Permission
		wantFail bool
	}{
		{raw: "employees:read", want: Permission{Resource: "employees", Action: "read"}},
		{raw: " Employees:READ ", want: Permission{Resource: "employees", Action: "read"}},
		{raw: "*:*", want: Permission{Resource: "*", Action: "*"}},
		{raw: "course_schedules:read_deleted", want: Permission{Resource: "course_schedules", Action: "read_deleted"}},
		{raw: "employees", wantFail: true},
		{raw: ":read", wantFail: true},
		{raw: "emp loyees:read", wantFail: true},
		{raw: "employees:re*d", wantFail: true},
	}
	for _, tc := range cases {
		got, err := ParsePermission(tc.raw)
		if tc.wantFail {
			if err == nil {
				t.Fatalf("ParsePermission(%q) expected error, got %v", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePermission(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParsePermission(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestPermissionCoversAndSpecificity(t *testing.T) {
	target := MustPermission("employees", "read")
	if !MustPermission("*", "*").Covers(target) || !MustPermission("employees", "*").Covers(target) {
		t.Fatalf("wildcards should cover %v", target)
	}
	if MustPermission("courses", "*").Covers(target) {
		t.Fatalf("courses:* must not cover %v", target)
	}
	order := []Permission{
		MustPermission("*", "*"),
		MustPermission("*", "read"),
		MustPermission("employees", "*"),
		MustPermission("employees", "read"),
	}
	for i := 1; i < len(order); i++ {
		if order[i].Specificity() <= order[i-1].Specificity() {
			t.Fatalf("%v should be more specific than %v", order[i], order[i-1])
		}
	}
}

func TestParseFieldList(t *testing.T) {
	for _, raw := range []string{"", "null", "*", `"*"`, `["firstName","*"]`} {
		set, err := ParseFieldList(raw)
		if err != nil {
			t.Fatalf("ParseFieldList(%q): %v", raw, err)
		}
		if !set.All() {
			t.Fatalf("ParseFieldList(%q) should allow every field", raw)
		}
	}

	set, err := ParseFieldList(`[" firstName ", "lastName"]`)
	if err != nil {
		t.Fatalf("ParseFieldList: %v", err)
	}
	if set.All() || !set.Allows("firstName") || set.Allows("salary") {
		t.Fatalf("unexpected field set %v", set.Names())
	}

	for _, raw := range []string{"firstName", `[1,2]`, `["ok",""]`, `{"a":1}`} {
		if _, err := ParseFieldList(raw); err == nil {
			t.Fatalf("ParseFieldList(%q) expected error", raw)
		}
	}
}

func TestParseScope(t *testing.T) {
	cases := map[string]Scope{"": ScopeGlobal, "GLOBAL": ScopeGlobal, "company": ScopeCompany, " own ": ScopeOwn}
	for raw, want := range cases {
		got, ok := ParseScope(raw)
		if !ok || got != want {
			t.Fatalf("ParseScope(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseScope("tenant"); ok {
		t.Fatalf("unknown scope accepted")
	}
}

func TestRoleAssignmentActiveAt(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	until := now
	cases := []struct {
		name string
		a    RoleAssignment
		want bool
	}{
		{"active open ended", RoleAssignment{IsActive: true}, true},
		{"inactive", RoleAssignment{}, false},
		{"not started", RoleAssignment{IsActive: true, ValidFrom: now.Add(time.Second)}, false},
		{"ends exactly now", RoleAssignment{IsActive: true, ValidUntil: &until}, false},
	}
	for _, tc := range cases {
		if got := tc.a.ActiveAt(now); got != tc.want {
			t.Fatalf("%s: ActiveAt = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestConditionEvaluatorCheck(t *testing.T) {
	eval, err := NewConditionEvaluator(4, time.Minute)
	if err != nil {
		t.Fatalf("NewConditionEvaluator: %v", err)
	}
	if err := eval.Check(`principal.globalRole == "HR"`); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := eval.Check(`principal.id`); err == nil {
		t.Fatalf("non boolean condition accepted")
	}
	var nilEval *ConditionEvaluator
	if err := nilEval.Check("true"); err == nil {
		t.Fatalf("nil evaluator should refuse")
	}
}
