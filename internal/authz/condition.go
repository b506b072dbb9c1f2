package authz

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ConditionEvaluator evaluates CEL conditions attached to permission
// entries, e.g. `assignment.companyId == principal.companyId`.
// Compiled programs are cached; cel programs are safe for concurrent use.
type ConditionEvaluator struct {
	env      *cel.Env
	programs *expirable.LRU[string, cel.Program]
}

// NewConditionEvaluator builds an evaluator caching up to size programs for ttl.
func NewConditionEvaluator(size int, ttl time.Duration) (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("assignment", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("authz: cel env: %w", err)
	}
	if size <= 0 {
		size = 256
	}
	return &ConditionEvaluator{env: env, programs: expirable.NewLRU[string, cel.Program](size, nil, ttl)}, nil
}

// Evaluate reports whether expr holds for the principal and assignment.
func (c *ConditionEvaluator) Evaluate(expr string, p Principal, a RoleAssignment) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("authz: conditions are not configured")
	}
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"principal": map[string]any{
			"id":         p.ID,
			"tenantId":   p.TenantID,
			"companyId":  p.CompanyID,
			"globalRole": p.GlobalRole,
		},
		"assignment": map[string]any{
			"id":        a.ID,
			"roleType":  a.RoleType,
			"companyId": a.CompanyID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("authz: evaluate condition: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("authz: condition %q is not boolean", expr)
	}
	return b, nil
}

// Check compiles expr without evaluating it.
func (c *ConditionEvaluator) Check(expr string) error {
	if c == nil {
		return fmt.Errorf("authz: conditions are not configured")
	}
	_, err := c.program(expr)
	return err
}

func (c *ConditionEvaluator) program(expr string) (cel.Program, error) {
	if prg, ok := c.programs.Get(expr); ok {
		return prg, nil
	}
	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("authz: compile condition: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("authz: condition %q is not boolean", expr)
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("authz: program condition: %w", err)
	}
	c.programs.Add(expr, prg)
	return prg, nil
}
