// Package policy evaluates the optional CEL rule that admits or rejects bids.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/buildmarket/pkg/job"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
)

// ErrBidRejected is returned when the rule evaluates to false.
var ErrBidRejected = errors.New("bid rejected by policy")

// costLimit bounds evaluation work per bid.
const costLimit = 10000

// BidPolicy is a compiled bid-admission rule. The zero value and a nil
// pointer admit every bid.
//
// The expression sees two variables:
//
//	job:     {id, contractor, project_type, budget, required_skills}
//	profile: {id, owner, description, skills}
//
// e.g. `job.required_skills.all(s, s in profile.skills)`.
type BidPolicy struct {
	expr string
	prg  cel.Program
}

// NewBidPolicy compiles expr. An empty expression admits everything.
func NewBidPolicy(expr string) (*BidPolicy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &BidPolicy{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("job", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("profile", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile bid policy: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("bid policy must return bool, got %s", out)
	}
	prg, err := env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program bid policy: %w", err)
	}
	return &BidPolicy{expr: expr, prg: prg}, nil
}

// Expr returns the source expression.
func (p *BidPolicy) Expr() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Admit returns nil if the bid of wp on j is allowed.
func (p *BidPolicy) Admit(j *job.Job, wp *profile.WorkerProfile) error {
	if p == nil || p.prg == nil {
		return nil
	}
	out, _, err := p.prg.Eval(map[string]any{
		"job":     jobVars(j),
		"profile": profileVars(wp),
	})
	if err != nil {
		return fmt.Errorf("%w: evaluation failed: %v", ErrBidRejected, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("%w: non-boolean result %v", ErrBidRejected, out.Value())
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrBidRejected, p.expr)
	}
	return nil
}

func jobVars(j *job.Job) map[string]any {
	return map[string]any{
		"id":              j.ID(),
		"contractor":      string(j.Contractor()),
		"project_type":    j.ProjectType(),
		"budget":          j.Budget(),
		"required_skills": j.RequiredSkills(),
	}
}

func profileVars(p *profile.WorkerProfile) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"owner":       string(p.Owner),
		"description": p.Description,
		"skills":      append([]string{}, p.Skills...),
	}
}
