package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	wtypes "github.com/kubewarden/policy-engine/pkg/types"
)

// ruleSelector decides, per spec §4.5's "Evaluation edges" rule, whether an
// incoming AdmissionRequest's (group, version, resource, operation) is
// matched by at least one of a policy's declared rules. Raw (non-admission)
// requests always match: there is no Kubernetes rule surface to filter on.
// A policy declaring no rules at all is treated as unconstrained, matching
// everything — it never makes sense for a policy's own metadata to opt it
// out of every admission request it might be wired up against.
//
// Grounded on api/policies/v1/policygroup_validation.go's pattern of
// compiling a small, purpose-built CEL environment at construction time
// rather than hand-rolling boolean matching.
type ruleSelector struct {
	program cel.Program // nil means "match everything"
}

func newRuleSelector(rules []wtypes.Rule) (*ruleSelector, error) {
	if len(rules) == 0 {
		return &ruleSelector{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("group", cel.StringType),
		cel.Variable("version", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("operation", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("building rule-selector CEL environment: %w", err)
	}

	clauses := make([]string, 0, len(rules))
	for _, rule := range rules {
		clauses = append(clauses, fmt.Sprintf("(%s && %s && %s && %s)",
			membership("group", rule.APIGroups),
			membership("version", rule.APIVersions),
			membership("resource", rule.Resources),
			membership("operation", rule.Operations),
		))
	}
	source := strings.Join(clauses, " || ")

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling rule selector: %w", issues.Err())
	}
	if ast.OutputType() != types.BoolType {
		return nil, fmt.Errorf("rule selector must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building rule selector program: %w", err)
	}
	return &ruleSelector{program: program}, nil
}

// membership builds a CEL boolean expression testing whether field matches
// one of values, treating "*" as a wildcard that matches unconditionally.
func membership(field string, values []string) string {
	if len(values) == 0 {
		return "false"
	}
	for _, v := range values {
		if v == "*" {
			return "true"
		}
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ", "))
}

// Matches reports whether req should be sent to the guest at all.
func (s *ruleSelector) Matches(req wtypes.ValidateRequest) (bool, error) {
	if s.program == nil || !req.IsAdmissionRequest() {
		return true, nil
	}
	adm := req.Admission
	out, _, err := s.program.Eval(map[string]any{
		"group":     adm.Kind.Group,
		"version":   adm.Kind.Version,
		"resource":  adm.Resource,
		"operation": adm.Operation,
	})
	if err != nil {
		return false, fmt.Errorf("evaluating rule selector: %w", err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule selector did not evaluate to a bool")
	}
	return matched, nil
}
