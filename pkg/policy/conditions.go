package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

// Condition is an optional CEL guard attached to an environment.
// It applies to the listed actions (or all actions when Actions contains "*"
// or is empty) and must evaluate to true for an allowed request to proceed.
//
// The expression sees a single variable, request, with the keys
// action, environment, requested_by, target and params.
type Condition struct {
	Name       string   `yaml:"name" json:"name"`
	Actions    []string `yaml:"actions,omitempty" json:"actions,omitempty"`
	Expression string   `yaml:"expression" json:"expression"`
}

type compiledCondition struct {
	name    string
	actions actionSet
	program cel.Program
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func conditionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return celEnv, celEnvErr
}

func compileCondition(c Condition) (*compiledCondition, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return nil, errors.New("condition name is required")
	}
	if strings.TrimSpace(c.Expression) == "" {
		return nil, fmt.Errorf("condition %q: expression is required", name)
	}

	env, err := conditionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(c.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition %q: compile: %w", name, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition %q: expression must evaluate to bool, got %s", name, out)
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("condition %q: program: %w", name, err)
	}

	actions := make(actionSet, len(c.Actions))
	for _, a := range c.Actions {
		actions[strings.TrimSpace(a)] = struct{}{}
	}
	if len(actions) == 0 {
		actions[Wildcard] = struct{}{}
	}
	return &compiledCondition{name: name, actions: actions, program: prg}, nil
}

func (c *compiledCondition) appliesTo(action string) bool {
	return c.actions.matches(action)
}

// eval returns whether the request satisfies the condition. Errors and
// non-bool results are reported as errors and treated as a denial by callers.
func (c *compiledCondition) eval(req contracts.ActionRequest) (bool, error) {
	input := map[string]any{
		"request": map[string]any{
			"action":       string(req.Action),
			"environment":  string(req.Environment),
			"requested_by": req.RequestedBy,
			"target":       nonNilMap(req.Target),
			"params":       nonNilMap(req.Params),
		},
	}
	out, _, err := c.program.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
