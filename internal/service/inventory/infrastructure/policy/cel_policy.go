// internal/service/inventory/infrastructure/policy/cel_policy.go
package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"stocknexus/internal/service/inventory/domain"
)

// CELAdjustmentPolicy 是 domain.AdjustmentPolicy 的 CEL 实现。
// 调整规则以表达式形式放在配置里，改规则不用改代码，例如:
//
//	delta > -100 || actor == "AUDITOR"
//
// 表达式在启动时编译一次，运行时只做求值。
type CELAdjustmentPolicy struct {
	program cel.Program
}

func NewCELAdjustmentPolicy(expression string) (*CELAdjustmentPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("storeId", cel.StringType),
		cel.Variable("productId", cel.StringType),
		cel.Variable("delta", cel.IntType),
		cel.Variable("actor", cel.StringType),
		cel.Variable("notes", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid adjustment policy expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("adjustment policy expression must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build cel program: %w", err)
	}
	return &CELAdjustmentPolicy{program: program}, nil
}

func (p *CELAdjustmentPolicy) Allow(_ context.Context, fact domain.AdjustmentFact) (bool, error) {
	out, _, err := p.program.Eval(map[string]interface{}{
		"storeId":   fact.StoreID,
		"productId": fact.ProductID,
		"delta":     int64(fact.Delta),
		"actor":     fact.Actor,
		"notes":     fact.Notes,
	})
	if err != nil {
		return false, fmt.Errorf("adjustment policy evaluation failed: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("adjustment policy returned non-bool value %v", out.Value())
	}
	return allowed, nil
}

// AllowAll 没有配置规则时的缺省策略。
type AllowAll struct{}

func (AllowAll) Allow(context.Context, domain.AdjustmentFact) (bool, error) {
	return true, nil
}

// FromExpression 空表达式取缺省放行策略。
func FromExpression(expression string) (domain.AdjustmentPolicy, error) {
	if expression == "" {
		return AllowAll{}, nil
	}
	return NewCELAdjustmentPolicy(expression)
}
