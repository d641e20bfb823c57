package authz

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// CompileExpression compiles an expr-lang program used by rule files.
func CompileExpression(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return prog, nil
}

func claimsOf(user *metadata.UserContext) map[string]any {
	if user == nil || user.Claims == nil {
		return map[string]any{}
	}
	return user.Claims
}

// ExpressionClause builds a Custom clause from an expression. The program
// sees `user` (claims) and `where` (the caller's predicate document) and must
// evaluate to the new predicate document.
func ExpressionClause(expression string) (Clause, error) {
	prog, err := CompileExpression(expression)
	if err != nil {
		return Clause{}, err
	}
	fn := func(_ context.Context, user *metadata.UserContext, where entity.Where) (entity.Where, error) {
		env := map[string]any{
			"user":  claimsOf(user),
			"where": where.Document(),
		}
		out, err := expr.Run(prog, env)
		if err != nil {
			return entity.Where{}, fmt.Errorf("evaluate rule expression: %w", err)
		}
		doc, ok := out.(map[string]any)
		if !ok {
			return entity.Where{}, fmt.Errorf("rule expression returned %T, want an object", out)
		}
		return entity.ParseWhere(doc)
	}
	return CustomClause(fn), nil
}

// ExpressionDefault builds a computed Default from an expression evaluated
// with `user` (claims) and `input` (the row being written).
func ExpressionDefault(expression string) (Default, error) {
	prog, err := CompileExpression(expression)
	if err != nil {
		return Default{}, err
	}
	fn := func(_ context.Context, user *metadata.UserContext, input entity.Row) (any, error) {
		env := map[string]any{
			"user":  claimsOf(user),
			"input": map[string]any(input),
		}
		out, err := expr.Run(prog, env)
		if err != nil {
			return nil, fmt.Errorf("evaluate default expression: %w", err)
		}
		return out, nil
	}
	return Computed(fn), nil
}
