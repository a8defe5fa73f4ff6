package exec

import (
	"fmt"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/types"
)

// postfixOp is one flattened step of a reduced expression.
type postfixOp struct {
	expr *Expr
}

// ToPostfix flattens e into postfix (children before parent), per
// spec §4.10: "expressions are reduced to postfix and interpreted
// over a stack of value-references".
func ToPostfix(e *Expr) []*Expr {
	var out []*Expr
	flatten(e, &out)
	return out
}

func flatten(e *Expr, out *[]*Expr) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ExprUnary:
		flatten(e.Operand, out)
	case ExprBinary:
		flatten(e.Left, out)
		flatten(e.Right, out)
	case ExprFunctionCall:
		for _, a := range e.Args {
			flatten(a, out)
		}
	}
	*out = append(*out, e)
}

// Evaluator resolves Column and FunctionCall nodes against a schema
// and a function registry.
type Evaluator struct {
	Registry *Registry
}

// NewEvaluator returns an Evaluator backed by registry.
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{Registry: registry}
}

// resolveColumn looks up a column's index, preferring an exact
// source-column match, then falling back to the bare name when the
// expression carries no source annotation or the schemas match.
func resolveColumn(e *Expr, cols []schema.Column) (int, error) {
	if e.SourceColumn != "" {
		for i, c := range cols {
			if c.SourceColumn == e.SourceColumn && c.SourceTable == e.SourceTable && c.SourceSchema == e.SourceSchema {
				return i, nil
			}
		}
	}
	for i, c := range cols {
		if c.Name == e.ColumnName {
			return i, nil
		}
	}
	return 0, kind.Wrap(kind.Schema, fmt.Errorf("exec: column %q not found", e.ColumnName))
}

// Eval evaluates e against row under schema cols, using the postfix
// interpretation over a value stack.
func (ev *Evaluator) Eval(e *Expr, cols []schema.Column, row types.Row) (types.Value, error) {
	postfix := ToPostfix(e)
	var stack []types.Value
	pop := func(n int) []types.Value {
		vs := stack[len(stack)-n:]
		stack = stack[:len(stack)-n]
		return vs
	}
	for _, node := range postfix {
		switch node.Kind {
		case ExprColumn:
			idx, err := resolveColumn(node, cols)
			if err != nil {
				return types.Null(), err
			}
			if idx >= len(row) {
				return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("exec: column index %d out of range for row of length %d", idx, len(row)))
			}
			stack = append(stack, row[idx])
		case ExprLiteral:
			stack = append(stack, node.Literal)
		case ExprUnary:
			v := pop(1)[0]
			r, err := evalUnary(node.UnaryOp, v)
			if err != nil {
				return types.Null(), err
			}
			stack = append(stack, r)
		case ExprBinary:
			ops := pop(2)
			r, err := evalBinary(node.BinaryOp, ops[0], ops[1])
			if err != nil {
				return types.Null(), err
			}
			stack = append(stack, r)
		case ExprFunctionCall:
			args := pop(len(node.Args))
			r, err := ev.Registry.CallScalar(node.FuncName, args)
			if err != nil {
				return types.Null(), err
			}
			stack = append(stack, r)
		case ExprBindParameter:
			return types.Null(), kind.Wrap(kind.Planning, fmt.Errorf("exec: unbound parameter %q at execution time", node.ParamName))
		}
	}
	if len(stack) != 1 {
		return types.Null(), kind.Wrap(kind.Planning, fmt.Errorf("exec: expression did not reduce to a single value"))
	}
	return stack[0], nil
}

func evalUnary(op UnaryOp, v types.Value) (types.Value, error) {
	switch op {
	case OpNot:
		switch v.Kind() {
		case types.KindBool:
			return types.Bool(!v.Bool()), nil
		case types.KindInt:
			return types.Int(^v.Int()), nil
		case types.KindBinary:
			b := v.Bytes()
			out := make([]byte, len(b))
			for i, c := range b {
				out[i] = ^c
			}
			return types.Binary(out), nil
		}
		return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("exec: NOT not defined for %s", v.Kind()))
	case OpNegate:
		switch v.Kind() {
		case types.KindInt:
			return types.Int(-v.Int()), nil
		case types.KindFloat:
			return types.Float(-v.Float()), nil
		}
		return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("exec: negate not defined for %s", v.Kind()))
	}
	return types.Null(), kind.Wrap(kind.Planning, fmt.Errorf("exec: unknown unary operator"))
}

func evalBinary(op BinaryOp, a, b types.Value) (types.Value, error) {
	if op == OpAnd || op == OpOr {
		if a.Kind() != types.KindBool || b.Kind() != types.KindBool {
			return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("exec: AND/OR require boolean operands"))
		}
		if op == OpAnd {
			return types.Bool(a.Bool() && b.Bool()), nil
		}
		return types.Bool(a.Bool() || b.Bool()), nil
	}
	switch op {
	case OpEq:
		return types.Bool(a.Equals(b)), nil
	case OpNeq:
		return types.Bool(!a.Equals(b)), nil
	case OpLt:
		return types.Bool(a.Compare(b) < 0), nil
	case OpLe:
		return types.Bool(a.Compare(b) <= 0), nil
	case OpGt:
		return types.Bool(a.Compare(b) > 0), nil
	case OpGe:
		return types.Bool(a.Compare(b) >= 0), nil
	}
	// Arithmetic/concatenation.
	if a.Kind() == types.KindString && b.Kind() == types.KindString && op == OpAdd {
		return types.String(a.Str() + b.Str()), nil
	}
	if a.Kind() == types.KindBinary && b.Kind() == types.KindBinary && op == OpAdd {
		out := make([]byte, 0, len(a.Bytes())+len(b.Bytes()))
		out = append(out, a.Bytes()...)
		out = append(out, b.Bytes()...)
		return types.Binary(out), nil
	}
	if a.Kind() != b.Kind() || (a.Kind() != types.KindInt && a.Kind() != types.KindFloat) {
		return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("exec: arithmetic requires matching numeric operands, got %s and %s", a.Kind(), b.Kind()))
	}
	if a.Kind() == types.KindInt {
		x, y := a.Int(), b.Int()
		switch op {
		case OpAdd:
			return types.Int(x + y), nil
		case OpSub:
			return types.Int(x - y), nil
		case OpMul:
			return types.Int(x * y), nil
		case OpDiv:
			if y == 0 {
				return types.Null(), kind.Wrap(kind.ReadData, fmt.Errorf("exec: division by zero"))
			}
			return types.Int(x / y), nil
		}
	} else {
		x, y := a.Float(), b.Float()
		switch op {
		case OpAdd:
			return types.Float(x + y), nil
		case OpSub:
			return types.Float(x - y), nil
		case OpMul:
			return types.Float(x * y), nil
		case OpDiv:
			return types.Float(x / y), nil
		}
	}
	return types.Null(), kind.Wrap(kind.Planning, fmt.Errorf("exec: unknown binary operator"))
}
