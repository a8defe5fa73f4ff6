// Package exec implements the postfix expression evaluator and join
// strategy registry from spec §4.10.
package exec

import (
	"github.com/weaverdb/weaver/pkg/types"
)

// ExprKind tags the variant an Expr holds.
type ExprKind int

const (
	ExprColumn ExprKind = iota
	ExprLiteral
	ExprUnary
	ExprBinary
	ExprFunctionCall
	ExprBindParameter
)

// UnaryOp is one of the unary operators from spec §4.10.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNegate
)

// BinaryOp is one of the binary operators from spec §4.10.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
)

// Expr is a tagged expression node. Column/FunctionCall resolution
// happens against the schema supplied at evaluation time, not at
// construction time, since the same Expr tree can be reused across a
// plan's rewrites (spec §4.9's "preserve the set of rows emitted").
type Expr struct {
	Kind ExprKind

	// Column
	ColumnName   string
	SourceSchema string
	SourceTable  string
	SourceColumn string

	// Literal
	Literal types.Value

	// Unary
	UnaryOp UnaryOp
	Operand *Expr

	// Binary
	BinaryOp    BinaryOp
	Left, Right *Expr

	// FunctionCall
	FuncName string
	Args     []*Expr
	Wildcard bool // true for count(*)

	// BindParameter
	ParamName string
}

// Column builds a column-reference expression.
func Column(name string) *Expr { return &Expr{Kind: ExprColumn, ColumnName: name} }

// SourcedColumn builds a column reference carrying its origin, used
// after joins/projections per spec §3's "source-column" field.
func SourcedColumn(schemaName, tableName, columnName string) *Expr {
	return &Expr{Kind: ExprColumn, ColumnName: columnName, SourceSchema: schemaName, SourceTable: tableName, SourceColumn: columnName}
}

// Lit builds a literal expression.
func Lit(v types.Value) *Expr { return &Expr{Kind: ExprLiteral, Literal: v} }

// Unary builds a unary expression.
func Unary(op UnaryOp, operand *Expr) *Expr { return &Expr{Kind: ExprUnary, UnaryOp: op, Operand: operand} }

// Binary builds a binary expression.
func Binary(op BinaryOp, left, right *Expr) *Expr {
	return &Expr{Kind: ExprBinary, BinaryOp: op, Left: left, Right: right}
}

// Call builds a function-call expression.
func Call(name string, wildcard bool, args ...*Expr) *Expr {
	return &Expr{Kind: ExprFunctionCall, FuncName: name, Args: args, Wildcard: wildcard}
}

// BindParameter builds a bind-parameter placeholder. It is an error to
// evaluate one directly; it must be substituted before execution time.
func BindParameter(name string) *Expr { return &Expr{Kind: ExprBindParameter, ParamName: name} }

// ColumnsOf returns the set of bare column names an expression
// references, used by the optimizer's filter push-down rule to decide
// whether a predicate can move below a Project or into a TableScan.
func ColumnsOf(e *Expr) map[string]bool {
	out := make(map[string]bool)
	collectColumns(e, out)
	return out
}

func collectColumns(e *Expr, out map[string]bool) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ExprColumn:
		out[e.ColumnName] = true
	case ExprUnary:
		collectColumns(e.Operand, out)
	case ExprBinary:
		collectColumns(e.Left, out)
		collectColumns(e.Right, out)
	case ExprFunctionCall:
		for _, a := range e.Args {
			collectColumns(a, out)
		}
	}
}

// IsConstant reports whether e contains no column references, i.e. it
// can be reduced at plan time per spec §4.10.
func IsConstant(e *Expr) bool {
	if e == nil {
		return true
	}
	switch e.Kind {
	case ExprColumn, ExprBindParameter:
		return false
	case ExprLiteral:
		return true
	case ExprUnary:
		return IsConstant(e.Operand)
	case ExprBinary:
		return IsConstant(e.Left) && IsConstant(e.Right)
	case ExprFunctionCall:
		for _, a := range e.Args {
			if !IsConstant(a) {
				return false
			}
		}
		return true
	}
	return false
}
