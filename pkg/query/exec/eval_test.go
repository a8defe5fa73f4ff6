package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/types"
)

func testCols() []schema.Column {
	return []schema.Column{
		{Name: "age", Type: schema.TypeInt},
		{Name: "name", Type: schema.TypeString},
	}
}

func TestEvalLiteral(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	v, err := ev.Eval(Lit(types.Int(42)), nil, nil)
	require.NoError(t, err)
	assert.True(t, v.Equals(types.Int(42)))
}

func TestEvalColumnResolvesByName(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	row := types.Row{types.Int(30), types.String("ada")}
	v, err := ev.Eval(Column("name"), testCols(), row)
	require.NoError(t, err)
	assert.True(t, v.Equals(types.String("ada")))
}

func TestEvalColumnUnknownNameErrors(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	_, err := ev.Eval(Column("missing"), testCols(), types.Row{types.Int(1), types.String("a")})
	assert.Error(t, err)
}

func TestEvalBinaryComparison(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	row := types.Row{types.Int(30), types.String("ada")}
	e := Binary(OpGt, Column("age"), Lit(types.Int(18)))
	v, err := ev.Eval(e, testCols(), row)
	require.NoError(t, err)
	assert.True(t, v.Bool())
}

func TestEvalBinaryAndOr(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Binary(OpAnd, Lit(types.Bool(true)), Lit(types.Bool(false)))
	v, err := ev.Eval(e, nil, nil)
	require.NoError(t, err)
	assert.False(t, v.Bool())

	e = Binary(OpOr, Lit(types.Bool(false)), Lit(types.Bool(true)))
	v, err = ev.Eval(e, nil, nil)
	require.NoError(t, err)
	assert.True(t, v.Bool())
}

func TestEvalAndOrRequireBooleanOperands(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Binary(OpAnd, Lit(types.Int(1)), Lit(types.Bool(true)))
	_, err := ev.Eval(e, nil, nil)
	assert.Error(t, err)
}

func TestEvalArithmeticInt(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Binary(OpAdd, Lit(types.Int(2)), Lit(types.Int(3)))
	v, err := ev.Eval(e, nil, nil)
	require.NoError(t, err)
	assert.True(t, v.Equals(types.Int(5)))
}

func TestEvalArithmeticFloat(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Binary(OpMul, Lit(types.Float(1.5)), Lit(types.Float(2)))
	v, err := ev.Eval(e, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Float())
}

func TestEvalDivisionByZeroErrors(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Binary(OpDiv, Lit(types.Int(1)), Lit(types.Int(0)))
	_, err := ev.Eval(e, nil, nil)
	assert.Error(t, err)
}

func TestEvalStringConcatenation(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Binary(OpAdd, Lit(types.String("foo")), Lit(types.String("bar")))
	v, err := ev.Eval(e, nil, nil)
	require.NoError(t, err)
	assert.True(t, v.Equals(types.String("foobar")))
}

func TestEvalArithmeticMismatchedKindsErrors(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Binary(OpAdd, Lit(types.Int(1)), Lit(types.Float(1)))
	_, err := ev.Eval(e, nil, nil)
	assert.Error(t, err)
}

func TestEvalUnaryNot(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	v, err := ev.Eval(Unary(OpNot, Lit(types.Bool(false))), nil, nil)
	require.NoError(t, err)
	assert.True(t, v.Bool())
}

func TestEvalUnaryNegate(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	v, err := ev.Eval(Unary(OpNegate, Lit(types.Int(5))), nil, nil)
	require.NoError(t, err)
	assert.True(t, v.Equals(types.Int(-5)))
}

func TestEvalFunctionCall(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Call("upper", false, Lit(types.String("hi")))
	v, err := ev.Eval(e, nil, nil)
	require.NoError(t, err)
	assert.True(t, v.Equals(types.String("HI")))
}

func TestEvalAggregateNameNotCallableAsScalar(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	e := Call("sum", false, Lit(types.Int(1)))
	_, err := ev.Eval(e, nil, nil)
	assert.Error(t, err)
}

func TestEvalBindParameterErrors(t *testing.T) {
	ev := NewEvaluator(NewDefaultRegistry())
	_, err := ev.Eval(BindParameter("p1"), nil, nil)
	assert.Error(t, err)
}

func TestToPostfixOrdersChildrenBeforeParent(t *testing.T) {
	e := Binary(OpAdd, Lit(types.Int(1)), Lit(types.Int(2)))
	postfix := ToPostfix(e)
	require.Len(t, postfix, 3)
	assert.Equal(t, ExprLiteral, postfix[0].Kind)
	assert.Equal(t, ExprLiteral, postfix[1].Kind)
	assert.Equal(t, ExprBinary, postfix[2].Kind)
}

func TestColumnsOfCollectsNestedReferences(t *testing.T) {
	e := Binary(OpAnd,
		Binary(OpGt, Column("age"), Lit(types.Int(10))),
		Binary(OpEq, Column("name"), Lit(types.String("x"))),
	)
	cols := ColumnsOf(e)
	assert.True(t, cols["age"])
	assert.True(t, cols["name"])
	assert.Len(t, cols, 2)
}

func TestIsConstant(t *testing.T) {
	assert.True(t, IsConstant(Binary(OpAdd, Lit(types.Int(1)), Lit(types.Int(2)))))
	assert.False(t, IsConstant(Binary(OpAdd, Column("age"), Lit(types.Int(2)))))
}
