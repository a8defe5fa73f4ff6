package exec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaverdb/weaver/pkg/types"
)

var errWrongArity = errors.New("wrong arity")

func TestRegistryCallScalarUnknownNameErrors(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.CallScalar("nope", nil)
	assert.Error(t, err)
}

func TestRegistryCallScalarAggregateNameErrors(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.CallScalar("count", []types.Value{types.Int(1)})
	assert.Error(t, err)
}

func TestRegistryNewAggregateUnknownNameErrors(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.NewAggregate("nope")
	assert.Error(t, err)
}

func TestLowerUpperScalars(t *testing.T) {
	r := NewDefaultRegistry()
	v, err := r.CallScalar("lower", []types.Value{types.String("HeLLo")})
	require.NoError(t, err)
	assert.True(t, v.Equals(types.String("hello")))

	v, err = r.CallScalar("UPPER", []types.Value{types.String("HeLLo")})
	require.NoError(t, err)
	assert.True(t, v.Equals(types.String("HELLO")))
}

func TestCoalesceReturnsFirstNonNull(t *testing.T) {
	r := NewDefaultRegistry()
	v, err := r.CallScalar("coalesce", []types.Value{types.Null(), types.Null(), types.Int(7)})
	require.NoError(t, err)
	assert.True(t, v.Equals(types.Int(7)))
}

func TestCoalesceAllNullReturnsNull(t *testing.T) {
	r := NewDefaultRegistry()
	v, err := r.CallScalar("coalesce", []types.Value{types.Null(), types.Null()})
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestCountAccCountsWildcardAndSkipsNulls(t *testing.T) {
	r := NewDefaultRegistry()
	acc, err := r.NewAggregate("count")
	require.NoError(t, err)

	acc.Step(nil) // count(*) row
	acc.Step([]types.Value{types.Int(1)})
	acc.Step([]types.Value{types.Null()})

	assert.True(t, acc.Result().Equals(types.Int(2)))
}

func TestSumAccKeepsIntegerResultForIntegerInputs(t *testing.T) {
	r := NewDefaultRegistry()
	acc, err := r.NewAggregate("sum")
	require.NoError(t, err)
	acc.Step([]types.Value{types.Int(2)})
	acc.Step([]types.Value{types.Int(3)})
	assert.True(t, acc.Result().Equals(types.Int(5)))
}

func TestSumAccPromotesToFloatOnMixedInput(t *testing.T) {
	r := NewDefaultRegistry()
	acc, err := r.NewAggregate("sum")
	require.NoError(t, err)
	acc.Step([]types.Value{types.Int(2)})
	acc.Step([]types.Value{types.Float(1.5)})
	assert.Equal(t, 3.5, acc.Result().Float())
}

func TestSumAccNoRowsReturnsNull(t *testing.T) {
	r := NewDefaultRegistry()
	acc, err := r.NewAggregate("sum")
	require.NoError(t, err)
	assert.True(t, acc.Result().IsNull())
}

func TestMinMaxAcc(t *testing.T) {
	r := NewDefaultRegistry()
	minAcc, err := r.NewAggregate("min")
	require.NoError(t, err)
	maxAcc, err := r.NewAggregate("max")
	require.NoError(t, err)

	for _, v := range []int64{5, 1, 9, 3} {
		minAcc.Step([]types.Value{types.Int(v)})
		maxAcc.Step([]types.Value{types.Int(v)})
	}
	assert.True(t, minAcc.Result().Equals(types.Int(1)))
	assert.True(t, maxAcc.Result().Equals(types.Int(9)))
}

func TestAvgAccIgnoresNulls(t *testing.T) {
	r := NewDefaultRegistry()
	acc, err := r.NewAggregate("avg")
	require.NoError(t, err)
	acc.Step([]types.Value{types.Int(2)})
	acc.Step([]types.Value{types.Null()})
	acc.Step([]types.Value{types.Int(4)})
	assert.Equal(t, 3.0, acc.Result().Float())
}

func TestRegisterScalarTriesOverloadsInOrder(t *testing.T) {
	r := NewRegistry()
	r.RegisterScalar("f", func(args []types.Value) (types.Value, error) {
		if len(args) != 1 {
			return types.Null(), errWrongArity
		}
		return types.String("one-arg"), nil
	})
	r.RegisterScalar("f", func(args []types.Value) (types.Value, error) {
		return types.String("fallback"), nil
	})

	v, err := r.CallScalar("f", []types.Value{types.Int(1)})
	require.NoError(t, err)
	assert.True(t, v.Equals(types.String("one-arg")))

	v, err = r.CallScalar("f", nil)
	require.NoError(t, err)
	assert.True(t, v.Equals(types.String("fallback")))
}
