package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaverdb/weaver/pkg/catalog"
	"github.com/weaverdb/weaver/pkg/query/exec"
	"github.com/weaverdb/weaver/pkg/query/plan"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/storage/pager"
	"github.com/weaverdb/weaver/pkg/types"
)

func newCatalogWithPeople(t *testing.T, keys []schema.Key) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(pager.DefaultPageSize, "")
	sch, err := schema.New("main", "people", []schema.Column{
		{Name: "name", Type: schema.TypeString, NonNull: true, MaxLen: 64},
		{Name: "age", Type: schema.TypeInt, NonNull: true},
	}, keys, false)
	require.NoError(t, err)
	require.NoError(t, cat.CreateTable(sch))
	return cat
}

func peopleScan(cat *catalog.Catalog, t *testing.T) *plan.Node {
	tbl, err := cat.Table("main", "people")
	require.NoError(t, err)
	return plan.TableScan(1, "main", "people", tbl.Schema().PublicColumns, 100, 1.0)
}

func TestSigmaCascadeSplitsDisjointConjuncts(t *testing.T) {
	cat := newCatalogWithPeople(t, nil)
	scan := peopleScan(cat, t)
	predicate := exec.Binary(exec.OpAnd,
		exec.Binary(exec.OpGt, exec.Column("age"), exec.Lit(types.Int(18))),
		exec.Binary(exec.OpEq, exec.Column("name"), exec.Lit(types.String("ada"))),
	)
	root := plan.NewFilter(2, scan, *predicate, 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(root)

	assert.Equal(t, plan.KindFilter, rewritten.Kind)
	assert.Equal(t, plan.KindFilter, rewritten.Child.Kind)
	// One of the two single-column filters now sits directly above the scan.
	assert.Equal(t, plan.KindTableScan, rewritten.Child.Child.Kind)
}

func TestSigmaCascadeDoesNotSplitWhenColumnsMatch(t *testing.T) {
	cat := newCatalogWithPeople(t, nil)
	scan := peopleScan(cat, t)
	predicate := exec.Binary(exec.OpAnd,
		exec.Binary(exec.OpGt, exec.Column("age"), exec.Lit(types.Int(18))),
		exec.Binary(exec.OpLt, exec.Column("age"), exec.Lit(types.Int(65))),
	)
	root := plan.NewFilter(2, scan, *predicate, 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(root)

	require.Equal(t, plan.KindFilter, rewritten.Kind)
	assert.Equal(t, exec.ExprBinary, rewritten.Predicate.Kind)
	assert.Equal(t, exec.OpAnd, rewritten.Predicate.BinaryOp)
}

func TestPushDownSwapsNestedFilters(t *testing.T) {
	cat := newCatalogWithPeople(t, nil)
	scan := peopleScan(cat, t)
	inner := plan.NewFilter(2, scan, *exec.Binary(exec.OpGt, exec.Column("age"), exec.Lit(types.Int(18))), 1.0)
	outer := plan.NewFilter(3, inner, *exec.Binary(exec.OpEq, exec.Column("name"), exec.Lit(types.String("ada"))), 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(outer)

	assert.Equal(t, plan.KindFilter, rewritten.Kind)
	assert.Equal(t, plan.KindFilter, rewritten.Child.Kind)
	assert.Equal(t, plan.KindTableScan, rewritten.Child.Child.Kind)
}

func TestPushDownMovesFilterBelowProjectWhenColumnsDisjoint(t *testing.T) {
	cat := newCatalogWithPeople(t, nil)
	scan := peopleScan(cat, t)
	proj := plan.NewProject(2, scan, []exec.Expr{*exec.Column("name")}, []schema.Column{{Name: "name", Type: schema.TypeString}}, 1.0)
	filter := plan.NewFilter(3, proj, *exec.Binary(exec.OpEq, exec.Column("name"), exec.Lit(types.String("ada"))), 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(filter)

	assert.Equal(t, plan.KindProject, rewritten.Kind)
	assert.Equal(t, plan.KindFilter, rewritten.Child.Kind)
	assert.Equal(t, plan.KindTableScan, rewritten.Child.Child.Kind)
}

func TestPushDownDoesNotMoveFilterBelowProjectWhenReferencingComputedColumn(t *testing.T) {
	cat := newCatalogWithPeople(t, nil)
	scan := peopleScan(cat, t)
	computed := exec.Binary(exec.OpMul, exec.Column("age"), exec.Lit(types.Int(2)))
	proj := plan.NewProject(2, scan, []exec.Expr{*computed}, []schema.Column{{Name: "doubled_age", Type: schema.TypeInt}}, 1.0)
	filter := plan.NewFilter(3, proj, *exec.Binary(exec.OpGt, exec.Column("doubled_age"), exec.Lit(types.Int(10))), 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(filter)

	require.Equal(t, plan.KindFilter, rewritten.Kind)
	assert.Equal(t, plan.KindProject, rewritten.Child.Kind)
}

func TestPushDownSelectsKeyOnTableScan(t *testing.T) {
	cat := newCatalogWithPeople(t, []schema.Key{
		{Name: "by_name", Columns: []string{"name"}},
	})
	scan := peopleScan(cat, t)
	filter := plan.NewFilter(2, scan, *exec.Binary(exec.OpEq, exec.Column("name"), exec.Lit(types.String("ada"))), 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(filter)

	require.Equal(t, plan.KindFilter, rewritten.Kind)
	scanNode := rewritten.Child
	require.Equal(t, plan.KindTableScan, scanNode.Kind)
	require.NotEmpty(t, scanNode.Keys)
	assert.Equal(t, "by_name", scanNode.Keys[0].KeyName)
}

func TestPushDownIntoHashJoinSide(t *testing.T) {
	cat := newCatalogWithPeople(t, nil)
	leftScan := peopleScan(cat, t)
	rightScan := plan.TableScan(2, "main", "people", leftScan.Schema, 100, 1.0)
	join := plan.NewHashJoin(3, leftScan, rightScan, plan.JoinInner,
		*exec.Binary(exec.OpEq, exec.Column("age"), exec.Column("age")),
		append(append([]schema.Column{}, leftScan.Schema...), rightScan.Schema...), 100, 1.0)
	filter := plan.NewFilter(4, join, *exec.Binary(exec.OpGt, exec.Column("age"), exec.Lit(types.Int(18))), 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(filter)

	require.Equal(t, plan.KindHashJoin, rewritten.Kind)
	assert.Equal(t, plan.KindFilter, rewritten.Left.Kind)
}

func TestOptimizeTerminatesWithinPassBound(t *testing.T) {
	cat := newCatalogWithPeople(t, nil)
	scan := peopleScan(cat, t)
	// A predicate with no rewrite opportunity should converge in one pass.
	filter := plan.NewFilter(2, scan, *exec.Binary(exec.OpGt, exec.Column("age"), exec.Lit(types.Int(18))), 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(filter)
	assert.Equal(t, plan.KindFilter, rewritten.Kind)
}

func TestOptimizeRecomputesCostAfterRewrite(t *testing.T) {
	cat := newCatalogWithPeople(t, []schema.Key{
		{Name: "by_name", Columns: []string{"name"}},
	})
	scan := peopleScan(cat, t)
	filter := plan.NewFilter(2, scan, *exec.Binary(exec.OpEq, exec.Column("name"), exec.Lit(types.String("ada"))), 1.0)

	opt := New(cat)
	rewritten := opt.Optimize(filter)
	assert.True(t, rewritten.Cost >= 0)
	assert.Equal(t, rewritten.Child.Rows, rewritten.Rows)
}
