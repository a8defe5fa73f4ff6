// Package optimizer implements the rule-based plan rewrites from spec
// §4.9: sigma cascade, filter push-down, and cost recompute, repeated
// until no rewrite fires (capped at 32 passes).
package optimizer

import (
	"sort"

	"github.com/weaverdb/weaver/pkg/catalog"
	"github.com/weaverdb/weaver/pkg/metrics"
	"github.com/weaverdb/weaver/pkg/query/exec"
	"github.com/weaverdb/weaver/pkg/query/plan"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/types"
)

const (
	perRowCostDefault = 1.0
	perRowCostScan    = 1.0
)

// Optimizer rewrites a plan tree against a catalog of open tables,
// used to rank candidate keys by size_estimate.
type Optimizer struct {
	cat *catalog.Catalog
}

// New returns an Optimizer bound to cat.
func New(cat *catalog.Catalog) *Optimizer {
	return &Optimizer{cat: cat}
}

// Optimize runs the rewrite passes until a pass fires no rewrite, for
// at most 32 passes, and returns the rewritten tree. A Filter directly
// above another Filter is swapped on every pass, so a plan with
// stacked filters stops at the 32-pass cap rather than at a fixed
// point. Every rewrite preserves the set of rows emitted (spec §4.9),
// only their production path changes.
func (o *Optimizer) Optimize(root *plan.Node) *plan.Node {
	for pass := 0; pass < 32; pass++ {
		changed := false
		root = o.passSigmaCascade(root, &changed)
		root = o.passPushDown(root, &changed)
		recomputeCost(root)
		if !changed {
			break
		}
	}
	return root
}

// passSigmaCascade splits Filter(child, a AND b) into
// Filter(Filter(child, b), a) whenever a and b reference different
// column sets, so each conjunct can be pushed independently.
func (o *Optimizer) passSigmaCascade(n *plan.Node, changed *bool) *plan.Node {
	if n == nil {
		return nil
	}
	if n.Kind == plan.KindFilter {
		n.Child = o.passSigmaCascade(n.Child, changed)
		if n.Predicate.Kind == exec.ExprBinary && n.Predicate.BinaryOp == exec.OpAnd {
			a, b := n.Predicate.Left, n.Predicate.Right
			if !sameColumns(exec.ColumnsOf(a), exec.ColumnsOf(b)) {
				metrics.OptimizerRewritesTotal.WithLabelValues("sigma_cascade").Inc()
				*changed = true
				inner := plan.NewFilter(n.ID, n.Child, *b, perRowCostDefault)
				outer := plan.NewFilter(n.ID, inner, *a, perRowCostDefault)
				return o.passSigmaCascade(outer, changed)
			}
		}
		return n
	}
	applyToChildren(n, func(c *plan.Node) *plan.Node { return o.passSigmaCascade(c, changed) })
	return n
}

func sameColumns(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func applyToChildren(n *plan.Node, f func(*plan.Node) *plan.Node) {
	switch n.Kind {
	case plan.KindFilter, plan.KindProject, plan.KindGroupBy, plan.KindOrderedBy, plan.KindGetPage, plan.KindExplain:
		n.Child = f(n.Child)
	case plan.KindHashJoin:
		n.Left = f(n.Left)
		n.Right = f(n.Right)
	}
}

// passPushDown attempts, for every Filter node, to move it below its
// child.
func (o *Optimizer) passPushDown(n *plan.Node, changed *bool) *plan.Node {
	if n == nil {
		return nil
	}
	applyToChildren(n, func(c *plan.Node) *plan.Node { return o.passPushDown(c, changed) })

	if n.Kind != plan.KindFilter {
		return n
	}
	child := n.Child
	if child == nil {
		return n
	}

	switch child.Kind {
	case plan.KindFilter:
		// Swap: Filter(Filter(c, q), p) -> Filter(Filter(c, p), q). Push
		// the newly-inner predicate further on its own rather than
		// re-running this rule on the swapped pair, which would just
		// swap back forever.
		metrics.OptimizerRewritesTotal.WithLabelValues("push_below_filter").Inc()
		*changed = true
		newInner := o.passPushDown(plan.NewFilter(child.ID, child.Child, n.Predicate, perRowCostDefault), changed)
		return plan.NewFilter(n.ID, newInner, child.Predicate, perRowCostDefault)

	case plan.KindProject:
		introduced := projectIntroducedNames(child)
		cols := exec.ColumnsOf(&n.Predicate)
		if !intersects(cols, introduced) {
			metrics.OptimizerRewritesTotal.WithLabelValues("push_below_project").Inc()
			*changed = true
			newInner := plan.NewFilter(n.ID, child.Child, n.Predicate, perRowCostDefault)
			newOuter := plan.NewProject(child.ID, newInner, child.Expressions, child.Schema, perRowCostDefault)
			return o.passPushDown(newOuter, changed)
		}
		return n

	case plan.KindHashJoin:
		cols := exec.ColumnsOf(&n.Predicate)
		leftCols := columnNames(child.Left.Schema)
		rightCols := columnNames(child.Right.Schema)
		if subsetOf(cols, leftCols) {
			metrics.OptimizerRewritesTotal.WithLabelValues("push_into_join_left").Inc()
			*changed = true
			child.Left = plan.NewFilter(n.ID, child.Left, n.Predicate, perRowCostDefault)
			return o.passPushDown(child, changed)
		}
		if subsetOf(cols, rightCols) {
			metrics.OptimizerRewritesTotal.WithLabelValues("push_into_join_right").Inc()
			*changed = true
			child.Right = plan.NewFilter(n.ID, child.Right, n.Predicate, perRowCostDefault)
			return o.passPushDown(child, changed)
		}
		return n

	case plan.KindTableScan:
		if len(child.Keys) != 0 {
			return n
		}
		keys := o.candidateKeys(child, &n.Predicate)
		if len(keys) == 0 {
			return n
		}
		metrics.OptimizerRewritesTotal.WithLabelValues("push_into_scan").Inc()
		*changed = true
		child.Keys = keys
		if t, err := o.cat.Table(child.SchemaName, child.TableName); err == nil {
			if est, err := t.SizeEstimate(keys[0]); err == nil {
				child.Rows = int64(est)
			}
		}
		return n
	}
	return n
}

// candidateKeys finds every key on the scan's table whose columns are
// all referenced by predicate, ranked ascending by size_estimate.
func (o *Optimizer) candidateKeys(scan *plan.Node, predicate *exec.Expr) []schema.KeyIndex {
	t, err := o.cat.Table(scan.SchemaName, scan.TableName)
	if err != nil {
		return nil
	}
	predCols := exec.ColumnsOf(predicate)
	sch := t.Schema()
	type ranked struct {
		ki   schema.KeyIndex
		size int
	}
	var candidates []ranked
	for _, k := range sch.Keys {
		if !subsetOf(toSet(k.Columns), predCols) {
			continue
		}
		ki := schema.KeyIndex{KeyName: k.Name, Kind: schema.KeyAll}
		if len(k.Columns) == 1 {
			if lit, ok := equalityLiteral(predicate, k.Columns[0]); ok {
				ki = schema.KeyIndex{KeyName: k.Name, Kind: schema.KeyOne, One: types.Row{lit}}
			}
		}
		size, err := t.SizeEstimate(ki)
		if err != nil {
			continue
		}
		candidates = append(candidates, ranked{ki: ki, size: size})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].size < candidates[j].size })
	out := make([]schema.KeyIndex, len(candidates))
	for i, c := range candidates {
		out[i] = c.ki
	}
	return out
}

// equalityLiteral reports whether predicate has the shape
// `column = literal` (or `literal = column`) for column, so the scan
// can narrow from a full-key read down to a KeyOne point lookup (spec
// §4.9 scenario S5). Only a bare top-level equality is recognized;
// equalities buried under AND are already surfaced as their own Filter
// by the sigma-cascade pass run earlier in the same fixed point.
func equalityLiteral(predicate *exec.Expr, column string) (types.Value, bool) {
	if predicate == nil || predicate.Kind != exec.ExprBinary || predicate.BinaryOp != exec.OpEq {
		return types.Value{}, false
	}
	l, r := predicate.Left, predicate.Right
	if l.Kind == exec.ExprColumn && l.ColumnName == column && r.Kind == exec.ExprLiteral {
		return r.Literal, true
	}
	if r.Kind == exec.ExprColumn && r.ColumnName == column && l.Kind == exec.ExprLiteral {
		return l.Literal, true
	}
	return types.Value{}, false
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func subsetOf(a, b map[string]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func columnNames(cols []schema.Column) map[string]bool {
	out := make(map[string]bool, len(cols))
	for _, c := range cols {
		out[c.Name] = true
	}
	return out
}

// projectIntroducedNames returns the set of output names a Project
// computes that are not simple passthroughs of an input column, i.e.
// names a Filter above must not reference if it is to be pushed below.
func projectIntroducedNames(p *plan.Node) map[string]bool {
	out := make(map[string]bool)
	for i, e := range p.Expressions {
		if e.Kind == exec.ExprColumn {
			continue
		}
		if i < len(p.Schema) {
			out[p.Schema[i].Name] = true
		}
	}
	return out
}

// recomputeCost recomputes rows/cost bottom-up after a rewrite.
func recomputeCost(n *plan.Node) {
	if n == nil {
		return
	}
	for _, c := range n.Children() {
		recomputeCost(c)
	}
	switch n.Kind {
	case plan.KindFilter:
		n.Rows = n.Child.Rows
		n.Cost = plan.Cost(perRowCostDefault, n.Rows, n.Child)
	case plan.KindProject:
		n.Rows = n.Child.Rows
		n.Cost = plan.Cost(perRowCostDefault, n.Rows, n.Child)
	case plan.KindHashJoin:
		n.Cost = plan.Cost(perRowCostDefault, n.Rows, n.Left, n.Right)
	case plan.KindTableScan:
		n.Cost = plan.Cost(perRowCostScan, n.Rows)
	}
}
