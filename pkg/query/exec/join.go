package exec

import (
	"fmt"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/metrics"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/types"
)

// JoinOperatorKind mirrors plan.JoinOperator without importing the
// plan package (exec must not depend on plan to avoid a cycle).
type JoinOperatorKind int

const (
	JoinInner JoinOperatorKind = iota
	JoinLeft
)

// Strategy is a {cost(plan) → Option<Cost>, execute(streams) → rows}
// pair, per spec §4.10's join-strategy design note.
type Strategy struct {
	Name string
	// Cost reports the strategy's estimated cost and whether it
	// applies at all; a false ok means "not applicable".
	Cost func(leftRows, rightRows int64, op JoinOperatorKind, on *Expr, leftCols, rightCols []schema.Column) (cost float64, ok bool)
	// Execute runs the join and returns the combined rows (left
	// columns then right columns) and output schema.
	Execute func(ev *Evaluator, left, right []types.Row, leftCols, rightCols []schema.Column, on *Expr) ([]types.Row, []schema.Column, error)
}

// JoinRegistry holds the strategies consulted for each HashJoin plan
// node.
type JoinRegistry struct {
	strategies []Strategy
}

// NewJoinRegistry returns a registry seeded with the baseline
// hash-join strategy.
func NewJoinRegistry() *JoinRegistry {
	r := &JoinRegistry{}
	r.Register(hashJoinStrategy())
	return r
}

// Register adds s to the registry.
func (r *JoinRegistry) Register(s Strategy) { r.strategies = append(r.strategies, s) }

// Select returns the applicable strategy with minimum cost.
func (r *JoinRegistry) Select(leftRows, rightRows int64, op JoinOperatorKind, on *Expr, leftCols, rightCols []schema.Column) (*Strategy, error) {
	var best *Strategy
	bestCost := 0.0
	for i := range r.strategies {
		s := &r.strategies[i]
		cost, ok := s.Cost(leftRows, rightRows, op, on, leftCols, rightCols)
		if !ok {
			continue
		}
		if best == nil || cost < bestCost {
			best = s
			bestCost = cost
		}
	}
	if best == nil {
		return nil, kind.Wrap(kind.Planning, fmt.Errorf("exec: no applicable join strategy"))
	}
	return best, nil
}

const hashJoinCostMultiplier = 1.2

// equiJoinColumns reports the (leftIdx, rightIdx) pair for an equality
// predicate of the exact shape column(left) = column(right), or ok=false.
func equiJoinColumns(on *Expr, leftCols, rightCols []schema.Column) (leftIdx, rightIdx int, ok bool) {
	if on == nil || on.Kind != ExprBinary || on.BinaryOp != OpEq {
		return 0, 0, false
	}
	if on.Left.Kind != ExprColumn || on.Right.Kind != ExprColumn {
		return 0, 0, false
	}
	li, lerr := resolveColumn(on.Left, leftCols)
	ri, rerr := resolveColumn(on.Right, rightCols)
	if lerr == nil && rerr == nil {
		return li, ri, true
	}
	li, lerr = resolveColumn(on.Right, leftCols)
	ri, rerr = resolveColumn(on.Left, rightCols)
	if lerr == nil && rerr == nil {
		return li, ri, true
	}
	return 0, 0, false
}

// hashJoinStrategy is the baseline Hash-Join from spec §4.10: applies
// only to Inner joins with an exact column(left) = column(right)
// shape; builds its probe map on the smaller input.
func hashJoinStrategy() Strategy {
	return Strategy{
		Name: "hash_join",
		Cost: func(leftRows, rightRows int64, op JoinOperatorKind, on *Expr, leftCols, rightCols []schema.Column) (float64, bool) {
			if op != JoinInner {
				return 0, false
			}
			if _, _, ok := equiJoinColumns(on, leftCols, rightCols); !ok {
				return 0, false
			}
			return hashJoinCostMultiplier * float64(leftRows+rightRows), true
		},
		Execute: func(ev *Evaluator, left, right []types.Row, leftCols, rightCols []schema.Column, on *Expr) ([]types.Row, []schema.Column, error) {
			leftIdx, rightIdx, ok := equiJoinColumns(on, leftCols, rightCols)
			if !ok {
				return nil, nil, kind.Wrap(kind.Planning, fmt.Errorf("exec: hash join predicate is not an equi-join on two columns"))
			}

			buildRows, buildIdx, probeRows, probeIdx := left, leftIdx, right, rightIdx
			buildIsLeft := true
			if len(right) < len(left) {
				buildRows, buildIdx, probeRows, probeIdx = right, rightIdx, left, leftIdx
				buildIsLeft = false
			}

			build := make(map[uint64][]types.Row)
			for _, row := range buildRows {
				h := row[buildIdx].Hash()
				build[h] = append(build[h], row)
			}
			metrics.HashJoinBuildRows.Observe(float64(len(buildRows)))

			outSchema := append(append([]schema.Column{}, leftCols...), rightCols...)
			var out []types.Row
			for _, probe := range probeRows {
				h := probe[probeIdx].Hash()
				for _, match := range build[h] {
					if !match[buildIdx].Equals(probe[probeIdx]) {
						continue // hash collision guard
					}
					var combined types.Row
					if buildIsLeft {
						combined = append(append(types.Row{}, match...), probe...)
					} else {
						combined = append(append(types.Row{}, probe...), match...)
					}
					out = append(out, combined)
				}
			}
			return out, outSchema, nil
		},
	}
}
