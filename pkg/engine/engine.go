// Package engine drains an optimized plan tree into rows, per spec
// §4.8's operation list: each Kind knows how to produce its output
// rows from its children's output rows (or, for TableScan, from the
// catalog directly).
package engine

import (
	"fmt"
	"sort"

	"github.com/weaverdb/weaver/pkg/catalog"
	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/log"
	"github.com/weaverdb/weaver/pkg/metrics"
	"github.com/weaverdb/weaver/pkg/query/exec"
	"github.com/weaverdb/weaver/pkg/query/optimizer"
	"github.com/weaverdb/weaver/pkg/query/plan"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/txn"
	"github.com/weaverdb/weaver/pkg/types"
)

// Engine ties a catalog, an optimizer, and an expression evaluator
// together to run plans end to end.
type Engine struct {
	Catalog   *catalog.Catalog
	Optimizer *optimizer.Optimizer
	Evaluator *exec.Evaluator
	Joins     *exec.JoinRegistry
	Coord     *txn.Coordinator
}

// New returns an Engine over cat, seeded with the default function
// registry and join-strategy registry.
func New(cat *catalog.Catalog) *Engine {
	return &Engine{
		Catalog:   cat,
		Optimizer: optimizer.New(cat),
		Evaluator: exec.NewEvaluator(exec.NewDefaultRegistry()),
		Joins:     exec.NewJoinRegistry(),
		Coord:     txn.NewCoordinator(),
	}
}

// Result is the output of running a plan: its rows plus the schema
// they're shaped against.
type Result struct {
	Schema []schema.Column
	Rows   []types.Row
}

// Run optimizes root and drains it to a Result under tx (nil for an
// untagged read).
func (e *Engine) Run(root *plan.Node, tx *txn.Transaction) (Result, error) {
	optimized := e.Optimizer.Optimize(root)
	metrics.QueriesPlannedTotal.Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PlanExecutionDuration, optimized.Kind.String())

	rows, err := e.exec(optimized, tx)
	if err != nil {
		log.WithComponent("engine").Error().Err(err).Str("kind", kind.Of(err).String()).Msg("plan execution failed")
		return Result{}, err
	}
	return Result{Schema: optimized.Schema, Rows: rows}, nil
}

func (e *Engine) exec(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	switch n.Kind {
	case plan.KindTableScan:
		return e.execTableScan(n, tx)
	case plan.KindFilter:
		return e.execFilter(n, tx)
	case plan.KindProject:
		return e.execProject(n, tx)
	case plan.KindHashJoin:
		return e.execHashJoin(n, tx)
	case plan.KindGroupBy:
		return e.execGroupBy(n, tx)
	case plan.KindOrderedBy:
		return e.execOrderedBy(n, tx)
	case plan.KindGetPage:
		return e.execGetPage(n, tx)
	case plan.KindExplain:
		return e.execExplain(n)
	case plan.KindCreateTable:
		return nil, e.Catalog.CreateTable(n.NewSchema)
	case plan.KindLoadData:
		return nil, e.execLoadData(n, tx)
	default:
		return nil, kind.Wrap(kind.Planning, fmt.Errorf("engine: unhandled plan kind %s", n.Kind))
	}
}

func (e *Engine) execTableScan(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	t, err := e.Catalog.Table(n.SchemaName, n.TableName)
	if err != nil {
		return nil, err
	}
	ki := schema.KeyIndex{KeyName: "PRIMARY", Kind: schema.KeyAll}
	if len(n.Keys) > 0 {
		ki = n.Keys[0]
	}
	return t.Read(tx, ki)
}

func (e *Engine) execFilter(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	rows, err := e.exec(n.Child, tx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		v, err := e.Evaluator.Eval(&n.Predicate, n.Child.Schema, row)
		if err != nil {
			return nil, err
		}
		if v.Kind() == types.KindBool && v.Bool() {
			out = append(out, row)
		}
	}
	return out, nil
}

func (e *Engine) execProject(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	rows, err := e.exec(n.Child, tx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		projected := make(types.Row, len(n.Expressions))
		for i := range n.Expressions {
			v, err := e.Evaluator.Eval(&n.Expressions[i], n.Child.Schema, row)
			if err != nil {
				return nil, err
			}
			projected[i] = v
		}
		out = append(out, projected)
	}
	return out, nil
}

func (e *Engine) execHashJoin(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	left, err := e.exec(n.Left, tx)
	if err != nil {
		return nil, err
	}
	right, err := e.exec(n.Right, tx)
	if err != nil {
		return nil, err
	}
	op := exec.JoinInner
	if n.Operator == plan.JoinLeft {
		op = exec.JoinLeft
	}
	strategy, err := e.Joins.Select(int64(len(left)), int64(len(right)), op, &n.On, n.Left.Schema, n.Right.Schema)
	if err != nil {
		return nil, err
	}
	rows, _, err := strategy.Execute(e.Evaluator, left, right, n.Left.Schema, n.Right.Schema, &n.On)
	return rows, err
}

func (e *Engine) execGroupBy(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	rows, err := e.exec(n.Child, tx)
	if err != nil {
		return nil, err
	}
	groups := make(map[uint64]*groupState)
	var order []uint64
	for _, row := range rows {
		key := make(types.Row, len(n.GroupExpressions))
		var h uint64
		for i := range n.GroupExpressions {
			v, err := e.Evaluator.Eval(&n.GroupExpressions[i], n.Child.Schema, row)
			if err != nil {
				return nil, err
			}
			key[i] = v
			h = h*31 + v.Hash()
		}
		g, ok := groups[h]
		if !ok {
			g = &groupState{key: key, accs: make([]exec.Accumulator, len(n.ResultExpressions))}
			for i, re := range n.ResultExpressions {
				if re.Kind == exec.ExprFunctionCall {
					acc, err := e.Evaluator.Registry.NewAggregate(re.FuncName)
					if err != nil {
						return nil, err
					}
					g.accs[i] = acc
				}
			}
			groups[h] = g
			order = append(order, h)
		}
		for i, re := range n.ResultExpressions {
			if g.accs[i] == nil {
				continue
			}
			if re.Wildcard {
				g.accs[i].Step(nil)
				continue
			}
			args := make([]types.Value, len(re.Args))
			for j, a := range re.Args {
				v, err := e.Evaluator.Eval(a, n.Child.Schema, row)
				if err != nil {
					return nil, err
				}
				args[j] = v
			}
			g.accs[i].Step(args)
		}
	}
	out := make([]types.Row, 0, len(order))
	for _, h := range order {
		g := groups[h]
		row := make(types.Row, len(n.ResultExpressions))
		for i, re := range n.ResultExpressions {
			if g.accs[i] != nil {
				row[i] = g.accs[i].Result()
				continue
			}
			v, err := groupKeyValue(re, n.GroupExpressions, g.key)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		out = append(out, row)
	}
	return out, nil
}

type groupState struct {
	key  types.Row
	accs []exec.Accumulator
}

// groupKeyValue resolves a non-aggregate result expression (one of the
// SELECT list's bare group-key references) to its position in the
// group's key tuple.
func groupKeyValue(re exec.Expr, groupExprs []exec.Expr, key types.Row) (types.Value, error) {
	for i, ge := range groupExprs {
		if ge.Kind == exec.ExprColumn && re.Kind == exec.ExprColumn && ge.ColumnName == re.ColumnName {
			return key[i], nil
		}
	}
	return types.Null(), kind.Wrap(kind.Planning, fmt.Errorf("engine: group_by result column %q is neither an aggregate nor a grouped column", re.ColumnName))
}

func (e *Engine) execOrderedBy(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	rows, err := e.exec(n.Child, tx)
	if err != nil {
		return nil, err
	}
	sorted := make([]types.Row, len(rows))
	copy(sorted, rows)
	var sortErr error
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, term := range n.OrderTerms {
			vi, err := e.Evaluator.Eval(&term.Expr, n.Child.Schema, sorted[i])
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := e.Evaluator.Eval(&term.Expr, n.Child.Schema, sorted[j])
			if err != nil {
				sortErr = err
				return false
			}
			c := vi.Compare(vj)
			if c == 0 {
				continue
			}
			if term.Direction == plan.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return sorted, nil
}

func (e *Engine) execGetPage(n *plan.Node, tx *txn.Transaction) ([]types.Row, error) {
	rows, err := e.exec(n.Child, tx)
	if err != nil {
		return nil, err
	}
	if n.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[n.Offset:]
	if n.Limit != nil && *n.Limit < len(rows) {
		rows = rows[:*n.Limit]
	}
	return rows, nil
}

// explainColumns is the fixed schema for Explain output, per SPEC_FULL
// §4.8: {id, select_type, table, type, possible_keys, columns, rows, cost}.
var explainColumns = []schema.Column{
	{Name: "id", Type: schema.TypeInt},
	{Name: "select_type", Type: schema.TypeString},
	{Name: "table", Type: schema.TypeString},
	{Name: "type", Type: schema.TypeString},
	{Name: "possible_keys", Type: schema.TypeString},
	{Name: "columns", Type: schema.TypeInt},
	{Name: "rows", Type: schema.TypeInt},
	{Name: "cost", Type: schema.TypeFloat},
}

func (e *Engine) execExplain(n *plan.Node) ([]types.Row, error) {
	n.Schema = explainColumns
	var rows []types.Row
	var walk func(node *plan.Node)
	walk = func(node *plan.Node) {
		if node == nil {
			return
		}
		table := node.Alias
		if node.Kind == plan.KindTableScan {
			table = node.SchemaName + "." + node.TableName
		}
		keys := "NULL"
		if len(node.Keys) > 0 {
			keys = node.Keys[0].KeyName
		}
		rows = append(rows, types.Row{
			types.Int(int64(node.ID)),
			types.String(node.Kind.String()),
			types.String(table),
			types.String(pageTypeForKind(node.Kind)),
			types.String(keys),
			types.Int(int64(len(node.Schema))),
			types.Int(node.Rows),
			types.Float(node.Cost),
		})
		for _, c := range node.Children() {
			walk(c)
		}
	}
	walk(n.Child)
	return rows, nil
}

func pageTypeForKind(k plan.Kind) string {
	switch k {
	case plan.KindTableScan:
		return "scan"
	case plan.KindHashJoin:
		return "join"
	default:
		return "pipeline"
	}
}

func (e *Engine) execLoadData(n *plan.Node, tx *txn.Transaction) error {
	t, err := e.Catalog.Table(n.NewSchema.SchemaName, n.NewSchema.TableName)
	if err != nil {
		return err
	}
	cols := t.Schema().PublicColumns
	for _, record := range n.DataRows {
		if len(record) != len(cols) {
			return kind.Wrap(kind.Schema, fmt.Errorf("engine: load_data row has %d fields, table has %d public columns", len(record), len(cols)))
		}
		row := make(types.Row, len(cols))
		for i, raw := range record {
			v, err := parseLiteral(cols[i], raw)
			if err != nil {
				return err
			}
			row[i] = v
		}
		if err := t.Insert(tx, row); err != nil {
			return err
		}
	}
	log.WithTableID(n.NewSchema.SchemaName, n.NewSchema.TableName).Info().Int("rows", len(n.DataRows)).Msg("load_data complete")
	return nil
}

func parseLiteral(c schema.Column, raw string) (types.Value, error) {
	if raw == "" && !c.NonNull {
		return types.Null(), nil
	}
	switch c.Type {
	case schema.TypeString:
		return types.String(raw), nil
	case schema.TypeBinary:
		return types.Binary([]byte(raw)), nil
	default:
		return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("engine: load_data: unsupported inline literal parse for column %q; load typed values via the table API instead", c.Name))
	}
}
