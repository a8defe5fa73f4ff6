// Package plan implements the tagged plan-node tree from spec §4.8: a
// single sum type over the fixed kind set rather than a polymorphic
// node hierarchy, with shared fields living outside the tag per the
// design note in spec §9.
package plan

import (
	"github.com/weaverdb/weaver/pkg/query/exec"
	"github.com/weaverdb/weaver/pkg/schema"
)

// Kind tags the variant a Node holds.
type Kind int

const (
	KindTableScan Kind = iota
	KindFilter
	KindProject
	KindHashJoin
	KindGroupBy
	KindOrderedBy
	KindGetPage
	KindExplain
	KindCreateTable
	KindLoadData
)

func (k Kind) String() string {
	switch k {
	case KindTableScan:
		return "TableScan"
	case KindFilter:
		return "Filter"
	case KindProject:
		return "Project"
	case KindHashJoin:
		return "HashJoin"
	case KindGroupBy:
		return "GroupBy"
	case KindOrderedBy:
		return "OrderedBy"
	case KindGetPage:
		return "GetPage"
	case KindExplain:
		return "Explain"
	case KindCreateTable:
		return "CreateTable"
	case KindLoadData:
		return "LoadData"
	default:
		return "Unknown"
	}
}

// JoinOperator names the join's row-combination semantics.
type JoinOperator int

const (
	JoinInner JoinOperator = iota
	JoinLeft
)

// OrderDirection is ascending or descending.
type OrderDirection int

const (
	Ascending OrderDirection = iota
	Descending
)

// OrderTerm pairs an expression with a sort direction.
type OrderTerm struct {
	Expr      exec.Expr
	Direction OrderDirection
}

// Node is a plan tree node. Shared fields (ID, Rows, Cost, Schema,
// Alias) live outside the Kind-specific payload fields, which are
// populated only for the relevant Kind — this is the "one sum type"
// design from spec §9, not a family of subclasses.
type Node struct {
	ID    int
	Kind  Kind
	Rows  int64
	Cost  float64
	Schema []schema.Column
	Alias string

	// TableScan
	SchemaName string
	TableName  string
	Keys       []schema.KeyIndex

	// Filter
	Child     *Node
	Predicate exec.Expr

	// Project
	Expressions []exec.Expr

	// HashJoin
	Left, Right *Node
	Operator    JoinOperator
	On          exec.Expr

	// GroupBy
	GroupExpressions  []exec.Expr
	ResultExpressions []exec.Expr

	// OrderedBy
	OrderTerms []OrderTerm

	// GetPage
	Offset int
	Limit  *int

	// CreateTable / LoadData
	NewSchema *schema.Table
	DataRows  [][]string
}

// Cost computes this node's additive cost: per-row-cost × rows +
// Σ child cost, per spec §4.8.
func Cost(perRowCost float64, rows int64, children ...*Node) float64 {
	total := perRowCost * float64(rows)
	for _, c := range children {
		if c != nil {
			total += c.Cost
		}
	}
	return total
}

// Children returns the node's direct plan children, in evaluation
// order, for generic tree walks (the optimizer, cost recompute, Explain).
func (n *Node) Children() []*Node {
	switch n.Kind {
	case KindFilter, KindProject, KindGroupBy, KindOrderedBy, KindGetPage, KindExplain:
		if n.Child != nil {
			return []*Node{n.Child}
		}
		return nil
	case KindHashJoin:
		var out []*Node
		if n.Left != nil {
			out = append(out, n.Left)
		}
		if n.Right != nil {
			out = append(out, n.Right)
		}
		return out
	default:
		return nil
	}
}

// TableScan builds a leaf scan node.
func TableScan(id int, schemaName, tableName string, outSchema []schema.Column, rows int64, perRowCost float64) *Node {
	n := &Node{ID: id, Kind: KindTableScan, SchemaName: schemaName, TableName: tableName, Schema: outSchema, Rows: rows}
	n.Cost = Cost(perRowCost, rows)
	return n
}

// NewFilter builds a Filter node over child.
func NewFilter(id int, child *Node, predicate exec.Expr, perRowCost float64) *Node {
	n := &Node{ID: id, Kind: KindFilter, Child: child, Predicate: predicate, Schema: child.Schema, Rows: child.Rows}
	n.Cost = Cost(perRowCost, n.Rows, child)
	return n
}

// NewProject builds a Project node over child.
func NewProject(id int, child *Node, exprs []exec.Expr, outSchema []schema.Column, perRowCost float64) *Node {
	n := &Node{ID: id, Kind: KindProject, Child: child, Expressions: exprs, Schema: outSchema, Rows: child.Rows}
	n.Cost = Cost(perRowCost, n.Rows, child)
	return n
}

// NewHashJoin builds a HashJoin node.
func NewHashJoin(id int, left, right *Node, op JoinOperator, on exec.Expr, outSchema []schema.Column, rows int64, perRowCost float64) *Node {
	n := &Node{ID: id, Kind: KindHashJoin, Left: left, Right: right, Operator: op, On: on, Schema: outSchema, Rows: rows}
	n.Cost = Cost(perRowCost, rows, left, right)
	return n
}
