package exec

import (
	"fmt"
	"strings"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/types"
)

// ScalarFunc computes a function call's result from already-evaluated
// arguments.
type ScalarFunc func(args []types.Value) (types.Value, error)

// Accumulator consumes one row's arguments per Step and produces a
// final value; aggregate functions (count, sum, min, max, avg) are
// registered as Accumulator constructors rather than ScalarFuncs since
// they "consume rows and produce one value" (spec §4.10).
type Accumulator interface {
	Step(args []types.Value)
	Result() types.Value
}

type scalarEntry struct {
	name string
	fn   ScalarFunc
}

// Registry resolves a function call by name. Several scalar overloads
// may share a name; they are tried in registration order and the first
// that returns without error wins. Argument types are not matched
// against a declared signature.
type Registry struct {
	scalars    map[string][]scalarEntry
	aggregates map[string]func() Accumulator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{scalars: make(map[string][]scalarEntry), aggregates: make(map[string]func() Accumulator)}
}

// RegisterScalar adds fn under name. Multiple registrations under the
// same name are tried in registration order; the first that returns
// without error wins, so each overload rejects arguments it does not
// accept by returning an error.
func (r *Registry) RegisterScalar(name string, fn ScalarFunc) {
	lname := strings.ToLower(name)
	r.scalars[lname] = append(r.scalars[lname], scalarEntry{name: lname, fn: fn})
}

// RegisterAggregate adds an aggregate function by name.
func (r *Registry) RegisterAggregate(name string, newAcc func() Accumulator) {
	r.aggregates[strings.ToLower(name)] = newAcc
}

// CallScalar invokes the scalar function named name. Aggregate names
// reaching CallScalar is a planning error — they must be resolved
// through NewAggregate by the GroupBy executor instead.
func (r *Registry) CallScalar(name string, args []types.Value) (types.Value, error) {
	lname := strings.ToLower(name)
	if entries, ok := r.scalars[lname]; ok {
		var lastErr error
		for _, e := range entries {
			v, err := e.fn(args)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		return types.Null(), lastErr
	}
	if _, ok := r.aggregates[lname]; ok {
		return types.Null(), kind.Wrap(kind.Planning, fmt.Errorf("exec: %q is an aggregate function, not callable as a scalar", name))
	}
	return types.Null(), kind.Wrap(kind.Planning, fmt.Errorf("exec: unknown function %q", name))
}

// NewAggregate returns a fresh Accumulator for name, or an error if
// name is not a registered aggregate.
func (r *Registry) NewAggregate(name string) (Accumulator, error) {
	ctor, ok := r.aggregates[strings.ToLower(name)]
	if !ok {
		return nil, kind.Wrap(kind.Planning, fmt.Errorf("exec: unknown aggregate function %q", name))
	}
	return ctor(), nil
}

// NewDefaultRegistry seeds the registry with count/sum/min/max/avg
// (aggregates) and lower/upper/coalesce (scalars).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterAggregate("count", func() Accumulator { return &countAcc{} })
	r.RegisterAggregate("sum", func() Accumulator { return &sumAcc{} })
	r.RegisterAggregate("min", func() Accumulator { return &minMaxAcc{min: true} })
	r.RegisterAggregate("max", func() Accumulator { return &minMaxAcc{min: false} })
	r.RegisterAggregate("avg", func() Accumulator { return &avgAcc{} })

	r.RegisterScalar("lower", func(args []types.Value) (types.Value, error) {
		if len(args) != 1 || args[0].Kind() != types.KindString {
			return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("exec: lower(string)"))
		}
		return types.String(strings.ToLower(args[0].Str())), nil
	})
	r.RegisterScalar("upper", func(args []types.Value) (types.Value, error) {
		if len(args) != 1 || args[0].Kind() != types.KindString {
			return types.Null(), kind.Wrap(kind.Schema, fmt.Errorf("exec: upper(string)"))
		}
		return types.String(strings.ToUpper(args[0].Str())), nil
	})
	r.RegisterScalar("coalesce", func(args []types.Value) (types.Value, error) {
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return types.Null(), nil
	})
	return r
}

// countAcc implements count(*) and count(expr); null arguments are
// skipped for count(expr), counted for count(*) (Wildcard is handled
// by the GroupBy executor calling Step with no arguments).
type countAcc struct{ n int64 }

func (c *countAcc) Step(args []types.Value) {
	if len(args) == 0 {
		c.n++
		return
	}
	if !args[0].IsNull() {
		c.n++
	}
}
func (c *countAcc) Result() types.Value { return types.Int(c.n) }

type sumAcc struct {
	sum     float64
	isInt   bool
	intSum  int64
	any     bool
}

func (s *sumAcc) Step(args []types.Value) {
	if len(args) != 1 || args[0].IsNull() {
		return
	}
	v := args[0]
	if !s.any {
		s.isInt = v.Kind() == types.KindInt
		s.any = true
	}
	if v.Kind() == types.KindInt {
		s.intSum += v.Int()
	} else if v.Kind() == types.KindFloat {
		s.isInt = false
		s.sum += v.Float()
	}
}
func (s *sumAcc) Result() types.Value {
	if !s.any {
		return types.Null()
	}
	if s.isInt {
		return types.Int(s.intSum)
	}
	return types.Float(s.sum + float64(s.intSum))
}

type minMaxAcc struct {
	min    bool
	cur    types.Value
	seeded bool
}

func (m *minMaxAcc) Step(args []types.Value) {
	if len(args) != 1 || args[0].IsNull() {
		return
	}
	if !m.seeded {
		m.cur = args[0]
		m.seeded = true
		return
	}
	c := args[0].Compare(m.cur)
	if (m.min && c < 0) || (!m.min && c > 0) {
		m.cur = args[0]
	}
}
func (m *minMaxAcc) Result() types.Value {
	if !m.seeded {
		return types.Null()
	}
	return m.cur
}

type avgAcc struct {
	sum   float64
	count int64
}

func (a *avgAcc) Step(args []types.Value) {
	if len(args) != 1 || args[0].IsNull() {
		return
	}
	v := args[0]
	if v.Kind() == types.KindInt {
		a.sum += float64(v.Int())
	} else if v.Kind() == types.KindFloat {
		a.sum += v.Float()
	} else {
		return
	}
	a.count++
}
func (a *avgAcc) Result() types.Value {
	if a.count == 0 {
		return types.Null()
	}
	return types.Float(a.sum / float64(a.count))
}
