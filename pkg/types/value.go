// Package types implements the engine's data model: Value, Row, and
// Key-data, as specified in spec §3. A Value is a tagged variant over
// the engine's five scalar kinds plus null; equality and ordering are
// both total, matching the invariants the B+Tree and slotted pager
// depend on for sorted storage.
package types

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Value is a tagged variant: integer (64-bit signed), float (64-bit
// IEEE), boolean, bounded string, bounded binary, or null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	bin  []byte
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a float value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Binary returns a binary value. The slice is retained, not copied;
// callers must not mutate it afterward.
func Binary(v []byte) Value { return Value{kind: KindBinary, bin: v} }

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Bool() bool      { return v.b }
func (v Value) Str() string     { return v.s }
func (v Value) Bytes() []byte   { return v.bin }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return v.s
	case KindBinary:
		return fmt.Sprintf("x'%x'", v.bin)
	default:
		return "?"
	}
}

// rank fixes the total order between values of different kinds:
// null is least, then int, float, bool, string, binary.
func (k Kind) rank() int { return int(k) }

// Compare returns -1, 0, or 1. Null compares least of all; two nulls
// compare equal. Values of different kinds are ordered by Kind rank so
// Compare remains a total order even across mixed-kind columns.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind == KindNull {
			return -1
		}
		if o.kind == KindNull {
			return 1
		}
		return cmpInt(v.kind.rank(), o.kind.rank())
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindInt:
		return cmpInt(v.i, o.i)
	case KindFloat:
		return cmpFloatTotal(v.f, o.f)
	case KindBool:
		return cmpBool(v.b, o.b)
	case KindString:
		return cmpString(v.s, o.s)
	case KindBinary:
		return cmpBytes(v.bin, o.bin)
	default:
		return 0
	}
}

// Equals reports value equality; null equals null.
func (v Value) Equals(o Value) bool { return v.Compare(o) == 0 }

// Less reports whether v sorts before o.
func (v Value) Less(o Value) bool { return v.Compare(o) < 0 }

// Hash is consistent with Equals: equal values hash equal. Floats hash
// by bit pattern, per spec §3.
func (v Value) Hash() uint64 {
	h := xxhash.New()
	h.Write([]byte{byte(v.kind)})
	switch v.kind {
	case KindNull:
	case KindInt:
		var buf [8]byte
		putUint64(buf[:], uint64(v.i))
		h.Write(buf[:])
	case KindFloat:
		var buf [8]byte
		putUint64(buf[:], math.Float64bits(v.f))
		h.Write(buf[:])
	case KindBool:
		if v.b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case KindString:
		h.Write([]byte(v.s))
	case KindBinary:
		h.Write(v.bin)
	}
	return h.Sum64()
}

func putUint64(buf []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

func cmpInt[T int | int64 | uint64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func cmpString(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cmpBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return cmpInt(len(a), len(b))
}

// cmpFloatTotal orders floats by IEEE-754 totalOrder: -NaN < -Inf <
// ... < -0 < +0 < ... < +Inf < +NaN. This is a total order, unlike the
// IEEE comparison operators, so NaNs sort deterministically rather
// than being unordered.
func cmpFloatTotal(a, b float64) int {
	return cmpInt(floatOrderKey(a), floatOrderKey(b))
}

func floatOrderKey(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}
