// Package schema defines column and key metadata, table schemas, and
// the encode/decode routines used by the table layer, per spec §3 and
// §6. Key bytes use the typed encoding (a one-byte discriminant per
// value, then its payload; see EncodeTyped for how byte order relates
// to value order); record bytes use the
// untyped encoding (a one-byte null flag plus a caller-supplied type
// order), since a stored row's column types are already known from the
// schema.
package schema

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/types"
)

// ValueType names one of the engine's scalar kinds, independent of any
// particular stored Value (a column's type is fixed; its values vary).
type ValueType uint8

const (
	TypeInt ValueType = iota + 1
	TypeFloat
	TypeBool
	TypeString
	TypeBinary
)

func (t ValueType) Kind() types.Kind {
	switch t {
	case TypeInt:
		return types.KindInt
	case TypeFloat:
		return types.KindFloat
	case TypeBool:
		return types.KindBool
	case TypeString:
		return types.KindString
	case TypeBinary:
		return types.KindBinary
	default:
		return types.KindNull
	}
}

// Column is {name, type, non-null, default?, auto-increment?,
// source-column?} from spec §3.
type Column struct {
	Name          string
	Type          ValueType
	MaxLen        int // bound for String/Binary; 0 = unbounded
	NonNull       bool
	Default       *types.Value
	AutoIncrement bool
	// SourceSchema/SourceTable/SourceColumn record the column's origin
	// so later resolution works after joins/projections.
	SourceSchema string
	SourceTable  string
	SourceColumn string
}

// Validate enforces "auto-increment is only valid for integer types
// and forbids default".
func (c Column) Validate() error {
	if c.AutoIncrement {
		if c.Type != TypeInt {
			return kind.Wrap(kind.Schema, fmt.Errorf("schema: column %q: auto-increment requires integer type", c.Name))
		}
		if c.Default != nil {
			return kind.Wrap(kind.Schema, fmt.Errorf("schema: column %q: auto-increment forbids a default", c.Name))
		}
	}
	return nil
}

// KeyKind distinguishes the three ways a Key can select rows.
type KeyKind int

const (
	KeyAll KeyKind = iota
	KeyRange
	KeyOne
)

// Key is {name, column-list, non-null, unique, is-primary}.
type Key struct {
	Name      string
	Columns   []string
	NonNull   bool
	Unique    bool
	IsPrimary bool
}

// KeyIndex selects which rows to read via a named key, per the
// GLOSSARY's "key index" entry.
type KeyIndex struct {
	KeyName string
	Kind    KeyKind
	One     types.Row // KeyOne
	Lo, Hi  types.Row // KeyRange
	Limit   *int
	Offset  *int
}

// Table is {schema-name, table-name, public-columns, system-columns,
// keys, engine-tag}. System columns (row-id, tx-id) are appended after
// the public ones on every stored row.
type Table struct {
	mu            sync.RWMutex
	SchemaName    string
	TableName     string
	PublicColumns []Column
	SystemColumns []Column
	Keys          []Key
	EngineTag     string
}

// RowIDColumn and TxIDColumn name the two system columns the engine
// appends to every table (spec §3).
const (
	RowIDColumn = "row_id"
	TxIDColumn  = "tx_id"
)

// New builds a Table schema, synthesizing a PRIMARY key over row_id
// if the caller did not supply a primary key, and appending system
// columns. transactional controls whether tx_id is carried.
func New(schemaName, tableName string, columns []Column, keys []Key, transactional bool) (*Table, error) {
	for _, c := range columns {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	hasPrimary := false
	for _, k := range keys {
		if k.IsPrimary {
			if hasPrimary {
				return nil, kind.Wrap(kind.Schema, fmt.Errorf("schema: table %s.%s: more than one primary key", schemaName, tableName))
			}
			hasPrimary = true
		}
	}
	sys := []Column{{Name: RowIDColumn, Type: TypeInt, NonNull: true}}
	if transactional {
		sys = append(sys, Column{Name: TxIDColumn, Type: TypeInt})
	}
	if !hasPrimary {
		keys = append(keys, Key{Name: "PRIMARY", Columns: []string{RowIDColumn}, NonNull: true, Unique: true, IsPrimary: true})
	}
	return &Table{
		SchemaName:    schemaName,
		TableName:     tableName,
		PublicColumns: columns,
		SystemColumns: sys,
		Keys:          keys,
	}, nil
}

// AddColumn performs the only permitted schema evolution (spec
// Non-goals: "schema evolution beyond additive column appends"): it
// appends a new nullable-or-defaulted public column. Existing stored
// rows are not rewritten; decode fills the new column from its
// default (or null) when the stored row is short.
func (t *Table) AddColumn(c Column) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.NonNull && c.Default == nil && !c.AutoIncrement {
		return kind.Wrap(kind.Schema, fmt.Errorf("schema: AddColumn %q: non-null column added to an existing table needs a default", c.Name))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.PublicColumns {
		if existing.Name == c.Name {
			return kind.Wrap(kind.Schema, fmt.Errorf("schema: table %s.%s: column %q already exists", t.SchemaName, t.TableName, c.Name))
		}
	}
	t.PublicColumns = append(t.PublicColumns, c)
	return nil
}

// AllColumns returns public columns followed by system columns, i.e.
// the shape of an internally stored row.
func (t *Table) AllColumns() []Column {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Column, 0, len(t.PublicColumns)+len(t.SystemColumns))
	out = append(out, t.PublicColumns...)
	out = append(out, t.SystemColumns...)
	return out
}

// PrimaryKey returns the table's primary key.
func (t *Table) PrimaryKey() (Key, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, k := range t.Keys {
		if k.IsPrimary {
			return k, nil
		}
	}
	return Key{}, kind.Wrap(kind.Schema, fmt.Errorf("schema: table %s.%s: no primary key", t.SchemaName, t.TableName))
}

// FindKey looks up a key by name.
func (t *Table) FindKey(name string) (Key, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, k := range t.Keys {
		if k.Name == name {
			return k, nil
		}
	}
	return Key{}, kind.Wrap(kind.Schema, fmt.Errorf("schema: table %s.%s: unknown key %q", t.SchemaName, t.TableName, name))
}

// ColumnIndex returns the position of name among AllColumns, or an
// error ("column not found").
func (t *Table) ColumnIndex(name string) (int, error) {
	all := t.AllColumns()
	for i, c := range all {
		if c.Name == name {
			return i, nil
		}
	}
	return 0, kind.Wrap(kind.Schema, fmt.Errorf("schema: table %s.%s: column %q not found", t.SchemaName, t.TableName, name))
}

// KeyData extracts the ordered value sequence for key from a full
// (public+system) row.
func (t *Table) KeyData(k Key, row types.Row) (types.Row, error) {
	out := make(types.Row, len(k.Columns))
	for i, colName := range k.Columns {
		idx, err := t.ColumnIndex(colName)
		if err != nil {
			return nil, err
		}
		if idx >= len(row) {
			return nil, kind.Wrap(kind.Schema, fmt.Errorf("schema: row has %d columns, need index %d for key %q", len(row), idx, k.Name))
		}
		out[i] = row[idx]
	}
	return out, nil
}

// --- Typed encoding (keys): one-byte discriminant + payload. ---

func discriminant(k types.Kind) byte {
	switch k {
	case types.KindNull:
		return 0
	case types.KindInt:
		return 1
	case types.KindFloat:
		return 2
	case types.KindBool:
		return 3
	case types.KindString:
		return 4
	case types.KindBinary:
		return 5
	default:
		return 0
	}
}

func kindFromDiscriminant(d byte) types.Kind {
	switch d {
	case 1:
		return types.KindInt
	case 2:
		return types.KindFloat
	case 3:
		return types.KindBool
	case 4:
		return types.KindString
	case 5:
		return types.KindBinary
	default:
		return types.KindNull
	}
}

// EncodeTyped encodes row as typed key bytes: per value, a
// discriminant byte then type-specific payload, lengths big-endian.
// For ints, floats and bools the encoded bytes sort in Value.Compare
// order, and values of different kinds sort by discriminant, which
// follows kind rank. Strings and binaries carry a length prefix, so
// their bytes sort by length first and only then by content: "b"
// sorts before "aa" here although Compare puts "aa" first.
func EncodeTyped(row types.Row) []byte {
	var out []byte
	for _, v := range row {
		out = append(out, discriminant(v.Kind()))
		switch v.Kind() {
		case types.KindNull:
		case types.KindInt:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(v.Int())^(1<<63)) // sign-flip keeps big-endian byte order monotone
			out = append(out, buf[:]...)
		case types.KindFloat:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], floatOrderKey(v.Float()))
			out = append(out, buf[:]...)
		case types.KindBool:
			if v.Bool() {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case types.KindString:
			var lb [4]byte
			binary.BigEndian.PutUint32(lb[:], uint32(len(v.Str())))
			out = append(out, lb[:]...)
			out = append(out, []byte(v.Str())...)
		case types.KindBinary:
			var lb [4]byte
			binary.BigEndian.PutUint32(lb[:], uint32(len(v.Bytes())))
			out = append(out, lb[:]...)
			out = append(out, v.Bytes()...)
		}
	}
	return out
}

func floatOrderKey(f float64) uint64 {
	bits := floatBits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// DecodeTyped decodes typed key bytes back into a Row.
func DecodeTyped(buf []byte) (types.Row, error) {
	var out types.Row
	i := 0
	for i < len(buf) {
		d := buf[i]
		i++
		switch kindFromDiscriminant(d) {
		case types.KindNull:
			out = append(out, types.Null())
		case types.KindInt:
			if i+8 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated int key"))
			}
			raw := binary.BigEndian.Uint64(buf[i : i+8])
			out = append(out, types.Int(int64(raw^(1<<63))))
			i += 8
		case types.KindFloat:
			if i+8 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated float key"))
			}
			raw := binary.BigEndian.Uint64(buf[i : i+8])
			out = append(out, types.Float(floatFromOrderKey(raw)))
			i += 8
		case types.KindBool:
			if i+1 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated bool key"))
			}
			out = append(out, types.Bool(buf[i] != 0))
			i++
		case types.KindString:
			if i+4 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated string key length"))
			}
			n := int(binary.BigEndian.Uint32(buf[i : i+4]))
			i += 4
			if i+n > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated string key data"))
			}
			out = append(out, types.String(string(buf[i:i+n])))
			i += n
		case types.KindBinary:
			if i+4 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated binary key length"))
			}
			n := int(binary.BigEndian.Uint32(buf[i : i+4]))
			i += 4
			if i+n > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated binary key data"))
			}
			cp := make([]byte, n)
			copy(cp, buf[i:i+n])
			out = append(out, types.Binary(cp))
			i += n
		}
	}
	return out, nil
}

// --- Untyped encoding (records): one-byte null flag per value,
// payload in the caller-supplied (schema) type order. ---

// EncodeRecord encodes row using cols for type order.
func EncodeRecord(cols []Column, row types.Row) ([]byte, error) {
	if len(row) != len(cols) {
		return nil, kind.Wrap(kind.Schema, fmt.Errorf("schema: row has %d values, schema has %d columns", len(row), len(cols)))
	}
	var out []byte
	for i, v := range row {
		if v.IsNull() {
			out = append(out, 0)
			continue
		}
		out = append(out, 1)
		switch cols[i].Type {
		case TypeInt:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(v.Int()))
			out = append(out, buf[:]...)
		case TypeFloat:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], floatBits(v.Float()))
			out = append(out, buf[:]...)
		case TypeBool:
			if v.Bool() {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case TypeString:
			var lb [4]byte
			binary.BigEndian.PutUint32(lb[:], uint32(len(v.Str())))
			out = append(out, lb[:]...)
			out = append(out, []byte(v.Str())...)
		case TypeBinary:
			var lb [4]byte
			binary.BigEndian.PutUint32(lb[:], uint32(len(v.Bytes())))
			out = append(out, lb[:]...)
			out = append(out, v.Bytes()...)
		default:
			return nil, kind.Wrap(kind.Schema, fmt.Errorf("schema: column %q has unknown type", cols[i].Name))
		}
	}
	return out, nil
}

// DecodeRecord decodes buf using cols for type order. If buf was
// encoded against fewer columns (an older row, before an AddColumn),
// the missing trailing columns decode to their default or null.
func DecodeRecord(cols []Column, buf []byte) (types.Row, error) {
	out := make(types.Row, 0, len(cols))
	i := 0
	for _, c := range cols {
		if i >= len(buf) {
			if c.Default != nil {
				out = append(out, *c.Default)
			} else {
				out = append(out, types.Null())
			}
			continue
		}
		flag := buf[i]
		i++
		if flag == 0 {
			out = append(out, types.Null())
			continue
		}
		switch c.Type {
		case TypeInt:
			if i+8 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated int record"))
			}
			out = append(out, types.Int(int64(binary.BigEndian.Uint64(buf[i:i+8]))))
			i += 8
		case TypeFloat:
			if i+8 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated float record"))
			}
			out = append(out, types.Float(floatFromBits(binary.BigEndian.Uint64(buf[i:i+8]))))
			i += 8
		case TypeBool:
			if i+1 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated bool record"))
			}
			out = append(out, types.Bool(buf[i] != 0))
			i++
		case TypeString:
			if i+4 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated string record length"))
			}
			n := int(binary.BigEndian.Uint32(buf[i : i+4]))
			i += 4
			if i+n > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated string record data"))
			}
			out = append(out, types.String(string(buf[i:i+n])))
			i += n
		case TypeBinary:
			if i+4 > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated binary record length"))
			}
			n := int(binary.BigEndian.Uint32(buf[i : i+4]))
			i += 4
			if i+n > len(buf) {
				return nil, kind.Wrap(kind.ReadData, fmt.Errorf("schema: truncated binary record data"))
			}
			cp := make([]byte, n)
			copy(cp, buf[i:i+n])
			out = append(out, types.Binary(cp))
			i += n
		default:
			return nil, kind.Wrap(kind.Schema, fmt.Errorf("schema: column %q has unknown type", c.Name))
		}
	}
	return out, nil
}
