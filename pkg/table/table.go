// Package table binds a schema.Table to one B+Tree over a virtualized
// paged space, implementing the row-oriented operations from spec
// §4.7: insert/read/update/delete, auto-increment and row-id
// assignment, and transaction-visibility filtering.
package table

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/metrics"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/storage/btree"
	"github.com/weaverdb/weaver/pkg/storage/device"
	"github.com/weaverdb/weaver/pkg/storage/pager"
	"github.com/weaverdb/weaver/pkg/storage/slotted"
	"github.com/weaverdb/weaver/pkg/storage/vpager"
	"github.com/weaverdb/weaver/pkg/txn"
	"github.com/weaverdb/weaver/pkg/types"
)

// primaryRoot is the vpager logical-space key for a table's primary
// B+Tree; secondary indexes, when added, would each get their own key.
const primaryRoot = "primary"

// Table binds a schema to a B+Tree over one table file.
type Table struct {
	mu      sync.RWMutex
	schema  *schema.Table
	tree    *btree.Tree
	buf     *pager.Buffered
	rowID   atomic.Int64
	autoInc map[string]*atomic.Int64
}

// Open opens (or initializes) dev as the backing file for sch,
// building the full pager → buffered pager → vpager → slotted pager →
// B+Tree stack described in spec §2.
func Open(sch *schema.Table, dev device.BlockDevice, pageSize int) (*Table, error) {
	base, err := pager.New(dev, pageSize)
	if err != nil {
		return nil, err
	}
	buf := pager.NewBuffered(base)
	vt, err := vpager.Open(buf)
	if err != nil {
		return nil, err
	}
	view, err := vt.Get(primaryRoot)
	if err != nil {
		if initErr := vt.Init(primaryRoot); initErr != nil {
			return nil, initErr
		}
		view, err = vt.Get(primaryRoot)
		if err != nil {
			return nil, err
		}
	}
	sp, err := slotted.Open(view, pageSize)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(fmt.Sprintf("%s.%s", sch.SchemaName, sch.TableName), sp)
	if err != nil {
		return nil, err
	}

	t := &Table{schema: sch, tree: tree, buf: buf, autoInc: make(map[string]*atomic.Int64)}

	maxRowID, maxAutoInc, err := t.scanMaxCounters()
	if err != nil {
		return nil, err
	}
	t.rowID.Store(maxRowID + 1)
	for name, max := range maxAutoInc {
		t.counterFor(name).Store(max + 1)
	}
	return t, nil
}

// scanMaxCounters walks every stored row once to recover the
// row-id high-water mark and, for each auto-increment public column,
// its high-water mark, so reopening a table resumes both counters
// instead of restarting them at 0 (spec §3: "Auto-increment counters
// are monotonic non-decreasing for the table's lifetime").
func (t *Table) scanMaxCounters() (maxRowID int64, maxAutoInc map[string]int64, err error) {
	entries, err := t.tree.All()
	if err != nil {
		return -1, nil, err
	}
	all := t.schema.AllColumns()
	rowIDIdx, err := t.schema.ColumnIndex(schema.RowIDColumn)
	if err != nil {
		return -1, nil, err
	}
	var autoIncIdx []struct {
		name string
		idx  int
	}
	for _, c := range t.schema.PublicColumns {
		if c.AutoIncrement {
			idx, err := t.schema.ColumnIndex(c.Name)
			if err != nil {
				return -1, nil, err
			}
			autoIncIdx = append(autoIncIdx, struct {
				name string
				idx  int
			}{c.Name, idx})
		}
	}

	maxRowID = -1
	maxAutoInc = make(map[string]int64, len(autoIncIdx))
	for _, a := range autoIncIdx {
		maxAutoInc[a.name] = -1
	}
	for _, e := range entries {
		row, derr := schema.DecodeRecord(all, e.Value)
		if derr != nil {
			return -1, nil, derr
		}
		if id := row[rowIDIdx].Int(); id > maxRowID {
			maxRowID = id
		}
		for _, a := range autoIncIdx {
			if v := row[a.idx]; !v.IsNull() {
				if id := v.Int(); id > maxAutoInc[a.name] {
					maxAutoInc[a.name] = id
				}
			}
		}
	}
	return maxRowID, maxAutoInc, nil
}

func (t *Table) counterFor(name string) *atomic.Int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.autoInc[name]
	if !ok {
		c = &atomic.Int64{}
		t.autoInc[name] = c
	}
	return c
}

// validate checks each public value against its column's constraints.
func (t *Table) validate(row types.Row) error {
	cols := t.schema.PublicColumns
	if len(row) != len(cols) {
		return kind.Wrap(kind.Schema, fmt.Errorf("table: row has %d values, schema %s.%s has %d public columns", len(row), t.schema.SchemaName, t.schema.TableName, len(cols)))
	}
	for i, c := range cols {
		v := row[i]
		if v.IsNull() {
			if c.NonNull && !c.AutoIncrement {
				return kind.Wrap(kind.Schema, fmt.Errorf("table: column %q is non-null", c.Name))
			}
			continue
		}
		if v.Kind() != c.Type.Kind() {
			return kind.Wrap(kind.Schema, fmt.Errorf("table: column %q expects %s, got %s", c.Name, c.Type.Kind(), v.Kind()))
		}
		if c.MaxLen > 0 {
			switch c.Type {
			case schema.TypeString:
				if len(v.Str()) > c.MaxLen {
					return kind.Wrap(kind.Schema, fmt.Errorf("table: column %q exceeds max length %d", c.Name, c.MaxLen))
				}
			case schema.TypeBinary:
				if len(v.Bytes()) > c.MaxLen {
					return kind.Wrap(kind.Schema, fmt.Errorf("table: column %q exceeds max length %d", c.Name, c.MaxLen))
				}
			}
		}
	}
	return nil
}

// Insert validates row (public columns only), assigns auto-increment
// and row-id, tags it with tx's id, and inserts it keyed by the
// table's primary key.
func (t *Table) Insert(tx *txn.Transaction, row types.Row) error {
	if err := t.validate(row); err != nil {
		return err
	}
	full := make(types.Row, len(row))
	copy(full, row)
	for i, c := range t.schema.PublicColumns {
		if c.AutoIncrement && full[i].IsNull() {
			next := t.counterFor(c.Name).Add(1) - 1
			full[i] = types.Int(next)
		} else if full[i].IsNull() && c.Default != nil {
			full[i] = *c.Default
		}
	}
	rowID := t.rowID.Add(1) - 1
	full = append(full, types.Int(rowID))
	hasTxCol := false
	for _, c := range t.schema.SystemColumns {
		if c.Name == schema.TxIDColumn {
			hasTxCol = true
		}
	}
	if hasTxCol {
		var txID int64
		if tx != nil {
			txID = int64(tx.ID)
		}
		full = append(full, types.Int(txID))
	}

	pk, err := t.schema.PrimaryKey()
	if err != nil {
		return err
	}
	keyData, err := t.schema.KeyData(pk, full)
	if err != nil {
		return err
	}
	record, err := schema.EncodeRecord(t.schema.AllColumns(), full)
	if err != nil {
		return err
	}
	if err := t.tree.Insert(schema.EncodeTyped(keyData), record); err != nil {
		return err
	}
	metrics.RowOperationsTotal.WithLabelValues(t.schema.SchemaName, t.schema.TableName, "insert").Inc()
	return nil
}

// visible reports whether row (full, with system columns) is visible
// to tx, per spec §4.7's visibility rule.
func (t *Table) visible(tx *txn.Transaction, row types.Row) bool {
	if tx == nil {
		return true
	}
	for i, c := range t.schema.SystemColumns {
		if c.Name == schema.TxIDColumn {
			idx := len(t.schema.PublicColumns) + i
			if idx >= len(row) {
				return true
			}
			txID := row[idx]
			if txID.IsNull() || txID.Int() == 0 {
				return true
			}
			return tx.Visible(uint64(txID.Int()))
		}
	}
	return true
}

func publicOnly(row types.Row, publicCount int) types.Row {
	if len(row) <= publicCount {
		return row
	}
	out := make(types.Row, publicCount)
	copy(out, row[:publicCount])
	return out
}

// Read resolves ki into rows visible to tx. Primary-key lookups use
// the B+Tree directly; any other key falls back to a full scan
// filtered by the key's extracted columns (spec's supplemented
// "secondary key" behavior — no secondary index is maintained).
func (t *Table) Read(tx *txn.Transaction, ki schema.KeyIndex) ([]types.Row, error) {
	pk, err := t.schema.PrimaryKey()
	if err != nil {
		return nil, err
	}
	all := t.schema.AllColumns()

	var entries []btree.Entry
	if ki.KeyName == pk.Name {
		switch ki.Kind {
		case schema.KeyAll:
			entries, err = t.tree.All()
		case schema.KeyOne:
			keyBytes := schema.EncodeTyped(ki.One)
			val, ok, gerr := t.tree.Get(keyBytes)
			if gerr != nil {
				return nil, gerr
			}
			if ok {
				entries = []btree.Entry{{Key: keyBytes, Value: val}}
			}
		case schema.KeyRange:
			var lo, hi []byte
			if ki.Lo != nil {
				lo = schema.EncodeTyped(ki.Lo)
			}
			if ki.Hi != nil {
				hi = schema.EncodeTyped(ki.Hi)
			}
			entries, err = t.tree.Range(lo, hi)
		}
		if err != nil {
			return nil, err
		}
	} else {
		k, kerr := t.schema.FindKey(ki.KeyName)
		if kerr != nil {
			return nil, kerr
		}
		scanned, serr := t.tree.All()
		if serr != nil {
			return nil, serr
		}
		for _, e := range scanned {
			row, derr := schema.DecodeRecord(all, e.Value)
			if derr != nil {
				return nil, derr
			}
			kd, kderr := t.schema.KeyData(k, row)
			if kderr != nil {
				return nil, kderr
			}
			if keyMatches(ki, kd) {
				entries = append(entries, e)
			}
		}
	}

	out := make([]types.Row, 0, len(entries))
	for _, e := range entries {
		row, derr := schema.DecodeRecord(all, e.Value)
		if derr != nil {
			return nil, derr
		}
		if !t.visible(tx, row) {
			continue
		}
		out = append(out, publicOnly(row, len(t.schema.PublicColumns)))
	}
	out = applyLimitOffset(out, ki)
	return out, nil
}

func keyMatches(ki schema.KeyIndex, kd types.Row) bool {
	switch ki.Kind {
	case schema.KeyAll:
		return true
	case schema.KeyOne:
		if len(ki.One) != len(kd) {
			return false
		}
		for i := range kd {
			if !kd[i].Equals(ki.One[i]) {
				return false
			}
		}
		return true
	case schema.KeyRange:
		if ki.Lo != nil {
			for i := range kd {
				if kd[i].Less(ki.Lo[i]) {
					return false
				}
			}
		}
		if ki.Hi != nil {
			for i := range kd {
				if ki.Hi[i].Less(kd[i]) {
					return false
				}
			}
		}
		return true
	}
	return false
}

func applyLimitOffset(rows []types.Row, ki schema.KeyIndex) []types.Row {
	if ki.Offset != nil {
		if *ki.Offset >= len(rows) {
			return nil
		}
		rows = rows[*ki.Offset:]
	}
	if ki.Limit != nil && *ki.Limit < len(rows) {
		rows = rows[:*ki.Limit]
	}
	return rows
}

// SizeEstimate reports the planner-facing row-count estimate for ki.
func (t *Table) SizeEstimate(ki schema.KeyIndex) (int, error) {
	pk, err := t.schema.PrimaryKey()
	if err != nil {
		return 0, err
	}
	if ki.KeyName == pk.Name {
		switch ki.Kind {
		case schema.KeyOne:
			return 1, nil
		case schema.KeyRange:
			var lo, hi []byte
			if ki.Lo != nil {
				lo = schema.EncodeTyped(ki.Lo)
			}
			if ki.Hi != nil {
				hi = schema.EncodeTyped(ki.Hi)
			}
			return t.tree.Count(lo, hi)
		default:
			return t.tree.Count(nil, nil)
		}
	}
	// No secondary index is maintained; a non-primary lookup always
	// costs a full scan.
	return t.tree.Count(nil, nil)
}

// Update locates the row under primary key kd and replaces its public
// values with newRow, preserving row-id and re-tagging with tx's id.
func (t *Table) Update(tx *txn.Transaction, kd types.Row, newRow types.Row) (bool, error) {
	if err := t.validate(newRow); err != nil {
		return false, err
	}
	pk, err := t.schema.PrimaryKey()
	if err != nil {
		return false, err
	}
	keyBytes := schema.EncodeTyped(kd)
	val, ok, err := t.tree.Get(keyBytes)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	all := t.schema.AllColumns()
	old, err := schema.DecodeRecord(all, val)
	if err != nil {
		return false, err
	}
	full := make(types.Row, len(newRow))
	copy(full, newRow)
	full = append(full, old[len(t.schema.PublicColumns):]...)
	for i, c := range t.schema.SystemColumns {
		if c.Name == schema.TxIDColumn {
			idx := len(t.schema.PublicColumns) + i
			var txID int64
			if tx != nil {
				txID = int64(tx.ID)
			}
			full[idx] = types.Int(txID)
		}
	}
	newKD, err := t.schema.KeyData(pk, full)
	if err != nil {
		return false, err
	}
	record, err := schema.EncodeRecord(all, full)
	if err != nil {
		return false, err
	}
	if !equalRows(newKD, kd) {
		if _, err := t.tree.Delete(keyBytes); err != nil {
			return false, err
		}
	}
	if err := t.tree.Insert(schema.EncodeTyped(newKD), record); err != nil {
		return false, err
	}
	metrics.RowOperationsTotal.WithLabelValues(t.schema.SchemaName, t.schema.TableName, "update").Inc()
	return true, nil
}

func equalRows(a, b types.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

// Delete removes the row under primary key kd.
func (t *Table) Delete(tx *txn.Transaction, kd types.Row) (bool, error) {
	ok, err := t.tree.Delete(schema.EncodeTyped(kd))
	if err != nil {
		return false, err
	}
	if ok {
		metrics.RowOperationsTotal.WithLabelValues(t.schema.SchemaName, t.schema.TableName, "delete").Inc()
	}
	return ok, nil
}

// Commit completes tx and flushes the underlying buffered pager.
func (t *Table) Commit(tx *txn.Transaction) error {
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return t.buf.Flush()
}

// Rollback completes tx. There is no write-ahead log (spec §9 Open
// Question 3): writes already made under tx are not undone.
func (t *Table) Rollback(tx *txn.Transaction) error {
	if tx != nil {
		return tx.Rollback()
	}
	return nil
}

// Stats is a supplemented introspection surface (not in the
// distilled spec) reporting the table's qualified name and row count.
type Stats struct {
	Schema string
	Table  string
	Rows   int
}

func (t *Table) Stats() (Stats, error) {
	n, err := t.tree.Count(nil, nil)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Schema: t.schema.SchemaName, Table: t.schema.TableName, Rows: n}, nil
}

// Name implements metrics.Source.
func (t *Table) Name() string { return t.schema.SchemaName + "." + t.schema.TableName }

// Sample implements metrics.Source by publishing the row-count gauge.
func (t *Table) Sample() {
	n, err := t.tree.Count(nil, nil)
	if err != nil {
		return
	}
	metrics.RowsTotal.WithLabelValues(t.schema.SchemaName, t.schema.TableName).Set(float64(n))
}

// Schema returns the table's schema.
func (t *Table) Schema() *schema.Table { return t.schema }

// VerifyIntegrity delegates to the underlying B+Tree.
func (t *Table) VerifyIntegrity() error { return t.tree.VerifyIntegrity() }
