// Package catalog is the small in-process DDL/table registry that
// lets CreateTable and LoadData plan leaves (spec §4.8/§9 Open
// Question 4: "treat as opaque leaves that execute imperatively
// against the catalog") resolve table names to open table.Table
// handles. Table schema serialization itself is "an opaque blob... not
// normative" per spec §6; this catalog keeps schemas in memory and
// hands each table its own in-memory BlockDevice unless the catalog
// was given a directory, in which case each table gets its own file.
package catalog

import (
	"fmt"
	"sync"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/storage/device"
	"github.com/weaverdb/weaver/pkg/table"
)

// Catalog tracks open tables by "schema.table" name.
type Catalog struct {
	mu       sync.RWMutex
	tables   map[string]*table.Table
	pageSize int
	dirPath  string // optional; empty means in-memory devices
}

// New returns an empty catalog. If dirPath is non-empty, each table
// persists to "<dirPath>/<schema>.<table>.weaver"; otherwise tables
// live entirely in memory.
func New(pageSize int, dirPath string) *Catalog {
	return &Catalog{tables: make(map[string]*table.Table), pageSize: pageSize, dirPath: dirPath}
}

func qualify(schemaName, tableName string) string { return schemaName + "." + tableName }

// CreateTable opens a new table backed by sch, failing if one with
// the same qualified name already exists.
func (c *Catalog) CreateTable(sch *schema.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := qualify(sch.SchemaName, sch.TableName)
	if _, exists := c.tables[key]; exists {
		return kind.Wrap(kind.Schema, fmt.Errorf("catalog: table %s already exists", key))
	}
	dev, err := c.openDevice(key)
	if err != nil {
		return err
	}
	t, err := table.Open(sch, dev, c.pageSize)
	if err != nil {
		return err
	}
	c.tables[key] = t
	return nil
}

func (c *Catalog) openDevice(key string) (device.BlockDevice, error) {
	if c.dirPath == "" {
		return device.NewMemory(), nil
	}
	return device.OpenFile(fmt.Sprintf("%s/%s.weaver", c.dirPath, key))
}

// Table looks up an open table by qualified name.
func (c *Catalog) Table(schemaName, tableName string) (*table.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[qualify(schemaName, tableName)]
	if !ok {
		return nil, kind.Wrap(kind.Schema, fmt.Errorf("catalog: unknown table %s.%s", schemaName, tableName))
	}
	return t, nil
}

// Tables returns every open table, for the metrics Collector.
func (c *Catalog) Tables() []*table.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*table.Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}
