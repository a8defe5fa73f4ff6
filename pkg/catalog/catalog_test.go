package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaverdb/weaver/pkg/schema"
	"github.com/weaverdb/weaver/pkg/storage/pager"
	"github.com/weaverdb/weaver/pkg/types"
)

func peopleSchema(t *testing.T) *schema.Table {
	t.Helper()
	sch, err := schema.New("main", "people", []schema.Column{
		{Name: "name", Type: schema.TypeString, NonNull: true, MaxLen: 32},
	}, nil, false)
	require.NoError(t, err)
	return sch
}

func TestCreateTableThenLookupSucceeds(t *testing.T) {
	cat := New(pager.DefaultPageSize, "")
	require.NoError(t, cat.CreateTable(peopleSchema(t)))

	tbl, err := cat.Table("main", "people")
	require.NoError(t, err)
	assert.Equal(t, "people", tbl.Schema().TableName)
}

func TestCreateTableRejectsDuplicateQualifiedName(t *testing.T) {
	cat := New(pager.DefaultPageSize, "")
	require.NoError(t, cat.CreateTable(peopleSchema(t)))
	err := cat.CreateTable(peopleSchema(t))
	assert.Error(t, err)
}

func TestTableLookupUnknownNameErrors(t *testing.T) {
	cat := New(pager.DefaultPageSize, "")
	_, err := cat.Table("main", "ghost")
	assert.Error(t, err)
}

func TestTablesListsAllOpenTables(t *testing.T) {
	cat := New(pager.DefaultPageSize, "")
	require.NoError(t, cat.CreateTable(peopleSchema(t)))
	sch2, err := schema.New("main", "widgets", []schema.Column{
		{Name: "label", Type: schema.TypeString, NonNull: true, MaxLen: 16},
	}, nil, false)
	require.NoError(t, err)
	require.NoError(t, cat.CreateTable(sch2))

	names := map[string]bool{}
	for _, tbl := range cat.Tables() {
		names[tbl.Schema().TableName] = true
	}
	assert.Equal(t, map[string]bool{"people": true, "widgets": true}, names)
}

func TestCatalogWithDirPathWritesTableFile(t *testing.T) {
	dir := t.TempDir()
	cat := New(pager.DefaultPageSize, dir)
	require.NoError(t, cat.CreateTable(peopleSchema(t)))

	tbl, err := cat.Table("main", "people")
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(nil, types.Row{types.String("ada")}))

	path := filepath.Join(dir, "main.people.weaver")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
