package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaverdb/weaver/pkg/storage/device"
	"github.com/weaverdb/weaver/pkg/storage/pager"
	"github.com/weaverdb/weaver/pkg/storage/slotted"
	"github.com/weaverdb/weaver/pkg/storage/vpager"
)

const testPageSize = 128

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	dev := device.NewMemory()
	base, err := pager.New(dev, testPageSize)
	require.NoError(t, err)
	buf := pager.NewBuffered(base)
	vt, err := vpager.Open(buf)
	require.NoError(t, err)
	require.NoError(t, vt.Init("primary"))
	view, err := vt.Get("primary")
	require.NoError(t, err)
	sp, err := slotted.Open(view, testPageSize)
	require.NoError(t, err)
	tree, err := Open("test", sp)
	require.NoError(t, err)
	return tree
}

func key(i int) []byte   { return []byte(fmt.Sprintf("k%04d", i)) }
func value(i int) []byte { return []byte(fmt.Sprintf("v%04d", i)) }

func TestBTreeInsertAndGet(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert(key(1), value(1)))
	require.NoError(t, tree.Insert(key(2), value(2)))

	v, ok, err := tree.Get(key(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value(1), v)

	_, ok, err = tree.Get(key(99))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBTreeInsertForcesSplitsAndStaysOrdered(t *testing.T) {
	tree := newTestTree(t)
	const n = 60
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	assert.True(t, tree.Stats.Splits.Load() > 0, "expected at least one split with %d inserts", n)

	entries, err := tree.All()
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i := 1; i < len(entries); i++ {
		assert.True(t, string(entries[i-1].Key) < string(entries[i].Key), "entries not sorted at %d", i)
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, value(i), entries[i].Value)
	}
}

func TestBTreeInsertReplacesExistingKey(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert(key(1), value(1)))
	require.NoError(t, tree.Insert(key(1), []byte("updated")))

	v, ok, err := tree.Get(key(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("updated"), v)

	n, err := tree.Count(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBTreeRangeQuery(t *testing.T) {
	tree := newTestTree(t)
	const n = 40
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	entries, err := tree.Range(key(10), key(19))
	require.NoError(t, err)
	require.Len(t, entries, 10)
	assert.Equal(t, key(10), entries[0].Key)
	assert.Equal(t, key(19), entries[len(entries)-1].Key)
}

func TestBTreeMinMaxKey(t *testing.T) {
	tree := newTestTree(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	min, ok, err := tree.MinKey()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key(0), min)

	max, ok, err := tree.MaxKey()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key(29), max)
}

func TestBTreeDelete(t *testing.T) {
	tree := newTestTree(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	ok, err := tree.Delete(key(15))
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := tree.Get(key(15))
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = tree.Delete(key(15))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBTreeVerifyIntegrityAfterManyInsertsAndDeletes(t *testing.T) {
	tree := newTestTree(t)
	for i := 0; i < 80; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	for i := 0; i < 80; i += 3 {
		_, err := tree.Delete(key(i))
		require.NoError(t, err)
	}
	assert.NoError(t, tree.VerifyIntegrity())
}

func TestBTreeReopenRediscoversRoot(t *testing.T) {
	dev := device.NewMemory()
	base, err := pager.New(dev, testPageSize)
	require.NoError(t, err)
	buf := pager.NewBuffered(base)
	vt, err := vpager.Open(buf)
	require.NoError(t, err)
	require.NoError(t, vt.Init("primary"))
	view, err := vt.Get("primary")
	require.NoError(t, err)
	sp, err := slotted.Open(view, testPageSize)
	require.NoError(t, err)
	tree, err := Open("test", sp)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	require.NoError(t, buf.Flush())

	sp2, err := slotted.Open(view, testPageSize)
	require.NoError(t, err)
	reopened, err := Open("test", sp2)
	require.NoError(t, err)

	entries, err := reopened.All()
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}
