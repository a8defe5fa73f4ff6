package vpager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaverdb/weaver/pkg/storage/device"
	"github.com/weaverdb/weaver/pkg/storage/pager"
)

const testPageSize = 64

func newTable(t *testing.T) *Table {
	t.Helper()
	dev := device.NewMemory()
	base, err := pager.New(dev, testPageSize)
	require.NoError(t, err)
	buf := pager.NewBuffered(base)
	table, err := Open(buf)
	require.NoError(t, err)
	return table
}

func TestOpenInitializesControlPageOnFreshDevice(t *testing.T) {
	table := newTable(t)
	assert.Empty(t, table.roots)
}

func TestInitCreatesDistinctRootsForDifferentKeys(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	require.NoError(t, table.Init("secondary"))
	assert.Len(t, table.roots, 2)
}

func TestInitRejectsDuplicateKey(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	err := table.Init("primary")
	assert.Error(t, err)
}

func TestGetUnknownKeyErrors(t *testing.T) {
	table := newTable(t)
	_, err := table.Get("nope")
	assert.Error(t, err)
}

func TestViewNewPageAllocatesSequentialLogicalIndices(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	view, err := table.Get("primary")
	require.NoError(t, err)

	h0, logical0, err := view.NewPage()
	require.NoError(t, err)
	require.NoError(t, h0.Release())
	h1, logical1, err := view.NewPage()
	require.NoError(t, err)
	require.NoError(t, h1.Release())

	assert.Equal(t, uint64(0), logical0)
	assert.Equal(t, uint64(1), logical1)
	assert.Equal(t, uint64(2), view.PageCount())
}

func TestViewGetReturnsDataWrittenThroughNewPage(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	view, err := table.Get("primary")
	require.NoError(t, err)

	h, logical, err := view.NewPage()
	require.NoError(t, err)
	copy(h.Bytes(), []byte("hello"))
	h.MarkDirty()
	require.NoError(t, h.Release())

	got, err := view.Get(logical)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Bytes()[:5]))
}

func TestViewGetUnallocatedLogicalPageErrors(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	view, err := table.Get("primary")
	require.NoError(t, err)

	_, err = view.Get(5)
	assert.ErrorIs(t, err, ErrNoPageAddress)
}

func TestViewFreeDecrementsPageCountAndClearsTranslation(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	view, err := table.Get("primary")
	require.NoError(t, err)

	h, logical, err := view.NewPage()
	require.NoError(t, err)
	require.NoError(t, h.Release())
	assert.Equal(t, uint64(1), view.PageCount())

	require.NoError(t, view.Free(logical))
	assert.Equal(t, uint64(0), view.PageCount())

	_, err = view.Get(logical)
	assert.ErrorIs(t, err, ErrNoPageAddress)
}

func TestViewsAreIsolatedAcrossRoots(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	require.NoError(t, table.Init("secondary"))
	primary, err := table.Get("primary")
	require.NoError(t, err)
	secondary, err := table.Get("secondary")
	require.NoError(t, err)

	ph, _, err := primary.NewPage()
	require.NoError(t, err)
	copy(ph.Bytes(), []byte("primary-data"))
	ph.MarkDirty()
	require.NoError(t, ph.Release())

	sh, _, err := secondary.NewPage()
	require.NoError(t, err)
	copy(sh.Bytes(), []byte("secondary-data"))
	sh.MarkDirty()
	require.NoError(t, sh.Release())

	assert.Equal(t, uint64(1), primary.PageCount())
	assert.Equal(t, uint64(1), secondary.PageCount())

	pRead, err := primary.Get(0)
	require.NoError(t, err)
	sRead, err := secondary.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "primary-data", string(pRead.Bytes()[:12]))
	assert.Equal(t, "secondary-data", string(sRead.Bytes()[:14]))
}

func TestViewAllocationAcrossIndirectionLevelBoundary(t *testing.T) {
	table := newTable(t)
	require.NoError(t, table.Init("primary"))
	view, err := table.Get("primary")
	require.NoError(t, err)

	per := testPageSize / indexEntryBytes
	count := per + 2
	logicals := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		h, logical, err := view.NewPage()
		require.NoError(t, err)
		require.NoError(t, h.Release())
		logicals = append(logicals, logical)
	}
	assert.Equal(t, uint64(count), view.PageCount())

	for i, logical := range logicals {
		h, err := view.GetMut(logical)
		require.NoError(t, err)
		copy(h.Bytes(), []byte{byte(i)})
		h.MarkDirty()
		require.NoError(t, h.Release())
	}
	for i, logical := range logicals {
		h, err := view.Get(logical)
		require.NoError(t, err)
		assert.Equal(t, byte(i), h.Bytes()[0])
	}
}

func TestReopenRediscoversRootsFromControlPage(t *testing.T) {
	dev := device.NewMemory()
	base, err := pager.New(dev, testPageSize)
	require.NoError(t, err)
	buf := pager.NewBuffered(base)
	table, err := Open(buf)
	require.NoError(t, err)
	require.NoError(t, table.Init("primary"))
	view, err := table.Get("primary")
	require.NoError(t, err)
	h, logical, err := view.NewPage()
	require.NoError(t, err)
	copy(h.Bytes(), []byte("persisted"))
	h.MarkDirty()
	require.NoError(t, h.Release())
	require.NoError(t, buf.Flush())

	reopened, err := Open(buf)
	require.NoError(t, err)
	require.Len(t, reopened.roots, 1)

	review, err := reopened.Get("primary")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), review.PageCount())

	got, err := review.Get(logical)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got.Bytes()[:9]))
}
