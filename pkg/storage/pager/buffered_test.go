package pager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaverdb/weaver/pkg/storage/device"
)

func newBuffered(t *testing.T) (*Buffered, *Pager) {
	t.Helper()
	dev := device.NewMemory()
	base, err := New(dev, 128)
	require.NoError(t, err)
	return NewBuffered(base), base
}

func TestBufferedGetReadsThroughToBaseOnMiss(t *testing.T) {
	buf, base := newBuffered(t)
	h, idx, err := base.NewPage()
	require.NoError(t, err)
	copy(h.Bytes(), []byte("persisted"))
	h.MarkDirty()
	require.NoError(t, h.Release())

	got, err := buf.Get(idx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got.Bytes()[:9]))
}

func TestBufferedGetReturnsIndependentCopies(t *testing.T) {
	buf, base := newBuffered(t)
	h, idx, err := base.NewPage()
	require.NoError(t, err)
	require.NoError(t, h.Release())

	a, err := buf.Get(idx)
	require.NoError(t, err)
	b, err := buf.Get(idx)
	require.NoError(t, err)

	a.Bytes()[0] = 0x42
	assert.NotEqual(t, a.Bytes()[0], b.Bytes()[0])
}

func TestBufferedPutMarksDirtyAndGetSeesIt(t *testing.T) {
	buf, base := newBuffered(t)
	h, idx, err := base.NewPage()
	require.NoError(t, err)
	require.NoError(t, h.Release())

	newBuf := make([]byte, base.PageSize())
	copy(newBuf, []byte("overwritten"))
	buf.Put(idx, newBuf)

	got, err := buf.Get(idx)
	require.NoError(t, err)
	assert.Equal(t, "overwritten", string(got.Bytes()[:11]))
}

func TestBufferedFlushWritesDirtyPagesThroughToBase(t *testing.T) {
	buf, base := newBuffered(t)
	h, idx, err := buf.NewPage()
	require.NoError(t, err)
	copy(h.Bytes(), []byte("flush-me"))
	buf.Put(idx, h.Bytes())
	require.NoError(t, h.Release())

	require.NoError(t, buf.Flush())

	baseHandle, err := base.Get(idx)
	require.NoError(t, err)
	defer baseHandle.Release()
	assert.Equal(t, "flush-me", string(baseHandle.Bytes()[:8]))
}

func TestBufferedNewPageCachesNewPageAsDirty(t *testing.T) {
	buf, base := newBuffered(t)
	h, idx, err := buf.NewPage()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)
	assert.Len(t, h.Bytes(), base.PageSize())

	n, err := base.Allocated()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
}

func TestBufferedFreeDropsFromCacheAndReturnsToBase(t *testing.T) {
	buf, base := newBuffered(t)
	h, idx, err := buf.NewPage()
	require.NoError(t, err)
	buf.Put(idx, h.Bytes())

	require.NoError(t, buf.Free(idx))

	h2, idx2, err := buf.NewPage()
	require.NoError(t, err)
	require.NoError(t, h2.Release())
	assert.Equal(t, idx, idx2, "freed index should be reused by the base pager")
}

func TestBufferedCloseFlushesAndSyncs(t *testing.T) {
	buf, base := newBuffered(t)
	h, idx, err := buf.NewPage()
	require.NoError(t, err)
	copy(h.Bytes(), []byte("durable"))
	buf.Put(idx, h.Bytes())
	require.NoError(t, h.Release())

	require.NoError(t, buf.Close())

	baseHandle, err := base.Get(idx)
	require.NoError(t, err)
	defer baseHandle.Release()
	assert.Equal(t, "durable", string(baseHandle.Bytes()[:7]))
}
