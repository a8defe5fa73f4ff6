package pager

import (
	"sync"

	"github.com/weaverdb/weaver/pkg/metrics"
)

// Buffered wraps a Pager with an in-memory dirty-image cache, per spec
// §4.3. Reads that hit the cache never touch the underlying pager;
// writes accumulate in the cache until Flush pushes them through.
type Buffered struct {
	mu     sync.Mutex
	base   *Pager
	images map[uint32][]byte
	dirty  map[uint32]bool
}

// NewBuffered wraps base with a dirty-image cache.
func NewBuffered(base *Pager) *Buffered {
	return &Buffered{base: base, images: make(map[uint32][]byte), dirty: make(map[uint32]bool)}
}

func (b *Buffered) PageSize() int { return b.base.PageSize() }

// BufHandle is a handle into the buffered pager's cache.
type BufHandle struct {
	b         *Buffered
	index     uint32
	buf       []byte
	exclusive bool
	released  bool
	dirty     bool
}

func (h *BufHandle) Bytes() []byte { return h.buf }
func (h *BufHandle) Index() uint32 { return h.index }
func (h *BufHandle) MarkDirty() {
	if !h.exclusive {
		return
	}
	h.dirty = true
	h.b.mu.Lock()
	h.b.dirty[h.index] = true
	metrics.DirtyPagesGauge.Set(float64(len(h.b.dirty)))
	h.b.mu.Unlock()
}

// Release returns the handle. An exclusive handle marked dirty writes
// its buffer back into the cache (not to the device). Buffered handles
// carry no OS-level token; the underlying base handle (if any) was
// already released once its image was cached.
func (h *BufHandle) Release() error {
	if h.released {
		return nil
	}
	h.released = true
	if h.exclusive && h.dirty {
		cp := make([]byte, len(h.buf))
		copy(cp, h.buf)
		h.b.mu.Lock()
		h.b.images[h.index] = cp
		h.b.mu.Unlock()
	}
	return nil
}

// Get returns a shared view of page index, populating the cache on miss.
func (b *Buffered) Get(index uint32) (*BufHandle, error) {
	b.mu.Lock()
	img, ok := b.images[index]
	b.mu.Unlock()
	if ok {
		metrics.CacheHitsTotal.Inc()
		cp := make([]byte, len(img))
		copy(cp, img)
		return &BufHandle{b: b, index: index, buf: cp}, nil
	}
	metrics.CacheMissesTotal.Inc()
	h, err := b.base.Get(index)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(h.Bytes()))
	copy(cp, h.Bytes())
	if err := h.Release(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.images[index] = cp
	b.mu.Unlock()
	out := make([]byte, len(cp))
	copy(out, cp)
	return &BufHandle{b: b, index: index, buf: out}, nil
}

// GetMut returns an exclusive, mutable view of page index. Its Release
// writes the dirty image back into the cache, not to the device.
func (b *Buffered) GetMut(index uint32) (*BufHandle, error) {
	h, err := b.Get(index)
	if err != nil {
		return nil, err
	}
	h.exclusive = true
	return h, nil
}

// Put writes h's buffer into the cache and marks it dirty. Call this
// instead of MarkDirty+Release when you built the buffer fresh (e.g.
// NewPage) rather than mutating a Get/GetMut result in place.
func (b *Buffered) Put(index uint32, buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	b.mu.Lock()
	b.images[index] = cp
	b.dirty[index] = true
	metrics.DirtyPagesGauge.Set(float64(len(b.dirty)))
	b.mu.Unlock()
}

// NewPage extends the underlying base pager and caches the new page
// as dirty.
func (b *Buffered) NewPage() (*BufHandle, uint32, error) {
	h, index, err := b.base.NewPage()
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, len(h.Bytes()))
	copy(buf, h.Bytes())
	if err := h.Release(); err != nil {
		return nil, 0, err
	}
	b.Put(index, buf)
	out := make([]byte, len(buf))
	copy(out, buf)
	return &BufHandle{b: b, index: index, buf: out, exclusive: true}, index, nil
}

// Free drops index from the cache and returns it to the base pager.
func (b *Buffered) Free(index uint32) error {
	b.mu.Lock()
	delete(b.images, index)
	delete(b.dirty, index)
	metrics.DirtyPagesGauge.Set(float64(len(b.dirty)))
	b.mu.Unlock()
	return b.base.Free(index)
}

// Flush writes every dirty cached image back through the base pager.
func (b *Buffered) Flush() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FlushDuration)

	b.mu.Lock()
	dirty := make([]uint32, 0, len(b.dirty))
	for idx := range b.dirty {
		dirty = append(dirty, idx)
	}
	b.mu.Unlock()

	for _, idx := range dirty {
		b.mu.Lock()
		img := b.images[idx]
		b.mu.Unlock()
		h, err := b.base.GetMut(idx)
		if err != nil {
			return err
		}
		copy(h.Bytes(), img)
		h.MarkDirty()
		if err := h.Release(); err != nil {
			return err
		}
		b.mu.Lock()
		delete(b.dirty, idx)
		b.mu.Unlock()
	}
	b.mu.Lock()
	metrics.DirtyPagesGauge.Set(float64(len(b.dirty)))
	b.mu.Unlock()
	return b.base.Flush()
}

// Close flushes dirty images and syncs the base pager's device; it
// does not close the device.
func (b *Buffered) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.base.Sync()
}
