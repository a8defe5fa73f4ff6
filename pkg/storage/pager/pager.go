// Package pager divides a BlockDevice into fixed-size pages and hands
// out read/write handles guarded by per-page usage tokens, per spec
// §4.2. A shared handle increments the token; an exclusive handle
// requires the token to be zero and sets it to -1. Requests that
// cannot be satisfied fail immediately with ErrWouldBlock instead of
// blocking — the engine never waits on a page.
package pager

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/metrics"
	"github.com/weaverdb/weaver/pkg/storage/device"
)

// ErrWouldBlock is returned when a handle cannot be granted without
// waiting for another handle to be dropped.
var ErrWouldBlock = errors.New("pager: would block")

// DefaultPageSize matches spec §3's default page size.
const DefaultPageSize = 4096

type pageState struct {
	token atomic.Int32 // 0 = free, >0 = shared refcount, -1 = exclusive
}

// Pager divides dev into PageSize-byte pages.
type Pager struct {
	mu       sync.Mutex
	dev      device.BlockDevice
	pageSize int
	states   map[uint32]*pageState
	freeList []uint32
}

// New creates a Pager over dev with the given page size. If dev is
// non-empty its length must already be a multiple of pageSize.
func New(dev device.BlockDevice, pageSize int) (*Pager, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, kind.Wrap(kind.ReadData, fmt.Errorf("pager: page size %d is not a positive power of two", pageSize))
	}
	n, err := dev.Len()
	if err != nil {
		return nil, err
	}
	if n%int64(pageSize) != 0 {
		return nil, kind.Wrap(kind.ReadData, fmt.Errorf("pager: device length %d is not a multiple of page size %d", n, pageSize))
	}
	return &Pager{dev: dev, pageSize: pageSize, states: make(map[uint32]*pageState)}, nil
}

func (p *Pager) PageSize() int { return p.pageSize }

// Allocated reports the number of pages currently backed by the device.
func (p *Pager) Allocated() (uint32, error) {
	n, err := p.dev.Len()
	if err != nil {
		return 0, err
	}
	return uint32(n / int64(p.pageSize)), nil
}

func (p *Pager) stateFor(index uint32) *pageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[index]
	if !ok {
		st = &pageState{}
		p.states[index] = st
	}
	return st
}

// Handle is a read or read/write view over one page's bytes.
type Handle struct {
	p        *Pager
	index    uint32
	st       *pageState
	buf      []byte
	exclusive bool
	dirty    bool
	released bool
}

// Get returns a shared read handle to page index.
func (p *Pager) Get(index uint32) (*Handle, error) {
	st := p.stateFor(index)
	for {
		cur := st.token.Load()
		if cur < 0 {
			return nil, kind.Wrap(kind.Concurrency, ErrWouldBlock)
		}
		if st.token.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	buf := make([]byte, p.pageSize)
	if err := p.dev.ReadAt(buf, int64(index)*int64(p.pageSize)); err != nil {
		st.token.Add(-1)
		return nil, err
	}
	return &Handle{p: p, index: index, st: st, buf: buf}, nil
}

// GetMut returns an exclusive read/write handle to page index.
func (p *Pager) GetMut(index uint32) (*Handle, error) {
	st := p.stateFor(index)
	if !st.token.CompareAndSwap(0, -1) {
		metrics.PageWouldBlockTotal.WithLabelValues("exclusive").Inc()
		return nil, kind.Wrap(kind.Concurrency, ErrWouldBlock)
	}
	buf := make([]byte, p.pageSize)
	if err := p.dev.ReadAt(buf, int64(index)*int64(p.pageSize)); err != nil {
		st.token.Store(0)
		return nil, err
	}
	return &Handle{p: p, index: index, st: st, buf: buf, exclusive: true}, nil
}

// NewPage extends the device by one page and returns an exclusive
// handle to it along with its index.
func (p *Pager) NewPage() (*Handle, uint32, error) {
	p.mu.Lock()
	var index uint32
	if n := len(p.freeList); n > 0 {
		index = p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.mu.Unlock()
	} else {
		n, err := p.dev.Len()
		if err != nil {
			p.mu.Unlock()
			return nil, 0, err
		}
		index = uint32(n / int64(p.pageSize))
		p.mu.Unlock()
		if err := p.dev.SetLen(n + int64(p.pageSize)); err != nil {
			return nil, 0, err
		}
	}
	st := p.stateFor(index)
	if !st.token.CompareAndSwap(0, -1) {
		return nil, 0, kind.Wrap(kind.Concurrency, fmt.Errorf("pager: new page %d already in use: %w", index, ErrWouldBlock))
	}
	metrics.PagesAllocatedTotal.Inc()
	return &Handle{p: p, index: index, st: st, buf: make([]byte, p.pageSize), exclusive: true, dirty: true}, index, nil
}

// Free zeroes page index and marks it for reuse.
func (p *Pager) Free(index uint32) error {
	h, err := p.GetMut(index)
	if err != nil {
		return err
	}
	for i := range h.buf {
		h.buf[i] = 0
	}
	h.dirty = true
	if err := h.Release(); err != nil {
		return err
	}
	p.mu.Lock()
	p.freeList = append(p.freeList, index)
	p.mu.Unlock()
	metrics.PagesFreedTotal.Inc()
	return nil
}

// Bytes returns the handle's backing buffer. Writes through it are
// only persisted if the handle is exclusive; Release flushes them.
func (h *Handle) Bytes() []byte { return h.buf }

// Index reports the page index this handle covers.
func (h *Handle) Index() uint32 { return h.index }

// MarkDirty must be called after mutating Bytes() on an exclusive
// handle so Release writes the page back.
func (h *Handle) MarkDirty() {
	h.dirty = true
}

// Release restores the usage token and, for a dirty exclusive handle,
// flushes the buffer to the device.
func (h *Handle) Release() error {
	if h.released {
		return nil
	}
	h.released = true
	if h.exclusive {
		if h.dirty {
			if err := h.p.dev.WriteAt(h.buf, int64(h.index)*int64(h.p.pageSize)); err != nil {
				h.st.token.Store(0)
				return err
			}
		}
		h.st.token.Store(0)
		return nil
	}
	h.st.token.Add(-1)
	return nil
}

// Flush commits buffered writes to the device without syncing.
func (p *Pager) Flush() error { return p.dev.Flush() }

// Sync forces durability of all writes.
func (p *Pager) Sync() error { return p.dev.Sync() }
