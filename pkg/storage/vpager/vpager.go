// Package vpager multiplexes many logical paged spaces onto one
// physical pager via a 4-level indirection tree, per spec §4.4. Page 0
// of the wrapped pager is a control page listing one root entry per
// logical space; each root's PML4 page roots a PML4→PMD→PM→PD chain,
// each level holding page_size/8 64-bit entries (512 at the default
// 4096-byte page) whose low 48 bits are a physical page index.
package vpager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cespare/xxhash/v2"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/metrics"
	"github.com/weaverdb/weaver/pkg/storage/pager"
)

// ErrNoPageAddress is returned when Get/GetMut targets a logical page
// that was never created by NewPage.
var ErrNoPageAddress = errors.New("vpager: no page address")

const (
	controlPageIndex = 0
	entrySize        = 24 // key_hash(8) + root_page_index(8) + logical_page_count(8)
	indexEntryBytes  = 8
	addressMask      = (uint64(1) << 48) - 1
	translationCache = 512
)

// seed makes the key-hash stable across runs without depending on a
// process-random seed (Go's builtin map hashing is randomized).
var seed = []byte{0x57, 0x45, 0x41, 0x56, 0x45, 0x52, 0x44, 0x42}

func keyHash(key string) uint64 {
	h := xxhash.New()
	h.Write(seed)
	h.Write([]byte(key))
	return h.Sum64()
}

type rootEntry struct {
	keyHash    uint64
	rootPage   uint32
	pageCount  uint64
}

// Table is the virtual pager table over a single Buffered pager.
type Table struct {
	mu       sync.Mutex
	base     *pager.Buffered
	perLevel int // branching factor, page_size/8
	roots    []rootEntry
	cache    *lru.Cache
}

type translationKey struct {
	keyHash uint64
	logical uint64
}

// Open loads (or, if page 0 does not yet exist, initializes) the
// control page on top of base.
func Open(base *pager.Buffered) (*Table, error) {
	cache, err := lru.New(translationCache)
	if err != nil {
		return nil, kind.Wrap(kind.IO, fmt.Errorf("vpager: create translation cache: %w", err))
	}
	t := &Table{base: base, perLevel: base.PageSize() / indexEntryBytes, cache: cache}

	allocated, err := base.Get(controlPageIndex)
	if err == nil {
		t.roots = decodeControlPage(allocated.Bytes())
		_ = allocated.Release()
		return t, nil
	}
	// Control page does not exist yet: create it empty.
	h, idx, err := base.NewPage()
	if err != nil {
		return nil, err
	}
	if idx != controlPageIndex {
		return nil, kind.Wrap(kind.IO, fmt.Errorf("vpager: expected control page at index 0, got %d", idx))
	}
	encodeControlPage(h.Bytes(), nil)
	h.MarkDirty()
	_ = h.Release()
	return t, nil
}

func decodeControlPage(buf []byte) []rootEntry {
	count := binary.BigEndian.Uint64(buf[0:8])
	roots := make([]rootEntry, 0, count)
	off := 8
	for i := uint64(0); i < count; i++ {
		kh := binary.BigEndian.Uint64(buf[off : off+8])
		rp := binary.BigEndian.Uint64(buf[off+8 : off+16])
		pc := binary.BigEndian.Uint64(buf[off+16 : off+24])
		roots = append(roots, rootEntry{keyHash: kh, rootPage: uint32(rp), pageCount: pc})
		off += entrySize
	}
	return roots
}

func encodeControlPage(buf []byte, roots []rootEntry) {
	for i := range buf {
		buf[i] = 0
	}
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(roots)))
	off := 8
	for _, r := range roots {
		binary.BigEndian.PutUint64(buf[off:off+8], r.keyHash)
		binary.BigEndian.PutUint64(buf[off+8:off+16], uint64(r.rootPage))
		binary.BigEndian.PutUint64(buf[off+16:off+24], r.pageCount)
		off += entrySize
	}
}

func (t *Table) persistControlLocked() error {
	h, err := t.base.GetMut(controlPageIndex)
	if err != nil {
		return err
	}
	encodeControlPage(h.Bytes(), t.roots)
	h.MarkDirty()
	return h.Release()
}

// Init appends a new root entry for key, allocating its PML4 page.
func (t *Table) Init(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	kh := keyHash(key)
	for _, r := range t.roots {
		if r.keyHash == kh {
			return kind.Wrap(kind.Schema, fmt.Errorf("vpager: root %q already initialized", key))
		}
	}
	h, idx, err := t.base.NewPage()
	if err != nil {
		return err
	}
	if err := h.Release(); err != nil {
		return err
	}
	t.roots = append(t.roots, rootEntry{keyHash: kh, rootPage: idx, pageCount: 0})
	return t.persistControlLocked()
}

func (t *Table) findRoot(key string) (int, error) {
	kh := keyHash(key)
	for i, r := range t.roots {
		if r.keyHash == kh {
			return i, nil
		}
	}
	return 0, kind.Wrap(kind.ReadData, fmt.Errorf("vpager: unknown root %q", key))
}

// View is a logical paged space scoped to one root key.
type View struct {
	t        *Table
	key      string
	rootIdx  int
}

// Get returns a View over key's logical space. key must have been
// passed to Init previously.
func (t *Table) Get(key string) (*View, error) {
	t.mu.Lock()
	idx, err := t.findRoot(key)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &View{t: t, key: key, rootIdx: idx}, nil
}

func readEntry(buf []byte, slot int) uint64 {
	return binary.BigEndian.Uint64(buf[slot*indexEntryBytes : slot*indexEntryBytes+8])
}

func writeEntry(buf []byte, slot int, addr uint64) {
	binary.BigEndian.PutUint64(buf[slot*indexEntryBytes:slot*indexEntryBytes+8], addr&addressMask)
}

// walk descends the 4-level indirection tree for logical index idx,
// creating intermediate pages as needed when create is true. When
// clear is true, the last-level entry for idx is zeroed once read. It
// returns the physical page index of the leaf data page (or, if it
// does not exist and create is false, ErrNoPageAddress).
func (v *View) walk(idx uint64, create, clear bool) (uint32, error) {
	t := v.t
	per := uint64(t.perLevel)
	if per == 0 {
		return 0, kind.Wrap(kind.IO, fmt.Errorf("vpager: page size too small for indirection"))
	}
	l4 := (idx / (per * per * per)) % per
	l3 := (idx / (per * per)) % per
	l2 := (idx / per) % per
	l1 := idx % per

	if ck, ok := t.cache.Get(translationKey{t.roots[v.rootIdx].keyHash, idx}); ok && !create && !clear {
		metrics.VPagerTranslationCacheHitsTotal.Inc()
		return ck.(uint32), nil
	}
	metrics.VPagerWalksTotal.Inc()

	cur := t.roots[v.rootIdx].rootPage
	levels := []uint64{l4, l3, l2, l1}
	for level, slot := range levels {
		last := level == len(levels)-1
		h, err := t.base.GetMut(cur)
		if err != nil {
			return 0, err
		}
		addr := readEntry(h.Bytes(), int(slot))
		if addr == 0 {
			if !create {
				_ = h.Release()
				return 0, kind.Wrap(kind.ReadData, ErrNoPageAddress)
			}
			nh, newIdx, err := t.base.NewPage()
			if err != nil {
				_ = h.Release()
				return 0, err
			}
			addr = uint64(newIdx)
			writeEntry(h.Bytes(), int(slot), addr)
			h.MarkDirty()
			if err := nh.Release(); err != nil {
				_ = h.Release()
				return 0, err
			}
		}
		if last && clear {
			writeEntry(h.Bytes(), int(slot), 0)
			h.MarkDirty()
		}
		if err := h.Release(); err != nil {
			return 0, err
		}
		if last {
			t.cache.Add(translationKey{t.roots[v.rootIdx].keyHash, idx}, uint32(addr))
			return uint32(addr), nil
		}
		cur = uint32(addr)
	}
	return 0, kind.Wrap(kind.IO, fmt.Errorf("vpager: unreachable walk termination"))
}

// NewPage creates (or returns, if already created) the logical data
// page at the view's next index and increments the root's page count.
func (v *View) NewPage() (*pager.BufHandle, uint64, error) {
	v.t.mu.Lock()
	logical := v.t.roots[v.rootIdx].pageCount
	v.t.mu.Unlock()

	phys, err := v.walk(logical, true, false)
	if err != nil {
		return nil, 0, err
	}
	h, err := v.t.base.GetMut(phys)
	if err != nil {
		return nil, 0, err
	}

	v.t.mu.Lock()
	v.t.roots[v.rootIdx].pageCount++
	err = v.t.persistControlLocked()
	v.t.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	return h, logical, nil
}

// Get returns a shared handle to the logical page at idx.
func (v *View) Get(idx uint64) (*pager.BufHandle, error) {
	phys, err := v.walk(idx, false, false)
	if err != nil {
		return nil, err
	}
	return v.t.base.Get(phys)
}

// GetMut returns an exclusive handle to the logical page at idx.
func (v *View) GetMut(idx uint64) (*pager.BufHandle, error) {
	phys, err := v.walk(idx, false, false)
	if err != nil {
		return nil, err
	}
	return v.t.base.GetMut(phys)
}

// Free zeroes the indirection entry for idx and decrements the page
// count; the underlying physical page is returned to the base pager's
// free list.
func (v *View) Free(idx uint64) error {
	phys, err := v.walk(idx, false, true)
	if err != nil {
		return err
	}
	if err := v.t.base.Free(phys); err != nil {
		return err
	}
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	v.t.cache.Remove(translationKey{v.t.roots[v.rootIdx].keyHash, idx})
	if v.t.roots[v.rootIdx].pageCount > 0 {
		v.t.roots[v.rootIdx].pageCount--
	}
	return v.t.persistControlLocked()
}

// PageCount reports the number of logical pages allocated in this view.
func (v *View) PageCount() uint64 {
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	return v.t.roots[v.rootIdx].pageCount
}
