// Pager is the allocator described in spec §4.5's "pager-level"
// operations: it assigns monotonic page ids to logical pages of a
// vpager.View and translates id → logical index. Because every
// encoded page already carries its own page_id in the header, the
// id→index map is rebuilt by scanning at Open rather than persisted
// separately.
package slotted

import (
	"fmt"
	"sync"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/storage/vpager"
)

// Pager allocates and looks up slotted pages within one vpager.View.
type Pager struct {
	mu          sync.Mutex
	view        *vpager.View
	pageSize    int
	idToLogical map[uint32]uint64
	nextID      uint32
}

// Open scans view's existing logical pages to rebuild the id→index
// map, then returns a Pager ready to allocate further pages.
func Open(view *vpager.View, pageSize int) (*Pager, error) {
	p := &Pager{view: view, pageSize: pageSize, idToLogical: make(map[uint32]uint64), nextID: 1}
	count := view.PageCount()
	for i := uint64(0); i < count; i++ {
		h, err := view.Get(i)
		if err != nil {
			return nil, err
		}
		page, err := Decode(h.Bytes())
		_ = h.Release()
		if err != nil {
			return nil, err
		}
		p.idToLogical[page.PageID()] = i
		if page.PageID() >= p.nextID {
			p.nextID = page.PageID() + 1
		}
	}
	return p, nil
}

// NewWithType allocates a fresh page of the given type and persists
// its empty encoding immediately.
func (p *Pager) NewWithType(pageType PageType) (*Page, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	h, logical, err := p.view.NewPage()
	if err != nil {
		return nil, err
	}
	page := NewEmpty(p.pageSize, pageType, id)
	copy(h.Bytes(), page.Encode())
	h.MarkDirty()
	if err := h.Release(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.idToLogical[id] = logical
	p.mu.Unlock()
	return page, nil
}

// Get loads the page with the given id.
func (p *Pager) Get(id uint32) (*Page, error) {
	p.mu.Lock()
	logical, ok := p.idToLogical[id]
	p.mu.Unlock()
	if !ok {
		return nil, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: page id %d not found", id))
	}
	h, err := p.view.Get(logical)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return Decode(h.Bytes())
}

// GetMut loads the page with the given id for mutation; Save must be
// called afterward to persist changes.
func (p *Pager) GetMut(id uint32) (*Page, error) {
	return p.Get(id)
}

// Save re-encodes page and writes it back to its logical slot.
func (p *Pager) Save(page *Page) error {
	p.mu.Lock()
	logical, ok := p.idToLogical[page.PageID()]
	p.mu.Unlock()
	if !ok {
		return kind.Wrap(kind.ReadData, fmt.Errorf("slotted: page id %d not found", page.PageID()))
	}
	h, err := p.view.GetMut(logical)
	if err != nil {
		return err
	}
	copy(h.Bytes(), page.Encode())
	h.MarkDirty()
	return h.Release()
}

// IDs returns every currently allocated page id, in no particular
// order. Used by the B+Tree to rediscover its root on reopen.
func (p *Pager) IDs() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uint32, 0, len(p.idToLogical))
	for id := range p.idToLogical {
		ids = append(ids, id)
	}
	return ids
}

// Free returns the page's logical slot to the view's free list and
// drops the id mapping.
func (p *Pager) Free(id uint32) error {
	p.mu.Lock()
	logical, ok := p.idToLogical[id]
	if ok {
		delete(p.idToLogical, id)
	}
	p.mu.Unlock()
	if !ok {
		return kind.Wrap(kind.ReadData, fmt.Errorf("slotted: page id %d not found", id))
	}
	return p.view.Free(logical)
}
