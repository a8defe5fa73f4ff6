// Page implements the {header, slot-array, cell-heap} layout from
// spec §4.5/§6. Cells are kept in an in-memory slice sorted by key;
// Encode repacks the whole heap on every write. This trades the
// described best-fit free list for a simpler always-defragmented
// heap — the space-conservation and sort-order invariants in spec §8
// hold trivially since there is never fragmentation to reclaim. See
// DESIGN.md for the tradeoff.
package slotted

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/weaverdb/weaver/pkg/kind"
)

var magic = []byte("WEAVERDB")

// HeaderSize is the fixed on-disk header size in bytes: magic(8) +
// page_id(4) + left_sibling(4) + right_sibling(4) + parent(4) +
// page_type(1) + cell_count(4).
const HeaderSize = 8 + 4 + 4 + 4 + 4 + 1 + 4

const slotSize = 8

// ErrAllocationFailed is returned by Insert when the page has no
// contiguous room for the new cell; the B+Tree catches this and
// splits the page.
var ErrAllocationFailed = fmt.Errorf("slotted: allocation failed")

// Page is the decoded, mutable representation of one slotted page.
type Page struct {
	pageSize     int
	pageID       uint32
	leftSibling  uint32
	rightSibling uint32
	parent       uint32
	pageType     PageType
	cells        []Cell // sorted ascending by Key
}

// NewEmpty creates an empty page of the given type, page id, and size.
func NewEmpty(pageSize int, pageType PageType, pageID uint32) *Page {
	return &Page{pageSize: pageSize, pageType: pageType, pageID: pageID}
}

func (p *Page) PageID() uint32      { return p.pageID }
func (p *Page) PageType() PageType  { return p.pageType }
func (p *Page) Count() int          { return len(p.cells) }
func (p *Page) LeftSibling() uint32  { return p.leftSibling }
func (p *Page) RightSibling() uint32 { return p.rightSibling }
func (p *Page) Parent() uint32       { return p.parent }

func (p *Page) SetLeftSibling(v uint32)  { p.leftSibling = v }
func (p *Page) SetRightSibling(v uint32) { p.rightSibling = v }
func (p *Page) SetParent(v uint32)       { p.parent = v }

// usedBytes computes header + slot-array + cell-heap usage for cells.
func usedBytes(pageType PageType, cells []Cell) int {
	total := HeaderSize + slotSize*len(cells)
	for _, c := range cells {
		total += len(encodeCell(pageType, c))
	}
	return total
}

// FreeSpace reports bytes available for additional cells.
func (p *Page) FreeSpace() int {
	return p.pageSize - usedBytes(p.pageType, p.cells)
}

func (p *Page) find(key []byte) int {
	return sort.Search(len(p.cells), func(i int) bool {
		return bytes.Compare(p.cells[i].Key, key) >= 0
	})
}

// Insert places cell in sorted position, replacing any existing cell
// with an equal key. Returns ErrAllocationFailed if the page would
// overflow.
func (p *Page) Insert(cell Cell) error {
	idx := p.find(cell.Key)
	replacing := idx < len(p.cells) && bytes.Equal(p.cells[idx].Key, cell.Key)

	trial := make([]Cell, len(p.cells))
	copy(trial, p.cells)
	if replacing {
		trial[idx] = cell
	} else {
		trial = append(trial, Cell{})
		copy(trial[idx+1:], trial[idx:])
		trial[idx] = cell
	}
	if usedBytes(p.pageType, trial) > p.pageSize {
		return kind.Wrap(kind.WriteData, ErrAllocationFailed)
	}
	p.cells = trial
	return nil
}

// Get returns the cell stored under key, if present.
func (p *Page) Get(key []byte) (Cell, bool) {
	idx := p.find(key)
	if idx < len(p.cells) && bytes.Equal(p.cells[idx].Key, key) {
		return p.cells[idx], true
	}
	return Cell{}, false
}

// GetRange returns cells with keys in [lo, hi] (each bound optional:
// nil means unbounded). Bounds are inclusive.
func (p *Page) GetRange(lo, hi []byte) []Cell {
	start := 0
	if lo != nil {
		start = p.find(lo)
	}
	end := len(p.cells)
	if hi != nil {
		end = sort.Search(len(p.cells), func(i int) bool {
			return bytes.Compare(p.cells[i].Key, hi) > 0
		})
	}
	if start >= end {
		return nil
	}
	out := make([]Cell, end-start)
	copy(out, p.cells[start:end])
	return out
}

// Delete removes the cell under key, reporting whether it was present.
func (p *Page) Delete(key []byte) bool {
	idx := p.find(key)
	if idx >= len(p.cells) || !bytes.Equal(p.cells[idx].Key, key) {
		return false
	}
	p.cells = append(p.cells[:idx], p.cells[idx+1:]...)
	return true
}

// Drain removes and returns all cells with keys in [lo, hi].
func (p *Page) Drain(lo, hi []byte) []Cell {
	start := 0
	if lo != nil {
		start = p.find(lo)
	}
	end := len(p.cells)
	if hi != nil {
		end = sort.Search(len(p.cells), func(i int) bool {
			return bytes.Compare(p.cells[i].Key, hi) > 0
		})
	}
	if start >= end {
		return nil
	}
	out := make([]Cell, end-start)
	copy(out, p.cells[start:end])
	p.cells = append(p.cells[:start], p.cells[end:]...)
	return out
}

// All returns every cell in ascending key order.
func (p *Page) All() []Cell {
	out := make([]Cell, len(p.cells))
	copy(out, p.cells)
	return out
}

// MinKey returns the smallest key in the page.
func (p *Page) MinKey() ([]byte, bool) {
	if len(p.cells) == 0 {
		return nil, false
	}
	return p.cells[0].Key, true
}

// MaxKey returns the largest key in the page.
func (p *Page) MaxKey() ([]byte, bool) {
	if len(p.cells) == 0 {
		return nil, false
	}
	return p.cells[len(p.cells)-1].Key, true
}

// FindByChild linear-scans a Key page for the cell pointing at child,
// used by the B+Tree to relocate a cell whose key is being promoted.
func (p *Page) FindByChild(child uint32) (Cell, int, bool) {
	for i, c := range p.cells {
		if c.Child == child {
			return c, i, true
		}
	}
	return Cell{}, -1, false
}

// MedianKey returns the key at the midpoint, used to decide a split
// point.
func (p *Page) MedianKey() ([]byte, bool) {
	if len(p.cells) == 0 {
		return nil, false
	}
	return p.cells[len(p.cells)/2].Key, true
}

// Encode serializes the page into a buffer of exactly pageSize bytes.
func (p *Page) Encode() []byte {
	buf := make([]byte, p.pageSize)
	copy(buf[0:8], magic)
	binary.BigEndian.PutUint32(buf[8:12], p.pageID)
	binary.BigEndian.PutUint32(buf[12:16], p.leftSibling)
	binary.BigEndian.PutUint32(buf[16:20], p.rightSibling)
	binary.BigEndian.PutUint32(buf[20:24], p.parent)
	buf[24] = byte(p.pageType)
	binary.BigEndian.PutUint32(buf[25:29], uint32(len(p.cells)))

	heapEnd := p.pageSize
	slotBase := HeaderSize
	for i, c := range p.cells {
		raw := encodeCell(p.pageType, c)
		heapEnd -= len(raw)
		copy(buf[heapEnd:heapEnd+len(raw)], raw)
		binary.BigEndian.PutUint64(buf[slotBase+i*slotSize:slotBase+i*slotSize+8], uint64(heapEnd))
	}
	return buf
}

// Decode parses buf (exactly pageSize bytes) into a Page.
func Decode(buf []byte) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: page buffer too small"))
	}
	if !bytes.Equal(buf[0:8], magic) {
		return nil, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: bad page magic"))
	}
	p := &Page{pageSize: len(buf)}
	p.pageID = binary.BigEndian.Uint32(buf[8:12])
	p.leftSibling = binary.BigEndian.Uint32(buf[12:16])
	p.rightSibling = binary.BigEndian.Uint32(buf[16:20])
	p.parent = binary.BigEndian.Uint32(buf[20:24])
	p.pageType = PageType(buf[24])
	count := binary.BigEndian.Uint32(buf[25:29])

	slotBase := HeaderSize
	cells := make([]Cell, 0, count)
	for i := uint32(0); i < count; i++ {
		off := int(binary.BigEndian.Uint64(buf[slotBase+int(i)*slotSize : slotBase+int(i)*slotSize+8]))
		if off < 0 || off >= len(buf) {
			return nil, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: slot %d offset %d out of range", i, off))
		}
		cell, err := decodeCell(p.pageType, buf[off:])
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool { return bytes.Compare(cells[i].Key, cells[j].Key) < 0 })
	p.cells = cells
	return p, nil
}
