// Package btree implements the ordered key→record index from spec
// §4.6: leaves are KeyValue slotted pages, internals are Key slotted
// pages, linked by sibling and parent pointers maintained across
// splits. The root is rediscovered at Open time by scanning for the
// one page whose Parent() is zero.
package btree

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/log"
	"github.com/weaverdb/weaver/pkg/metrics"
	"github.com/weaverdb/weaver/pkg/storage/slotted"
)

// Entry is a resolved (key, value) pair returned by range scans.
type Entry struct {
	Key   []byte
	Value []byte
}

// Stats tracks lifetime counters, mirroring the atomic-counter style
// used throughout the paged stack.
type Stats struct {
	Splits atomic.Int64
	Inserts atomic.Int64
}

// Tree is a concurrent B+Tree over a slotted.Pager.
type Tree struct {
	mu     sync.RWMutex
	pager  *slotted.Pager
	rootID uint32
	name   string
	Stats  Stats
}

// Open rediscovers (or starts, if the pager is empty) the tree's root.
func Open(name string, pager *slotted.Pager) (*Tree, error) {
	t := &Tree{pager: pager, name: name}
	for _, id := range pager.IDs() {
		page, err := pager.Get(id)
		if err != nil {
			return nil, err
		}
		if page.Parent() == 0 {
			t.rootID = id
			break
		}
	}
	return t, nil
}

// Insert stores value under key, splitting pages as needed.
func (t *Tree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootID == 0 {
		leaf, err := t.pager.NewWithType(slotted.KeyValuePage)
		if err != nil {
			return err
		}
		t.rootID = leaf.PageID()
	}

	leafID, path, err := t.descend(key)
	if err != nil {
		return err
	}
	if err := t.insertIntoLeaf(leafID, slotted.Cell{Key: key, Value: value}, path); err != nil {
		return err
	}
	t.Stats.Inserts.Add(1)
	metrics.RowOperationsTotal.WithLabelValues("", t.name, "insert").Inc()
	return nil
}

// descend walks from the root to the leaf that should contain key,
// recording the internal pages visited (root-to-parent-of-leaf order).
func (t *Tree) descend(key []byte) (leafID uint32, path []uint32, err error) {
	cur := t.rootID
	for {
		page, err := t.pager.Get(cur)
		if err != nil {
			return 0, nil, err
		}
		if page.PageType() == slotted.KeyValuePage {
			return cur, path, nil
		}
		path = append(path, cur)
		cells := page.All()
		if len(cells) == 0 {
			return 0, nil, kind.Wrap(kind.ReadData, fmt.Errorf("btree: internal page %d has no entries", cur))
		}
		idx := sort.Search(len(cells), func(i int) bool { return bytes.Compare(cells[i].Key, key) >= 0 })
		if idx == len(cells) {
			idx = len(cells) - 1 // extend the range: key exceeds every entry
		}
		cur = cells[idx].Child
	}
}

// insertIntoLeaf inserts cell into the leaf, splitting (and cascading
// splits up path) as needed, then fixes up ancestor key promotions.
func (t *Tree) insertIntoLeaf(leafID uint32, cell slotted.Cell, path []uint32) error {
	leaf, err := t.pager.Get(leafID)
	if err != nil {
		return err
	}
	if err := leaf.Insert(cell); err != nil {
		if !errors.Is(err, slotted.ErrAllocationFailed) {
			return err
		}
		newLeafID, err := t.split(leafID, path)
		if err != nil {
			return err
		}
		// Re-resolve which half now owns the key.
		newLeaf, err := t.pager.Get(newLeafID)
		if err != nil {
			return err
		}
		target := leafID
		if maxKey, ok := newLeaf.MaxKey(); ok && bytes.Compare(cell.Key, maxKey) <= 0 {
			target = newLeafID
		}
		return t.insertIntoLeaf(target, cell, path)
	}
	if err := t.pager.Save(leaf); err != nil {
		return err
	}
	return t.fixupAncestors(path, leafID)
}

// split divides page pageID in two: cells up to and including the
// median move into a new "lower" page threaded in as its left
// sibling. path is the chain of ancestors above pageID, used to locate
// (and, if necessary, split) its parent.
func (t *Tree) split(pageID uint32, path []uint32) (uint32, error) {
	page, err := t.pager.Get(pageID)
	if err != nil {
		return 0, err
	}
	median, ok := page.MedianKey()
	if !ok {
		return 0, kind.Wrap(kind.WriteData, fmt.Errorf("btree: cannot split empty page %d", pageID))
	}
	lowerCells := page.Drain(nil, median)
	if len(lowerCells) == 0 {
		return 0, kind.Wrap(kind.WriteData, fmt.Errorf("btree: split produced empty lower half for page %d", pageID))
	}

	newPage, err := t.pager.NewWithType(page.PageType())
	if err != nil {
		return 0, err
	}
	for _, c := range lowerCells {
		if err := newPage.Insert(c); err != nil {
			return 0, kind.Wrap(kind.WriteData, fmt.Errorf("btree: lower half of split page %d overflowed: %w", pageID, err))
		}
	}

	oldLeft := page.LeftSibling()
	newPage.SetLeftSibling(oldLeft)
	newPage.SetRightSibling(pageID)
	page.SetLeftSibling(newPage.PageID())
	if oldLeft != 0 {
		leftPage, err := t.pager.Get(oldLeft)
		if err != nil {
			return 0, err
		}
		leftPage.SetRightSibling(newPage.PageID())
		if err := t.pager.Save(leftPage); err != nil {
			return 0, err
		}
	}
	newPage.SetParent(page.Parent())

	if err := t.pager.Save(page); err != nil {
		return 0, err
	}
	if err := t.pager.Save(newPage); err != nil {
		return 0, err
	}

	lowerMax, _ := newPage.MaxKey()
	upperMax, _ := page.MaxKey()

	if page.Parent() == 0 {
		root, err := t.pager.NewWithType(slotted.KeyPage)
		if err != nil {
			return 0, err
		}
		t.rootID = root.PageID()
		page.SetParent(t.rootID)
		newPage.SetParent(t.rootID)
		if err := root.Insert(slotted.Cell{Key: lowerMax, Child: newPage.PageID()}); err != nil {
			return 0, err
		}
		if err := root.Insert(slotted.Cell{Key: upperMax, Child: page.PageID()}); err != nil {
			return 0, err
		}
		if err := t.pager.Save(root); err != nil {
			return 0, err
		}
		if err := t.pager.Save(page); err != nil {
			return 0, err
		}
		if err := t.pager.Save(newPage); err != nil {
			return 0, err
		}
	} else {
		parentID := page.Parent()
		parent, err := t.pager.Get(parentID)
		if err != nil {
			return 0, err
		}
		if err := parent.Insert(slotted.Cell{Key: lowerMax, Child: newPage.PageID()}); err != nil {
			if !errors.Is(err, slotted.ErrAllocationFailed) {
				return 0, err
			}
			grandparentPath := parentPathWithout(path, parentID)
			if _, err := t.split(parentID, grandparentPath); err != nil {
				return 0, err
			}
			parent, err = t.pager.Get(newPage.Parent())
			if err != nil {
				return 0, err
			}
			if err := parent.Insert(slotted.Cell{Key: lowerMax, Child: newPage.PageID()}); err != nil {
				return 0, err
			}
		}
		if err := t.pager.Save(parent); err != nil {
			return 0, err
		}
	}

	t.Stats.Splits.Add(1)
	metrics.BTreeSplitsTotal.WithLabelValues(pageTypeLabel(page.PageType())).Inc()
	log.WithComponent("btree").Info().Str("tree", t.name).Uint32("page", pageID).Msg("page split")
	return newPage.PageID(), nil
}

func pageTypeLabel(t slotted.PageType) string {
	if t == slotted.KeyPage {
		return "key"
	}
	return "key_value"
}

// parentPathWithout returns the prefix of path before parentID, i.e.
// the ancestor chain above parentID.
func parentPathWithout(path []uint32, parentID uint32) []uint32 {
	for i, id := range path {
		if id == parentID {
			return path[:i]
		}
	}
	return nil
}

// fixupAncestors re-establishes "each key cell equals its child's
// maximum key" after a leaf mutation, per the "extend the range"
// policy in spec §4.6.
func (t *Tree) fixupAncestors(path []uint32, childID uint32) error {
	child, err := t.pager.Get(childID)
	if err != nil {
		return err
	}
	newMax, ok := child.MaxKey()
	if !ok {
		return nil
	}
	for i := len(path) - 1; i >= 0; i-- {
		parent, err := t.pager.Get(path[i])
		if err != nil {
			return err
		}
		cell, _, found := parent.FindByChild(childID)
		if !found {
			return kind.Wrap(kind.ReadData, fmt.Errorf("btree: parent %d has no entry for child %d", path[i], childID))
		}
		if bytes.Equal(cell.Key, newMax) {
			return nil // already consistent; ancestors above are too
		}
		parent.Delete(cell.Key)
		if err := parent.Insert(slotted.Cell{Key: newMax, Child: childID}); err != nil {
			return err
		}
		if err := t.pager.Save(parent); err != nil {
			return err
		}
		childID = path[i]
		newMax, ok = parent.MaxKey()
		if !ok {
			return nil
		}
	}
	return nil
}

// Get returns the value stored under key, if present.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootID == 0 {
		return nil, false, nil
	}
	leafID, _, err := t.descend(key)
	if err != nil {
		return nil, false, err
	}
	leaf, err := t.pager.Get(leafID)
	if err != nil {
		return nil, false, err
	}
	cell, ok := leaf.Get(key)
	if !ok {
		return nil, false, nil
	}
	return cell.Value, true, nil
}

// Range returns all entries with keys in [lo, hi] (nil bound = open).
func (t *Tree) Range(lo, hi []byte) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rangeLocked(lo, hi)
}

func (t *Tree) rangeLocked(lo, hi []byte) ([]Entry, error) {
	if t.rootID == 0 {
		return nil, nil
	}
	var startLeaf uint32
	if lo != nil {
		id, _, err := t.descend(lo)
		if err != nil {
			return nil, err
		}
		startLeaf = id
	} else {
		id, err := t.leftmostLeaf()
		if err != nil {
			return nil, err
		}
		startLeaf = id
	}

	var out []Entry
	cur := startLeaf
	for cur != 0 {
		page, err := t.pager.Get(cur)
		if err != nil {
			return nil, err
		}
		for _, c := range page.GetRange(lo, hi) {
			out = append(out, Entry{Key: c.Key, Value: c.Value})
		}
		if hi != nil {
			if maxKey, ok := page.MaxKey(); ok && bytes.Compare(maxKey, hi) >= 0 {
				break
			}
		}
		cur = page.RightSibling()
	}
	return out, nil
}

// All returns every entry in ascending key order.
func (t *Tree) All() ([]Entry, error) {
	return t.Range(nil, nil)
}

func (t *Tree) leftmostLeaf() (uint32, error) {
	cur := t.rootID
	for {
		page, err := t.pager.Get(cur)
		if err != nil {
			return 0, err
		}
		if page.PageType() == slotted.KeyValuePage {
			return cur, nil
		}
		cells := page.All()
		if len(cells) == 0 {
			return 0, kind.Wrap(kind.ReadData, fmt.Errorf("btree: internal page %d has no entries", cur))
		}
		cur = cells[0].Child
	}
}

// MinKey returns the smallest key in the tree.
func (t *Tree) MinKey() ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootID == 0 {
		return nil, false, nil
	}
	id, err := t.leftmostLeaf()
	if err != nil {
		return nil, false, err
	}
	page, err := t.pager.Get(id)
	if err != nil {
		return nil, false, err
	}
	k, ok := page.MinKey()
	return k, ok, nil
}

// MaxKey returns the largest key in the tree.
func (t *Tree) MaxKey() ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootID == 0 {
		return nil, false, nil
	}
	cur := t.rootID
	for {
		page, err := t.pager.Get(cur)
		if err != nil {
			return nil, false, err
		}
		if page.PageType() == slotted.KeyValuePage {
			k, ok := page.MaxKey()
			return k, ok, nil
		}
		cells := page.All()
		if len(cells) == 0 {
			return nil, false, kind.Wrap(kind.ReadData, fmt.Errorf("btree: internal page %d has no entries", cur))
		}
		cur = cells[len(cells)-1].Child
	}
}

// Count returns the number of entries with keys in [lo, hi].
func (t *Tree) Count(lo, hi []byte) (int, error) {
	entries, err := t.Range(lo, hi)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Delete removes the entry under key, reporting whether it existed.
func (t *Tree) Delete(key []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rootID == 0 {
		return false, nil
	}
	leafID, path, err := t.descend(key)
	if err != nil {
		return false, err
	}
	leaf, err := t.pager.Get(leafID)
	if err != nil {
		return false, err
	}
	if !leaf.Delete(key) {
		return false, nil
	}
	if err := t.pager.Save(leaf); err != nil {
		return false, err
	}
	if err := t.fixupAncestors(path, leafID); err != nil {
		return false, err
	}
	metrics.RowOperationsTotal.WithLabelValues("", t.name, "delete").Inc()
	return true, nil
}

// VerifyIntegrity checks the invariants from spec §4.6; intended for
// use in debug builds and tests, not the hot path.
func (t *Tree) VerifyIntegrity() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootID == 0 {
		return nil
	}
	return t.verifyNode(t.rootID)
}

func (t *Tree) verifyNode(id uint32) error {
	page, err := t.pager.Get(id)
	if err != nil {
		return err
	}
	if page.PageType() == slotted.KeyValuePage {
		if page.Count() == 0 {
			return nil
		}
		left := page.LeftSibling()
		right := page.RightSibling()
		if left != 0 {
			lp, err := t.pager.Get(left)
			if err != nil {
				return err
			}
			if lp.RightSibling() != id {
				return kind.Wrap(kind.ReadData, fmt.Errorf("btree: sibling chain broken at %d<->%d", left, id))
			}
		}
		if right != 0 {
			rp, err := t.pager.Get(right)
			if err != nil {
				return err
			}
			if rp.LeftSibling() != id {
				return kind.Wrap(kind.ReadData, fmt.Errorf("btree: sibling chain broken at %d<->%d", id, right))
			}
		}
		return nil
	}
	for _, c := range page.All() {
		child, err := t.pager.Get(c.Child)
		if err != nil {
			return err
		}
		childMax, ok := child.MaxKey()
		if !ok {
			continue
		}
		if !bytes.Equal(childMax, c.Key) {
			return kind.Wrap(kind.ReadData, fmt.Errorf("btree: internal page %d entry for child %d has key %x, child max is %x", id, c.Child, c.Key, childMax))
		}
		if err := t.verifyNode(c.Child); err != nil {
			return err
		}
	}
	return nil
}
