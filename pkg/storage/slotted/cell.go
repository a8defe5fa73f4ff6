package slotted

import (
	"encoding/binary"
	"fmt"

	"github.com/weaverdb/weaver/pkg/kind"
)

// PageType distinguishes internal (Key) pages from leaf (KeyValue)
// pages, per spec §3.
type PageType uint8

const (
	KeyPage      PageType = 1
	KeyValuePage PageType = 2
)

// Cell is the variant stored inside a slotted page: a KeyCell
// (internal B+Tree entry) or a KeyValueCell (leaf entry).
type Cell struct {
	Key     []byte
	Child   uint32 // KeyCell only
	Value   []byte // KeyValueCell only
	Flags   uint8  // KeyValueCell only
}

// encodeKeyCell writes {u32 key_size, u32 child_page_id, key_bytes}.
func encodeKeyCell(c Cell) []byte {
	buf := make([]byte, 4+4+len(c.Key))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(c.Key)))
	binary.BigEndian.PutUint32(buf[4:8], c.Child)
	copy(buf[8:], c.Key)
	return buf
}

func decodeKeyCell(buf []byte) (Cell, error) {
	if len(buf) < 8 {
		return Cell{}, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: key cell truncated"))
	}
	ksz := binary.BigEndian.Uint32(buf[0:4])
	child := binary.BigEndian.Uint32(buf[4:8])
	if int(8+ksz) > len(buf) {
		return Cell{}, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: key cell key_size %d exceeds buffer", ksz))
	}
	key := make([]byte, ksz)
	copy(key, buf[8:8+ksz])
	return Cell{Key: key, Child: child}, nil
}

// encodeKeyValueCell writes {u8 flags, u32 key_size, u32 value_size,
// key_bytes, value_bytes}.
func encodeKeyValueCell(c Cell) []byte {
	buf := make([]byte, 1+4+4+len(c.Key)+len(c.Value))
	buf[0] = c.Flags
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(c.Key)))
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(c.Value)))
	copy(buf[9:9+len(c.Key)], c.Key)
	copy(buf[9+len(c.Key):], c.Value)
	return buf
}

func decodeKeyValueCell(buf []byte) (Cell, error) {
	if len(buf) < 9 {
		return Cell{}, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: key-value cell truncated"))
	}
	flags := buf[0]
	ksz := binary.BigEndian.Uint32(buf[1:5])
	vsz := binary.BigEndian.Uint32(buf[5:9])
	if int(9+ksz+vsz) > len(buf) {
		return Cell{}, kind.Wrap(kind.ReadData, fmt.Errorf("slotted: key-value cell sizes exceed buffer"))
	}
	key := make([]byte, ksz)
	copy(key, buf[9:9+ksz])
	val := make([]byte, vsz)
	copy(val, buf[9+ksz:9+ksz+vsz])
	return Cell{Key: key, Value: val, Flags: flags}, nil
}

func encodeCell(t PageType, c Cell) []byte {
	if t == KeyPage {
		return encodeKeyCell(c)
	}
	return encodeKeyValueCell(c)
}

func decodeCell(t PageType, buf []byte) (Cell, error) {
	if t == KeyPage {
		return decodeKeyCell(buf)
	}
	return decodeKeyValueCell(buf)
}
