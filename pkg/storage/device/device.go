// Package device provides the BlockDevice abstraction the pager is
// built on: a fixed-size addressable byte store with explicit flush
// and sync points, per spec §2. The pager never talks to an *os.File
// or a byte slice directly — it only ever talks to a BlockDevice, so
// tests can swap in Memory without touching disk.
package device

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/weaverdb/weaver/pkg/kind"
)

// BlockDevice is a random-access byte store of a known, growable
// length. Offsets and lengths are in bytes; callers at the pager layer
// translate page indices to byte offsets.
type BlockDevice interface {
	// ReadAt reads len(buf) bytes starting at off. It returns an error
	// if fewer than len(buf) bytes are available.
	ReadAt(buf []byte, off int64) error

	// WriteAt writes buf at off, growing the device if necessary.
	WriteAt(buf []byte, off int64) error

	// Len reports the current device length in bytes.
	Len() (int64, error)

	// SetLen grows or truncates the device to exactly n bytes.
	SetLen(n int64) error

	// Flush pushes buffered writes to the underlying medium without
	// necessarily forcing them to stable storage.
	Flush() error

	// Sync forces all writes to stable storage.
	Sync() error

	// Close releases any resources held by the device.
	Close() error
}

// File is a BlockDevice backed by an *os.File.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFile opens or creates path as a File-backed BlockDevice.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, kind.Wrap(kind.IO, fmt.Errorf("device: open %s: %w", path, err))
	}
	return &File{f: f}, nil
}

func (d *File) ReadAt(buf []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		return kind.Wrap(kind.IO, fmt.Errorf("device: short read at %d: got %d want %d", off, n, len(buf)))
	}
	return kind.Wrap(kind.IO, fmt.Errorf("device: read at %d: %w", off, err))
}

func (d *File) WriteAt(buf []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(buf, off); err != nil {
		return kind.Wrap(kind.IO, fmt.Errorf("device: write at %d: %w", off, err))
	}
	return nil
}

func (d *File) Len() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, err := d.f.Stat()
	if err != nil {
		return 0, kind.Wrap(kind.IO, fmt.Errorf("device: stat: %w", err))
	}
	return info.Size(), nil
}

func (d *File) SetLen(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Truncate(n); err != nil {
		return kind.Wrap(kind.IO, fmt.Errorf("device: truncate to %d: %w", n, err))
	}
	return nil
}

func (d *File) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return nil
}

func (d *File) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		return kind.Wrap(kind.IO, fmt.Errorf("device: sync: %w", err))
	}
	return nil
}

func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// Memory is a BlockDevice backed entirely by an in-memory byte slice.
// It exists for tests and for in-process (non-durable) engine
// instances; see spec §2's "pluggable BlockDevice" requirement.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an empty in-memory BlockDevice.
func NewMemory() *Memory { return &Memory{} }

func (d *Memory) ReadAt(buf []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off+int64(len(buf)) > int64(len(d.data)) {
		return kind.Wrap(kind.IO, fmt.Errorf("device: read out of range at %d len %d (size %d)", off, len(buf), len(d.data)))
	}
	copy(buf, d.data[off:off+int64(len(buf))])
	return nil
}

func (d *Memory) WriteAt(buf []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := off + int64(len(buf))
	if end > int64(len(d.data)) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	copy(d.data[off:end], buf)
	return nil
}

func (d *Memory) Len() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data)), nil
}

func (d *Memory) SetLen(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 {
		return kind.Wrap(kind.IO, fmt.Errorf("device: negative length %d", n))
	}
	if n <= int64(len(d.data)) {
		d.data = d.data[:n]
		return nil
	}
	grown := make([]byte, n)
	copy(grown, d.data)
	d.data = grown
	return nil
}

func (d *Memory) Flush() error { return nil }
func (d *Memory) Sync() error  { return nil }
func (d *Memory) Close() error { return nil }
