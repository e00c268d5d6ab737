package fragment

import (
	"fmt"
	"io"
	"strings"
)

// Backing stores the bytes of one fragment until Combine reads them back.
type Backing interface {
	// Write appends to the fragment.
	Write(p []byte) (int, error)
	// Finalize ends the write side and returns the content in write order.
	// A backing whose storage vanished reports an error here.
	Finalize() (io.ReadCloser, error)
	// Seal ends the write side without reading back, so that content kept
	// on disk is complete. Sealing twice is not an error.
	Seal() error
	// Remove releases the storage. Removing twice, or removing storage that
	// was never materialized, is not an error.
	Remove() error
	// Size reports the number of bytes written so far.
	Size() int64
	// Location names the on-disk file, or "" while the content is in memory.
	Location() string
}

// Allocator creates the backing for a newly opened fragment.
type Allocator func(id ID) (Backing, error)

// BackingKind selects the built-in Backing implementation.
type BackingKind uint8

const (
	// BackingSpill buffers in memory and moves to a scratch file once the
	// fragment grows past Config.SpillThreshold.
	BackingSpill BackingKind = iota
	// BackingMemory keeps every fragment in memory.
	BackingMemory
	// BackingFile writes every fragment to its own scratch file.
	BackingFile
)

// DefaultSpillThreshold is used when Config.SpillThreshold is zero.
const DefaultSpillThreshold int64 = 64 << 10

// String returns the string representation of BackingKind.
func (k BackingKind) String() string {
	switch k {
	case BackingSpill:
		return "spill"
	case BackingMemory:
		return "memory"
	case BackingFile:
		return "file"
	default:
		return "unknown"
	}
}

// ParseBackingKind converts a string to BackingKind.
func ParseBackingKind(s string) (BackingKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spill":
		return BackingSpill, nil
	case "memory", "mem":
		return BackingMemory, nil
	case "file", "disk":
		return BackingFile, nil
	default:
		return BackingSpill, fmt.Errorf("invalid backing: %q (expected: spill|memory|file)", s)
	}
}

// allocator returns the Allocator for the built-in kinds.
func (k BackingKind) allocator(dir string, threshold int64) Allocator {
	switch k {
	case BackingMemory:
		return func(ID) (Backing, error) { return newMemoryBacking(), nil }
	case BackingFile:
		return func(id ID) (Backing, error) { return newFileBacking(dir, id) }
	default:
		if threshold <= 0 {
			threshold = DefaultSpillThreshold
		}
		return func(id ID) (Backing, error) { return newSpillBacking(dir, id, threshold), nil }
	}
}
