package fragment

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
)

// memoryBacking keeps a fragment in a growable buffer.
type memoryBacking struct {
	buf     bytes.Buffer
	removed bool
}

func newMemoryBacking() *memoryBacking {
	return &memoryBacking{}
}

func (m *memoryBacking) Write(p []byte) (int, error) {
	if m.removed {
		return 0, fs.ErrClosed
	}
	return m.buf.Write(p)
}

func (m *memoryBacking) Finalize() (io.ReadCloser, error) {
	if m.removed {
		return nil, fmt.Errorf("memory buffer released: %w", fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(m.buf.Bytes())), nil
}

func (m *memoryBacking) Seal() error { return nil }

func (m *memoryBacking) Remove() error {
	m.buf = bytes.Buffer{}
	m.removed = true
	return nil
}

func (m *memoryBacking) Size() int64 {
	return int64(m.buf.Len())
}

func (m *memoryBacking) Location() string {
	return ""
}
