package fragment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// fileBacking keeps a fragment in its own scratch file.
type fileBacking struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	size    int64
	closed  bool
	removed bool
}

func newFileBacking(dir string, id ID) (*fileBacking, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("frag-%d-*.part", id))
	if err != nil {
		return nil, err
	}
	return &fileBacking{
		path: f.Name(),
		f:    f,
		w:    bufio.NewWriter(f),
	}, nil
}

func (b *fileBacking) Write(p []byte) (int, error) {
	if b.closed {
		return 0, fs.ErrClosed
	}
	n, err := b.w.Write(p)
	b.size += int64(n)
	return n, err
}

// closeWrite flushes buffered bytes and closes the write handle once.
func (b *fileBacking) closeWrite() error {
	if b.closed {
		return nil
	}
	b.closed = true
	flushErr := b.w.Flush()
	closeErr := b.f.Close()
	return errors.Join(flushErr, closeErr)
}

func (b *fileBacking) Finalize() (io.ReadCloser, error) {
	if b.removed {
		return nil, fmt.Errorf("%s: %w", b.path, fs.ErrNotExist)
	}
	if err := b.closeWrite(); err != nil {
		return nil, err
	}
	// #nosec G304 -- path was produced by os.CreateTemp above
	return os.Open(b.path)
}

func (b *fileBacking) Seal() error {
	if b.removed {
		return nil
	}
	return b.closeWrite()
}

func (b *fileBacking) Remove() error {
	if b.removed {
		return nil
	}
	// A failed flush is irrelevant once the file is going away.
	_ = b.closeWrite()
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	b.removed = true
	return nil
}

func (b *fileBacking) Size() int64 {
	return b.size
}

func (b *fileBacking) Location() string {
	return b.path
}
