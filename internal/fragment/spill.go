package fragment

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
)

// spillBacking starts in memory and moves to a scratch file when the
// fragment would exceed threshold bytes.
type spillBacking struct {
	dir       string
	id        ID
	threshold int64
	mem       bytes.Buffer
	file      *fileBacking
	removed   bool
}

func newSpillBacking(dir string, id ID, threshold int64) *spillBacking {
	return &spillBacking{dir: dir, id: id, threshold: threshold}
}

func (s *spillBacking) Write(p []byte) (int, error) {
	if s.removed {
		return 0, fs.ErrClosed
	}
	if s.file == nil && int64(s.mem.Len())+int64(len(p)) > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	if s.file != nil {
		return s.file.Write(p)
	}
	return s.mem.Write(p)
}

func (s *spillBacking) spill() error {
	file, err := newFileBacking(s.dir, s.id)
	if err != nil {
		return fmt.Errorf("spill to disk: %w", err)
	}
	if _, err := file.Write(s.mem.Bytes()); err != nil {
		_ = file.Remove()
		return fmt.Errorf("spill to disk: %w", err)
	}
	s.file = file
	s.mem = bytes.Buffer{}
	return nil
}

func (s *spillBacking) Finalize() (io.ReadCloser, error) {
	if s.removed {
		return nil, fmt.Errorf("spill buffer released: %w", fs.ErrNotExist)
	}
	if s.file != nil {
		return s.file.Finalize()
	}
	return io.NopCloser(bytes.NewReader(s.mem.Bytes())), nil
}

func (s *spillBacking) Seal() error {
	if s.file != nil {
		return s.file.Seal()
	}
	return nil
}

func (s *spillBacking) Remove() error {
	if s.file != nil {
		if err := s.file.Remove(); err != nil {
			return err
		}
	}
	s.mem = bytes.Buffer{}
	s.removed = true
	return nil
}

func (s *spillBacking) Size() int64 {
	if s.file != nil {
		return s.file.Size()
	}
	return int64(s.mem.Len())
}

func (s *spillBacking) Location() string {
	if s.file != nil {
		return s.file.path
	}
	return ""
}
