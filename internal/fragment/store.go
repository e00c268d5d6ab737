package fragment

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"go.uber.org/multierr"

	"stitch/internal/trace"
)

const copyBufferSize = 32 << 10

// Config controls how a Store backs its fragments.
type Config struct {
	Backing        BackingKind  // built-in backing, ignored when Allocate is set
	Dir            string       // scratch directory for file and spill backings
	SpillThreshold int64        // 0 selects DefaultSpillThreshold
	Allocate       Allocator    // custom backing factory
	Tracer         trace.Tracer // nil disables tracing
	Span           uint64       // parent span for emitted events
}

// Stats summarizes a completed Combine.
type Stats struct {
	Fragments int
	Bytes     int64
}

// Store owns the fragments of a single run.
type Store struct {
	cfg      Config
	allocate Allocator
	frags    map[ID]*Fragment
	dest     io.Writer
	sealed   bool // Combine has started
	combined bool
	removed  bool
	stats    Stats
}

// NewStore returns an empty store.
func NewStore(cfg Config) *Store {
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop
	}
	allocate := cfg.Allocate
	if allocate == nil {
		allocate = cfg.Backing.allocator(cfg.Dir, cfg.SpillThreshold)
	}
	return &Store{
		cfg:      cfg,
		allocate: allocate,
		frags:    make(map[ID]*Fragment),
	}
}

// Open returns the fragment for id, creating its backing on first use.
// Opening the same id again returns the same *Fragment.
func (s *Store) Open(id ID) (*Fragment, error) {
	if s.removed {
		return nil, misuse("open", "store already cleaned up")
	}
	if f, ok := s.frags[id]; ok {
		return f, nil
	}
	if s.sealed {
		return nil, misuse("open", fmt.Sprintf("fragment %d allocated after combine", id))
	}
	backing, err := s.allocate(id)
	if err != nil {
		return nil, &ResourceError{Op: "create", ID: id, Err: err}
	}
	f := &Fragment{id: id, store: s, backing: backing}
	s.frags[id] = f
	trace.Point(s.cfg.Tracer, trace.ScopeFragment, "fragment.open", fmt.Sprintf("id=%d", id), s.cfg.Span)
	return f, nil
}

// Lookup returns an already allocated fragment without creating one.
func (s *Store) Lookup(id ID) (*Fragment, bool) {
	f, ok := s.frags[id]
	return f, ok
}

// IDs returns the allocated ids in ascending order.
func (s *Store) IDs() []ID {
	return slices.Sorted(maps.Keys(s.frags))
}

// Len returns the number of allocated fragments.
func (s *Store) Len() int {
	return len(s.frags)
}

// SetDestination binds the writer Combine copies into. The store never
// closes it. Binding twice is a *MisuseError.
func (s *Store) SetDestination(w io.Writer) error {
	if w == nil {
		return misuse("set destination", "nil writer")
	}
	if s.dest != nil {
		return misuse("set destination", "destination already set")
	}
	s.dest = w
	return nil
}

// Combine copies every fragment into the destination in ascending id
// order. Fragments that were opened but never written contribute nothing.
// On *AssemblyError the destination keeps the fragments copied so far.
func (s *Store) Combine() error {
	switch {
	case s.removed:
		return misuse("combine", "store already cleaned up")
	case s.sealed:
		return misuse("combine", "already combined")
	case s.dest == nil:
		return misuse("combine", "no destination set")
	}
	s.sealed = true

	var stats Stats
	buf := make([]byte, copyBufferSize)
	for _, id := range s.IDs() {
		f := s.frags[id]
		n, err := s.drain(f, buf)
		if err != nil {
			return &AssemblyError{ID: id, Err: err}
		}
		f.state = StateCombined
		stats.Fragments++
		stats.Bytes += n
		trace.Point(s.cfg.Tracer, trace.ScopeFragment, "fragment.combine", fmt.Sprintf("id=%d bytes=%d", id, n), s.cfg.Span)
	}
	s.stats = stats
	s.combined = true
	return nil
}

func (s *Store) drain(f *Fragment, buf []byte) (int64, error) {
	r, err := f.backing.Finalize()
	if err != nil {
		return 0, err
	}
	f.state = StateFinalized
	n, copyErr := io.CopyBuffer(s.dest, r, buf)
	closeErr := r.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}

// Combined reports whether Combine completed successfully.
func (s *Store) Combined() bool {
	return s.combined
}

// Stats returns what the last successful Combine wrote; it stays zero when
// Combine failed.
func (s *Store) Stats() Stats {
	return s.stats
}

// Seal ends writing for good: every fragment not yet read back by Combine
// has its buffered bytes flushed and its write handle closed, so scratch
// files hold exactly what Size reports. Runs that keep their intermediates
// call it instead of RemoveFiles. Every fragment is attempted and failures
// are reported together.
func (s *Store) Seal() error {
	if s.removed {
		return misuse("seal", "store already cleaned up")
	}
	s.sealed = true
	var err error
	for _, id := range s.IDs() {
		f := s.frags[id]
		if f.state != StateOpen {
			continue
		}
		if sealErr := f.backing.Seal(); sealErr != nil {
			err = multierr.Append(err, &ResourceError{Op: "seal", ID: id, Err: sealErr})
			continue
		}
		f.state = StateFinalized
	}
	return err
}

// RemoveFiles releases the backing of every fragment ever allocated,
// whatever its state. It is safe to call on every exit path and more than
// once; every removal is attempted and failures are reported together.
func (s *Store) RemoveFiles() error {
	var err error
	for _, id := range s.IDs() {
		f := s.frags[id]
		if f.state == StateRemoved {
			continue
		}
		if rmErr := f.backing.Remove(); rmErr != nil {
			err = multierr.Append(err, &ResourceError{Op: "remove", ID: id, Err: rmErr})
			continue
		}
		f.state = StateRemoved
		trace.Point(s.cfg.Tracer, trace.ScopeFragment, "fragment.remove", fmt.Sprintf("id=%d", id), s.cfg.Span)
	}
	s.removed = true
	return err
}
