package fragment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"testing"
)

var allBackings = []BackingKind{BackingMemory, BackingFile, BackingSpill}

func newTestStore(t *testing.T, kind BackingKind) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(Config{Backing: kind, Dir: dir, SpillThreshold: 4}), dir
}

func write(t *testing.T, s *Store, id ID, text string) {
	t.Helper()
	f, err := s.Open(id)
	if err != nil {
		t.Fatalf("Open(%d): %v", id, err)
	}
	if text == "" {
		return
	}
	if _, err := io.WriteString(f, text); err != nil {
		t.Fatalf("write fragment %d: %v", id, err)
	}
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	return len(entries)
}

func TestCombine_OrdersByID(t *testing.T) {
	for _, kind := range allBackings {
		t.Run(kind.String(), func(t *testing.T) {
			s, _ := newTestStore(t, kind)
			defer s.RemoveFiles()

			write(t, s, 2, "B")
			write(t, s, 0, "A")
			write(t, s, 1, "")

			var out bytes.Buffer
			if err := s.SetDestination(&out); err != nil {
				t.Fatalf("SetDestination: %v", err)
			}
			if err := s.Combine(); err != nil {
				t.Fatalf("Combine: %v", err)
			}
			if got := out.String(); got != "AB" {
				t.Fatalf("output = %q, want %q", got, "AB")
			}
			stats := s.Stats()
			if stats.Fragments != 3 || stats.Bytes != 2 {
				t.Fatalf("stats = %+v, want 3 fragments / 2 bytes", stats)
			}
			for _, id := range s.IDs() {
				f, _ := s.Lookup(id)
				if f.State() != StateCombined {
					t.Fatalf("fragment %d state = %s, want combined", id, f.State())
				}
			}
		})
	}
}

func TestOpen_ReturnsSameFragment(t *testing.T) {
	for _, kind := range allBackings {
		t.Run(kind.String(), func(t *testing.T) {
			s, _ := newTestStore(t, kind)
			defer s.RemoveFiles()

			first, err := s.Open(7)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			second, err := s.Open(7)
			if err != nil {
				t.Fatalf("Open again: %v", err)
			}
			if first != second {
				t.Fatal("expected the same fragment for a repeated id")
			}
			if s.Len() != 1 {
				t.Fatalf("Len() = %d, want 1", s.Len())
			}

			_, _ = first.WriteString("forward ")
			_, _ = second.WriteString("decls")

			var out bytes.Buffer
			_ = s.SetDestination(&out)
			if err := s.Combine(); err != nil {
				t.Fatalf("Combine: %v", err)
			}
			if out.String() != "forward decls" {
				t.Fatalf("output = %q", out.String())
			}
		})
	}
}

func TestCombine_EmptyFragmentsKeepOrder(t *testing.T) {
	s, _ := newTestStore(t, BackingSpill)
	defer s.RemoveFiles()

	write(t, s, 10, "ten")
	write(t, s, 3, "")
	write(t, s, 4, "four|")
	write(t, s, 0, "")
	write(t, s, 1, "one|")

	var out bytes.Buffer
	_ = s.SetDestination(&out)
	if err := s.Combine(); err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if got, want := out.String(), "one|four|ten"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestCombine_RandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 25; round++ {
		kind := allBackings[round%len(allBackings)]
		s, _ := newTestStore(t, kind)

		want := make(map[ID]*strings.Builder)
		for step := 0; step < 60; step++ {
			id := ID(rng.Intn(12))
			chunk := fmt.Sprintf("<%d.%d>", id, step)
			if rng.Intn(4) == 0 {
				chunk = ""
			}
			write(t, s, id, chunk)
			if want[id] == nil {
				want[id] = &strings.Builder{}
			}
			want[id].WriteString(chunk)
		}

		var expected strings.Builder
		for _, id := range s.IDs() {
			expected.WriteString(want[id].String())
		}

		var out bytes.Buffer
		_ = s.SetDestination(&out)
		if err := s.Combine(); err != nil {
			t.Fatalf("round %d: Combine: %v", round, err)
		}
		if out.String() != expected.String() {
			t.Fatalf("round %d (%s): output = %q, want %q", round, kind, out.String(), expected.String())
		}
		if err := s.RemoveFiles(); err != nil {
			t.Fatalf("round %d: RemoveFiles: %v", round, err)
		}
	}
}

func TestCombine_WithoutDestination(t *testing.T) {
	s, dir := newTestStore(t, BackingFile)
	write(t, s, 0, "never copied")

	err := s.Combine()
	var me *MisuseError
	if !errors.As(err, &me) {
		t.Fatalf("Combine() err = %v, want *MisuseError", err)
	}
	if !errors.Is(err, ErrMisuse) {
		t.Fatal("expected errors.Is(err, ErrMisuse)")
	}

	// The failed call must not seal the store.
	f, _ := s.Lookup(0)
	if f.State() != StateOpen {
		t.Fatalf("state = %s, want open", f.State())
	}
	var out bytes.Buffer
	_ = s.SetDestination(&out)
	if err := s.Combine(); err != nil {
		t.Fatalf("Combine after SetDestination: %v", err)
	}
	if out.String() != "never copied" {
		t.Fatalf("output = %q", out.String())
	}
	if err := s.RemoveFiles(); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Fatalf("%d scratch files left", n)
	}
}

func TestMisuse(t *testing.T) {
	s, _ := newTestStore(t, BackingMemory)
	defer s.RemoveFiles()
	write(t, s, 1, "x")

	var out bytes.Buffer
	if err := s.SetDestination(&out); err != nil {
		t.Fatalf("SetDestination: %v", err)
	}
	if err := s.SetDestination(&bytes.Buffer{}); !errors.Is(err, ErrMisuse) {
		t.Fatalf("second SetDestination err = %v, want misuse", err)
	}
	if err := s.Combine(); err != nil {
		t.Fatalf("Combine: %v", err)
	}

	f, err := s.Open(1)
	if err != nil {
		t.Fatalf("reopen after combine: %v", err)
	}
	if _, err := f.WriteString("late"); !errors.Is(err, ErrMisuse) {
		t.Fatalf("write after combine err = %v, want misuse", err)
	}
	if _, err := s.Open(2); !errors.Is(err, ErrMisuse) {
		t.Fatalf("new id after combine err = %v, want misuse", err)
	}
	if err := s.Combine(); !errors.Is(err, ErrMisuse) {
		t.Fatalf("second Combine err = %v, want misuse", err)
	}
	if out.String() != "x" {
		t.Fatalf("output = %q, want %q", out.String(), "x")
	}

	// trailing content goes straight to the destination
	out.WriteString("-trailer")
	if out.String() != "x-trailer" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestSetDestination_Nil(t *testing.T) {
	s := NewStore(Config{Backing: BackingMemory})
	if err := s.SetDestination(nil); !errors.Is(err, ErrMisuse) {
		t.Fatalf("err = %v, want misuse", err)
	}
}

func TestRemoveFiles_Idempotent(t *testing.T) {
	for _, kind := range allBackings {
		t.Run(kind.String(), func(t *testing.T) {
			s, dir := newTestStore(t, kind)
			write(t, s, 0, "first fragment")
			write(t, s, 1, "")
			write(t, s, 2, "third fragment")

			var out bytes.Buffer
			_ = s.SetDestination(&out)
			if err := s.Combine(); err != nil {
				t.Fatalf("Combine: %v", err)
			}
			if err := s.RemoveFiles(); err != nil {
				t.Fatalf("RemoveFiles: %v", err)
			}
			if n := countFiles(t, dir); n != 0 {
				t.Fatalf("%d scratch files left", n)
			}
			for _, id := range s.IDs() {
				f, _ := s.Lookup(id)
				if f.State() != StateRemoved {
					t.Fatalf("fragment %d state = %s, want removed", id, f.State())
				}
			}
			if err := s.RemoveFiles(); err != nil {
				t.Fatalf("second RemoveFiles: %v", err)
			}
			if _, err := s.Open(9); !errors.Is(err, ErrMisuse) {
				t.Fatalf("Open after cleanup err = %v, want misuse", err)
			}
		})
	}
}

func TestRemoveFiles_BeforeCombine(t *testing.T) {
	s, dir := newTestStore(t, BackingFile)
	write(t, s, 3, "abandoned")
	write(t, s, 1, "")
	if n := countFiles(t, dir); n != 2 {
		t.Fatalf("expected 2 scratch files, got %d", n)
	}
	if err := s.RemoveFiles(); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Fatalf("%d scratch files left", n)
	}
	if err := s.Combine(); !errors.Is(err, ErrMisuse) {
		t.Fatalf("Combine after cleanup err = %v, want misuse", err)
	}
}

func TestRemoveFiles_MissingFileIsNotAnError(t *testing.T) {
	s, _ := newTestStore(t, BackingFile)
	write(t, s, 0, "gone")
	f, _ := s.Lookup(0)
	if err := os.Remove(f.Location()); err != nil {
		t.Fatalf("remove scratch file: %v", err)
	}
	if err := s.RemoveFiles(); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
}

func TestOpen_ResourceErrorAbortsRun(t *testing.T) {
	dir := t.TempDir()
	files := BackingFile.allocator(dir, 0)
	s := NewStore(Config{Allocate: func(id ID) (Backing, error) {
		if id == 5 {
			return nil, errors.New("no space left on device")
		}
		return files(id)
	}})

	var out bytes.Buffer
	_ = s.SetDestination(&out)

	var runErr error
	for id := ID(0); id < 8; id++ {
		f, err := s.Open(id)
		if err != nil {
			runErr = err
			break
		}
		_, _ = fmt.Fprintf(f, "fragment %d\n", id)
	}

	var re *ResourceError
	if !errors.As(runErr, &re) {
		t.Fatalf("err = %v, want *ResourceError", runErr)
	}
	if re.ID != 5 || re.Op != "create" {
		t.Fatalf("ResourceError = %+v, want create of fragment 5", re)
	}
	if out.Len() != 0 {
		t.Fatalf("destination received %d bytes", out.Len())
	}
	if n := countFiles(t, dir); n != 5 {
		t.Fatalf("expected 5 scratch files before cleanup, got %d", n)
	}
	if err := s.RemoveFiles(); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Fatalf("%d scratch files left", n)
	}
}

func TestCombine_MissingBackingIsAssemblyError(t *testing.T) {
	s, _ := newTestStore(t, BackingFile)
	defer s.RemoveFiles()

	write(t, s, 0, "kept|")
	write(t, s, 1, "lost")
	write(t, s, 2, "|never reached")

	f, _ := s.Lookup(1)
	if err := os.Remove(f.Location()); err != nil {
		t.Fatalf("remove scratch file: %v", err)
	}

	var out bytes.Buffer
	_ = s.SetDestination(&out)
	err := s.Combine()
	var ae *AssemblyError
	if !errors.As(err, &ae) {
		t.Fatalf("Combine err = %v, want *AssemblyError", err)
	}
	if ae.ID != 1 {
		t.Fatalf("AssemblyError.ID = %d, want 1", ae.ID)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected the cause to be ErrNotExist, got %v", err)
	}
	if out.String() != "kept|" {
		t.Fatalf("output = %q, want earlier fragments only", out.String())
	}
	if s.Combined() {
		t.Fatal("failed combine reported as combined")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCombine_DestinationFailure(t *testing.T) {
	s, _ := newTestStore(t, BackingMemory)
	defer s.RemoveFiles()
	write(t, s, 4, "data")

	_ = s.SetDestination(failingWriter{})
	err := s.Combine()
	if !errors.Is(err, ErrAssembly) {
		t.Fatalf("err = %v, want assembly error", err)
	}
}

func TestSpillBacking_MovesToDisk(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(Config{Backing: BackingSpill, Dir: dir, SpillThreshold: 8})
	defer s.RemoveFiles()

	f, _ := s.Open(0)
	_, _ = f.WriteString("12345678")
	if f.Location() != "" {
		t.Fatalf("spilled at threshold: %s", f.Location())
	}
	_, _ = f.WriteString("9")
	if f.Location() == "" {
		t.Fatal("expected fragment to spill past the threshold")
	}
	if f.Size() != 9 {
		t.Fatalf("Size() = %d, want 9", f.Size())
	}

	var out bytes.Buffer
	_ = s.SetDestination(&out)
	if err := s.Combine(); err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if out.String() != "123456789" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestSpillBacking_SpillFailure(t *testing.T) {
	missing := t.TempDir() + "/does-not-exist"
	s := NewStore(Config{Backing: BackingSpill, Dir: missing, SpillThreshold: 2})
	defer s.RemoveFiles()

	f, err := s.Open(0)
	if err != nil {
		t.Fatalf("Open must not touch disk: %v", err)
	}
	_, err = f.WriteString("too long")
	var re *ResourceError
	if !errors.As(err, &re) || re.Op != "write" {
		t.Fatalf("err = %v, want write ResourceError", err)
	}
}

func TestParseBackingKind(t *testing.T) {
	cases := []struct {
		input string
		want  BackingKind
		ok    bool
	}{
		{"", BackingSpill, true},
		{"spill", BackingSpill, true},
		{"Memory", BackingMemory, true},
		{"file", BackingFile, true},
		{"disk", BackingFile, true},
		{"tape", BackingSpill, false},
	}
	for _, tc := range cases {
		got, err := ParseBackingKind(tc.input)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseBackingKind(%q) error = %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("ParseBackingKind(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestStores_AreIndependent(t *testing.T) {
	a := NewStore(Config{Backing: BackingMemory})
	b := NewStore(Config{Backing: BackingMemory})
	write(t, a, 0, "a")
	write(t, b, 0, "b")

	var outA, outB bytes.Buffer
	_ = a.SetDestination(&outA)
	_ = b.SetDestination(&outB)
	if err := a.Combine(); err != nil {
		t.Fatalf("Combine a: %v", err)
	}
	if _, err := b.Open(1); err != nil {
		t.Fatalf("store b sealed by store a: %v", err)
	}
	if err := b.Combine(); err != nil {
		t.Fatalf("Combine b: %v", err)
	}
	if outA.String() != "a" || outB.String() != "b" {
		t.Fatalf("outputs = %q, %q", outA.String(), outB.String())
	}
}

func TestSeal_FlushesUncombinedFragments(t *testing.T) {
	for _, kind := range []BackingKind{BackingFile, BackingSpill} {
		t.Run(kind.String(), func(t *testing.T) {
			s, _ := newTestStore(t, kind)
			defer s.RemoveFiles()

			write(t, s, 0, "forward decls")
			write(t, s, 1, "")
			if err := s.Seal(); err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if err := s.Seal(); err != nil {
				t.Fatalf("second Seal: %v", err)
			}
			f, _ := s.Lookup(0)
			if f.State() != StateFinalized {
				t.Fatalf("state = %s, want finalized", f.State())
			}
			data, err := os.ReadFile(f.Location())
			if err != nil {
				t.Fatalf("read scratch file: %v", err)
			}
			if string(data) != "forward decls" || int64(len(data)) != f.Size() {
				t.Fatalf("on disk %q, size %d", data, f.Size())
			}
			if _, err := f.WriteString("late"); !errors.Is(err, ErrMisuse) {
				t.Fatalf("write after Seal err = %v, want misuse", err)
			}
		})
	}
}

func TestSeal_AfterFailedCombine(t *testing.T) {
	s, _ := newTestStore(t, BackingFile)
	defer s.RemoveFiles()

	write(t, s, 0, "kept|")
	write(t, s, 1, "lost")
	write(t, s, 2, "|never reached")
	f1, _ := s.Lookup(1)
	if err := os.Remove(f1.Location()); err != nil {
		t.Fatalf("remove scratch file: %v", err)
	}

	var out bytes.Buffer
	_ = s.SetDestination(&out)
	if err := s.Combine(); !errors.Is(err, ErrAssembly) {
		t.Fatalf("Combine err = %v, want assembly error", err)
	}
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats after failed combine = %+v, want zero", st)
	}
	if err := s.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	for _, e := range s.Entries() {
		if e.Location == "" || e.ID == 1 {
			continue
		}
		data, err := os.ReadFile(e.Location)
		if err != nil {
			t.Fatalf("fragment %d: %v", e.ID, err)
		}
		if int64(len(data)) != e.Size {
			t.Fatalf("fragment %d: index size %d, file holds %d", e.ID, e.Size, len(data))
		}
	}
}

func TestSeal_AfterRemoveIsMisuse(t *testing.T) {
	s := NewStore(Config{Backing: BackingMemory})
	write(t, s, 0, "x")
	if err := s.RemoveFiles(); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if err := s.Seal(); !errors.Is(err, ErrMisuse) {
		t.Fatalf("Seal err = %v, want misuse", err)
	}
}
