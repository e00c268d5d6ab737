package fragment

import "fmt"

// ID identifies a fragment within one run. Fragments are combined in
// ascending ID order.
type ID uint32

// State tracks a fragment through its lifetime.
type State uint8

const (
	// StateOpen accepts writes.
	StateOpen State = iota
	// StateFinalized has been closed for writing.
	StateFinalized
	// StateCombined has been copied into the destination.
	StateCombined
	// StateRemoved has had its backing released.
	StateRemoved
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalized:
		return "finalized"
	case StateCombined:
		return "combined"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Fragment is the writable handle for one id. The store owns it; callers
// write through it and never close it.
type Fragment struct {
	id      ID
	store   *Store
	backing Backing
	state   State
}

// ID returns the fragment id.
func (f *Fragment) ID() ID { return f.id }

// State returns the current lifecycle state.
func (f *Fragment) State() State { return f.state }

// Size returns the number of bytes written to the fragment.
func (f *Fragment) Size() int64 { return f.backing.Size() }

// Location returns the scratch file path, or "" for in-memory content.
func (f *Fragment) Location() string { return f.backing.Location() }

// Write appends p. Writing once Combine has started, or after the backing
// was removed, is a *MisuseError.
func (f *Fragment) Write(p []byte) (int, error) {
	if f.store.sealed {
		return 0, misuse("write", fmt.Sprintf("fragment %d written after combine", f.id))
	}
	if f.state != StateOpen {
		return 0, misuse("write", fmt.Sprintf("fragment %d is %s", f.id, f.state))
	}
	n, err := f.backing.Write(p)
	if err != nil {
		return n, &ResourceError{Op: "write", ID: f.id, Err: err}
	}
	return n, nil
}

// WriteString appends s.
func (f *Fragment) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}
