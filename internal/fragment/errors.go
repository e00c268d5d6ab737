package fragment

import (
	"errors"
	"fmt"
)

var (
	// ErrResource matches every *ResourceError.
	ErrResource = errors.New("fragment resource failure")
	// ErrAssembly matches every *AssemblyError.
	ErrAssembly = errors.New("fragment assembly failure")
	// ErrMisuse matches every *MisuseError.
	ErrMisuse = errors.New("fragment store misuse")
)

// ResourceError reports a backing resource that could not be created,
// opened or removed.
type ResourceError struct {
	Op  string // "create", "write", "seal", "remove"
	ID  ID
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("fragment %d: %s: %v", e.ID, e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrResource) hold.
func (e *ResourceError) Is(target error) bool { return target == ErrResource }

// AssemblyError reports a fragment whose content could not be read back or
// copied into the destination during Combine. The destination holds the
// fragments before ID and must be discarded.
type AssemblyError struct {
	ID  ID
	Err error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("combine fragment %d: %v", e.ID, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAssembly) hold.
func (e *AssemblyError) Is(target error) bool { return target == ErrAssembly }

// MisuseError reports a call sequence the store does not allow.
type MisuseError struct {
	Op     string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("fragment %s: %s", e.Op, e.Reason)
}

// Is makes errors.Is(err, ErrMisuse) hold.
func (e *MisuseError) Is(target error) bool { return target == ErrMisuse }

func misuse(op, reason string) error {
	return &MisuseError{Op: op, Reason: reason}
}
