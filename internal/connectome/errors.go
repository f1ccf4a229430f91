package connectome

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a region name or id does not resolve.
	ErrNotFound = errors.New("region not found")

	// ErrShapeMismatch is returned when matrix dimensions disagree with the
	// region table.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// IOError describes a failed read, write or archive step on a connectivity
// directory. It unwraps to the underlying cause, so errors.Is works against
// fs.ErrNotExist and ErrShapeMismatch.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
