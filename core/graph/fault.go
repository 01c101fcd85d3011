package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph store operations. Use errors.Is() to check.
var (
	// ErrNodeNotFound indicates the requested node id does not exist.
	ErrNodeNotFound = errors.New("graph: node not found")

	// ErrEntityNotFound indicates the requested entity id does not exist.
	ErrEntityNotFound = errors.New("graph: entity not found")

	// ErrLinkNotFound indicates the requested link does not exist.
	ErrLinkNotFound = errors.New("graph: link not found")

	// ErrDuplicateID indicates an insert collided with an existing id.
	ErrDuplicateID = errors.New("graph: duplicate id")
)

// FaultError is an internal-consistency fault: negative energy, weight out
// of range, or a broken membership simplex. These indicate a logic defect,
// not a transient condition, so the engine refuses to proceed past the
// offending tick and surfaces this error with diagnostic state attached.
type FaultError struct {
	// Invariant names the violated invariant.
	Invariant string

	// Subject is the id of the offending record.
	Subject string

	// Detail carries the observed values.
	Detail string

	// Tick is the tick index at which the fault was detected.
	Tick uint64
}

// Error implements the error interface.
func (f *FaultError) Error() string {
	return fmt.Sprintf("graph: invariant %q violated by %s at tick %d: %s",
		f.Invariant, f.Subject, f.Tick, f.Detail)
}

// IsFault reports whether err is (or wraps) a FaultError.
func IsFault(err error) bool {
	var f *FaultError
	return errors.As(err, &f)
}
