// Package arch provides the architecture-facing page-table abstraction kept
// in sync with the region tree, plus a software reference implementation
// used by tests and by hosted (non-bare-metal) deployments.
package arch

import "fmt"

// EntryFlags represents translation attributes of a page-table entry.
type EntryFlags uint64

const (
	EntryPresent   EntryFlags = 1 << 0
	EntryWritable  EntryFlags = 1 << 1
	EntryUser      EntryFlags = 1 << 2
	EntryNoExecute EntryFlags = 1 << 63
)

// String returns a compact rwx-style rendering of the flags.
func (f EntryFlags) String() string {
	if f&EntryPresent == 0 {
		return "---"
	}
	w, x := "-", "x"
	if f&EntryWritable != 0 {
		w = "w"
	}
	if f&EntryNoExecute != 0 {
		x = "-"
	}
	return fmt.Sprintf("r%s%s", w, x)
}

// PageTable is the narrow interface the region tree drives. Implementations
// must be deterministic: Map either installs every page of the range or
// installs none and returns an error; no call may block on unrelated I/O.
//
// The phys argument of Map is the backing frame address of the first page;
// consecutive pages map consecutive frames.
type PageTable interface {
	// Map installs translations for [base, base+length). It fails if any
	// page in the range is already present.
	Map(base, length, phys uintptr, flags EntryFlags) error

	// Unmap removes any translations present in [base, base+length).
	// Pages with no translation are skipped.
	Unmap(base, length uintptr)

	// Protect rewrites the attribute bits of every present translation in
	// [base, base+length), preserving each entry's frame address.
	Protect(base, length uintptr, flags EntryFlags) error
}
