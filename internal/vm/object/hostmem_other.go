//go:build !linux

package object

// HostPagesObject degrades to heap-backed storage on platforms without the
// anonymous-mmap path.
type HostPagesObject = AnonymousObject

// NewHostPages allocates a heap-backed object of the given size.
func NewHostPages(size uintptr, rights Rights) (*HostPagesObject, error) {
	return NewAnonymous(size, rights), nil
}
