// Package object provides the backing memory objects mapped into the region
// tree. An Object is an opaque, counted-reference container of bytes with a
// fixed size and a rights mask; the mapping layer holds exactly one counted
// reference per live mapping and releases it through its single removal path.
package object

import (
	"fmt"
	"sync/atomic"
)

// Rights is the access mask an object grants to its mappings. A mapping may
// never carry a permission the backing object's rights exclude.
type Rights uint32

const (
	RightRead Rights = 1 << iota
	RightWrite
	RightExecute
)

// Contains reports whether every bit of need is present in r.
func (r Rights) Contains(need Rights) bool { return r&need == need }

// String returns an rwx-style rendering of the rights mask.
func (r Rights) String() string {
	b := []byte("---")
	if r&RightRead != 0 {
		b[0] = 'r'
	}
	if r&RightWrite != 0 {
		b[1] = 'w'
	}
	if r&RightExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Object is the backing-memory abstraction consumed by the mapping layer.
// Creation hands the caller one reference; Release of the final reference
// frees the underlying storage and further access is undefined.
type Object interface {
	// Size returns the object's length in bytes. It is fixed at creation.
	Size() uintptr

	// Rights returns the access mask granted to mappings of this object.
	Rights() Rights

	// ReadAt reads len(p) bytes starting at off.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes len(p) bytes starting at off. Objects without
	// RightWrite reject the call.
	WriteAt(p []byte, off int64) (int, error)

	// Retain acquires an additional counted reference.
	Retain()

	// Release drops one counted reference, freeing the object when the
	// count reaches zero.
	Release()

	// Refs returns the current reference count.
	Refs() int64
}

// refCount is the shared counted-reference discipline embedded by every
// concrete object. The destroy hook runs exactly once, when the count
// transitions to zero.
type refCount struct {
	n       atomic.Int64
	destroy func()
}

func (rc *refCount) init(destroy func()) {
	rc.n.Store(1)
	rc.destroy = destroy
}

func (rc *refCount) Retain() {
	if rc.n.Add(1) <= 1 {
		panic("object: retain of a released object")
	}
}

func (rc *refCount) Release() {
	switch left := rc.n.Add(-1); {
	case left == 0:
		if rc.destroy != nil {
			rc.destroy()
		}
	case left < 0:
		panic("object: release past zero")
	}
}

func (rc *refCount) Refs() int64 { return rc.n.Load() }

// checkRange validates an offset/length pair against an object size.
func checkRange(op string, off int64, n int, size uintptr) error {
	if off < 0 || uintptr(off)+uintptr(n) > size {
		return fmt.Errorf("%s: range [%d, %d) outside object of size %d", op, off, off+int64(n), size)
	}
	return nil
}
