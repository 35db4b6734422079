package object

import "fmt"

// AnonymousObject is a zero-filled, heap-backed memory object.
type AnonymousObject struct {
	refCount
	data   []byte
	rights Rights
}

// NewAnonymous creates a zero-filled object of the given size. The returned
// object holds one reference owned by the caller.
func NewAnonymous(size uintptr, rights Rights) *AnonymousObject {
	o := &AnonymousObject{data: make([]byte, size), rights: rights}
	o.init(func() { o.data = nil })
	return o
}

// Size implements Object.
func (o *AnonymousObject) Size() uintptr { return uintptr(len(o.data)) }

// Rights implements Object.
func (o *AnonymousObject) Rights() Rights { return o.rights }

// ReadAt implements Object.
func (o *AnonymousObject) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange("anonymous read", off, len(p), o.Size()); err != nil {
		return 0, err
	}
	return copy(p, o.data[off:]), nil
}

// WriteAt implements Object.
func (o *AnonymousObject) WriteAt(p []byte, off int64) (int, error) {
	if !o.rights.Contains(RightWrite) {
		return 0, fmt.Errorf("anonymous write: object rights %s exclude write", o.rights)
	}
	if err := checkRange("anonymous write", off, len(p), o.Size()); err != nil {
		return 0, err
	}
	return copy(o.data[off:], p), nil
}
