//go:build linux

package object

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// HostPagesObject is backed by anonymous host pages obtained with mmap, so
// its storage is page-aligned and stays outside the Go heap.
type HostPagesObject struct {
	refCount
	data   []byte
	rights Rights
}

// NewHostPages allocates size bytes of anonymous host memory, rounded up to
// the host page size. The returned object holds one caller-owned reference.
func NewHostPages(size uintptr, rights Rights) (*HostPagesObject, error) {
	pageSize := uintptr(unix.Getpagesize())
	rounded := (size + pageSize - 1) &^ (pageSize - 1)
	if rounded == 0 {
		return nil, fmt.Errorf("host pages: zero size")
	}

	data, err := unix.Mmap(-1, 0, int(rounded),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("host pages: mmap %d bytes: %w", rounded, err)
	}

	o := &HostPagesObject{data: data, rights: rights}
	o.init(func() {
		_ = unix.Munmap(o.data)
		o.data = nil
	})
	return o, nil
}

// Size implements Object.
func (o *HostPagesObject) Size() uintptr { return uintptr(len(o.data)) }

// Rights implements Object.
func (o *HostPagesObject) Rights() Rights { return o.rights }

// ReadAt implements Object.
func (o *HostPagesObject) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange("host pages read", off, len(p), o.Size()); err != nil {
		return 0, err
	}
	return copy(p, o.data[off:]), nil
}

// WriteAt implements Object.
func (o *HostPagesObject) WriteAt(p []byte, off int64) (int, error) {
	if !o.rights.Contains(RightWrite) {
		return 0, fmt.Errorf("host pages write: object rights %s exclude write", o.rights)
	}
	if err := checkRange("host pages write", off, len(p), o.Size()); err != nil {
		return 0, err
	}
	return copy(o.data[off:], p), nil
}
