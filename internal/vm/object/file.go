package object

import (
	"fmt"

	"golang.org/x/exp/mmap"
)

// FileObject is a read-only memory object backed by a memory-mapped file,
// the backing used for executable images and other immutable segments.
type FileObject struct {
	refCount
	r      *mmap.ReaderAt
	path   string
	rights Rights
}

// OpenFile maps path read-only. rights may only narrow {read, execute};
// requesting write rights on a file object is rejected here rather than at
// first write.
func OpenFile(path string, rights Rights) (*FileObject, error) {
	if rights&RightWrite != 0 {
		return nil, fmt.Errorf("file object %s: write rights unsupported", path)
	}
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file object %s: %w", path, err)
	}
	o := &FileObject{r: r, path: path, rights: rights}
	o.init(func() {
		_ = o.r.Close()
		o.r = nil
	})
	return o, nil
}

// Path returns the file backing this object, used to route watcher events.
func (o *FileObject) Path() string { return o.path }

// Size implements Object.
func (o *FileObject) Size() uintptr { return uintptr(o.r.Len()) }

// Rights implements Object.
func (o *FileObject) Rights() Rights { return o.rights }

// ReadAt implements Object.
func (o *FileObject) ReadAt(p []byte, off int64) (int, error) {
	return o.r.ReadAt(p, off)
}

// WriteAt implements Object; file objects are immutable.
func (o *FileObject) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("file object %s: read-only", o.path)
}
