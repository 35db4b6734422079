package object

import (
	"github.com/fsnotify/fsnotify"
)

// WatchOp is a bitmask of file events relevant to mapped file objects.
type WatchOp uint32

const (
	OpWrite WatchOp = 1 << iota
	OpRemove
	OpRename
	OpChmod
)

// Invalidating reports whether the event makes existing translations of the
// file's content stale.
func (op WatchOp) Invalidating() bool {
	return op&(OpWrite|OpRemove|OpRename) != 0
}

// Event reports a change to a watched backing file.
type Event struct {
	Path string
	Op   WatchOp
}

// FileWatcher observes backing files of mapped FileObjects using OS-native
// notifications, so the address-space layer can drop stale translations.
type FileWatcher struct {
	w   *fsnotify.Watcher
	evC chan Event
	erC chan error
}

// NewFileWatcher creates a FileWatcher and starts its event loop.
func NewFileWatcher() (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FileWatcher{w: w, evC: make(chan Event, 128), erC: make(chan error, 1)}
	go fw.loop()
	return fw, nil
}

func (fw *FileWatcher) loop() {
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				close(fw.evC)
				return
			}
			var op WatchOp
			if ev.Op&fsnotify.Write != 0 {
				op |= OpWrite
			}
			if ev.Op&fsnotify.Remove != 0 {
				op |= OpRemove
			}
			if ev.Op&fsnotify.Rename != 0 {
				op |= OpRename
			}
			if ev.Op&fsnotify.Chmod != 0 {
				op |= OpChmod
			}
			if op != 0 {
				fw.evC <- Event{Path: ev.Name, Op: op}
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			fw.erC <- err
		}
	}
}

// Events returns the watcher's event stream.
func (fw *FileWatcher) Events() <-chan Event { return fw.evC }

// Errors returns the watcher's error stream.
func (fw *FileWatcher) Errors() <-chan error { return fw.erC }

// Add starts watching the file at path.
func (fw *FileWatcher) Add(path string) error { return fw.w.Add(path) }

// Remove stops watching the file at path.
func (fw *FileWatcher) Remove(path string) error { return fw.w.Remove(path) }

// Close shuts the watcher down.
func (fw *FileWatcher) Close() error { return fw.w.Close() }
