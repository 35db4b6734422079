package vmar

import (
	"sync"

	"github.com/orizon-lang/vmspace/internal/vm/object"
)

// InvalidateObject drops the page-table translations of every live mapping
// of obj in the space. The mappings themselves stay in the tree; the fault
// path repopulates on next access. Returns the number of mappings whose
// translations were dropped.
func (as *AddressSpace) InvalidateObject(obj object.Object) int {
	as.mutex.Lock()
	defer as.mutex.Unlock()

	return as.invalidateNode(rootRegion, obj)
}

func (as *AddressSpace) invalidateNode(id RegionID, obj object.Object) int {
	n := as.node(id)
	if !n.alive {
		return 0
	}
	if n.kind == kindMapping {
		if n.obj == obj {
			as.table.Unmap(n.base, n.length)
			return 1
		}
		return 0
	}
	count := 0
	for _, child := range n.children {
		count += as.invalidateNode(child, obj)
	}
	return count
}

type invalTarget struct {
	space *AddressSpace
	obj   object.Object
}

// Invalidator routes backing-file change events to the address spaces
// mapping those files, dropping stale translations. Events come from an
// object.FileWatcher (or any compatible channel); Run consumes the stream
// until it closes.
type Invalidator struct {
	events <-chan object.Event

	mutex   sync.Mutex
	targets map[string][]invalTarget
}

// NewInvalidator creates an Invalidator over the given event stream.
func NewInvalidator(events <-chan object.Event) *Invalidator {
	return &Invalidator{
		events:  events,
		targets: make(map[string][]invalTarget),
	}
}

// Register routes invalidating events for path to obj's mappings in as.
func (iv *Invalidator) Register(path string, as *AddressSpace, obj object.Object) {
	iv.mutex.Lock()
	defer iv.mutex.Unlock()
	iv.targets[path] = append(iv.targets[path], invalTarget{space: as, obj: obj})
}

// Unregister removes every route for path.
func (iv *Invalidator) Unregister(path string) {
	iv.mutex.Lock()
	defer iv.mutex.Unlock()
	delete(iv.targets, path)
}

// Run consumes events until the stream closes. Callers usually run it on
// its own goroutine.
func (iv *Invalidator) Run() {
	for ev := range iv.events {
		if !ev.Op.Invalidating() {
			continue
		}
		iv.mutex.Lock()
		routed := append([]invalTarget(nil), iv.targets[ev.Path]...)
		iv.mutex.Unlock()
		for _, t := range routed {
			t.space.InvalidateObject(t.obj)
		}
	}
}
