package vmar

import (
	"github.com/orizon-lang/vmspace/internal/vm/status"
)

// lockPair acquires both address-space locks in ascending identifier order,
// the fixed global order that keeps two-space operations cycle-free. The
// returned function releases both.
func lockPair(a, b *AddressSpace) func() {
	if a == b {
		a.mutex.Lock()
		return a.mutex.Unlock
	}
	first, second := a, b
	if b.id < a.id {
		first, second = b, a
	}
	first.mutex.Lock()
	second.mutex.Lock()
	return func() {
		second.mutex.Unlock()
		first.mutex.Unlock()
	}
}

// ShareMapping maps the object backing the mapping at srcAddr in src into
// dst, used for privileged device-memory grants between processes. The
// source mapping's object, offset and length are observed and the new
// mapping installed under both locks, so neither space sees an intermediate
// state. perms must be admissible in dst and by the object's rights.
func ShareMapping(src *AddressSpace, srcAddr uintptr, dst Region, offset uintptr, perms Perm, placement Placement) (uintptr, error) {
	const op = "vmar.ShareMapping"

	unlock := lockPair(src, dst.as)
	defer unlock()

	leaf := src.findMappingAt(srcAddr)
	if leaf == nil {
		return 0, status.InvalidArgument(op, "no mapping at 0x%x in source space %d", srcAddr, src.id)
	}
	return dst.as.mapLocked(dst.id, offset, leaf.obj, leaf.objOffset, leaf.length, perms, placement)
}

// findMappingAt descends the live tree to the mapping leaf containing addr.
// Caller holds the lock.
func (as *AddressSpace) findMappingAt(addr uintptr) *node {
	n := as.node(rootRegion)
	if !n.alive || addr < n.base || addr >= n.end() {
		return nil
	}
	for {
		var next *node
		for _, id := range n.children {
			child := as.node(id)
			if addr >= child.base && addr < child.end() {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		if next.kind == kindMapping {
			return next
		}
		if next.kind != kindRegion {
			return nil
		}
		n = next
	}
}
