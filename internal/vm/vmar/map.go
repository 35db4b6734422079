package vmar

import (
	"fmt"

	"github.com/orizon-lang/vmspace/internal/vm/object"
	"github.com/orizon-lang/vmspace/internal/vm/status"
)

// Map binds [objOffset, objOffset+length) of obj into r at the resolved
// address and populates the page table. offset is region-relative and must
// be zero unless placement is specific. perms must be a subset of both r's
// capability and obj's rights.
//
// The operation is all-or-nothing: on page-table population failure the
// tree and the table are left exactly as they were and NoMemory is
// returned. Under PlacementSpecificOverwrite every overlapping leaf is
// replaced by the new mapping as one indivisible step.
func (r Region) Map(offset uintptr, obj object.Object, objOffset, length uintptr, perms Perm, placement Placement) (uintptr, error) {
	r.as.mutex.Lock()
	defer r.as.mutex.Unlock()
	return r.as.mapLocked(r.id, offset, obj, objOffset, length, perms, placement)
}

// mapLocked implements Map with as.mutex held exclusively, so cross-space
// operations can compose it under their own lock ordering.
func (as *AddressSpace) mapLocked(region RegionID, offset uintptr, obj object.Object, objOffset, length uintptr, perms Perm, placement Placement) (uintptr, error) {
	const op = "vmar.Map"

	parent, err := as.liveRegion(op, region)
	if err != nil {
		return 0, err
	}
	if obj == nil {
		return 0, status.InvalidArgument(op, "nil backing object")
	}
	if perms == 0 {
		return 0, status.InvalidArgument(op, "empty permission mask")
	}
	if err := as.checkRange(op, offset, length, placement); err != nil {
		return 0, err
	}
	if !as.pageAligned(objOffset) {
		return 0, status.InvalidArgument(op, "object offset 0x%x misaligned", objOffset)
	}

	need := perms.capability()
	if placement.specific() {
		need |= CanMapSpecific
	}
	if !parent.caps.Contains(need) {
		return 0, status.PermissionDenied(op, "perms %s need %s, region grants %s", perms, need, parent.caps)
	}
	if !obj.Rights().Contains(perms.rights()) {
		return 0, status.PermissionDenied(op, "perms %s exceed object rights %s", perms, obj.Rights())
	}
	if objSpan := alignUp(obj.Size(), as.pageSize); objOffset > objSpan || length > objSpan-objOffset {
		return 0, status.OutOfRange(op, "object range [0x%x, 0x%x) outside object of size 0x%x", objOffset, objOffset+length, obj.Size())
	}

	base, err := as.resolvePlacement(op, parent, offset, length, placement)
	if err != nil {
		return 0, err
	}

	// Leaves displaced by an overwrite. resolvePlacement already rejected
	// sub-region overlap.
	var displaced []RegionID
	if placement == PlacementSpecificOverwrite {
		displaced = as.overlapping(parent, base, length)
	}

	// Page-table transition first, tree second: the tree mutation below
	// cannot fail, so a population failure needs no tree rollback.
	for _, id := range displaced {
		if leaf := as.node(id); leaf.kind == kindMapping {
			as.table.Unmap(leaf.base, leaf.length)
		}
	}
	if err := as.table.Map(base, length, objOffset, perms.entryFlags()); err != nil {
		// Reinstall the displaced translations. They were present a
		// moment ago under this same lock; a failure here is a
		// page-table defect, not an external error.
		for _, id := range displaced {
			if leaf := as.node(id); leaf.kind == kindMapping {
				if rerr := as.table.Map(leaf.base, leaf.length, leaf.objOffset, leaf.perms.entryFlags()); rerr != nil {
					panic(fmt.Sprintf("vmar: page-table restore failed: %v", rerr))
				}
			}
		}
		return 0, status.NoMemory(op, "page-table population of [0x%x, 0x%x): %v", base, base+length, err)
	}

	for _, id := range displaced {
		as.removeLeafLocked(id)
	}

	obj.Retain()
	id := as.addNode(&node{
		kind:      kindMapping,
		alive:     true,
		base:      base,
		length:    length,
		parent:    region,
		obj:       obj,
		objOffset: objOffset,
		perms:     perms,
		placement: placement,
	})
	as.insertChild(parent, id)
	as.notifyMap(base, length, perms)
	return base, nil
}

// removeLeafLocked is the single leaf-removal path shared by unmap,
// overwrite replacement and cascading destroy. It unlinks the leaf, marks
// it dead, and releases the mapping's object reference exactly once. The
// caller handles the page-table side.
func (as *AddressSpace) removeLeafLocked(id RegionID) {
	leaf := as.node(id)
	if !leaf.leaf() || !leaf.alive {
		panic(fmt.Sprintf("vmar: removeLeaf on node %d kind %d alive %v", id, leaf.kind, leaf.alive))
	}
	if parent := as.node(leaf.parent); parent != nil {
		as.removeChild(parent, id)
	}
	leaf.alive = false
	if leaf.kind == kindMapping {
		leaf.obj.Release()
		leaf.obj = nil
	}
}
