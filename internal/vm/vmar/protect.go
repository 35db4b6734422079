package vmar

import (
	"github.com/orizon-lang/vmspace/internal/vm/status"
)

// Protect changes the permission mask of the mapping whose range is exactly
// [address, address+length). Sub-range protection of a leaf is unsupported;
// the range must match one mapping boundary anywhere in r's subtree. The
// new mask must be a subset of the owning region's capability and of the
// backing object's rights.
func (r Region) Protect(address, length uintptr, perms Perm) error {
	const op = "vmar.Protect"

	r.as.mutex.Lock()
	defer r.as.mutex.Unlock()

	region, err := r.as.liveRegion(op, r.id)
	if err != nil {
		return err
	}
	if perms == 0 {
		return status.InvalidArgument(op, "empty permission mask")
	}
	if length == 0 || !r.as.pageAligned(address) || !r.as.pageAligned(length) {
		return status.InvalidArgument(op, "range [0x%x, +0x%x) zero or misaligned", address, length)
	}

	leaf, owner, err := r.as.findExactLeaf(op, region, address, length)
	if err != nil {
		return err
	}
	if leaf.kind != kindMapping {
		return status.InvalidArgument(op, "range [0x%x, 0x%x) is a reservation, not a mapping", address, address+length)
	}
	if !owner.caps.Contains(perms.capability()) {
		return status.PermissionDenied(op, "perms %s exceed region capability %s", perms, owner.caps)
	}
	if !leaf.obj.Rights().Contains(perms.rights()) {
		return status.PermissionDenied(op, "perms %s exceed object rights %s", perms, leaf.obj.Rights())
	}

	if err := r.as.table.Protect(address, length, perms.entryFlags()); err != nil {
		return status.NoMemory(op, "page-table update of [0x%x, 0x%x): %v", address, address+length, err)
	}
	leaf.perms = perms
	r.as.notifyProtect(address, length, perms)
	return nil
}

// findExactLeaf descends from region to the leaf whose range is exactly
// [address, address+length), returning the leaf and its owning region.
func (as *AddressSpace) findExactLeaf(op string, region *node, address, length uintptr) (*node, *node, error) {
	if address < region.base || address+length > region.end() {
		return nil, nil, status.OutOfRange(op, "range [0x%x, 0x%x) outside region [0x%x, 0x%x)", address, address+length, region.base, region.end())
	}
	for _, id := range region.children {
		child := as.node(id)
		if !child.overlaps(address, length) {
			continue
		}
		if child.kind == kindRegion {
			return as.findExactLeaf(op, child, address, length)
		}
		if child.base != address || child.length != length {
			return nil, nil, status.InvalidArgument(op, "range [0x%x, 0x%x) does not match leaf [0x%x, 0x%x)", address, address+length, child.base, child.end())
		}
		return child, region, nil
	}
	return nil, nil, status.InvalidArgument(op, "no mapping at [0x%x, 0x%x)", address, address+length)
}

// Unmap removes every leaf wholly contained in [address, address+length)
// among r's direct children. The range must cover at least one leaf and
// must not cut through any leaf or sub-region; this keeps page-table state
// exactly matching whole leaves. Object references of removed mappings are
// released through the single removal path.
func (r Region) Unmap(address, length uintptr) error {
	const op = "vmar.Unmap"

	r.as.mutex.Lock()
	defer r.as.mutex.Unlock()

	region, err := r.as.liveRegion(op, r.id)
	if err != nil {
		return err
	}
	if length == 0 || !r.as.pageAligned(address) || !r.as.pageAligned(length) {
		return status.InvalidArgument(op, "range [0x%x, +0x%x) zero or misaligned", address, length)
	}
	if address < region.base || address+length > region.end() {
		return status.OutOfRange(op, "range [0x%x, 0x%x) outside region [0x%x, 0x%x)", address, address+length, region.base, region.end())
	}

	hits := r.as.overlapping(region, address, length)
	if len(hits) == 0 {
		return status.InvalidArgument(op, "no leaves in [0x%x, 0x%x)", address, address+length)
	}
	for _, id := range hits {
		child := r.as.node(id)
		if child.kind == kindRegion {
			return status.InvalidArgument(op, "range [0x%x, 0x%x) crosses sub-region [0x%x, 0x%x)", address, address+length, child.base, child.end())
		}
		if child.base < address || child.end() > address+length {
			return status.InvalidArgument(op, "range [0x%x, 0x%x) cuts leaf [0x%x, 0x%x)", address, address+length, child.base, child.end())
		}
	}

	for _, id := range hits {
		child := r.as.node(id)
		if child.kind == kindMapping {
			r.as.table.Unmap(child.base, child.length)
		}
		r.as.removeLeafLocked(id)
	}
	r.as.notifyUnmap(address, length)
	return nil
}
