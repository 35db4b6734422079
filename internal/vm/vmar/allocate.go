package vmar

import (
	"github.com/orizon-lang/vmspace/internal/vm/status"
)

// Allocate carves a child region out of r. offset is region-relative and
// must be zero unless placement is PlacementSpecific; caps must be a subset
// of r's capability. Returns the child handle and its absolute base.
//
// PlacementSpecificOverwrite applies only to mappings and is rejected here.
func (r Region) Allocate(offset, length uintptr, caps Capability, placement Placement) (Region, uintptr, error) {
	const op = "vmar.Allocate"

	r.as.mutex.Lock()
	defer r.as.mutex.Unlock()

	parent, err := r.as.liveRegion(op, r.id)
	if err != nil {
		return Region{}, 0, err
	}
	if placement == PlacementSpecificOverwrite {
		return Region{}, 0, status.InvalidArgument(op, "overwrite placement applies only to mappings")
	}
	if err := r.as.checkRange(op, offset, length, placement); err != nil {
		return Region{}, 0, err
	}
	if !parent.caps.Contains(caps) {
		return Region{}, 0, status.PermissionDenied(op, "capability %s exceeds parent %s", caps, parent.caps)
	}
	if placement.specific() && !parent.caps.Contains(CanMapSpecific) {
		return Region{}, 0, status.PermissionDenied(op, "parent lacks CAN_MAP_SPECIFIC")
	}

	base, err := r.as.resolvePlacement(op, parent, offset, length, placement)
	if err != nil {
		return Region{}, 0, err
	}

	id := r.as.addNode(&node{
		kind:   kindRegion,
		alive:  true,
		base:   base,
		length: length,
		parent: r.id,
		caps:   caps,
	})
	r.as.insertChild(parent, id)
	r.as.notifyAllocate(base, length, caps)
	return Region{as: r.as, id: id}, base, nil
}

// Reserve claims [base, base+length) in r without installing a mapping or
// touching the page table. The reservation participates in overlap checks
// like a mapping leaf, is released by Unmap of its exact range, and may be
// consumed by SpecificOverwrite maps. This replaces the historical trick of
// installing and immediately unmapping a no-access placeholder mapping.
func (r Region) Reserve(offset, length uintptr, placement Placement) (uintptr, error) {
	const op = "vmar.Reserve"

	r.as.mutex.Lock()
	defer r.as.mutex.Unlock()

	parent, err := r.as.liveRegion(op, r.id)
	if err != nil {
		return 0, err
	}
	if placement == PlacementSpecificOverwrite {
		return 0, status.InvalidArgument(op, "overwrite placement applies only to mappings")
	}
	if err := r.as.checkRange(op, offset, length, placement); err != nil {
		return 0, err
	}
	if placement.specific() && !parent.caps.Contains(CanMapSpecific) {
		return 0, status.PermissionDenied(op, "parent lacks CAN_MAP_SPECIFIC")
	}

	base, err := r.as.resolvePlacement(op, parent, offset, length, placement)
	if err != nil {
		return 0, err
	}

	id := r.as.addNode(&node{
		kind:   kindReservation,
		alive:  true,
		base:   base,
		length: length,
		parent: r.id,
	})
	r.as.insertChild(parent, id)
	return base, nil
}

// checkRange validates the shared offset/length argument rules.
func (as *AddressSpace) checkRange(op string, offset, length uintptr, placement Placement) error {
	if length == 0 || !as.pageAligned(length) {
		return status.InvalidArgument(op, "length 0x%x zero or misaligned", length)
	}
	if !as.pageAligned(offset) {
		return status.InvalidArgument(op, "offset 0x%x misaligned", offset)
	}
	if offset != 0 && !placement.specific() {
		return status.InvalidArgument(op, "nonzero offset requires specific placement")
	}
	return nil
}

// resolvePlacement turns a request into an absolute base address. For
// specific placements it validates containment and collisions; for dynamic
// placement it delegates to the first-fit gap scan.
func (as *AddressSpace) resolvePlacement(op string, parent *node, offset, length uintptr, placement Placement) (uintptr, error) {
	if placement.specific() {
		base := parent.base + offset
		if offset > parent.length || length > parent.length-offset {
			return 0, status.OutOfRange(op, "[+0x%x, +0x%x) outside parent span 0x%x", offset, offset+length, parent.length)
		}
		hits := as.overlapping(parent, base, length)
		if placement == PlacementSpecific && len(hits) > 0 {
			return 0, status.Overlap(op, "range [0x%x, 0x%x) collides with %d children", base, base+length, len(hits))
		}
		if placement == PlacementSpecificOverwrite {
			for _, id := range hits {
				if as.node(id).kind == kindRegion {
					return 0, status.Overlap(op, "range [0x%x, 0x%x) overlaps a sub-region", base, base+length)
				}
			}
		}
		return base, nil
	}

	if length > parent.length {
		return 0, status.OutOfRange(op, "length 0x%x exceeds parent span 0x%x", length, parent.length)
	}
	base, ok := as.findGap(parent, length, as.pageSize)
	if !ok {
		return 0, status.NoSpace(op, "no free gap of 0x%x bytes", length)
	}
	return base, nil
}
