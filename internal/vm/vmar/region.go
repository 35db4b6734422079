package vmar

import (
	"fmt"

	"github.com/orizon-lang/vmspace/internal/vm/object"
	"github.com/orizon-lang/vmspace/internal/vm/status"
)

// RegionID is a stable index into an address space's node arena. The parent
// back-link is stored as a RegionID and resolved by lookup, so the tree
// carries no owning reference cycles.
type RegionID uint32

const (
	rootRegion RegionID = 0
	noRegion   RegionID = ^RegionID(0)
)

type nodeKind uint8

const (
	kindRegion nodeKind = iota
	kindMapping
	kindReservation
)

// node is one entry of the region tree: a sub-region, a mapping leaf, or an
// address reservation leaf.
type node struct {
	kind   nodeKind
	alive  bool
	base   uintptr
	length uintptr
	parent RegionID

	// Region-only fields.
	caps     Capability
	children []RegionID // sorted by base address

	// Mapping-only fields.
	obj       object.Object
	objOffset uintptr
	perms     Perm
	placement Placement
}

func (n *node) end() uintptr { return n.base + n.length }

func (n *node) leaf() bool { return n.kind != kindRegion }

func (n *node) overlaps(base, length uintptr) bool {
	return n.base < base+length && base < n.end()
}

// node resolves an id against the arena. Returns nil for noRegion.
func (as *AddressSpace) node(id RegionID) *node {
	if id == noRegion || int(id) >= len(as.nodes) {
		return nil
	}
	return as.nodes[id]
}

// addNode appends n to the arena and returns its id.
func (as *AddressSpace) addNode(n *node) RegionID {
	id := RegionID(len(as.nodes))
	as.nodes = append(as.nodes, n)
	return id
}

// liveRegion resolves a handle id to a live region node.
func (as *AddressSpace) liveRegion(op string, id RegionID) (*node, error) {
	n := as.node(id)
	if n == nil || !n.alive || n.kind != kindRegion {
		return nil, status.BadState(op, "region handle is dead")
	}
	return n, nil
}

// insertChild links child into parent's ordered child set. Lookup and
// insertion are linear in the sibling count.
func (as *AddressSpace) insertChild(parent *node, id RegionID) {
	child := as.node(id)
	pos := len(parent.children)
	for i, sib := range parent.children {
		if as.node(sib).base > child.base {
			pos = i
			break
		}
	}
	parent.children = append(parent.children, noRegion)
	copy(parent.children[pos+1:], parent.children[pos:])
	parent.children[pos] = id
}

// removeChild unlinks id from parent's child set.
func (as *AddressSpace) removeChild(parent *node, id RegionID) {
	for i, sib := range parent.children {
		if sib == id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("vmar: node %d not a child of its parent", id))
}

// overlapping returns the ids of parent's children intersecting
// [base, base+length), in ascending base order.
func (as *AddressSpace) overlapping(parent *node, base, length uintptr) []RegionID {
	var hits []RegionID
	for _, id := range parent.children {
		child := as.node(id)
		if child.base >= base+length {
			break
		}
		if child.overlaps(base, length) {
			hits = append(hits, id)
		}
	}
	return hits
}

// findGap scans parent's free gaps in ascending address order and returns
// the first gap start that satisfies length and alignment. Deterministic:
// identical tree state and request always yield the identical address.
func (as *AddressSpace) findGap(parent *node, length, align uintptr) (uintptr, bool) {
	candidate := alignUp(parent.base, align)
	for _, id := range parent.children {
		child := as.node(id)
		if candidate+length <= child.base {
			return candidate, true
		}
		if end := alignUp(child.end(), align); end > candidate {
			candidate = end
		}
	}
	if candidate+length <= parent.end() && candidate >= parent.base {
		return candidate, true
	}
	return 0, false
}

func alignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// pageAligned reports whether x is a multiple of the space's page size.
func (as *AddressSpace) pageAligned(x uintptr) bool {
	return x%as.pageSize == 0
}

// checkInvariants walks the live tree and verifies the structural
// invariants; tests call it after every observable point. A violation is
// returned as a plain error describing the defect.
func (as *AddressSpace) checkInvariants() error {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	root := as.node(rootRegion)
	if !root.alive {
		return nil
	}
	return as.checkNode(rootRegion)
}

func (as *AddressSpace) checkNode(id RegionID) error {
	n := as.node(id)
	if !n.alive {
		return fmt.Errorf("node %d: dead node reachable from live tree", id)
	}
	if n.length == 0 || !as.pageAligned(n.base) || !as.pageAligned(n.length) {
		return fmt.Errorf("node %d: misaligned or empty range [0x%x, +0x%x)", id, n.base, n.length)
	}
	if n.leaf() {
		if len(n.children) != 0 {
			return fmt.Errorf("node %d: leaf with children", id)
		}
		if n.kind == kindMapping && n.obj == nil {
			return fmt.Errorf("node %d: mapping without backing object", id)
		}
		return nil
	}
	prevEnd := n.base
	for _, cid := range n.children {
		child := as.node(cid)
		if child.parent != id {
			return fmt.Errorf("node %d: stale parent link on child %d", id, cid)
		}
		if child.base < prevEnd {
			return fmt.Errorf("node %d: children unsorted or overlapping at 0x%x", id, child.base)
		}
		if child.base < n.base || child.end() > n.end() {
			return fmt.Errorf("node %d: child %d escapes parent range", id, cid)
		}
		if child.kind == kindRegion && !n.caps.Contains(child.caps) {
			return fmt.Errorf("node %d: child %d capability %s exceeds parent %s", id, cid, child.caps, n.caps)
		}
		if child.kind == kindMapping && !n.caps.Contains(child.perms.capability()) {
			return fmt.Errorf("node %d: mapping %d perms %s exceed capability %s", id, cid, child.perms, n.caps)
		}
		prevEnd = child.end()
		if err := as.checkNode(cid); err != nil {
			return err
		}
	}
	return nil
}
