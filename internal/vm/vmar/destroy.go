package vmar

// Destroy marks the region dead and recursively destroys every descendant
// bottom-up, unmapping mapping leaves and releasing their object
// references. Handles to this region or any former descendant subsequently
// fail with BadState. Destroying an already-dead region succeeds as a
// no-op.
func (r Region) Destroy() error {
	r.as.mutex.Lock()
	defer r.as.mutex.Unlock()

	n := r.as.node(r.id)
	if n == nil || n.kind != kindRegion {
		// A leaf never escapes as a Region handle; treat unknown ids as
		// already gone.
		return nil
	}
	if !n.alive {
		return nil
	}

	base, length := n.base, n.length
	r.as.destroyLocked(r.id)
	r.as.notifyDestroy(base, length)
	return nil
}

// destroyLocked tears down the subtree rooted at id with as.mutex held.
// Children are destroyed before the node itself so a dead region never has
// live children.
func (as *AddressSpace) destroyLocked(id RegionID) {
	n := as.node(id)

	for len(n.children) > 0 {
		childID := n.children[len(n.children)-1]
		child := as.node(childID)
		if child.kind == kindRegion {
			as.destroyLocked(childID)
			continue
		}
		if child.kind == kindMapping {
			as.table.Unmap(child.base, child.length)
		}
		as.removeLeafLocked(childID)
	}

	if parent := as.node(n.parent); parent != nil && parent.alive {
		as.removeChild(parent, id)
	}
	n.alive = false
}
