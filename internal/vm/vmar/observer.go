package vmar

// Observer receives address-space mutation events. All callbacks run with
// the address-space lock held and must not call back into the space.
type Observer interface {
	OnAllocate(space uint64, base, length uintptr, caps Capability)
	OnMap(space uint64, base, length uintptr, perms Perm)
	OnUnmap(space uint64, base, length uintptr)
	OnProtect(space uint64, base, length uintptr, perms Perm)
	OnDestroy(space uint64, base, length uintptr)
}

func (as *AddressSpace) notifyAllocate(base, length uintptr, caps Capability) {
	if as.observer != nil {
		as.observer.OnAllocate(as.id, base, length, caps)
	}
}

func (as *AddressSpace) notifyMap(base, length uintptr, perms Perm) {
	if as.observer != nil {
		as.observer.OnMap(as.id, base, length, perms)
	}
}

func (as *AddressSpace) notifyUnmap(base, length uintptr) {
	if as.observer != nil {
		as.observer.OnUnmap(as.id, base, length)
	}
}

func (as *AddressSpace) notifyProtect(base, length uintptr, perms Perm) {
	if as.observer != nil {
		as.observer.OnProtect(as.id, base, length, perms)
	}
}

func (as *AddressSpace) notifyDestroy(base, length uintptr) {
	if as.observer != nil {
		as.observer.OnDestroy(as.id, base, length)
	}
}
