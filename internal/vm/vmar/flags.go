package vmar

import (
	"strings"

	"github.com/orizon-lang/vmspace/internal/vm/arch"
	"github.com/orizon-lang/vmspace/internal/vm/object"
)

// Capability is the permission mask a region may grant to its descendants.
// A child region's capability is always a subset of its parent's; the
// capability only narrows descending the tree.
type Capability uint32

const (
	CanMapRead Capability = 1 << iota
	CanMapWrite
	CanMapExecute
	CanMapSpecific

	// CapabilityAll is the root region's capability.
	CapabilityAll = CanMapRead | CanMapWrite | CanMapExecute | CanMapSpecific
)

// Contains reports whether every bit of sub is present in c.
func (c Capability) Contains(sub Capability) bool { return c&sub == sub }

// String lists the set capability bits.
func (c Capability) String() string {
	var parts []string
	if c&CanMapRead != 0 {
		parts = append(parts, "CAN_MAP_READ")
	}
	if c&CanMapWrite != 0 {
		parts = append(parts, "CAN_MAP_WRITE")
	}
	if c&CanMapExecute != 0 {
		parts = append(parts, "CAN_MAP_EXECUTE")
	}
	if c&CanMapSpecific != 0 {
		parts = append(parts, "CAN_MAP_SPECIFIC")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Perm is the effective permission mask of a mapping.
type Perm uint32

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExecute
)

// String returns an rwx-style rendering of the mask.
func (p Perm) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// capability returns the capability bits a region must hold to grant p.
func (p Perm) capability() Capability {
	var c Capability
	if p&PermRead != 0 {
		c |= CanMapRead
	}
	if p&PermWrite != 0 {
		c |= CanMapWrite
	}
	if p&PermExecute != 0 {
		c |= CanMapExecute
	}
	return c
}

// rights returns the object rights a backing object must hold to serve p.
func (p Perm) rights() object.Rights {
	var r object.Rights
	if p&PermRead != 0 {
		r |= object.RightRead
	}
	if p&PermWrite != 0 {
		r |= object.RightWrite
	}
	if p&PermExecute != 0 {
		r |= object.RightExecute
	}
	return r
}

// entryFlags translates p into page-table attribute bits.
func (p Perm) entryFlags() arch.EntryFlags {
	flags := arch.EntryPresent | arch.EntryUser
	if p&PermWrite != 0 {
		flags |= arch.EntryWritable
	}
	if p&PermExecute == 0 {
		flags |= arch.EntryNoExecute
	}
	return flags
}

// Placement selects how a map or allocate request resolves its address.
type Placement int

const (
	// PlacementDynamic lets the allocator pick the lowest free gap.
	PlacementDynamic Placement = iota

	// PlacementSpecific uses the caller-supplied region offset and fails
	// on any collision with an existing child.
	PlacementSpecific

	// PlacementSpecificOverwrite uses the caller-supplied region offset
	// and atomically replaces any overlapping leaf mappings or
	// reservations. Overlapping a sub-region is an error.
	PlacementSpecificOverwrite
)

// String returns the placement name.
func (p Placement) String() string {
	switch p {
	case PlacementDynamic:
		return "DYNAMIC"
	case PlacementSpecific:
		return "SPECIFIC"
	case PlacementSpecificOverwrite:
		return "SPECIFIC_OVERWRITE"
	default:
		return "UNKNOWN"
	}
}

func (p Placement) specific() bool {
	return p == PlacementSpecific || p == PlacementSpecificOverwrite
}
