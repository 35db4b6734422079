// Package vmar implements the virtual-address-space manager: each address
// space is partitioned into a tree of regions, backing memory objects are
// mapped into sub-ranges of those regions, and every mutation keeps the
// page-table layer and the tree in lock step. The tree enforces non-overlap
// of siblings, monotonic narrowing of capabilities, and atomic multi-leaf
// replacement; no operation ever leaves a partially-mutated state
// observable.
package vmar

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/vmspace/internal/vm/arch"
	"github.com/orizon-lang/vmspace/internal/vm/status"
)

// nextSpaceID assigns the global ordering identifier used for cross-space
// lock acquisition.
var nextSpaceID atomic.Uint64

// Config parameterizes an AddressSpace.
type Config struct {
	Base     uintptr        // lowest usable virtual address
	Length   uintptr        // total virtual span in bytes
	PageSize uintptr        // translation granularity; zero selects the arch default
	Table    arch.PageTable // page-table layer kept in sync with the tree
	Observer Observer       // optional mutation observer
}

// DefaultConfig returns a user-mode-sized space over a software page table.
func DefaultConfig() Config {
	return Config{
		Base:     0x1000,
		Length:   1<<32 - 0x1000,
		PageSize: arch.DefaultPageSize,
		Table:    arch.NewSoftPageTable(arch.DefaultPageSize),
	}
}

// AddressSpace is the per-process virtual memory container. All mutating
// operations run to completion under its exclusive lock; read-only queries
// take the shared lock. Nodes live in an arena indexed by RegionID so the
// parent back-link is a plain index, never an owning reference.
type AddressSpace struct {
	id       uint64
	pageSize uintptr
	table    arch.PageTable
	observer Observer

	mutex sync.RWMutex
	nodes []*node // arena; RegionID is an index, ids are never reused
}

// New creates an address space spanning [cfg.Base, cfg.Base+cfg.Length).
func New(cfg Config) (*AddressSpace, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = arch.DefaultPageSize
	}
	if cfg.PageSize&(cfg.PageSize-1) != 0 {
		return nil, status.InvalidArgument("vmar.New", "page size 0x%x not a power of two", cfg.PageSize)
	}
	if cfg.Base%cfg.PageSize != 0 || cfg.Length%cfg.PageSize != 0 || cfg.Length == 0 {
		return nil, status.InvalidArgument("vmar.New", "span [0x%x, +0x%x) misaligned or empty", cfg.Base, cfg.Length)
	}
	if cfg.Table == nil {
		return nil, status.InvalidArgument("vmar.New", "nil page table")
	}

	as := &AddressSpace{
		id:       nextSpaceID.Add(1),
		pageSize: cfg.PageSize,
		table:    cfg.Table,
		observer: cfg.Observer,
	}
	as.nodes = append(as.nodes, &node{
		kind:   kindRegion,
		alive:  true,
		base:   cfg.Base,
		length: cfg.Length,
		parent: noRegion,
		caps:   CapabilityAll,
	})
	return as, nil
}

// ID returns the space's global ordering identifier.
func (as *AddressSpace) ID() uint64 { return as.id }

// PageSize returns the translation granularity.
func (as *AddressSpace) PageSize() uintptr { return as.pageSize }

// Root returns a handle to the root region covering the whole span.
func (as *AddressSpace) Root() Region {
	return Region{as: as, id: rootRegion}
}

// Destroy tears down the whole tree, unmapping every live mapping. The
// space is unusable afterwards; repeated calls are no-ops.
func (as *AddressSpace) Destroy() {
	// Root destroy is always accepted, even on a dead tree.
	_ = as.Root().Destroy()
}

// Region is a caller-facing handle to a node of the region tree. Handles
// stay valid after destruction; operations through a dead handle fail with
// BadState.
type Region struct {
	as *AddressSpace
	id RegionID
}

// Space returns the owning address space.
func (r Region) Space() *AddressSpace { return r.as }

// RegionInfo describes a region's placement, as consumed by loaders to
// compute region-relative offsets before mapping segments.
type RegionInfo struct {
	Base       uintptr
	Length     uintptr
	Capability Capability
}

// Info returns the region's base, length and capability. Read-only.
func (r Region) Info() (RegionInfo, error) {
	r.as.mutex.RLock()
	defer r.as.mutex.RUnlock()

	n := r.as.node(r.id)
	if n == nil || !n.alive {
		return RegionInfo{}, status.BadState("vmar.Info", "region handle is dead")
	}
	return RegionInfo{Base: n.base, Length: n.length, Capability: n.caps}, nil
}

// Base returns the region's base address. Read-only.
func (r Region) Base() (uintptr, error) {
	info, err := r.Info()
	return info.Base, err
}

// DumpTree writes an indented rendering of the live tree, for inspection
// tools.
func (as *AddressSpace) DumpTree(w io.Writer) {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	as.dumpNode(w, rootRegion, 0)
}

func (as *AddressSpace) dumpNode(w io.Writer, id RegionID, depth int) {
	n := as.node(id)
	if n == nil || !n.alive {
		return
	}
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	switch n.kind {
	case kindRegion:
		fmt.Fprintf(w, "%sregion  [0x%x, 0x%x) caps=%s\n", indent, n.base, n.end(), n.caps)
		for _, child := range n.children {
			as.dumpNode(w, child, depth+1)
		}
	case kindMapping:
		fmt.Fprintf(w, "%smapping [0x%x, 0x%x) perms=%s obj+0x%x\n", indent, n.base, n.end(), n.perms, n.objOffset)
	case kindReservation:
		fmt.Fprintf(w, "%sreserve [0x%x, 0x%x)\n", indent, n.base, n.end())
	}
}
