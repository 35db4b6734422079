package arch

import (
	"fmt"
	"sync"
)

// DefaultPageSize is the translation granularity of the software table.
const DefaultPageSize = 4096

type softEntry struct {
	phys  uintptr
	flags EntryFlags
}

// SoftPageTable is a page-indexed software translation table. It backs tests
// and hosted runs where no hardware table exists, and supports deterministic
// failure injection so callers can exercise their rollback paths.
type SoftPageTable struct {
	pageSize uintptr
	mutex    sync.Mutex
	entries  map[uintptr]softEntry

	// failAfter < 0 disables injection; otherwise the failAfter'th page
	// install (counted across calls) fails. Injection is one-shot: it
	// disarms when it fires, modeling a transient frame-allocation
	// failure.
	failAfter int
	installs  int
}

// NewSoftPageTable creates an empty software page table with the given
// translation granularity; pageSize zero selects DefaultPageSize.
func NewSoftPageTable(pageSize uintptr) *SoftPageTable {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &SoftPageTable{
		pageSize:  pageSize,
		entries:   make(map[uintptr]softEntry),
		failAfter: -1,
	}
}

// FailAfter arms failure injection: the n'th subsequent page install fails.
// Negative n disarms.
func (pt *SoftPageTable) FailAfter(n int) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	pt.failAfter = n
	pt.installs = 0
}

// Map implements PageTable. A partial failure uninstalls every page this
// call already installed before returning.
func (pt *SoftPageTable) Map(base, length, phys uintptr, flags EntryFlags) error {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	for off := uintptr(0); off < length; off += pt.pageSize {
		page := base + off
		if pt.failAfter >= 0 && pt.installs >= pt.failAfter {
			pt.failAfter = -1
			pt.rollback(base, off)
			return fmt.Errorf("page install at 0x%x: injected failure", page)
		}
		if _, present := pt.entries[page]; present {
			pt.rollback(base, off)
			return fmt.Errorf("page 0x%x already mapped", page)
		}
		pt.entries[page] = softEntry{phys: phys + off, flags: flags | EntryPresent}
		pt.installs++
	}
	return nil
}

// rollback removes the pages of [base, base+installed) under pt.mutex.
func (pt *SoftPageTable) rollback(base, installed uintptr) {
	for off := uintptr(0); off < installed; off += pt.pageSize {
		delete(pt.entries, base+off)
	}
}

// Unmap implements PageTable.
func (pt *SoftPageTable) Unmap(base, length uintptr) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	for off := uintptr(0); off < length; off += pt.pageSize {
		delete(pt.entries, base+off)
	}
}

// Protect implements PageTable. Every present entry in the range gets the
// new attribute bits; absent pages are an error because the region tree
// only protects ranges it has fully populated.
func (pt *SoftPageTable) Protect(base, length uintptr, flags EntryFlags) error {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	for off := uintptr(0); off < length; off += pt.pageSize {
		if _, present := pt.entries[base+off]; !present {
			return fmt.Errorf("protect of unmapped page 0x%x", base+off)
		}
	}
	for off := uintptr(0); off < length; off += pt.pageSize {
		e := pt.entries[base+off]
		e.flags = flags | EntryPresent
		pt.entries[base+off] = e
	}
	return nil
}

// Lookup returns the entry flags for the page containing addr.
func (pt *SoftPageTable) Lookup(addr uintptr) (EntryFlags, bool) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	e, ok := pt.entries[addr&^(pt.pageSize-1)]
	return e.flags, ok
}

// EntryCount returns the number of present translations.
func (pt *SoftPageTable) EntryCount() int {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	return len(pt.entries)
}
