package vmar

import (
	"testing"

	"github.com/orizon-lang/vmspace/internal/vm/object"
)

func TestInvalidateObject(t *testing.T) {
	as, pt := newTestSpace(t)
	root := as.Root()

	shared := rwObject(0x2000)
	defer shared.Release()
	other := rwObject(0x1000)
	defer other.Release()

	addr1, err := root.Map(0x10000, shared, 0, 0x2000, PermRead, PlacementSpecific)
	if err != nil {
		t.Fatalf("map 1: %v", err)
	}
	addr2, err := root.Map(0x20000, shared, 0, 0x2000, PermRead, PlacementSpecific)
	if err != nil {
		t.Fatalf("map 2: %v", err)
	}
	addrOther, err := root.Map(0x30000, other, 0, 0x1000, PermRead, PlacementSpecific)
	if err != nil {
		t.Fatalf("map other: %v", err)
	}

	if n := as.InvalidateObject(shared); n != 2 {
		t.Errorf("invalidated %d mappings, want 2", n)
	}
	if _, ok := pt.Lookup(addr1); ok {
		t.Error("translation for first mapping survived")
	}
	if _, ok := pt.Lookup(addr2); ok {
		t.Error("translation for second mapping survived")
	}
	if _, ok := pt.Lookup(addrOther); !ok {
		t.Error("unrelated translation dropped")
	}

	// Mappings stay in the tree: the ranges are still occupied and still
	// unmappable.
	mustInvariants(t, as)
	if _, err := root.Map(0x10000, other, 0, 0x1000, PermRead, PlacementSpecific); err == nil {
		t.Error("invalidated range no longer occupied")
	}
	if err := root.Unmap(addr1, 0x2000); err != nil {
		t.Errorf("unmap of invalidated mapping: %v", err)
	}
	if shared.Refs() != 2 {
		t.Errorf("refs = %d, want 2", shared.Refs())
	}
}

func TestInvalidatorRouting(t *testing.T) {
	as, pt := newTestSpace(t)
	obj := rwObject(0x1000)
	defer obj.Release()
	addr, err := as.Root().Map(0, obj, 0, 0x1000, PermRead, PlacementDynamic)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	events := make(chan object.Event, 4)
	iv := NewInvalidator(events)
	iv.Register("/img/libc.so", as, obj)

	// Chmod does not invalidate; a write on an unrelated path does not
	// route; a write on the registered path drops the translations.
	events <- object.Event{Path: "/img/libc.so", Op: object.OpChmod}
	events <- object.Event{Path: "/img/other.so", Op: object.OpWrite}
	events <- object.Event{Path: "/img/libc.so", Op: object.OpWrite}
	close(events)
	iv.Run()

	if _, ok := pt.Lookup(addr); ok {
		t.Error("translation survived invalidating event")
	}
	mustInvariants(t, as)
}

func TestInvalidatorUnregister(t *testing.T) {
	as, pt := newTestSpace(t)
	obj := rwObject(0x1000)
	defer obj.Release()
	addr, err := as.Root().Map(0, obj, 0, 0x1000, PermRead, PlacementDynamic)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	events := make(chan object.Event, 1)
	iv := NewInvalidator(events)
	iv.Register("/img/libc.so", as, obj)
	iv.Unregister("/img/libc.so")

	events <- object.Event{Path: "/img/libc.so", Op: object.OpWrite}
	close(events)
	iv.Run()

	if _, ok := pt.Lookup(addr); !ok {
		t.Error("translation dropped after unregister")
	}
}
