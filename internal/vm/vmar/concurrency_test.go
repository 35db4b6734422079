package vmar

import (
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/vmspace/internal/vm/object"
)

var errHole = errors.New("observed a state with neither old nor new mapping")

// Full allocate/map/protect/unmap/destroy cycles from many goroutines; the
// tree must satisfy its invariants afterwards and every translation and
// object reference must be gone.
func TestConcurrentLifecycles(t *testing.T) {
	as, pt := newTestSpace(t)

	const workers = 8
	const rounds = 50

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				sub, _, err := as.Root().Allocate(0, 0x10000, CanMapRead|CanMapWrite, PlacementDynamic)
				if err != nil {
					return err
				}
				obj := object.NewAnonymous(0x2000, object.RightRead|object.RightWrite)
				addr, err := sub.Map(0, obj, 0, 0x2000, PermRead|PermWrite, PlacementDynamic)
				if err != nil {
					return err
				}
				if err := sub.Protect(addr, 0x2000, PermRead); err != nil {
					return err
				}
				if err := sub.Unmap(addr, 0x2000); err != nil {
					return err
				}
				if err := sub.Destroy(); err != nil {
					return err
				}
				obj.Release()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	mustInvariants(t, as)
	if pt.EntryCount() != 0 {
		t.Errorf("%d translations left after all cycles", pt.EntryCount())
	}
}

// Concurrent readers observe either the pre-overwrite leaf or its
// replacement, never a state with neither: the multi-leaf replacement is a
// single step in the space's linearization order.
func TestOverwriteAtomicityUnderReaders(t *testing.T) {
	as, _ := newTestSpace(t)
	root := as.Root()

	base := uintptr(0x11000)
	old := rwObject(0x4000)
	defer old.Release()
	if _, err := root.Map(0x10000, old, 0, 0x4000, PermRead, PlacementSpecific); err != nil {
		t.Fatalf("map: %v", err)
	}

	stop := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			as.mutex.RLock()
			leaf := as.findMappingAt(base)
			as.mutex.RUnlock()
			if leaf == nil {
				return errHole
			}
		}
	})

	for i := 0; i < 50; i++ {
		repl := rwObject(0x4000)
		if _, err := root.Map(0x10000, repl, 0, 0x4000, PermRead, PlacementSpecificOverwrite); err != nil {
			t.Fatalf("overwrite %d: %v", i, err)
		}
		repl.Release()
	}
	close(stop)
	if err := g.Wait(); err != nil {
		t.Fatalf("reader failed: %v", err)
	}
	mustInvariants(t, as)
}

func TestShareMapping(t *testing.T) {
	t.Run("SharesObjectAcrossSpaces", func(t *testing.T) {
		src, _ := newTestSpace(t)
		dst, _ := newTestSpace(t)

		obj := rwObject(0x2000)
		defer obj.Release()
		srcAddr, err := src.Root().Map(0, obj, 0, 0x2000, PermRead|PermWrite, PlacementDynamic)
		if err != nil {
			t.Fatalf("map in source: %v", err)
		}

		dstAddr, err := ShareMapping(src, srcAddr, dst.Root(), 0, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("share: %v", err)
		}
		if obj.Refs() != 3 {
			t.Errorf("refs = %d, want 3", obj.Refs())
		}
		if err := dst.Root().Unmap(dstAddr, 0x2000); err != nil {
			t.Fatalf("unmap in destination: %v", err)
		}
		if obj.Refs() != 2 {
			t.Errorf("refs = %d after destination unmap", obj.Refs())
		}
		mustInvariants(t, src)
		mustInvariants(t, dst)
	})

	t.Run("NoMappingAtSource", func(t *testing.T) {
		src, _ := newTestSpace(t)
		dst, _ := newTestSpace(t)
		if _, err := ShareMapping(src, 0x10000, dst.Root(), 0, PermRead, PlacementDynamic); err == nil {
			t.Error("share of unmapped address succeeded")
		}
	})

	// Bidirectional sharing between two spaces must not deadlock: both
	// directions acquire the space locks in ascending identifier order.
	t.Run("BidirectionalNoDeadlock", func(t *testing.T) {
		a, _ := newTestSpace(t)
		b, _ := newTestSpace(t)

		objA := rwObject(0x1000)
		defer objA.Release()
		objB := rwObject(0x1000)
		defer objB.Release()
		addrA, err := a.Root().Map(0, objA, 0, 0x1000, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("map in a: %v", err)
		}
		addrB, err := b.Root().Map(0, objB, 0, 0x1000, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("map in b: %v", err)
		}

		var g errgroup.Group
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				addr, err := ShareMapping(a, addrA, b.Root(), 0, PermRead, PlacementDynamic)
				if err != nil {
					return err
				}
				if err := b.Root().Unmap(addr, 0x1000); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				addr, err := ShareMapping(b, addrB, a.Root(), 0, PermRead, PlacementDynamic)
				if err != nil {
					return err
				}
				if err := a.Root().Unmap(addr, 0x1000); err != nil {
					return err
				}
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			t.Fatalf("share loop failed: %v", err)
		}
		mustInvariants(t, a)
		mustInvariants(t, b)
	})
}
