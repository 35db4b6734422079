package vmar

import (
	"testing"

	"github.com/orizon-lang/vmspace/internal/vm/arch"
	"github.com/orizon-lang/vmspace/internal/vm/object"
	"github.com/orizon-lang/vmspace/internal/vm/status"
)

func TestProtect(t *testing.T) {
	t.Run("NarrowsWholeLeaf", func(t *testing.T) {
		as, pt := newTestSpace(t)
		obj := rwObject(0x2000)
		defer obj.Release()
		addr, err := as.Root().Map(0, obj, 0, 0x2000, PermRead|PermWrite, PlacementDynamic)
		if err != nil {
			t.Fatalf("map: %v", err)
		}

		if err := as.Root().Protect(addr, 0x2000, PermRead); err != nil {
			t.Fatalf("protect: %v", err)
		}
		flags, _ := pt.Lookup(addr)
		if flags&arch.EntryWritable != 0 {
			t.Error("writable bit survived protect")
		}
		mustInvariants(t, as)
	})

	t.Run("FindsLeafInNestedRegion", func(t *testing.T) {
		as, _ := newTestSpace(t)
		sub, _, err := as.Root().Allocate(0, 0x10000, CanMapRead|CanMapWrite, PlacementDynamic)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		obj := rwObject(0x1000)
		defer obj.Release()
		addr, err := sub.Map(0, obj, 0, 0x1000, PermRead|PermWrite, PlacementDynamic)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		// Protect through the root handle still resolves the leaf.
		if err := as.Root().Protect(addr, 0x1000, PermRead); err != nil {
			t.Fatalf("protect via root: %v", err)
		}
	})

	t.Run("SubRangeUnsupported", func(t *testing.T) {
		as, _ := newTestSpace(t)
		obj := rwObject(0x4000)
		defer obj.Release()
		addr, err := as.Root().Map(0, obj, 0, 0x4000, PermRead|PermWrite, PlacementDynamic)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		err = as.Root().Protect(addr, 0x1000, PermRead)
		wantCode(t, err, status.ErrInvalidArgument)
		err = as.Root().Protect(addr+0x1000, 0x3000, PermRead)
		wantCode(t, err, status.ErrInvalidArgument)
	})

	t.Run("ExceedsRegionCapability", func(t *testing.T) {
		as, _ := newTestSpace(t)
		sub, _, err := as.Root().Allocate(0, 0x10000, CanMapRead|CanMapWrite, PlacementDynamic)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		obj := object.NewAnonymous(0x1000, object.RightRead|object.RightWrite|object.RightExecute)
		defer obj.Release()
		addr, err := sub.Map(0, obj, 0, 0x1000, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		err = sub.Protect(addr, 0x1000, PermRead|PermExecute)
		wantCode(t, err, status.ErrPermissionDenied)
	})

	t.Run("ExceedsObjectRights", func(t *testing.T) {
		as, _ := newTestSpace(t)
		ro := object.NewAnonymous(0x1000, object.RightRead)
		defer ro.Release()
		addr, err := as.Root().Map(0, ro, 0, 0x1000, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		err = as.Root().Protect(addr, 0x1000, PermRead|PermWrite)
		wantCode(t, err, status.ErrPermissionDenied)
	})

	t.Run("ReservationRejected", func(t *testing.T) {
		as, _ := newTestSpace(t)
		base, err := as.Root().Reserve(0, 0x1000, PlacementDynamic)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		err = as.Root().Protect(base, 0x1000, PermRead)
		wantCode(t, err, status.ErrInvalidArgument)
	})

	t.Run("NoMappingAtRange", func(t *testing.T) {
		as, _ := newTestSpace(t)
		err := as.Root().Protect(0x10000, 0x1000, PermRead)
		wantCode(t, err, status.ErrInvalidArgument)
	})
}

func TestUnmap(t *testing.T) {
	t.Run("MultipleWholeLeaves", func(t *testing.T) {
		as, pt := newTestSpace(t)
		root := as.Root()
		a, b := rwObject(0x2000), rwObject(0x2000)
		defer a.Release()
		defer b.Release()
		if _, err := root.Map(0x10000, a, 0, 0x2000, PermRead, PlacementSpecific); err != nil {
			t.Fatalf("map a: %v", err)
		}
		if _, err := root.Map(0x12000, b, 0, 0x2000, PermRead, PlacementSpecific); err != nil {
			t.Fatalf("map b: %v", err)
		}

		if err := root.Unmap(0x11000, 0x4000); err != nil {
			t.Fatalf("unmap: %v", err)
		}
		if a.Refs() != 1 || b.Refs() != 1 {
			t.Errorf("refs a=%d b=%d after unmap", a.Refs(), b.Refs())
		}
		if pt.EntryCount() != 0 {
			t.Errorf("%d entries left", pt.EntryCount())
		}
		mustInvariants(t, as)
	})

	t.Run("PartialLeafRejected", func(t *testing.T) {
		as, _ := newTestSpace(t)
		obj := rwObject(0x4000)
		defer obj.Release()
		addr, err := as.Root().Map(0, obj, 0, 0x4000, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		err = as.Root().Unmap(addr, 0x2000)
		wantCode(t, err, status.ErrInvalidArgument)
		err = as.Root().Unmap(addr+0x2000, 0x4000)
		wantCode(t, err, status.ErrInvalidArgument)
		if obj.Refs() != 2 {
			t.Errorf("failed unmap changed refs to %d", obj.Refs())
		}
	})

	t.Run("SubRegionRejected", func(t *testing.T) {
		as, _ := newTestSpace(t)
		if _, _, err := as.Root().Allocate(0x10000, 0x10000, CanMapRead, PlacementSpecific); err != nil {
			t.Fatalf("allocate: %v", err)
		}
		err := as.Root().Unmap(0x11000, 0x20000)
		wantCode(t, err, status.ErrInvalidArgument)
	})

	t.Run("EmptyRangeRejected", func(t *testing.T) {
		as, _ := newTestSpace(t)
		err := as.Root().Unmap(0x10000, 0x1000)
		wantCode(t, err, status.ErrInvalidArgument)
	})

	t.Run("OutsideRegionRejected", func(t *testing.T) {
		as, _ := newTestSpace(t)
		sub, subBase, err := as.Root().Allocate(0, 0x10000, CanMapRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		err = sub.Unmap(subBase+0x8000, 0x10000)
		wantCode(t, err, status.ErrOutOfRange)
	})

	// Map immediately followed by unmap of the identical range restores
	// the free-gap set: the next identical request lands at the same
	// address.
	t.Run("RoundTripRestoresGaps", func(t *testing.T) {
		as, _ := newTestSpace(t)
		root := as.Root()
		obj := rwObject(0x3000)
		defer obj.Release()

		first, err := root.Map(0, obj, 0, 0x3000, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		if err := root.Unmap(first, 0x3000); err != nil {
			t.Fatalf("unmap: %v", err)
		}
		second, err := root.Map(0, obj, 0, 0x3000, PermRead, PlacementDynamic)
		if err != nil {
			t.Fatalf("remap: %v", err)
		}
		if second != first {
			t.Errorf("free-gap set changed: 0x%x then 0x%x", first, second)
		}
		mustInvariants(t, as)
	})
}
