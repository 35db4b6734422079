// vmspace-demo drives the address-space manager through an ELF-loader-style
// placement sequence: reserve a span, install text/data/bss segments over
// it, narrow permissions, then tear everything down. With -file it also
// maps a file read-only and, with -watch, drops its translations when the
// file changes on disk.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/orizon-lang/vmspace/internal/vm/arch"
	"github.com/orizon-lang/vmspace/internal/vm/object"
	"github.com/orizon-lang/vmspace/internal/vm/vmar"
)

var (
	filePath = flag.String("file", "", "map this file read-only into the space")
	watchFor = flag.Duration("watch", 0, "watch the mapped file for changes for this long")
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	log.SetPrefix("vmspace-demo: ")

	pt := arch.NewSoftPageTable(0)
	space, err := vmar.New(vmar.Config{
		Base:     0x1000,
		Length:   1<<32 - 0x1000,
		PageSize: arch.DefaultPageSize,
		Table:    pt,
	})
	if err != nil {
		log.Fatalf("create space: %v", err)
	}

	// Carve out the program region the way a loader would.
	prog, progBase, err := space.Root().Allocate(0, 0x40000,
		vmar.CanMapRead|vmar.CanMapWrite|vmar.CanMapExecute|vmar.CanMapSpecific,
		vmar.PlacementDynamic)
	if err != nil {
		log.Fatalf("allocate program region: %v", err)
	}
	log.Printf("program region at 0x%x", progBase)

	// Reserve the whole image span up front, then install the segments
	// over the reservation.
	const imageSpan = 0x6000
	if _, err := prog.Reserve(0, imageSpan, vmar.PlacementSpecific); err != nil {
		log.Fatalf("reserve image span: %v", err)
	}

	text := object.NewAnonymous(0x3000, object.RightRead|object.RightExecute)
	data := object.NewAnonymous(0x2000, object.RightRead|object.RightWrite)
	bss := object.NewAnonymous(0x1000, object.RightRead|object.RightWrite)
	defer text.Release()
	defer data.Release()
	defer bss.Release()

	if _, err := data.WriteAt([]byte("initialized data segment"), 0); err != nil {
		log.Fatalf("populate data object: %v", err)
	}

	type segment struct {
		name   string
		offset uintptr
		obj    object.Object
		length uintptr
		perms  vmar.Perm
	}
	segments := []segment{
		{"text", 0x0000, text, 0x3000, vmar.PermRead | vmar.PermExecute},
		{"data", 0x3000, data, 0x2000, vmar.PermRead | vmar.PermWrite},
		{"bss", 0x5000, bss, 0x1000, vmar.PermRead | vmar.PermWrite},
	}
	for _, seg := range segments {
		addr, err := prog.Map(seg.offset, seg.obj, 0, seg.length, seg.perms,
			vmar.PlacementSpecificOverwrite)
		if err != nil {
			log.Fatalf("map %s: %v", seg.name, err)
		}
		log.Printf("mapped %-4s at 0x%x (%s)", seg.name, addr, seg.perms)
	}

	// Relocations done; drop write access on the data segment.
	if err := prog.Protect(progBase+0x3000, 0x2000, vmar.PermRead); err != nil {
		log.Fatalf("protect data: %v", err)
	}

	if *filePath != "" {
		if err := mapFile(space, *filePath, *watchFor); err != nil {
			log.Fatalf("map file: %v", err)
		}
	}

	fmt.Println("address-space layout:")
	space.DumpTree(os.Stdout)
	log.Printf("page-table entries live: %d", pt.EntryCount())

	space.Destroy()
	log.Printf("after teardown: %d page-table entries, text object refs=%d",
		pt.EntryCount(), text.Refs())
}

// mapFile maps path read-only into its own sub-region and optionally keeps
// the translations coherent with on-disk changes for the watch duration.
func mapFile(space *vmar.AddressSpace, path string, watch time.Duration) error {
	fo, err := object.OpenFile(path, object.RightRead)
	if err != nil {
		return err
	}
	defer fo.Release()

	region, _, err := space.Root().Allocate(0, 0x100000,
		vmar.CanMapRead|vmar.CanMapSpecific, vmar.PlacementDynamic)
	if err != nil {
		return err
	}

	span := fo.Size()
	span = (span + space.PageSize() - 1) &^ (space.PageSize() - 1)
	addr, err := region.Map(0, fo, 0, span, vmar.PermRead, vmar.PlacementDynamic)
	if err != nil {
		return err
	}
	log.Printf("mapped %s at 0x%x (%d bytes)", path, addr, fo.Size())

	if watch <= 0 {
		return nil
	}

	fw, err := object.NewFileWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(path); err != nil {
		return err
	}

	iv := vmar.NewInvalidator(fw.Events())
	iv.Register(path, space, fo)
	go iv.Run()

	log.Printf("watching %s for %v", path, watch)
	time.Sleep(watch)
	return nil
}
