package vmm

import (
	"fmt"
	"testing"

	"zados/kernel"
	"zados/kernel/mm"
	"zados/kernel/mm/physmem"
)

// testEnv bundles a page directory table backed by a simulated arena and a
// bump frame allocator.
type testEnv struct {
	arena      *physmem.Arena
	mem        *ArenaMemory
	pdt        PageDirectoryTable
	nextFrame  mm.Frame
	allocCount int
	allocErr   *kernel.Error
	failAfter  int
}

func newTestEnv(t *testing.T, frames uintptr) *testEnv {
	t.Helper()

	env := &testEnv{
		arena:     physmem.NewArena(frames * mm.PageSize),
		nextFrame: 1,
		failAfter: -1,
	}
	env.mem = NewArenaMemory(env.arena)

	root, _ := env.alloc(1)
	env.allocCount = 0
	if err := env.pdt.Init(root, env.mem); err != nil {
		t.Fatal(err)
	}

	return env
}

func (env *testEnv) alloc(count uintptr) (mm.Frame, *kernel.Error) {
	if env.failAfter >= 0 && env.allocCount >= env.failAfter {
		return mm.InvalidFrame, env.allocErr
	}

	frame := env.nextFrame
	env.nextFrame += mm.Frame(count)
	env.allocCount++

	// Dirty the frame so tests catch missing table zeroing
	words, _ := env.arena.Words(frame.Address())
	for i := range words {
		words[i] = 0xfeedfacefeedface
	}

	return frame, nil
}

// mockTLB replaces the TLB maintenance and TTBR0 accessors and returns a
// restore function.
func mockTLB(ttbr0 *uint64, entryFlushes *[]uintptr, fullFlushes *int) func() {
	origRead, origWrite := readTTBR0Fn, writeTTBR0Fn
	origEntry, origAll, origISB := flushTLBEntryFn, flushTLBAllFn, isbFn

	readTTBR0Fn = func() uint64 { return *ttbr0 }
	writeTTBR0Fn = func(v uint64) { *ttbr0 = v }
	flushTLBEntryFn = func(virtAddr uintptr) { *entryFlushes = append(*entryFlushes, virtAddr) }
	flushTLBAllFn = func() { *fullFlushes++ }
	isbFn = func() {}

	return func() {
		readTTBR0Fn, writeTTBR0Fn = origRead, origWrite
		flushTLBEntryFn, flushTLBAllFn, isbFn = origEntry, origAll, origISB
	}
}

func TestMapPreconditions(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	specs := []struct {
		virtStart, virtEnd, physStart, physEnd uintptr
		expErr                                 *kernel.Error
	}{
		{0x2000, 0x1000, 0x1000, 0x2000, ErrInvalidVirtualAddress},
		{0x1000, 0x2000, 0x2000, 0x1000, ErrInvalidPhysicalAddress},
		// inverted physical range is reported before the virtual one
		{0x2000, 0x1000, 0x2000, 0x1000, ErrInvalidPhysicalAddress},
		{0x1000, 0x3000, 0x5000, 0x6000, ErrAddressMismatch},
		{0x1000, 0x2000, 0x1001, 0x2001, ErrMisalignedPhysicalAddress},
		{0x1001, 0x2001, 0x1000, 0x2000, ErrMisalignedVirtualAddress},
		{0x1000, 0x2000, 0x1000, 0x2000, nil},
		// misaligned physical bound wins over misaligned virtual bound
		{0x1001, 0x2001, 0x1001, 0x2001, ErrMisalignedPhysicalAddress},
		{0x1000, 0x1001, 0x1000, 0x1001, ErrMisalignedPhysicalAddress},
		{1 << 48, 1<<48 + 0x1000, 0x1000, 0x2000, ErrInvalidVirtualAddress},
		{0x1000, 0x2000, 1 << 48, 1<<48 + 0x1000, ErrInvalidPhysicalAddress},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			env := newTestEnv(t, 64)

			err := Map(spec.virtStart, spec.virtEnd, spec.physStart, spec.physEnd, KernelRW, env.alloc, &env.pdt)
			if err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}

			if spec.expErr != nil {
				if env.allocCount != 0 {
					t.Fatalf("expected rejected Map not to allocate; allocated %d frames", env.allocCount)
				}
				if got := env.arena.FrameCount(); got != 1 {
					t.Fatalf("expected rejected Map not to touch any table; %d frames materialised", got)
				}
			}
		})
	}

	if err := Map(0x1000, 0x2000, 0x1000, 0x2000, KernelRW, nil, nil); err != errNilPDT {
		t.Fatalf("expected errNilPDT; got %v", err)
	}
}

func TestMapUnmapPairing(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	const (
		virt = uintptr(0x0000123456789000)
		phys = uintptr(0x200000)
	)

	for _, active := range []bool{false, true} {
		t.Run(fmt.Sprintf("active=%t", active), func(t *testing.T) {
			env := newTestEnv(t, 1024)
			entryFlushes = nil
			ttbr0 = 0
			if active {
				ttbr0 = uint64(env.pdt.RootAddress())
			}

			if env.pdt.IsActive() != active {
				t.Fatalf("expected IsActive to return %t", active)
			}

			attrs := Attributes{Kernel: true, Writable: false, Cacheable: true}
			if err := env.pdt.Map(virt, virt+2*mm.PageSize, phys, phys+2*mm.PageSize, attrs, env.alloc); err != nil {
				t.Fatal(err)
			}

			// L1, L2 and L3 tables; both pages share the same L3 table
			if exp := 3; env.allocCount != exp {
				t.Fatalf("expected %d table allocations; got %d", exp, env.allocCount)
			}

			for i := uintptr(0); i < 2; i++ {
				pte, level, err := env.pdt.walkLevel(virt + i*mm.PageSize)
				if err != nil {
					t.Fatal(err)
				}
				if level != pageLevels-1 {
					t.Fatalf("expected walk to reach level 3; stopped at %d", level)
				}
				if got := pte.Address(); got != phys+i*mm.PageSize {
					t.Errorf("[page %d] expected leaf address 0x%x; got 0x%x", i, phys+i*mm.PageSize, got)
				}
				if got := pte.Attributes(); got != attrs {
					t.Errorf("[page %d] expected attributes %+v; got %+v", i, attrs, got)
				}

				got, err := env.pdt.Translate(virt + i*mm.PageSize + 0x123)
				if err != nil || got != phys+i*mm.PageSize+0x123 {
					t.Errorf("[page %d] unexpected translation 0x%x, %v", i, got, err)
				}
			}

			expFlushes := 0
			if active {
				expFlushes = 2
			}
			if len(entryFlushes) != expFlushes {
				t.Fatalf("expected %d TLB entry flushes after Map; got %d", expFlushes, len(entryFlushes))
			}

			if err := env.pdt.Unmap(virt, virt+2*mm.PageSize); err != nil {
				t.Fatal(err)
			}

			for i := uintptr(0); i < 2; i++ {
				pte, _, err := env.pdt.walkLevel(virt + i*mm.PageSize)
				if err != ErrInvalidMapping {
					t.Errorf("[page %d] expected ErrInvalidMapping after Unmap; got %v", i, err)
				}
				if pte.Valid() {
					t.Errorf("[page %d] expected leaf valid bit to be cleared", i)
				}
			}

			if active {
				expFlushes = 4
				if entryFlushes[2] != virt || entryFlushes[3] != virt+mm.PageSize {
					t.Errorf("expected Unmap to flush the unmapped pages; got %x", entryFlushes)
				}
			}
			if len(entryFlushes) != expFlushes {
				t.Fatalf("expected %d TLB entry flushes after Unmap; got %d", expFlushes, len(entryFlushes))
			}

			if err := env.pdt.Unmap(virt, virt+2*mm.PageSize); err != ErrNotMapped {
				t.Fatalf("expected second Unmap to return ErrNotMapped; got %v", err)
			}

			// Tables are not reclaimed
			if _, level, err := env.pdt.walkLevel(virt); err != ErrInvalidMapping || level != pageLevels-1 {
				t.Fatalf("expected intermediate tables to remain; walk stopped at level %d: %v", level, err)
			}
		})
	}
}

func TestMapZeroesNewTables(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	env := newTestEnv(t, 64)
	if err := Map(0x40000000, 0x40001000, 0x8000, 0x9000, KernelRW, env.alloc, &env.pdt); err != nil {
		t.Fatal(err)
	}

	valid := 0
	if err := env.pdt.visitLeaves(func(virtAddr uintptr, pte PageTableEntry) bool {
		valid++
		if virtAddr != 0x40000000 {
			t.Errorf("unexpected leaf for 0x%x", virtAddr)
		}
		return true
	}); err != nil {
		t.Fatal(err)
	}

	if valid != 1 {
		t.Fatalf("expected exactly one valid leaf; got %d", valid)
	}

	// The new tables must not expose the allocator's garbage
	for level := uint8(0); level < pageLevels-1; level++ {
		table, _ := env.mem.TableAt(mm.Frame(2 + level).Address())
		for index, pte := range table {
			if uintptr(index) != LevelIndex(0x40000000, level+1) && pte != 0 {
				t.Fatalf("expected level %d table entry %d to be zero; got 0x%x", level+1, index, uint64(pte))
			}
		}
	}
}

func TestMapRemap(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	env := newTestEnv(t, 64)
	ttbr0 = uint64(env.pdt.RootAddress())

	if err := Map(0x1000, 0x2000, 0x8000, 0x9000, KernelRW, env.alloc, &env.pdt); err != nil {
		t.Fatal(err)
	}
	if err := Map(0x1000, 0x2000, 0xa000, 0xb000, KernelDevice, env.alloc, &env.pdt); err != nil {
		t.Fatal(err)
	}

	pte, _, err := env.pdt.walkLevel(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if pte.Address() != 0xa000 || pte.Attributes() != KernelDevice {
		t.Fatalf("expected remapped leaf to point to 0xa000 as device memory; got 0x%x", uint64(*pte))
	}

	if env.allocCount != 3 {
		t.Fatalf("expected the second Map to reuse existing tables; allocated %d", env.allocCount)
	}

	if len(entryFlushes) != 2 {
		t.Fatalf("expected a TLB flush per Map call; got %d", len(entryFlushes))
	}
}

func TestMapAllocationFailure(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	expErr := &kernel.Error{Module: "test", Message: "out of memory"}

	env := newTestEnv(t, 64)
	env.allocErr = expErr
	// L1 and L2 allocations succeed, the L3 allocation fails
	env.failAfter = 2

	if err := Map(0x40000000, 0x40002000, 0x8000, 0xa000, KernelRW, env.alloc, &env.pdt); err != expErr {
		t.Fatalf("expected allocator error to be propagated verbatim; got %v", err)
	}

	// Intermediate tables are left in place
	_, level, err := env.pdt.walkLevel(0x40000000)
	if err != ErrInvalidMapping || level != 2 {
		t.Fatalf("expected walk to stop at the missing level 2 entry; got level %d, %v", level, err)
	}
}

func TestMapBlockDescriptor(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	env := newTestEnv(t, 64)
	root, _ := env.mem.TableAt(env.pdt.RootAddress())

	// A valid level 0 entry without the table bit is a block descriptor
	root[0] = PageTableEntry(FlagValid)

	if err := Map(0x1000, 0x2000, 0x8000, 0x9000, KernelRW, env.alloc, &env.pdt); err != errBlockDescriptor {
		t.Fatalf("expected errBlockDescriptor; got %v", err)
	}

	if err := Unmap(0x1000, 0x2000, &env.pdt); err != errBlockDescriptor {
		t.Fatalf("expected errBlockDescriptor; got %v", err)
	}

	if _, err := Translate(0x1000, &env.pdt); err != errBlockDescriptor {
		t.Fatalf("expected errBlockDescriptor; got %v", err)
	}
}

func TestMapTableAddressOutsideMemory(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	env := newTestEnv(t, 64)
	root, _ := env.mem.TableAt(env.pdt.RootAddress())
	root[0] = EncodeTableDescriptor(1 << 40)

	if err := Map(0x1000, 0x2000, 0x8000, 0x9000, KernelRW, env.alloc, &env.pdt); err != ErrInvalidTableAddress {
		t.Fatalf("expected ErrInvalidTableAddress; got %v", err)
	}
}

func TestUnmapPreconditions(t *testing.T) {
	env := newTestEnv(t, 64)

	specs := []struct {
		virtStart, virtEnd uintptr
		pdt                *PageDirectoryTable
		expErr             *kernel.Error
	}{
		{0x2000, 0x1000, &env.pdt, ErrInvalidVirtualAddress},
		{0x1000, 1<<48 + 0x1000, &env.pdt, ErrInvalidVirtualAddress},
		{0x1001, 0x2000, &env.pdt, ErrMisalignedVirtualAddress},
		{0x1000, 0x2001, &env.pdt, ErrMisalignedVirtualAddress},
		{0x1000, 0x2000, nil, errNilPDT},
		{0x1000, 0x1000, &env.pdt, nil},
	}

	for specIndex, spec := range specs {
		if err := Unmap(spec.virtStart, spec.virtEnd, spec.pdt); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestUnmapMissingTable(t *testing.T) {
	env := newTestEnv(t, 64)

	defer func() {
		if err := recover(); err != errMissingTable {
			t.Fatalf("expected Unmap to panic with errMissingTable; got %v", err)
		}
	}()

	_ = Unmap(0x40000000, 0x40001000, &env.pdt)
	t.Fatal("expected Unmap to panic")
}

func TestTranslate(t *testing.T) {
	var (
		ttbr0        uint64
		entryFlushes []uintptr
		fullFlushes  int
	)
	defer mockTLB(&ttbr0, &entryFlushes, &fullFlushes)()

	env := newTestEnv(t, 64)

	if _, err := Translate(0x1000, nil); err != errNilPDT {
		t.Fatalf("expected errNilPDT; got %v", err)
	}

	if _, err := Translate(0x1000, &env.pdt); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}

	if err := Map(0x1000, 0x3000, 0x8000, 0xa000, KernelRW, env.alloc, &env.pdt); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		virtAddr, expPhys uintptr
		expErr            *kernel.Error
	}{
		{0x1000, 0x8000, nil},
		{0x1fff, 0x8fff, nil},
		{0x2abc, 0x9abc, nil},
		{0x3000, 0, ErrInvalidMapping},
		{0x40000000, 0, ErrInvalidMapping},
	}

	for specIndex, spec := range specs {
		got, err := Translate(spec.virtAddr, &env.pdt)
		if err != spec.expErr || got != spec.expPhys {
			t.Errorf("[spec %d] expected (0x%x, %v); got (0x%x, %v)", specIndex, spec.expPhys, spec.expErr, got, err)
		}
	}
}

func TestEarlyReserveRegion(t *testing.T) {
	defer func(origNext, origEnd uintptr) {
		kernelVirtNext, kernelVirtEnd = origNext, origEnd
	}(kernelVirtNext, kernelVirtEnd)

	kernelVirtNext, kernelVirtEnd = 0x40000000, 0x40003000

	specs := []struct {
		size    uintptr
		expAddr uintptr
		expErr  *kernel.Error
	}{
		{1, 0x40000000, nil},
		{mm.PageSize + 1, 0x40001000, nil},
		{1, 0, ErrOutOfVirtualSpace},
	}

	for specIndex, spec := range specs {
		got, err := EarlyReserveRegion(spec.size)
		if err != spec.expErr || got != spec.expAddr {
			t.Errorf("[spec %d] expected (0x%x, %v); got (0x%x, %v)", specIndex, spec.expAddr, spec.expErr, got, err)
		}
	}
}

func TestMapRegion(t *testing.T) {
	defer func() {
		mapFn = Map
		earlyReserveRegionFn = EarlyReserveRegion
	}()

	t.Run("success", func(t *testing.T) {
		var mapArgs [4]uintptr
		mapCallCount := 0
		mapFn = func(virtStart, virtEnd, physStart, physEnd uintptr, attrs Attributes, _ mm.FrameAllocatorFn, pdt *PageDirectoryTable) *kernel.Error {
			mapCallCount++
			mapArgs = [4]uintptr{virtStart, virtEnd, physStart, physEnd}
			if pdt != &kernelPDT {
				t.Error("expected MapRegion to target the kernel PDT")
			}
			return nil
		}

		earlyReserveRegionCallCount := 0
		earlyReserveRegionFn = func(size uintptr) (uintptr, *kernel.Error) {
			earlyReserveRegionCallCount++
			if size != 2*mm.PageSize {
				t.Errorf("expected reservation size to be rounded up to 2 pages; got 0x%x", size)
			}
			return 0x40000000, nil
		}

		page, err := MapRegion(mm.Frame(0xdf0), 4097, KernelDevice)
		if err != nil {
			t.Fatal(err)
		}

		if page != mm.PageFromAddress(0x40000000) {
			t.Errorf("unexpected page %d", page)
		}

		if exp := [4]uintptr{0x40000000, 0x40002000, 0xdf0000, 0xdf2000}; mapArgs != exp {
			t.Errorf("expected Map args %x; got %x", exp, mapArgs)
		}

		if exp := 1; mapCallCount != exp {
			t.Errorf("expected Map to be called %d time(s); got %d", exp, mapCallCount)
		}

		if exp := 1; earlyReserveRegionCallCount != exp {
			t.Errorf("expected EarlyReserveRegion to be called %d time(s); got %d", exp, earlyReserveRegionCallCount)
		}
	})

	t.Run("EarlyReserveRegion fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of address space"}

		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			return 0, expErr
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 128000, KernelRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})

	t.Run("Map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}

		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			return 0x40000000, nil
		}

		mapFn = func(_, _, _, _ uintptr, _ Attributes, _ mm.FrameAllocatorFn, _ *PageDirectoryTable) *kernel.Error {
			return expErr
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 128000, KernelRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

func TestIdentityMapRegion(t *testing.T) {
	defer func() {
		mapFn = Map
	}()

	t.Run("success", func(t *testing.T) {
		var mapArgs [4]uintptr
		mapFn = func(virtStart, virtEnd, physStart, physEnd uintptr, _ Attributes, _ mm.FrameAllocatorFn, _ *PageDirectoryTable) *kernel.Error {
			mapArgs = [4]uintptr{virtStart, virtEnd, physStart, physEnd}
			return nil
		}

		page, err := IdentityMapRegion(mm.Frame(0x9000), 3*mm.PageSize-1, KernelDevice)
		if err != nil {
			t.Fatal(err)
		}

		if page != mm.Page(0x9000) {
			t.Errorf("expected page 0x9000; got 0x%x", page)
		}

		if exp := [4]uintptr{0x9000000, 0x9003000, 0x9000000, 0x9003000}; mapArgs != exp {
			t.Errorf("expected Map args %x; got %x", exp, mapArgs)
		}
	})

	t.Run("Map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}

		mapFn = func(_, _, _, _ uintptr, _ Attributes, _ mm.FrameAllocatorFn, _ *PageDirectoryTable) *kernel.Error {
			return expErr
		}

		if _, err := IdentityMapRegion(mm.Frame(0x9000), mm.PageSize, KernelRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}
