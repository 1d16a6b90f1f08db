package vmm

import (
	"zados/kernel"
	"zados/kernel/cpu"
	"zados/kernel/mm"
)

var (
	// flushTLBEntryFn and flushTLBAllFn are used by tests to override
	// calls to the TLB maintenance instructions which fault if executed
	// in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBAllFn   = cpu.FlushTLBAll

	// ErrInvalidPhysicalAddress is returned when the physical range passed
	// to Map is inverted or exceeds the output address size.
	ErrInvalidPhysicalAddress = &kernel.Error{Module: "vmm", Message: "invalid physical address range"}

	// ErrInvalidVirtualAddress is returned when the virtual range passed
	// to Map or Unmap is inverted or exceeds the input address size.
	ErrInvalidVirtualAddress = &kernel.Error{Module: "vmm", Message: "invalid virtual address range"}

	// ErrAddressMismatch is returned when the virtual and physical ranges
	// passed to Map have different lengths.
	ErrAddressMismatch = &kernel.Error{Module: "vmm", Message: "virtual and physical ranges have different lengths"}

	// ErrMisalignedPhysicalAddress is returned when a physical bound is
	// not page aligned.
	ErrMisalignedPhysicalAddress = &kernel.Error{Module: "vmm", Message: "physical address is not page aligned"}

	// ErrMisalignedVirtualAddress is returned when a virtual bound is not
	// page aligned.
	ErrMisalignedVirtualAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not page aligned"}

	// ErrNotMapped is returned by Unmap for pages without a valid leaf
	// entry.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual page is not mapped"}

	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrOutOfVirtualSpace is returned by MapRegion when the kernel
	// virtual window is exhausted.
	ErrOutOfVirtualSpace = &kernel.Error{Module: "vmm", Message: "kernel virtual address window exhausted"}

	errBlockDescriptor = &kernel.Error{Module: "vmm", Message: "block descriptors are not supported"}
	errMissingTable    = &kernel.Error{Module: "vmm", Message: "unmap reached a missing intermediate table"}
	errNilPDT          = &kernel.Error{Module: "vmm", Message: "page directory table is nil"}
)

// checkMapRange validates the arguments to Map. All checks run before any
// table is touched.
func checkMapRange(virtStart, virtEnd, physStart, physEnd uintptr) *kernel.Error {
	switch {
	case physStart > physEnd:
		return ErrInvalidPhysicalAddress
	case virtStart > virtEnd:
		return ErrInvalidVirtualAddress
	case physEnd-physStart != virtEnd-virtStart:
		return ErrAddressMismatch
	case !mm.IsPageAligned(physStart) || !mm.IsPageAligned(physEnd):
		return ErrMisalignedPhysicalAddress
	case !mm.IsPageAligned(virtStart) || !mm.IsPageAligned(virtEnd):
		return ErrMisalignedVirtualAddress
	case physEnd > 1<<paBits:
		return ErrInvalidPhysicalAddress
	case virtEnd > 1<<vaBits:
		return ErrInvalidVirtualAddress
	}
	return nil
}

// Map establishes a mapping of the virtual range [virtStart, virtEnd) to the
// physical range [physStart, physEnd) in pdt. Missing level 1-3 tables are
// allocated from alloc (or the registered frame allocator if alloc is nil)
// and zeroed. If pdt is the active table, the TLB entry
// of each mapped page is invalidated.
//
// If alloc fails, Map returns its error without releasing the tables that
// were installed for the pages already processed.
func Map(virtStart, virtEnd, physStart, physEnd uintptr, attrs Attributes, alloc mm.FrameAllocatorFn, pdt *PageDirectoryTable) *kernel.Error {
	if err := checkMapRange(virtStart, virtEnd, physStart, physEnd); err != nil {
		return err
	}

	if pdt == nil || pdt.mem == nil {
		return errNilPDT
	}

	if alloc == nil {
		alloc = mm.AllocFrames
	}

	active := pdt.IsActive()

	for virtAddr, physAddr := virtStart, physStart; virtAddr < virtEnd; virtAddr, physAddr = virtAddr+mm.PageSize, physAddr+mm.PageSize {
		var err *kernel.Error

		walkErr := pdt.walk(virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
			// If we reached the last level all we need to do is to
			// install the leaf and flush its TLB entry
			if pteLevel == pageLevels-1 {
				*pte = EncodeLeaf(physAddr, attrs)
				if active {
					flushTLBEntryFn(virtAddr)
				}
				return true
			}

			if pte.Valid() {
				if !pte.IsTable() {
					err = errBlockDescriptor
					return false
				}
				return true
			}

			// Next table does not yet exist; we need to allocate a
			// physical frame for it and clear its contents.
			var newTableFrame mm.Frame
			if newTableFrame, err = alloc(1); err != nil {
				return false
			}

			if _, err = pdt.mem.ZeroTable(newTableFrame.Address()); err != nil {
				return false
			}

			*pte = EncodeTableDescriptor(newTableFrame.Address())
			return true
		})

		if walkErr != nil {
			return walkErr
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Unmap removes the mappings of the virtual range [virtStart, virtEnd) from
// pdt. Unmap returns ErrNotMapped when it reaches a page without a valid
// leaf; pages before it in the range have already been unmapped. Tables that
// become empty are not released.
//
// A missing level 1-3 table means the range was never mapped through Map and
// causes a kernel panic.
func Unmap(virtStart, virtEnd uintptr, pdt *PageDirectoryTable) *kernel.Error {
	switch {
	case virtStart > virtEnd || virtEnd > 1<<vaBits:
		return ErrInvalidVirtualAddress
	case !mm.IsPageAligned(virtStart) || !mm.IsPageAligned(virtEnd):
		return ErrMisalignedVirtualAddress
	case pdt == nil || pdt.mem == nil:
		return errNilPDT
	}

	active := pdt.IsActive()

	for virtAddr := virtStart; virtAddr < virtEnd; virtAddr += mm.PageSize {
		var err *kernel.Error

		walkErr := pdt.walk(virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
			// If we reached the last level all we need to do is to
			// invalidate the entry and flush its TLB entry
			if pteLevel == pageLevels-1 {
				if !pte.Valid() {
					err = ErrNotMapped
					return false
				}

				*pte = 0
				if active {
					flushTLBEntryFn(virtAddr)
				}
				return true
			}

			if !pte.Valid() {
				panic(errMissingTable)
			}

			if !pte.IsTable() {
				err = errBlockDescriptor
				return false
			}

			return true
		})

		if walkErr != nil {
			return walkErr
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(virtAddr uintptr, pdt *PageDirectoryTable) (uintptr, *kernel.Error) {
	if pdt == nil || pdt.mem == nil {
		return 0, errNilPDT
	}

	pte, _, err := pdt.walkLevel(virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Address() + PageOffset(virtAddr), nil
}

var (
	// earlyReserveRegionFn is used by tests and is automatically inlined
	// by the compiler.
	earlyReserveRegionFn = EarlyReserveRegion

	// kernelVirtNext and kernelVirtEnd track the unused part of the kernel
	// virtual window. They are set up by Init.
	kernelVirtNext, kernelVirtEnd uintptr
)

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory region
// with the requested size in the kernel address space and returns its virtual
// address. If size is not a multiple of mm.PageSize it will be automatically
// rounded up.
//
// Regions are handed out in ascending address order from the kernel virtual
// window of the boot profile and are never released.
func EarlyReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = mm.PageRoundUp(size)

	if size > kernelVirtEnd-kernelVirtNext || kernelVirtNext > kernelVirtEnd {
		return 0, ErrOutOfVirtualSpace
	}

	regionStart := kernelVirtNext
	kernelVirtNext += size
	return regionStart, nil
}

// MapRegion establishes a mapping to the physical memory region which starts
// at the given frame and ends at frame + pages(size). The size argument is
// always rounded up to the nearest page boundary. MapRegion reserves the next
// available region in the kernel address space, establishes the mapping and
// returns back the Page that corresponds to the region start.
func MapRegion(frame mm.Frame, size uintptr, attrs Attributes) (mm.Page, *kernel.Error) {
	// Reserve next free block in the address space
	size = mm.PageRoundUp(size)
	startPage, err := earlyReserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	if err = mapFn(startPage, startPage+size, frame.Address(), frame.Address()+size, attrs, mm.FrameAllocator(), &kernelPDT); err != nil {
		return 0, err
	}

	return mm.PageFromAddress(startPage), nil
}

// IdentityMapRegion establishes an identity mapping to the physical memory
// region which starts at the given frame and ends at frame + pages(size). The
// size argument is always rounded up to the nearest page boundary.
// IdentityMapRegion returns back the Page that corresponds to the region
// start.
func IdentityMapRegion(startFrame mm.Frame, size uintptr, attrs Attributes) (mm.Page, *kernel.Error) {
	start := startFrame.Address()
	size = mm.PageRoundUp(size)

	if err := mapFn(start, start+size, start, start+size, attrs, mm.FrameAllocator(), &kernelPDT); err != nil {
		return 0, err
	}

	return mm.Page(startFrame), nil
}
