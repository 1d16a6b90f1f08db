package vmm

import (
	"io"

	"zados/kernel"
	"zados/kernel/cpu"
	"zados/kernel/kfmt"
	"zados/kernel/mm"
)

var (
	// readTTBR0Fn and writeTTBR0Fn are used by tests and are automatically
	// inlined by the compiler.
	readTTBR0Fn  = cpu.ReadTTBR0
	writeTTBR0Fn = cpu.WriteTTBR0

	// mapFn and unmapFn are used by tests and are automatically inlined by
	// the compiler.
	mapFn   = Map
	unmapFn = Unmap

	// kernelPDT is the level 0 table of the privileged address space. It
	// is set up once by Init and only mutated in place afterwards.
	kernelPDT PageDirectoryTable

	errPDTNotInitialised = &kernel.Error{Module: "vmm", Message: "page directory table is not initialised"}
	errInvalidRootFrame  = &kernel.Error{Module: "vmm", Message: "page directory root cannot live at physical frame 0"}
)

// KernelPDT returns the page directory table of the privileged address space.
func KernelPDT() *PageDirectoryTable {
	return &kernelPDT
}

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme together with the memory that backs its tables.
type PageDirectoryTable struct {
	rootFrame mm.Frame
	mem       Memory
}

// Init sets up the page table directory at the supplied physical frame and
// clears its contents. Frame 0 is rejected as TTBR0_EL1 resets to 0 and a
// root there would look active before it was ever loaded.
func (pdt *PageDirectoryTable) Init(rootFrame mm.Frame, mem Memory) *kernel.Error {
	if mem == nil {
		return errPDTNotInitialised
	}

	if rootFrame == 0 {
		return errInvalidRootFrame
	}

	if _, err := mem.ZeroTable(rootFrame.Address()); err != nil {
		return err
	}

	pdt.rootFrame = rootFrame
	pdt.mem = mem
	return nil
}

// RootAddress returns the physical address of the level 0 table.
func (pdt *PageDirectoryTable) RootAddress() uintptr {
	return pdt.rootFrame.Address()
}

// Memory returns the memory used to resolve table addresses.
func (pdt *PageDirectoryTable) Memory() Memory {
	return pdt.mem
}

// IsActive returns true if this table is the one currently loaded in
// TTBR0_EL1.
func (pdt *PageDirectoryTable) IsActive() bool {
	return pdt.mem != nil && uintptr(readTTBR0Fn())&ptePhysPageMask == pdt.RootAddress()
}

// Activate loads this table into TTBR0_EL1 and invalidates all cached
// translations.
func (pdt *PageDirectoryTable) Activate() {
	writeTTBR0Fn(uint64(pdt.RootAddress()))
	isbFn()
	flushTLBAllFn()
}

// Map establishes a mapping of the virtual range [virtStart, virtEnd) to the
// physical range [physStart, physEnd) in this table.
func (pdt *PageDirectoryTable) Map(virtStart, virtEnd, physStart, physEnd uintptr, attrs Attributes, alloc mm.FrameAllocatorFn) *kernel.Error {
	return mapFn(virtStart, virtEnd, physStart, physEnd, attrs, alloc, pdt)
}

// Unmap removes the mappings of the virtual range [virtStart, virtEnd) from
// this table.
func (pdt *PageDirectoryTable) Unmap(virtStart, virtEnd uintptr) *kernel.Error {
	return unmapFn(virtStart, virtEnd, pdt)
}

// Translate returns the physical address that virtAddr maps to.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return Translate(virtAddr, pdt)
}

// DumpTo writes the valid mappings of this table to w. Runs of pages with
// contiguous virtual and physical addresses and identical attributes are
// printed as a single line.
func (pdt *PageDirectoryTable) DumpTo(w io.Writer) *kernel.Error {
	var (
		runVirt, runPhys, runLen uintptr
		runAttrs                 Attributes
	)

	flush := func() {
		if runLen == 0 {
			return
		}
		priv, access, memType := runAttrs.labels()
		kfmt.Fprintf(w, "[vmm] [0x%16x - 0x%16x] -> [0x%16x - 0x%16x] %s %s %s\n",
			runVirt, runVirt+runLen-1, runPhys, runPhys+runLen-1, priv, access, memType)
		runLen = 0
	}

	kfmt.Fprintf(w, "[vmm] page directory table at 0x%16x\n", pdt.RootAddress())
	err := pdt.visitLeaves(func(virtAddr uintptr, pte PageTableEntry) bool {
		attrs := pte.Attributes()
		if runLen != 0 && virtAddr == runVirt+runLen && pte.Address() == runPhys+runLen && attrs == runAttrs {
			runLen += mm.PageSize
			return true
		}

		flush()
		runVirt, runPhys, runLen, runAttrs = virtAddr, pte.Address(), mm.PageSize, attrs
		return true
	})
	flush()

	return err
}
