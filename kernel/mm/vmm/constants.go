package vmm

import "zados/kernel/mm"

const (
	// pageLevels indicates the number of page levels supported by the
	// 4 KiB granule, 48-bit VA translation regime.
	pageLevels = 4

	// entriesPerTable is the number of descriptors in one translation
	// table.
	entriesPerTable = mm.PageSize >> mm.PointerShift

	// ptePhysPageMask is a mask that allows us to extract the output
	// address (bits 47:12) from a descriptor.
	ptePhysPageMask = uintptr(0x0000fffffffff000)

	// vaBits is the size of the TTBR0 virtual address space.
	vaBits = 48

	// paBits is the maximum output address size.
	paBits = 48
)

var (
	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. Each level indexes 512 entries.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagValid is set for every descriptor that takes part in
	// translation.
	FlagValid PageTableEntryFlag = 1 << 0

	// FlagTable marks a level 0-2 descriptor as pointing to the next
	// table. At level 3 the same bit must be set for page descriptors.
	FlagTable PageTableEntryFlag = 1 << 1

	// FlagPage is the level 3 alias of FlagTable.
	FlagPage = FlagTable

	// FlagNonSecure selects the non-secure output address space.
	FlagNonSecure PageTableEntryFlag = 1 << 5

	// FlagUserAccess (AP[1]) grants EL0 access to the page.
	FlagUserAccess PageTableEntryFlag = 1 << 6

	// FlagReadOnly (AP[2]) removes write access at all exception levels.
	FlagReadOnly PageTableEntryFlag = 1 << 7

	// FlagAccess is the access flag. Accesses to pages with a clear access
	// flag fault, so leaves always carry it.
	FlagAccess PageTableEntryFlag = 1 << 10

	// FlagNotGlobal restricts the TLB entry to the current ASID.
	FlagNotGlobal PageTableEntryFlag = 1 << 11

	// FlagContiguous hints that the entry is part of a contiguous run.
	FlagContiguous PageTableEntryFlag = 1 << 52

	// FlagPrivExecNever prevents execution at EL1.
	FlagPrivExecNever PageTableEntryFlag = 1 << 53

	// FlagUserExecNever prevents execution at EL0.
	FlagUserExecNever PageTableEntryFlag = 1 << 54
)

const (
	attrIndexShift = 2
	attrIndexMask  = PageTableEntryFlag(0x7 << attrIndexShift)

	shareabilityShift = 8
	shareabilityMask  = PageTableEntryFlag(0x3 << shareabilityShift)
)

// Memory attribute indices into MAIR_EL1.
const (
	// AttrIndexNormal selects normal write-back cacheable memory.
	AttrIndexNormal = uint8(0)

	// AttrIndexDevice selects device-nGnRnE memory.
	AttrIndexDevice = uint8(1)
)

// Shareability domains.
const (
	ShareNone  = uint8(0)
	ShareOuter = uint8(2)
	ShareInner = uint8(3)
)

// System register values programmed by Init.
const (
	// mairNormalWB is inner/outer write-back non-transient read/write
	// allocate memory.
	mairNormalWB = uint64(0xff)

	// mairDeviceNGnRnE is device non-gathering, non-reordering memory
	// without early write acknowledgement.
	mairDeviceNGnRnE = uint64(0x00)

	mairValue = mairNormalWB<<(8*AttrIndexNormal) | mairDeviceNGnRnE<<(8*AttrIndexDevice)

	tcrT0SZ      = uint64(64 - vaBits)
	tcrIRGN0WBWA = uint64(1) << 8
	tcrORGN0WBWA = uint64(1) << 10
	tcrSH0Inner  = uint64(3) << 12
	tcrTG0Gran4K = uint64(0) << 14

	tcrValue = tcrT0SZ | tcrIRGN0WBWA | tcrORGN0WBWA | tcrSH0Inner | tcrTG0Gran4K

	sctlrM   = uint64(1) << 0
	sctlrC   = uint64(1) << 2
	sctlrSA  = uint64(1) << 3
	sctlrI   = uint64(1) << 12
	sctlrWXN = uint64(1) << 19
	sctlrEE  = uint64(1) << 25

	sctlrSet   = sctlrM | sctlrC | sctlrSA | sctlrI
	sctlrClear = sctlrEE | sctlrWXN
)
