package vmm

import "zados/kernel/mm"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

// PageTableEntry is a stage 1 VMSAv8-64 translation table descriptor. The
// same 64-bit word is either a table descriptor pointing to the next level
// or (at level 3) a page descriptor mapping a physical frame:
//
//	bit  0      valid
//	bit  1      table (levels 0-2) / page (level 3)
//	bits 4:2    AttrIndx (MAIR_EL1 slot)
//	bit  5      NS
//	bits 7:6    AP (bit 6: EL0 access, bit 7: read-only)
//	bits 9:8    SH
//	bit  10     AF
//	bit  11     nG
//	bits 47:12  output address
//	bit  52     contiguous
//	bit  53     PXN
//	bit  54     UXN
type PageTableEntry uint64

// EncodeLeaf returns a valid level 3 page descriptor that maps physAddr
// using the supplied attributes. The access flag and inner shareability are
// always set.
func EncodeLeaf(physAddr uintptr, attrs Attributes) PageTableEntry {
	var pte PageTableEntry

	pte.SetFlags(FlagValid | FlagPage | FlagAccess)
	pte.setShareability(ShareInner)

	if !attrs.Writable {
		pte.SetFlags(FlagReadOnly)
	}

	if !attrs.Kernel {
		pte.SetFlags(FlagUserAccess)
	}

	if attrs.Cacheable {
		pte.setAttrIndex(AttrIndexNormal)
	} else {
		pte.setAttrIndex(AttrIndexDevice)
	}

	pte.SetAddress(physAddr)
	return pte
}

// EncodeTableDescriptor returns a descriptor that points to the next level
// table located at physAddr. Table descriptors carry no permission bits;
// permissions are set on the leaves.
func EncodeTableDescriptor(physAddr uintptr) PageTableEntry {
	var pte PageTableEntry
	pte.SetFlags(FlagValid | FlagTable)
	pte.SetAddress(physAddr)
	return pte
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) &^ uint64(flags))
}

// Valid returns true if the descriptor takes part in translation.
func (pte PageTableEntry) Valid() bool {
	return pte.HasFlags(FlagValid)
}

// IsTable returns true if this is a valid level 0-2 descriptor pointing to
// another table. At level 3 it reports whether this is a page descriptor.
func (pte PageTableEntry) IsTable() bool {
	return pte.HasFlags(FlagValid | FlagTable)
}

// Address returns the output address stored in the descriptor.
func (pte PageTableEntry) Address() uintptr {
	return uintptr(pte) & ptePhysPageMask
}

// SetAddress updates the output address of the descriptor. Bits outside the
// output address field are discarded.
func (pte *PageTableEntry) SetAddress(physAddr uintptr) {
	*pte = (PageTableEntry)((uint64(*pte) &^ uint64(ptePhysPageMask)) | uint64(physAddr&ptePhysPageMask))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame(pte.Address() >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	pte.SetAddress(frame.Address())
}

// AttrIndex returns the MAIR_EL1 slot selected by the descriptor.
func (pte PageTableEntry) AttrIndex() uint8 {
	return uint8((PageTableEntryFlag(pte) & attrIndexMask) >> attrIndexShift)
}

func (pte *PageTableEntry) setAttrIndex(index uint8) {
	pte.ClearFlags(attrIndexMask)
	pte.SetFlags((PageTableEntryFlag(index) << attrIndexShift) & attrIndexMask)
}

// Shareability returns the SH field of the descriptor.
func (pte PageTableEntry) Shareability() uint8 {
	return uint8((PageTableEntryFlag(pte) & shareabilityMask) >> shareabilityShift)
}

func (pte *PageTableEntry) setShareability(sh uint8) {
	pte.ClearFlags(shareabilityMask)
	pte.SetFlags((PageTableEntryFlag(sh) << shareabilityShift) & shareabilityMask)
}

// AccessFlag returns the value of the AF bit.
func (pte PageTableEntry) AccessFlag() bool {
	return pte.HasFlags(FlagAccess)
}

// NotGlobal returns the value of the nG bit.
func (pte PageTableEntry) NotGlobal() bool {
	return pte.HasFlags(FlagNotGlobal)
}

// Attributes decodes the permission and memory type bits of a leaf
// descriptor.
func (pte PageTableEntry) Attributes() Attributes {
	return Attributes{
		Kernel:    !pte.HasFlags(FlagUserAccess),
		Writable:  !pte.HasFlags(FlagReadOnly),
		Cacheable: pte.AttrIndex() == AttrIndexNormal,
	}
}
