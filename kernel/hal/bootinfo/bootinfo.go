// Package bootinfo describes the memory layout handed to the kernel by the
// boot stage: the amount of physical memory, the physical ranges that must
// not be handed out by the frame allocator and the virtual ranges that must
// be mapped before the MMU is switched on.
package bootinfo

import (
	"io"

	"zados/kernel"
	"zados/kernel/kfmt"
)

const pageMask = uintptr(4096 - 1)

// Range is a half-open [Start, End) address range.
type Range struct {
	Start uintptr
	End   uintptr
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() uintptr {
	return r.End - r.Start
}

// Contains returns true if addr falls inside the range.
func (r Range) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// Overlaps returns true if the two ranges share at least one byte.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

func (r Range) validate() *kernel.Error {
	switch {
	case r.Start > r.End:
		return ErrInvertedRange
	case r.Start&pageMask != 0 || r.End&pageMask != 0:
		return ErrMisalignedRange
	}
	return nil
}

// Mapping describes a virtual range that must be backed by the physical
// range of the same length.
type Mapping struct {
	Virtual  Range
	Physical Range

	// Device selects the device (non-cacheable) memory type.
	Device bool

	// ReadOnly and User tune the permissions of the mapping. By default
	// reserved mappings are kernel-only and writable.
	ReadOnly bool
	User     bool
}

// Profile is the boot-time memory description.
type Profile struct {
	// MemorySize is the total amount of physical memory in bytes.
	MemorySize uintptr

	// ReservedPhysical lists physical ranges (kernel image, boot
	// structures, device windows) that the frame allocator must skip.
	ReservedPhysical []Range

	// ReservedVirtual lists the mappings that must be installed in the
	// kernel address space before paging is enabled.
	ReservedVirtual []Mapping

	// KernelVirtualStart and KernelVirtualEnd bound the virtual region
	// from which the kernel hands out addresses for MapRegion requests.
	KernelVirtualStart uintptr
	KernelVirtualEnd   uintptr
}

var (
	// ErrInvertedRange is returned by Validate for ranges whose start
	// exceeds their end.
	ErrInvertedRange = &kernel.Error{Module: "bootinfo", Message: "range start is greater than range end"}

	// ErrMisalignedRange is returned by Validate for ranges whose bounds
	// are not page aligned.
	ErrMisalignedRange = &kernel.Error{Module: "bootinfo", Message: "range bounds must be page aligned"}

	// ErrSizeMismatch is returned by Validate when the virtual and physical
	// side of a mapping have different lengths.
	ErrSizeMismatch = &kernel.Error{Module: "bootinfo", Message: "virtual and physical ranges of a mapping differ in size"}

	// ErrOutsideMemory is returned by Validate for reserved physical ranges
	// that extend past the end of physical memory.
	ErrOutsideMemory = &kernel.Error{Module: "bootinfo", Message: "reserved range extends past the end of physical memory"}

	// ErrNoMemory is returned by Validate if the profile reports no
	// usable memory.
	ErrNoMemory = &kernel.Error{Module: "bootinfo", Message: "memory size must be a non-zero multiple of the page size"}
)

// Validate checks that all ranges in the profile are well formed.
func (p *Profile) Validate() *kernel.Error {
	if p.MemorySize == 0 || p.MemorySize&pageMask != 0 {
		return ErrNoMemory
	}

	for _, r := range p.ReservedPhysical {
		if err := r.validate(); err != nil {
			return err
		}
		if r.End > p.MemorySize {
			return ErrOutsideMemory
		}
	}

	for _, m := range p.ReservedVirtual {
		if err := m.Virtual.validate(); err != nil {
			return err
		}
		if err := m.Physical.validate(); err != nil {
			return err
		}
		if m.Virtual.Size() != m.Physical.Size() {
			return ErrSizeMismatch
		}
	}

	kernelRange := Range{Start: p.KernelVirtualStart, End: p.KernelVirtualEnd}
	return kernelRange.validate()
}

// RangeVisitor is invoked by VisitReservedPhysical for each reserved range.
// Returning false aborts the visit.
type RangeVisitor func(r Range) bool

// MappingVisitor is invoked by VisitReservedVirtual for each reserved
// mapping. Returning false aborts the visit.
type MappingVisitor func(m Mapping) bool

// VisitReservedPhysical invokes visitor for each reserved physical range.
func (p *Profile) VisitReservedPhysical(visitor RangeVisitor) {
	for _, r := range p.ReservedPhysical {
		if !visitor(r) {
			return
		}
	}
}

// VisitReservedVirtual invokes visitor for each reserved virtual mapping.
func (p *Profile) VisitReservedVirtual(visitor MappingVisitor) {
	for _, m := range p.ReservedVirtual {
		if !visitor(m) {
			return
		}
	}
}

// IsReservedPhysical returns true if addr belongs to a reserved physical
// range.
func (p *Profile) IsReservedPhysical(addr uintptr) bool {
	for _, r := range p.ReservedPhysical {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// DumpTo prints the memory map described by the profile to w.
func (p *Profile) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "[bootinfo] physical memory: %d KB\n", uint64(p.MemorySize>>10))
	for _, r := range p.ReservedPhysical {
		kfmt.Fprintf(w, "[bootinfo] reserved phys [0x%10x - 0x%10x], size: %10d\n", r.Start, r.End-1, r.Size())
	}
	for _, m := range p.ReservedVirtual {
		memType := "normal"
		if m.Device {
			memType = "device"
		}
		kfmt.Fprintf(w, "[bootinfo] reserved virt [0x%16x - 0x%16x] -> phys 0x%10x (%s)\n", m.Virtual.Start, m.Virtual.End-1, m.Physical.Start, memType)
	}
	kfmt.Fprintf(w, "[bootinfo] kernel virtual window [0x%16x - 0x%16x]\n", p.KernelVirtualStart, p.KernelVirtualEnd)
}
