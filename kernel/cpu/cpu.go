// Package cpu provides access to the AArch64 system registers, barriers and
// TLB maintenance instructions used by the memory management code.
//
// Kernels built with the baremetal tag use the assembly implementation. All
// other builds get a software register file which lets the kernel packages
// (and the host-side simulator in tools/vmsim) run inside a regular Go
// process.
package cpu

// SystemRegisters is a snapshot of the EL1 system registers touched by the
// memory management code.
type SystemRegisters struct {
	MAIR  uint64
	TCR   uint64
	TTBR0 uint64
	SCTLR uint64
	ESR   uint64
	FAR   uint64

	InterruptsEnabled bool

	// TLBEntryFlushes and TLBFullFlushes count the number of executed
	// single-entry and whole-address-space invalidations.
	TLBEntryFlushes uint64
	TLBFullFlushes  uint64
}
