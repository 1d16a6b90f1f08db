//go:build !baremetal

package cpu

import "zados/kernel"

var (
	sysRegs SystemRegisters

	// ErrHalted is raised (via a Go panic) by Halt when the kernel is running
	// inside a hosted process.
	ErrHalted = &kernel.Error{Module: "cpu", Message: "cpu halted"}
)

// Snapshot returns a copy of the simulated system registers.
func Snapshot() SystemRegisters { return sysRegs }

// Reset clears the simulated system registers.
func Reset() { sysRegs = SystemRegisters{} }

// RaiseFault loads the fault syndrome and fault address registers in the same
// way the hardware does before vectoring an abort.
func RaiseFault(esr, far uint64) {
	sysRegs.ESR = esr
	sysRegs.FAR = far
}

// EnableInterrupts unmasks IRQs.
func EnableInterrupts() { sysRegs.InterruptsEnabled = true }

// DisableInterrupts masks IRQs.
func DisableInterrupts() { sysRegs.InterruptsEnabled = false }

// Halt stops instruction execution. A hosted CPU cannot stop so Halt panics
// with ErrHalted instead.
func Halt() { panic(ErrHalted) }

// ReadMAIR returns the value of MAIR_EL1.
func ReadMAIR() uint64 { return sysRegs.MAIR }

// WriteMAIR sets MAIR_EL1.
func WriteMAIR(v uint64) { sysRegs.MAIR = v }

// ReadTCR returns the value of TCR_EL1.
func ReadTCR() uint64 { return sysRegs.TCR }

// WriteTCR sets TCR_EL1.
func WriteTCR(v uint64) { sysRegs.TCR = v }

// ReadTTBR0 returns the value of TTBR0_EL1.
func ReadTTBR0() uint64 { return sysRegs.TTBR0 }

// WriteTTBR0 sets TTBR0_EL1.
func WriteTTBR0(v uint64) { sysRegs.TTBR0 = v }

// ReadSCTLR returns the value of SCTLR_EL1.
func ReadSCTLR() uint64 { return sysRegs.SCTLR }

// WriteSCTLR sets SCTLR_EL1.
func WriteSCTLR(v uint64) { sysRegs.SCTLR = v }

// ReadESR returns the value of ESR_EL1.
func ReadESR() uint64 { return sysRegs.ESR }

// ReadFAR returns the value of FAR_EL1.
func ReadFAR() uint64 { return sysRegs.FAR }

// ISB is an instruction synchronization barrier.
func ISB() {}

// DSB is a full-system data synchronization barrier.
func DSB() {}

// FlushTLBEntry invalidates the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr) { sysRegs.TLBEntryFlushes++ }

// FlushTLBAll invalidates all stage 1 EL1 TLB entries.
func FlushTLBAll() { sysRegs.TLBFullFlushes++ }
