//go:build baremetal && arm64

package cpu

// EnableInterrupts unmasks IRQs.
func EnableInterrupts()

// DisableInterrupts masks IRQs.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// ReadMAIR returns the value of MAIR_EL1.
func ReadMAIR() uint64

// WriteMAIR sets MAIR_EL1.
func WriteMAIR(v uint64)

// ReadTCR returns the value of TCR_EL1.
func ReadTCR() uint64

// WriteTCR sets TCR_EL1.
func WriteTCR(v uint64)

// ReadTTBR0 returns the value of TTBR0_EL1.
func ReadTTBR0() uint64

// WriteTTBR0 sets TTBR0_EL1.
func WriteTTBR0(v uint64)

// ReadSCTLR returns the value of SCTLR_EL1.
func ReadSCTLR() uint64

// WriteSCTLR sets SCTLR_EL1.
func WriteSCTLR(v uint64)

// ReadESR returns the value of ESR_EL1.
func ReadESR() uint64

// ReadFAR returns the value of FAR_EL1.
func ReadFAR() uint64

// ISB is an instruction synchronization barrier.
func ISB()

// DSB is a full-system data synchronization barrier.
func DSB()

// FlushTLBEntry invalidates the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLBAll invalidates all stage 1 EL1 TLB entries.
func FlushTLBAll()

// ProbeRead loads a single byte from virtAddr. The load is a single
// instruction so a fault handler may resume execution at ELR+4.
func ProbeRead(virtAddr uintptr) byte
