package vmm

import (
	"bytes"
	"io"

	"zados/kernel"
	"zados/kernel/gate"
	"zados/kernel/kfmt"
)

const (
	// esrWnR is set by data aborts caused by a write.
	esrWnR = uint64(1) << 6

	// esrFSCMask extracts the fault status code (DFSC/IFSC).
	esrFSCMask = uint64(0x3f)

	// spsrModeMask extracts M[3:0] of the saved program status.
	spsrModeMask = uint64(0xf)

	// spsrModeEL0t is the saved mode of a fault taken from EL0.
	spsrModeEL0t = uint64(0x0)
)

// FaultStatus classifies the fault status code of an abort.
type FaultStatus uint8

const (
	// FaultOther covers status codes unrelated to translation (external
	// aborts, alignment faults, TLB conflicts).
	FaultOther FaultStatus = iota

	// FaultAddressSize is raised when an address exceeds the configured
	// input or output address size.
	FaultAddressSize

	// FaultTranslation is raised when the walk reaches an invalid
	// descriptor.
	FaultTranslation

	// FaultAccessFlag is raised when a valid leaf has a clear access flag.
	FaultAccessFlag

	// FaultPermission is raised when a valid leaf does not allow the
	// access.
	FaultPermission
)

var faultStatusNames = [...]string{
	FaultOther:       "other",
	FaultAddressSize: "address size",
	FaultTranslation: "translation",
	FaultAccessFlag:  "access flag",
	FaultPermission:  "permission",
}

// String implements fmt.Stringer.
func (s FaultStatus) String() string {
	if int(s) < len(faultStatusNames) {
		return faultStatusNames[s]
	}
	return faultStatusNames[FaultOther]
}

// FaultInfo is the decoded form of an abort syndrome.
type FaultInfo struct {
	// Address is the faulting virtual address (FAR_EL1).
	Address uintptr

	// Class is the exception class of the syndrome.
	Class gate.ExceptionClass

	// Status classifies the fault status code and Level holds the
	// translation level it refers to.
	Status FaultStatus
	Level  uint8

	// Instruction is set for instruction aborts.
	Instruction bool

	// Write is set for data aborts caused by a store.
	Write bool

	// User is set for faults taken from EL0.
	User bool

	// Present is set when the walk reached a valid descriptor (access
	// flag and permission faults).
	Present bool
}

// DecodeFault decodes the syndrome, fault address and saved program status
// of an abort.
func DecodeFault(esr, far, spsr uint64) FaultInfo {
	var (
		class = gate.ClassOf(esr)
		fsc   = esr & esrFSCMask
		info  = FaultInfo{
			Address: uintptr(far),
			Class:   class,
			User:    spsr&spsrModeMask == spsrModeEL0t,
		}
	)

	info.Instruction = class == gate.ClassInstructionAbortLowerEL || class == gate.ClassInstructionAbortSameEL
	info.Write = !info.Instruction && esr&esrWnR != 0

	// Bits 5:2 of the status code select the fault type and bits 1:0 the
	// translation level for the first four types.
	switch fsc >> 2 {
	case 0x0:
		info.Status = FaultAddressSize
	case 0x1:
		info.Status = FaultTranslation
	case 0x2:
		info.Status = FaultAccessFlag
		info.Present = true
	case 0x3:
		info.Status = FaultPermission
		info.Present = true
	default:
		info.Status = FaultOther
		return info
	}

	info.Level = uint8(fsc & 0x3)
	return info
}

// DumpTo writes a one line description of the fault to w, e.g.:
//
//	kernel fault reading from non-present page at 0x0000000000001000: data access, translation level 3
func (fi FaultInfo) DumpTo(w io.Writer) {
	priv, direction, presence, access := "kernel", "reading from", "non-present", "data"
	if fi.User {
		priv = "user"
	}
	if fi.Write {
		direction = "writing to"
	}
	if fi.Present {
		presence = "present"
	}
	if fi.Instruction {
		access = "instruction"
	}

	kfmt.Fprintf(w, "%s fault %s %s page at 0x%16x: %s access", priv, direction, presence, fi.Address, access)
	switch fi.Status {
	case FaultTranslation:
		kfmt.Fprintf(w, ", translation level %d", fi.Level)
	case FaultOther:
		kfmt.Fprintf(w, ", unclassified fault status")
	default:
		kfmt.Fprintf(w, ", translation level %d (%s fault)", fi.Level, fi.Status.String())
	}
}

// String implements fmt.Stringer.
func (fi FaultInfo) String() string {
	var buf bytes.Buffer
	fi.DumpTo(&buf)
	return buf.String()
}

// FaultAction is returned by a FaultInterceptor.
type FaultAction uint8

const (
	// FaultEscalate hands the fault to the unrecoverable-error path.
	FaultEscalate FaultAction = iota

	// FaultResume returns from the handler. The interceptor is
	// responsible for moving the saved ELR to the continuation address.
	FaultResume
)

// FaultInterceptor inspects a decoded fault before it is escalated. It is
// used by the fault injection tests to resume at a known continuation.
type FaultInterceptor func(info FaultInfo, regs *gate.Registers) FaultAction

var (
	// faultInterceptor is consulted by pageFaultHandler. It is nil in
	// production so every fault is fatal.
	faultInterceptor FaultInterceptor

	// panicFn is used by tests and is automatically inlined by the
	// compiler.
	panicFn = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page fault"}
)

// SetFaultInterceptor installs fn as the fault interceptor and returns the
// previously installed one. Passing nil restores the fatal behavior.
func SetFaultInterceptor(fn FaultInterceptor) FaultInterceptor {
	prev := faultInterceptor
	faultInterceptor = fn
	return prev
}

// pageFaultHandler is registered for data and instruction aborts.
func pageFaultHandler(regs *gate.Registers) {
	info := DecodeFault(regs.ESR, regs.FAR, regs.SPSR)

	kfmt.Printf("\n[vmm] ")
	info.DumpTo(kfmt.GetOutputSink())
	kfmt.Printf("\n")

	if faultInterceptor != nil && faultInterceptor(info, regs) == FaultResume {
		return
	}

	nonRecoverablePageFault(regs, errUnrecoverableFault)
}

func nonRecoverablePageFault(regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(err)
}
