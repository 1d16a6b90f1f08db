// Package gate implements the synchronous exception dispatch layer. The
// exception vector code saves the interrupted context into a Registers
// snapshot and calls Dispatch which routes the exception to the handler
// registered for its exception class.
package gate

import (
	"io"

	"zados/kernel"
	"zados/kernel/kfmt"
	"zados/kernel/sync"
)

// Registers contains a snapshot of all register values when an exception
// occurs. Handlers may modify the snapshot (e.g. ELR) to change where
// execution resumes.
type Registers struct {
	// X holds the general purpose registers X0-X30 (X30 is the link
	// register).
	X [31]uint64

	SP uint64

	// ELR is the exception link register: the address of the instruction
	// that caused a synchronous exception.
	ELR uint64

	// SPSR is the saved program status register of the interrupted context.
	SPSR uint64

	// ESR and FAR hold the syndrome and fault address registers captured on
	// exception entry.
	ESR uint64
	FAR uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	for i := 0; i < len(r.X)-1; i += 2 {
		kfmt.Fprintf(w, "X%2d = %16x X%2d = %16x\n", i, r.X[i], i+1, r.X[i+1])
	}
	kfmt.Fprintf(w, "X30 = %16x SP  = %16x\n", r.X[30], r.SP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "ELR = %16x SPSR = %16x\n", r.ELR, r.SPSR)
	kfmt.Fprintf(w, "ESR = %16x FAR  = %16x\n", r.ESR, r.FAR)
}

// ExceptionClass is the value of the ESR_EL1.EC field (bits 31:26).
type ExceptionClass uint8

const (
	// ClassUnknown is reported for exceptions with an unknown reason.
	ClassUnknown = ExceptionClass(0x00)

	// ClassInstructionAbortLowerEL is raised by an instruction fetch from
	// EL0 that failed translation or permission checks.
	ClassInstructionAbortLowerEL = ExceptionClass(0x20)

	// ClassInstructionAbortSameEL is raised by an instruction fetch from
	// EL1.
	ClassInstructionAbortSameEL = ExceptionClass(0x21)

	// ClassDataAbortLowerEL is raised by a load or store issued at EL0.
	ClassDataAbortLowerEL = ExceptionClass(0x24)

	// ClassDataAbortSameEL is raised by a load or store issued at EL1.
	ClassDataAbortSameEL = ExceptionClass(0x25)

	// ClassSError is an asynchronous system error.
	ClassSError = ExceptionClass(0x2f)
)

const (
	esrClassShift = 26
	esrClassMask  = 0x3f
)

// ClassOf extracts the exception class from a syndrome value.
func ClassOf(esr uint64) ExceptionClass {
	return ExceptionClass((esr >> esrClassShift) & esrClassMask)
}

// Vector identifies a handler slot in the dispatch table.
type Vector uint8

const (
	// DataAbort receives data aborts taken from EL0 or EL1.
	DataAbort Vector = iota

	// InstructionAbort receives instruction aborts taken from EL0 or EL1.
	InstructionAbort

	// SError receives asynchronous system errors.
	SError

	// Unknown receives every exception class without a dedicated slot.
	Unknown

	vectorCount
)

// vectorFor maps an exception class to its dispatch slot.
func vectorFor(class ExceptionClass) Vector {
	switch class {
	case ClassDataAbortLowerEL, ClassDataAbortSameEL:
		return DataAbort
	case ClassInstructionAbortLowerEL, ClassInstructionAbortSameEL:
		return InstructionAbort
	case ClassSError:
		return SError
	default:
		return Unknown
	}
}

// Handler processes an exception. If the handler returns, execution resumes
// at the (possibly modified) ELR of the supplied Registers.
type Handler func(*Registers)

var (
	handlers     [vectorCount]Handler
	handlersLock sync.Spinlock

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	// ErrAlreadyRegistered is returned by HandleException when a handler
	// is already installed for the requested vector.
	ErrAlreadyRegistered = &kernel.Error{Module: "gate", Message: "a handler is already registered for this vector"}

	errInvalidVector      = &kernel.Error{Module: "gate", Message: "invalid exception vector"}
	errUnhandledException = &kernel.Error{Module: "gate", Message: "unhandled exception"}
)

// HandleException ensures that the provided handler will be invoked when an
// exception routed to the given vector occurs.
func HandleException(vector Vector, handler Handler) *kernel.Error {
	if vector >= vectorCount || handler == nil {
		return errInvalidVector
	}

	handlersLock.Acquire()
	defer handlersLock.Release()

	if handlers[vector] != nil {
		return ErrAlreadyRegistered
	}

	handlers[vector] = handler
	return nil
}

// Dispatch is invoked by the exception entry code with the saved context of
// the interrupted task. Exceptions without a registered handler are fatal.
func Dispatch(regs *Registers) {
	vector := vectorFor(ClassOf(regs.ESR))

	handlersLock.Acquire()
	handler := handlers[vector]
	handlersLock.Release()

	if handler == nil {
		kfmt.Printf("\n[gate] unhandled exception (class 0x%2x) at 0x%16x\n", uint8(ClassOf(regs.ESR)), regs.ELR)
		regs.DumpTo(kfmt.GetOutputSink())
		panicFn(errUnhandledException)
		return
	}

	handler(regs)
}

// Reset removes all registered handlers.
func Reset() {
	handlersLock.Acquire()
	handlers = [vectorCount]Handler{}
	handlersLock.Release()
}
