// Package vmm implements the AArch64 virtual memory subsystem: the
// translation table descriptor codec, a 4-level table walker used to map and
// unmap virtual ranges, TLB maintenance, abort diagnostics and the one-time
// MMU bring-up sequence.
package vmm

import (
	"zados/kernel"
	"zados/kernel/cpu"
	"zados/kernel/gate"
	"zados/kernel/hal/bootinfo"
	"zados/kernel/kfmt"
	"zados/kernel/mm"
)

const faultVectorCount = 2

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleExceptionFn   = gate.HandleException
	disableInterruptsFn = cpu.DisableInterrupts
	writeMAIRFn         = cpu.WriteMAIR
	writeTCRFn          = cpu.WriteTCR
	readSCTLRFn         = cpu.ReadSCTLR
	writeSCTLRFn        = cpu.WriteSCTLR
	isbFn               = cpu.ISB
	dsbFn               = cpu.DSB
	runSelfTestsFn      = runSelfTests

	// initialised is set once Init completes the bring-up sequence.
	initialised bool

	// faultVectors lists the exceptions routed to pageFaultHandler and
	// faultHandlerInstalled tracks which of them are already registered so
	// that Init can be retried after a failure.
	faultVectors          = [faultVectorCount]gate.Vector{gate.DataAbort, gate.InstructionAbort}
	faultHandlerInstalled [faultVectorCount]bool

	errAlreadyInitialised = &kernel.Error{Module: "vmm", Message: "vmm is already initialised"}
)

// Init performs the one-time MMU bring-up for the boot core:
//
//   - interrupts are masked
//   - the abort handlers are registered with the dispatch layer
//   - the kernel root table is allocated from alloc and the reserved virtual
//     ranges of the profile are mapped
//   - MAIR_EL1, TCR_EL1 and TTBR0_EL1 are programmed
//   - the MMU and caches are enabled through SCTLR_EL1
//
// If RunSelfTests is set, the fault injection tests run before Init returns.
// Init must not be called concurrently with any other bring-up and returns
// an error if called twice.
func Init(profile *bootinfo.Profile, alloc mm.FrameAllocatorFn, mem Memory) *kernel.Error {
	if initialised {
		return errAlreadyInitialised
	}

	disableInterruptsFn()

	// A kernel without fault handling cannot safely enable the MMU.
	if err := installFaultHandlers(); err != nil {
		panicFn(err)
		return err
	}

	if err := setupPDTForKernel(profile, alloc, mem); err != nil {
		return err
	}

	kfmt.Printf("[vmm] enabling MMU (root table at 0x%16x)\n", kernelPDT.RootAddress())
	enableMMU(kernelPDT.RootAddress())
	initialised = true

	if RunSelfTests {
		if err := runSelfTestsFn(); err != nil {
			panicFn(err)
			return err
		}
	}

	return nil
}

// installFaultHandlers registers pageFaultHandler for data and instruction
// aborts. Vectors registered by an earlier call are skipped.
func installFaultHandlers() *kernel.Error {
	for i, vector := range faultVectors {
		if faultHandlerInstalled[i] {
			continue
		}
		if err := handleExceptionFn(vector, pageFaultHandler); err != nil {
			return err
		}
		faultHandlerInstalled[i] = true
	}
	return nil
}

// setupPDTForKernel allocates and clears the kernel root table and maps the
// reserved virtual ranges described by the boot profile.
func setupPDTForKernel(profile *bootinfo.Profile, alloc mm.FrameAllocatorFn, mem Memory) *kernel.Error {
	if alloc == nil {
		alloc = mm.AllocFrames
	}

	rootFrame, err := alloc(1)
	if err != nil {
		return err
	}

	if err = kernelPDT.Init(rootFrame, mem); err != nil {
		return err
	}

	profile.VisitReservedVirtual(func(m bootinfo.Mapping) bool {
		attrs := Attributes{
			Kernel:    !m.User,
			Writable:  !m.ReadOnly,
			Cacheable: !m.Device,
		}

		err = mapFn(m.Virtual.Start, m.Virtual.End, m.Physical.Start, m.Physical.End, attrs, alloc, &kernelPDT)
		return err == nil
	})

	if err != nil {
		return err
	}

	kernelVirtNext, kernelVirtEnd = profile.KernelVirtualStart, profile.KernelVirtualEnd
	return nil
}

// enableMMU programs the translation registers and turns on the MMU.
func enableMMU(rootAddr uintptr) {
	writeMAIRFn(mairValue)
	writeTCRFn(tcrValue)

	writeTTBR0Fn(uint64(rootAddr))
	isbFn()
	dsbFn()

	sctlr := readSCTLRFn()
	sctlr |= sctlrSet
	sctlr &^= sctlrClear
	writeSCTLRFn(sctlr)
	isbFn()
}
