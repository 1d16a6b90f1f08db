//go:build !baremetal

package vmm

import (
	"runtime"

	"zados/kernel"
	"zados/kernel/cpu"
	"zados/kernel/gate"
	"zados/kernel/hal/bootinfo"
	"zados/kernel/mm"
	"zados/kernel/mm/physmem"
)

const (
	// spsrEL1h is the saved program status of code running at EL1 on
	// SP_EL1 with DAIF masked.
	spsrEL1h = uint64(0x3c5)

	// esrIL marks a 32-bit instruction.
	esrIL = uint64(1) << 25

	// fscTranslationFault is the translation fault status code for level 0;
	// the level is added to it.
	fscTranslationFault = uint64(0x04)
)

// probeReadFn reads a byte from a virtual address. It is used by the self
// tests and is mocked by unit tests.
var probeReadFn = probeRead

// probeRead performs a software translation of virtAddr through the table
// loaded in TTBR0_EL1. If the walk fails it loads ESR_EL1 and FAR_EL1 the way
// the hardware would for a level n translation fault and dispatches a data
// abort with ELR pointing at the probe.
func probeRead(virtAddr uintptr) {
	pdt := PageDirectoryTable{
		rootFrame: mm.FrameFromAddress(uintptr(readTTBR0Fn())),
		mem:       kernelPDT.mem,
	}

	_, level, err := pdt.walkLevel(virtAddr)
	if err == nil {
		if loader, ok := pdt.mem.(interface {
			LoadByte(uintptr) (byte, *kernel.Error)
		}); ok {
			physAddr, _ := Translate(virtAddr, &pdt)
			_, _ = loader.LoadByte(physAddr)
		}
		return
	}

	pc, _, _, _ := runtime.Caller(0)
	esr := uint64(gate.ClassDataAbortSameEL)<<26 | esrIL | (fscTranslationFault + uint64(level))
	cpu.RaiseFault(esr, uint64(virtAddr))

	regs := gate.Registers{
		ELR:  uint64(pc),
		SPSR: spsrEL1h,
		ESR:  cpu.ReadESR(),
		FAR:  cpu.ReadFAR(),
	}
	gate.Dispatch(&regs)
}

// PlatformMemory returns the Memory used to hold page tables. Hosted kernels
// keep physical memory in a sparse arena.
func PlatformMemory(profile *bootinfo.Profile) Memory {
	return NewArenaMemory(physmem.NewArena(profile.MemorySize))
}
