package main

import (
	"errors"
	"fmt"
	"io"

	"zados/kernel"
	"zados/kernel/cpu"
	"zados/kernel/hal/bootinfo"
	"zados/kernel/kfmt"
	"zados/kernel/mm"
	"zados/kernel/mm/pmm"
	"zados/kernel/mm/vmm"
)

var errKernelHalted = errors.New("kernel halted")

// runKernel invokes fn and converts a halt of the simulated CPU into an
// error. Any other panic is propagated.
func runKernel(fn func() *kernel.Error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if r != cpu.ErrHalted {
				panic(r)
			}
			err = errKernelHalted
		}
	}()

	if kerr := fn(); kerr != nil {
		return fmt.Errorf("%s", kerr.String())
	}
	return nil
}

// bootKernel brings up the physical and virtual memory managers for
// profile. Kernel console output is forwarded to console. The kernel
// memory managers can only be initialised once per process.
func bootKernel(profile *bootinfo.Profile, selfTest bool, console *consoleWriter) error {
	kfmt.SetOutputSink(console)
	defer console.Flush()

	vmm.RunSelfTests = selfTest

	return runKernel(func() *kernel.Error {
		if err := pmm.Init(profile); err != nil {
			return err
		}
		return vmm.Init(profile, mm.FrameAllocator(), vmm.PlatformMemory(profile))
	})
}

// writeState prints the translation registers followed by the kernel
// mappings.
func writeState(w io.Writer) error {
	regs := cpu.Snapshot()
	fmt.Fprintf(w, "MAIR_EL1  = 0x%016x\n", regs.MAIR)
	fmt.Fprintf(w, "TCR_EL1   = 0x%016x\n", regs.TCR)
	fmt.Fprintf(w, "TTBR0_EL1 = 0x%016x\n", regs.TTBR0)
	fmt.Fprintf(w, "SCTLR_EL1 = 0x%016x\n", regs.SCTLR)
	fmt.Fprintf(w, "TLB flushes: %d entry, %d full\n", regs.TLBEntryFlushes, regs.TLBFullFlushes)

	if err := vmm.KernelPDT().DumpTo(w); err != nil {
		return fmt.Errorf("%s", err.String())
	}
	return nil
}
