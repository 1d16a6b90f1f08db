package kmain

import (
	"zados/kernel"
	"zados/kernel/hal/bootinfo"
	"zados/kernel/kfmt"
	"zados/kernel/mm"
	"zados/kernel/mm/pmm"
	"zados/kernel/mm/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked by the rt0 assembly code on the boot core
// after secondary cores have been parked, with the memory profile assembled
// by the boot stage.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(profile *bootinfo.Profile) {
	var err *kernel.Error
	if err = pmm.Init(profile); err != nil {
		panic(err)
	} else if err = vmm.Init(profile, mm.FrameAllocator(), vmm.PlatformMemory(profile)); err != nil {
		panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
