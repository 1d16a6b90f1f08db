// Package pmm provides the physical frame allocator used while the kernel
// boots.
package pmm

import (
	"zados/kernel"
	"zados/kernel/hal/bootinfo"
	"zados/kernel/mm"
)

var (
	// bootMemAllocator is the page allocator used when the kernel boots.
	bootMemAllocator BootMemAllocator
)

// Init sets up the kernel physical memory allocation sub-system and registers
// the boot allocator as the active frame supplier.
func Init(profile *bootinfo.Profile) *kernel.Error {
	if err := profile.Validate(); err != nil {
		return err
	}

	bootMemAllocator.Init(profile)
	bootMemAllocator.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrames)

	return nil
}

// FreeFrame returns a frame to the active allocator.
func FreeFrame(frame mm.Frame) *kernel.Error {
	return bootMemAllocator.FreeFrame(frame)
}

func earlyAllocFrames(count uintptr) (mm.Frame, *kernel.Error) {
	return bootMemAllocator.AllocFrames(count)
}
