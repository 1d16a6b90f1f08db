//go:build baremetal

package vmm

import (
	"zados/kernel/cpu"
	"zados/kernel/hal/bootinfo"
)

// probeReadFn reads a byte from a virtual address. It is used by the self
// tests and is mocked by unit tests.
var probeReadFn = func(virtAddr uintptr) {
	_ = cpu.ProbeRead(virtAddr)
}

// PlatformMemory returns the Memory used to hold page tables. Physical memory
// is identity mapped while the kernel boots.
func PlatformMemory(profile *bootinfo.Profile) Memory {
	return IdentityMemory{Limit: profile.MemorySize}
}
