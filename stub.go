package main

import (
	"zados/kernel/hal/bootinfo"
	"zados/kernel/kmain"
)

// bootProfile is populated by the rt0 code with the memory layout reported by
// the boot stage before main runs.
var bootProfile bootinfo.Profile

// main makes a call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// A global variable is passed as an argument to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
func main() {
	kmain.Kmain(&bootProfile)
}
