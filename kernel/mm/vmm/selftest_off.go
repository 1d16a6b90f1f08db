//go:build !vmmselftest

package vmm

// RunSelfTests controls whether Init runs the fault injection tests. Kernels
// built with the vmmselftest tag enable it by default.
var RunSelfTests = false
