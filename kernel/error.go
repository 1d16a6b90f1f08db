package kernel

// Error describes a kernel error. Kernel errors are declared once as
// package-level pointers so that reporting them never needs the Go allocator;
// this is what allows code running inside an exception handler (before or
// without a working heap) to return and compare errors by identity.
type Error struct {
	// Module names the subsystem that raised the error (e.g. "vmm").
	Module string

	// Message is a human-readable description of the failure.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error prefixed with the module that raised it.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
