package vmm

// Attributes describe the permission and caching intent of a mapping.
type Attributes struct {
	// Kernel restricts access to EL1.
	Kernel bool

	// Writable allows stores to the mapping.
	Writable bool

	// Cacheable selects normal write-back memory. Device registers must be
	// mapped with Cacheable set to false.
	Cacheable bool
}

var (
	// KernelRW describes regular kernel data.
	KernelRW = Attributes{Kernel: true, Writable: true, Cacheable: true}

	// KernelRO describes read-only kernel data.
	KernelRO = Attributes{Kernel: true, Cacheable: true}

	// KernelDevice describes memory-mapped device registers.
	KernelDevice = Attributes{Kernel: true, Writable: true}
)

// labels returns the privilege, access and memory type labels used when
// dumping page tables.
func (a Attributes) labels() (priv, access, memType string) {
	priv, access, memType = "user", "ro", "device"
	if a.Kernel {
		priv = "kernel"
	}
	if a.Writable {
		access = "rw"
	}
	if a.Cacheable {
		memType = "normal"
	}
	return priv, access, memType
}
