package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"zados/kernel/hal/bootinfo"
)

// rangeConfig is the on-disk form of bootinfo.Range.
type rangeConfig struct {
	Start uint64 `toml:"start" yaml:"start"`
	End   uint64 `toml:"end" yaml:"end"`
}

// mappingConfig is the on-disk form of bootinfo.Mapping. Virtual and
// physical ranges always have the same size.
type mappingConfig struct {
	Virt     uint64 `toml:"virt" yaml:"virt"`
	Phys     uint64 `toml:"phys" yaml:"phys"`
	Size     uint64 `toml:"size" yaml:"size"`
	Device   bool   `toml:"device" yaml:"device"`
	ReadOnly bool   `toml:"readonly" yaml:"readonly"`
	User     bool   `toml:"user" yaml:"user"`
}

// profileConfig describes the simulated machine.
type profileConfig struct {
	// MemorySize is the amount of physical memory in bytes.
	MemorySize uint64 `toml:"memory_size" yaml:"memory_size"`

	// ReservedPhysical lists the frames the boot allocator must not hand
	// out.
	ReservedPhysical []rangeConfig `toml:"reserved_physical" yaml:"reserved_physical"`

	// ReservedVirtual lists the ranges mapped into the kernel table during
	// bring-up.
	ReservedVirtual []mappingConfig `toml:"reserved_virtual" yaml:"reserved_virtual"`

	// KernelVirtual is the window used by EarlyReserveRegion.
	KernelVirtual rangeConfig `toml:"kernel_virtual" yaml:"kernel_virtual"`
}

// loadProfile reads a machine profile. The format is picked from the file
// extension.
func loadProfile(path string) (*profileConfig, error) {
	var c profileConfig

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, &c)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported profile format %q", path, ext)
	}

	return &c, nil
}

// Profile converts the configuration to the layout consumed by the kernel.
func (c *profileConfig) Profile() *bootinfo.Profile {
	p := &bootinfo.Profile{
		MemorySize:         uintptr(c.MemorySize),
		KernelVirtualStart: uintptr(c.KernelVirtual.Start),
		KernelVirtualEnd:   uintptr(c.KernelVirtual.End),
	}

	for _, r := range c.ReservedPhysical {
		p.ReservedPhysical = append(p.ReservedPhysical, bootinfo.Range{
			Start: uintptr(r.Start),
			End:   uintptr(r.End),
		})
	}

	for _, m := range c.ReservedVirtual {
		p.ReservedVirtual = append(p.ReservedVirtual, bootinfo.Mapping{
			Virtual:  bootinfo.Range{Start: uintptr(m.Virt), End: uintptr(m.Virt + m.Size)},
			Physical: bootinfo.Range{Start: uintptr(m.Phys), End: uintptr(m.Phys + m.Size)},
			Device:   m.Device,
			ReadOnly: m.ReadOnly,
			User:     m.User,
		})
	}

	return p
}
