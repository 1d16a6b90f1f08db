package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"zados/kernel"
	"zados/kernel/mm"
	"zados/kernel/mm/vmm"
)

// Map implements subcommands.Command for the "map" command.
type Map struct {
	profile  string
	virt     uint64
	phys     uint64
	pages    uint64
	user     bool
	readOnly bool
	device   bool
}

// Name implements subcommands.Command.Name.
func (*Map) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Map) Synopsis() string {
	return "boot, map a range into the kernel table and print the result"
}

// Usage implements subcommands.Command.Usage.
func (*Map) Usage() string {
	return `map -profile <file> -virt <addr> -phys <addr> -pages <n> [-user] [-readonly] [-device]
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Map) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.profile, "profile", "", "path to the machine profile.")
	f.Uint64Var(&m.virt, "virt", 0, "page aligned virtual start address.")
	f.Uint64Var(&m.phys, "phys", 0, "page aligned physical start address.")
	f.Uint64Var(&m.pages, "pages", 1, "number of pages to map.")
	f.BoolVar(&m.user, "user", false, "make the mapping accessible from EL0.")
	f.BoolVar(&m.readOnly, "readonly", false, "map the range read-only.")
	f.BoolVar(&m.device, "device", false, "map the range as device memory.")
}

// Execute implements subcommands.Command.Execute.
func (m *Map) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if m.profile == "" || m.pages == 0 || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := loadProfile(m.profile)
	if err != nil {
		logrus.Errorf("loading profile: %v", err)
		return subcommands.ExitFailure
	}

	if err := bootKernel(cfg.Profile(), false, newConsoleWriter(logrus.StandardLogger())); err != nil {
		logrus.Errorf("boot failed: %v", err)
		return subcommands.ExitFailure
	}

	attrs := vmm.Attributes{Kernel: !m.user, Writable: !m.readOnly, Cacheable: !m.device}
	if err := mapPages(uintptr(m.virt), uintptr(m.phys), uintptr(m.pages), attrs); err != nil {
		logrus.Errorf("map failed: %v", err)
		return subcommands.ExitFailure
	}

	if err := writeState(os.Stdout); err != nil {
		logrus.Errorf("dumping tables: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// mapPages maps count pages starting at virt to the frames starting at phys
// in the kernel table and checks every page translates back to its frame.
func mapPages(virt, phys, count uintptr, attrs vmm.Attributes) error {
	size := count << mm.PageShift
	pdt := vmm.KernelPDT()

	if err := runKernel(func() *kernel.Error {
		return pdt.Map(virt, virt+size, phys, phys+size, attrs, nil)
	}); err != nil {
		return err
	}

	for offset := uintptr(0); offset < size; offset += mm.PageSize {
		got, err := pdt.Translate(virt + offset)
		if err != nil {
			return fmt.Errorf("translating %#x: %s", virt+offset, err.String())
		}
		if got != phys+offset {
			return fmt.Errorf("translating %#x: got %#x, want %#x", virt+offset, got, phys+offset)
		}
		logrus.Debugf("mapped %#x -> %#x", virt+offset, got)
	}

	return nil
}
