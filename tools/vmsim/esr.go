package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"zados/kernel/mm/vmm"
)

// spsrEL1h is the saved program status of an exception taken from EL1 with
// SP_EL1 selected and interrupts masked.
const spsrEL1h = 0x3c5

// ESR implements subcommands.Command for the "esr" command.
type ESR struct {
	esr  uint64
	far  uint64
	spsr uint64
}

// Name implements subcommands.Command.Name.
func (*ESR) Name() string {
	return "esr"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ESR) Synopsis() string {
	return "decode an abort syndrome"
}

// Usage implements subcommands.Command.Usage.
func (*ESR) Usage() string {
	return `esr -esr <syndrome> -far <address> [-spsr <status>]
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *ESR) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&e.esr, "esr", 0, "value of ESR_EL1.")
	f.Uint64Var(&e.far, "far", 0, "value of FAR_EL1.")
	f.Uint64Var(&e.spsr, "spsr", spsrEL1h, "value of SPSR_EL1.")
}

// Execute implements subcommands.Command.Execute.
func (e *ESR) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	writeFault(os.Stdout, e.esr, e.far, e.spsr)
	return subcommands.ExitSuccess
}

func writeFault(w io.Writer, esr, far, spsr uint64) {
	info := vmm.DecodeFault(esr, far, spsr)
	fmt.Fprintf(w, "exception class: %#02x\n", uint64(info.Class))
	fmt.Fprintf(w, "%s\n", info.String())
}
