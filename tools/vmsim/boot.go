package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	profile  string
	selfTest bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "initialise the memory managers and print the resulting tables"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot -profile <profile.toml|profile.yaml> [-selftest]
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.profile, "profile", "", "path to the machine profile.")
	f.BoolVar(&b.selfTest, "selftest", false, "run the fault injection self tests after bring-up.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if b.profile == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := loadProfile(b.profile)
	if err != nil {
		logrus.Errorf("loading profile: %v", err)
		return subcommands.ExitFailure
	}

	if err := bootKernel(cfg.Profile(), b.selfTest, newConsoleWriter(logrus.StandardLogger())); err != nil {
		logrus.Errorf("boot failed: %v", err)
		return subcommands.ExitFailure
	}

	if err := writeState(os.Stdout); err != nil {
		logrus.Errorf("dumping tables: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
