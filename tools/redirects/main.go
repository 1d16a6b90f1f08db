package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var rootDir = flag.String("root", ".", "path to the kernel module root.")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(new(count), "")
	subcommands.Register(new(populateTable), "")

	flag.Parse()
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	os.Exit(int(subcommands.Execute(context.Background())))
}

// count implements subcommands.Command for the "count" command.
type count struct{}

func (*count) Name() string     { return "count" }
func (*count) Synopsis() string { return "print the number of declared redirects" }
func (*count) Usage() string    { return "count\n" }

func (*count) SetFlags(*flag.FlagSet) {}

func (*count) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	redirects, err := kernelRedirects(*rootDir)
	if err != nil {
		logrus.WithError(err).Error("[redirects] collecting redirects")
		return subcommands.ExitFailure
	}

	fmt.Printf("%d", len(redirects))
	return subcommands.ExitSuccess
}

// populateTable implements subcommands.Command for the "populate-table"
// command.
type populateTable struct{}

func (*populateTable) Name() string     { return "populate-table" }
func (*populateTable) Synopsis() string { return "write the redirect table into a kernel image" }
func (*populateTable) Usage() string    { return "populate-table <kernel image>\n" }

func (*populateTable) SetFlags(*flag.FlagSet) {}

func (*populateTable) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	imgFile := f.Arg(0)

	redirects, err := kernelRedirects(*rootDir)
	if err != nil {
		logrus.WithError(err).Error("[redirects] collecting redirects")
		return subcommands.ExitFailure
	}

	if err = elfResolveRedirectSymbols(redirects, imgFile); err != nil {
		logrus.WithError(err).Error("[redirects] resolving symbols")
		return subcommands.ExitFailure
	}

	if err = elfWriteRedirectTable(redirects, imgFile); err != nil {
		logrus.WithError(err).Error("[redirects] writing table")
		return subcommands.ExitFailure
	}

	logrus.WithField("count", len(redirects)).Infof("[redirects] populated %s", imgFile)
	return subcommands.ExitSuccess
}
