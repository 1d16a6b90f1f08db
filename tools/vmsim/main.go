// Binary vmsim boots the kernel memory management code on the hosted CPU
// model and inspects the resulting translation tables.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	debug      = flag.Bool("debug", false, "enable debug logging.")
	jsonOutput = flag.Bool("log-json", false, "emit log entries as JSON.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Boot), "")
	subcommands.Register(new(Map), "")
	subcommands.Register(new(ESR), "")

	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *jsonOutput {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
