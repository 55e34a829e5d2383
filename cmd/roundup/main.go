// Command roundup reviews receipts against the receipt API from a terminal.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
	"github.com/roundup-invest/receipt-review/logger"
)

var commands = []subcommands.Command{
	&processCmd{},
	&searchCmd{},
}

func main() {
	logger.InitLogger()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	_ = logger.Close()
	os.Exit(int(status))
}
