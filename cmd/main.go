// Package main is the entry point of sockchan, a tool for talking to TCP
// and UDP endpoints from the command line.
package main

import (
	"context"
	"os"

	"dominicbreuker/sockchan/cmd/connect"
	"dominicbreuker/sockchan/cmd/listen"
	"dominicbreuker/sockchan/cmd/shared"
	"dominicbreuker/sockchan/cmd/udp"
	"dominicbreuker/sockchan/cmd/version"
	"dominicbreuker/sockchan/pkg/log"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared.SetupSignalHandling(cancel)

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.ErrorMsg("%s\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "sockchan",
		Usage: "talk to TCP and UDP endpoints over managed channels",
		Commands: []*cli.Command{
			connect.GetCommand(),
			listen.GetCommand(),
			udp.GetCommand(),
			version.GetCommand(),
		},
	}
}
