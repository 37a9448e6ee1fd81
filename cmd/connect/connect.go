// Package connect implements the connect command, which opens a stream
// channel and pipes it to the standard streams.
package connect

import (
	"context"

	"dominicbreuker/sockchan/cmd/shared"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/entrypoint"

	"github.com/urfave/cli/v3"
)

// GetCommand returns the CLI command for connect mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "connect",
		Usage:       "Connect to a remote host",
		UsageText:   "sockchan connect [options] tcp://host:port",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ep, err := shared.ParseEndpoint(cmd.Args(), config.ProtoTCP, false)
			if err != nil {
				return err
			}

			cfg := shared.SharedConfig(cmd)
			sCfg := shared.StreamConfig(cmd)

			if err := shared.Validate(cfg, ep, sCfg); err != nil {
				return err
			}

			return entrypoint.Connect(ctx, cfg, ep, sCfg)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetStreamFlags()...)

	return flags
}
