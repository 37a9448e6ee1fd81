// Package listen implements the listen command, which accepts stream
// connections and pipes them to the standard streams.
package listen

import (
	"context"

	"dominicbreuker/sockchan/cmd/shared"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/entrypoint"

	"github.com/urfave/cli/v3"
)

// GetCommand returns the CLI command for listen mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "listen",
		Usage:       "Listen for connections",
		UsageText:   "sockchan listen [options] tcp://[host]:port",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ep, err := shared.ParseEndpoint(cmd.Args(), config.ProtoTCP, true)
			if err != nil {
				return err
			}

			cfg := shared.SharedConfig(cmd)
			sCfg := shared.StreamConfig(cmd)
			lCfg := shared.ListenerConfig(cmd)

			if err := shared.Validate(cfg, ep, sCfg, lCfg); err != nil {
				return err
			}

			return entrypoint.Listen(ctx, cfg, ep, sCfg, lCfg)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetStreamFlags()...)
	flags = append(flags, shared.GetListenFlags()...)

	return flags
}
