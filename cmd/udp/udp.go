// Package udp implements the udp command and its subcommands for sending,
// receiving and replaying datagrams.
package udp

import (
	"context"

	"dominicbreuker/sockchan/cmd/shared"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/entrypoint"

	"github.com/urfave/cli/v3"
)

// GetCommand returns the CLI command grouping the datagram subcommands.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "udp",
		Usage: "Send and receive datagrams",
		Commands: []*cli.Command{
			getListenCommand(),
			getSendCommand(),
			getReplayCommand(),
		},
	}
}

func getListenCommand() *cli.Command {
	return &cli.Command{
		Name:        "listen",
		Usage:       "Print datagrams received on a local address",
		UsageText:   "sockchan udp listen [options] udp://[host]:port",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ep, err := shared.ParseEndpoint(cmd.Args(), config.ProtoUDP, true)
			if err != nil {
				return err
			}

			cfg := shared.SharedConfig(cmd)
			dCfg := shared.DatagramConfig(cmd)

			if err := shared.Validate(cfg, ep, dCfg); err != nil {
				return err
			}

			return entrypoint.UDPListen(ctx, cfg, ep, dCfg)
		},
		Flags: append(shared.GetCommonFlags(), shared.GetDatagramListenFlags()...),
	}
}

func getSendCommand() *cli.Command {
	return &cli.Command{
		Name:        "send",
		Usage:       "Send stdin as datagrams",
		UsageText:   "sockchan udp send [options] udp://host:port",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ep, err := shared.ParseEndpoint(cmd.Args(), config.ProtoUDP, false)
			if err != nil {
				return err
			}

			cfg := shared.SharedConfig(cmd)

			if err := shared.Validate(cfg, ep); err != nil {
				return err
			}

			return entrypoint.UDPSend(ctx, cfg, ep)
		},
		Flags: shared.GetCommonFlags(),
	}
}

func getReplayCommand() *cli.Command {
	return &cli.Command{
		Name:        "replay",
		Usage:       "Send the datagrams of a capture file",
		UsageText:   "sockchan udp replay --capture file [options] udp://host:port",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ep, err := shared.ParseEndpoint(cmd.Args(), config.ProtoUDP, false)
			if err != nil {
				return err
			}

			cfg := shared.SharedConfig(cmd)
			rCfg := shared.ReplayConfig(cmd)

			if err := shared.Validate(cfg, ep, rCfg); err != nil {
				return err
			}

			return entrypoint.UDPReplay(ctx, cfg, ep, rCfg)
		},
		Flags: append(shared.GetCommonFlags(), shared.GetReplayFlags()...),
	}
}
