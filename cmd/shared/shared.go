// Package shared provides common CLI flag definitions and utility functions
// used across sockchan's command-line interface.
package shared

import (
	"strings"
	"time"

	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/log"
	"dominicbreuker/sockchan/pkg/retry"
	"dominicbreuker/sockchan/pkg/socket"

	"github.com/urfave/cli/v3"
)

const categoryCommon = "common"

// VerboseFlag is the name of the flag to enable verbose logging.
const VerboseFlag = "verbose"

// LogFileFlag is the name of the flag to specify a transcript file.
const LogFileFlag = "log"

// GetBaseDescription returns the base description text for transport
// arguments of CLI commands.
func GetBaseDescription() string {
	return strings.Join([]string{
		"Specify transport like this: tcp://127.0.0.1:123 (supports tcp|udp)",
		"You can omit the host when listening to bind to all interfaces.",
	}, "\n")
}

// GetArgsUsage returns the arguments usage string for CLI commands.
func GetArgsUsage() string {
	return strings.Join([]string{
		"transport",
	}, " ")
}

// GetCommonFlags returns the flags every command accepts.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose logging",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
		&cli.StringFlag{
			Name:     LogFileFlag,
			Aliases:  []string{"l"},
			Usage:    "Also append received data to this file",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
	}
}

// SharedConfig builds the shared configuration from the common flags.
func SharedConfig(cmd *cli.Command) *config.Shared {
	verbose := cmd.Bool(VerboseFlag)
	return &config.Shared{
		Verbose: verbose,
		LogFile: cmd.String(LogFileFlag),
		Logger:  log.NewLogger(verbose),
	}
}

const categoryStream = "stream"

// TimeoutFlag is the name of the flag to specify the connect timeout.
const TimeoutFlag = "timeout"

// TLVFlag is the name of the flag to frame data as TLV records.
const TLVFlag = "tlv"

// RetryFlag is the name of the flag to retry failed connects.
const RetryFlag = "retry"

// ReconnectFlag is the name of the flag to reconnect dropped connections.
const ReconnectFlag = "reconnect"

// ReconnectDelayFlag is the name of the flag to specify the wait before a reconnect.
const ReconnectDelayFlag = "reconnect-delay"

// RetryBaseFlag is the name of the flag to specify the first retry delay.
const RetryBaseFlag = "retry-base"

// RetryMultiplierFlag is the name of the flag to specify the backoff factor.
const RetryMultiplierFlag = "retry-multiplier"

// RetryMaxDelayFlag is the name of the flag to specify the largest retry delay.
const RetryMaxDelayFlag = "retry-max-delay"

// RetryMaxAttemptsFlag is the name of the flag to limit retries.
const RetryMaxAttemptsFlag = "retry-max"

// GetStreamFlags returns the flags of commands using stream channels.
func GetStreamFlags() []cli.Flag {
	policy := retry.DefaultPolicy()

	return []cli.Flag{
		&cli.DurationFlag{
			Name:     TimeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Connect timeout",
			Category: categoryStream,
			Value:    socket.DefaultConnectTimeout,
		},
		&cli.BoolFlag{
			Name:     TLVFlag,
			Usage:    "Send input lines as TLV records and print received records",
			Category: categoryStream,
		},
		&cli.BoolFlag{
			Name:     RetryFlag,
			Aliases:  []string{"r"},
			Usage:    "Retry failed connects with exponential backoff",
			Category: categoryStream,
		},
		&cli.BoolFlag{
			Name:     ReconnectFlag,
			Usage:    "Reconnect when the remote side drops the connection",
			Category: categoryStream,
		},
		&cli.DurationFlag{
			Name:     ReconnectDelayFlag,
			Usage:    "Wait before reconnecting",
			Category: categoryStream,
			Value:    config.DefaultReconnectDelay,
		},
		&cli.DurationFlag{
			Name:     RetryBaseFlag,
			Usage:    "Delay before the first retry",
			Category: categoryStream,
			Value:    policy.BaseDelay,
		},
		&cli.FloatFlag{
			Name:     RetryMultiplierFlag,
			Usage:    "Factor applied to the delay after every retry",
			Category: categoryStream,
			Value:    policy.Multiplier,
		},
		&cli.DurationFlag{
			Name:     RetryMaxDelayFlag,
			Usage:    "Largest delay between retries",
			Category: categoryStream,
			Value:    policy.MaxDelay,
		},
		&cli.IntFlag{
			Name:     RetryMaxAttemptsFlag,
			Usage:    "Give up after this many retries, 0 retries forever",
			Category: categoryStream,
			Value:    0,
		},
	}
}

// StreamConfig builds the stream configuration from the stream flags.
func StreamConfig(cmd *cli.Command) *config.Stream {
	return &config.Stream{
		ConnectTimeout: cmd.Duration(TimeoutFlag),
		Retry:          cmd.Bool(RetryFlag),
		Policy: retry.Policy{
			BaseDelay:   cmd.Duration(RetryBaseFlag),
			Multiplier:  cmd.Float(RetryMultiplierFlag),
			MaxDelay:    cmd.Duration(RetryMaxDelayFlag),
			MaxAttempts: int(cmd.Int(RetryMaxAttemptsFlag)),
		},
		Reconnect:      cmd.Bool(ReconnectFlag),
		ReconnectDelay: cmd.Duration(ReconnectDelayFlag),
		TLV:            cmd.Bool(TLVFlag),
	}
}

const categoryListen = "listen"

// MaxConnsFlag is the name of the flag to limit concurrent connections.
const MaxConnsFlag = "max-conns"

// AcceptTimeoutFlag is the name of the flag to specify how long a
// connection waits for a free slot.
const AcceptTimeoutFlag = "accept-timeout"

// GetListenFlags returns the flags of the stream listener.
func GetListenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:     MaxConnsFlag,
			Aliases:  []string{"m"},
			Usage:    "Maximum concurrent connections, 0 for no limit",
			Category: categoryListen,
			Value:    0,
		},
		&cli.DurationFlag{
			Name:     AcceptTimeoutFlag,
			Usage:    "How long a new connection waits for a free slot",
			Category: categoryListen,
			Value:    time.Second,
		},
	}
}

// ListenerConfig builds the listener configuration from the listen flags.
func ListenerConfig(cmd *cli.Command) *config.Listener {
	return &config.Listener{
		MaxConns:      int(cmd.Int(MaxConnsFlag)),
		AcceptTimeout: cmd.Duration(AcceptTimeoutFlag),
		Backlog:       config.DefaultBacklog,
	}
}

const categoryDatagram = "datagram"

// CountFlag is the name of the flag to stop after a number of datagrams.
const CountFlag = "count"

// CaptureFlag is the name of the flag to specify a capture file.
const CaptureFlag = "capture"

// ReuseAddrFlag is the name of the flag to set SO_REUSEADDR.
const ReuseAddrFlag = "reuse-addr"

// PacedFlag is the name of the flag to keep captured timing on replay.
const PacedFlag = "paced"

// GetDatagramListenFlags returns the flags of the datagram listener.
func GetDatagramListenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:     CountFlag,
			Aliases:  []string{"c"},
			Usage:    "Stop after this many datagrams, 0 for no limit",
			Category: categoryDatagram,
			Value:    0,
		},
		&cli.StringFlag{
			Name:     CaptureFlag,
			Usage:    "Append received datagrams to this capture file",
			Category: categoryDatagram,
			Value:    "",
		},
		&cli.BoolFlag{
			Name:     ReuseAddrFlag,
			Usage:    "Allow binding an address that is still in use",
			Category: categoryDatagram,
		},
	}
}

// DatagramConfig builds the datagram configuration from the datagram flags.
func DatagramConfig(cmd *cli.Command) *config.Datagram {
	return &config.Datagram{
		ReuseAddr: cmd.Bool(ReuseAddrFlag),
		Count:     int(cmd.Int(CountFlag)),
		Capture:   cmd.String(CaptureFlag),
	}
}

// GetReplayFlags returns the flags of the replay command.
func GetReplayFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     CaptureFlag,
			Usage:    "Capture file to replay",
			Category: categoryDatagram,
			Required: true,
		},
		&cli.BoolFlag{
			Name:     PacedFlag,
			Usage:    "Keep the gaps between captured datagrams",
			Category: categoryDatagram,
		},
	}
}

// ReplayConfig builds the replay configuration from the replay flags.
func ReplayConfig(cmd *cli.Command) *config.Replay {
	return &config.Replay{
		File:  cmd.String(CaptureFlag),
		Paced: cmd.Bool(PacedFlag),
	}
}
