// Package entrypoint runs the sockchan commands: it wires channels to the
// standard streams and keeps them alive until the context is cancelled.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dominicbreuker/sockchan/pkg/channel"
	"dominicbreuker/sockchan/pkg/channel/tcp"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/pipeio"
)

// closeTimeout bounds the wait for a channel to close after Disconnect.
const closeTimeout = 5 * time.Second

// uses interfaces/factories from internal.go (DI for testing)

// Connect opens a stream channel to ep, sends stdin and prints what arrives.
// It returns when stdin ends, the connection is gone for good, or ctx is
// cancelled.
func Connect(ctx context.Context, cfg *config.Shared, ep *config.Endpoint, sCfg *config.Stream) error {
	return connect(ctx, cfg, ep, sCfg, realStreamFactory())
}

func connect(
	parent context.Context,
	cfg *config.Shared,
	ep *config.Endpoint,
	sCfg *config.Stream,
	newChannel streamFactory,
) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	addr, err := ep.Address(ctx)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ep, err)
	}

	out, closeOut, err := openOutput(cfg)
	if err != nil {
		return err
	}
	defer closeOut()

	closed := make(chan error, 1)
	ch := newChannel(addr, &tcp.Options{
		Logger:         cfg.Logger,
		Deps:           cfg.Deps,
		ConnectTimeout: sCfg.ConnectTimeout,
		ReconnectDelay: sCfg.ReconnectDelay,
		Closed: func(err error) {
			select {
			case closed <- err:
			default:
			}
		},
	})
	ch.SetReadCallback(receiver(cfg, sCfg, out, ep.String()))
	ch.SetShouldReconnect(func() bool {
		return sCfg.Reconnect && ctx.Err() == nil
	})

	connected := make(chan error, 1)
	onConnect := func(err error) { connected <- err }
	if sCfg.Retry {
		ch.ConnectWithRetry(sCfg.Policy, onConnect)
	} else {
		ch.Connect(sCfg.ConnectTimeout, onConnect)
	}

	select {
	case err := <-connected:
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", ep, err)
		}
	case <-ctx.Done():
		// stops pending retries; the connect callback reports the cancellation
		ch.Disconnect(nil)
		if err := <-connected; err == nil {
			return disconnect(ch, closed)
		}
		return nil
	}
	cfg.Logger.InfoMsg("Connected to %s\n", ep)

	stdin := pipeio.NewStdio(config.GetStdinFunc(cfg.Deps)(), nil)
	defer stdin.Close()

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- pumpInput(ctx, sCfg, stdin, func(data []byte) error {
			err := writeSync(ch, data)
			if err != nil && sCfg.Reconnect && errors.Is(err, channel.ErrIncorrectState) {
				cfg.Logger.VerboseMsg("dropping %d bytes of input while reconnecting\n", len(data))
				return nil
			}
			return err
		})
	}()

	select {
	case err := <-closed:
		if err != nil {
			return fmt.Errorf("connection to %s: %w", ep, err)
		}
		cfg.Logger.InfoMsg("Connection to %s closed\n", ep)
		return nil

	case err := <-inputDone:
		cfg.Logger.VerboseMsg("Connect: input ended, disconnecting\n")
		if derr := disconnect(ch, closed); derr != nil {
			return derr
		}
		if err != nil {
			return fmt.Errorf("sending to %s: %w", ep, err)
		}
		return nil

	case <-ctx.Done():
		cfg.Logger.VerboseMsg("Connect: context cancelled, disconnecting\n")
		return disconnect(ch, closed)
	}
}

// disconnect closes ch and waits for its Closed callback. Cancelled
// reconnects are not an error.
func disconnect(ch streamChannel, closed <-chan error) error {
	ch.Disconnect(nil)

	select {
	case err := <-closed:
		if err != nil && !errors.Is(err, channel.ErrCancelled) {
			return fmt.Errorf("disconnecting: %w", err)
		}
		return nil
	case <-time.After(closeTimeout):
		return fmt.Errorf("disconnecting: channel did not close within %s", closeTimeout)
	}
}
