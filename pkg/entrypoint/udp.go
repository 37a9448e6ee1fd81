package entrypoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/channel/udp"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/format"
	"dominicbreuker/sockchan/pkg/pipeio"
	"dominicbreuker/sockchan/pkg/queue"
	"dominicbreuker/sockchan/pkg/socket"
)

// UDPListen binds a datagram channel to ep and prints every datagram. With
// a capture file set, datagrams are also appended to it. It returns after
// dCfg.Count datagrams or when ctx is cancelled.
func UDPListen(ctx context.Context, cfg *config.Shared, ep *config.Endpoint, dCfg *config.Datagram) error {
	return udpListen(ctx, cfg, ep, dCfg, realDatagramFactory(), nil)
}

func udpListen(
	parent context.Context,
	cfg *config.Shared,
	ep *config.Endpoint,
	dCfg *config.Datagram,
	newChannel datagramFactory,
	ready func(address.Address),
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

	var capture *bufio.Writer
	if dCfg.Capture != "" {
		f, err := os.OpenFile(dCfg.Capture, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening capture file %s: %w", dCfg.Capture, err)
		}
		defer f.Close()
		capture = bufio.NewWriter(f)
		defer func() {
			if err := capture.Flush(); err != nil {
				cfg.Logger.ErrorMsg("writing capture file: %s\n", err)
			}
		}()
	}

	// the read handler only ever runs on the receive goroutine
	received := 0
	countReached := make(chan struct{})
	var reachedOnce sync.Once
	onDatagram := func(d udp.Datagram) {
		received++
		header := fmt.Sprintf("datagram from %s at %s, %d bytes", d.From, d.Timestamp.Format(time.RFC3339Nano), len(d.Data))
		if err := out.WriteChunk(header, d.Data); err != nil {
			cfg.Logger.ErrorMsg("writing output: %s\n", err)
		}
		if capture != nil {
			if err := udp.WriteDatagram(capture, d); err != nil {
				cfg.Logger.ErrorMsg("writing capture file: %s\n", err)
			}
		}
		if dCfg.Count > 0 && received >= dCfg.Count {
			reachedOnce.Do(func() { close(countReached) })
		}
	}

	ch := newChannel(addr, &udp.Options{
		Logger:       cfg.Logger,
		Deps:         cfg.Deps,
		ReadHandler:  onDatagram,
		ErrorHandler: udp.LoggingErrorHandler(cfg.Logger),
	})
	if dCfg.ReuseAddr {
		ch.SetConfigureSocket(func(s *socket.Socket) {
			if err := s.SetReuseAddr(true); err != nil {
				cfg.Logger.ErrorMsg("%s\n", err)
			}
		})
	}

	if err := ch.Resume(); err != nil {
		return fmt.Errorf("listening on %s: %w", ep, err)
	}
	local, err := ch.LocalAddress()
	if err != nil {
		<-ch.Cancel()
		return fmt.Errorf("listening on %s: %w", ep, err)
	}
	cfg.Logger.InfoMsg("Listening on %s\n", local)
	if ready != nil {
		ready(local)
	}

	select {
	case <-countReached:
		cfg.Logger.VerboseMsg("UDPListen: received %d datagrams\n", dCfg.Count)
	case <-ctx.Done():
		cfg.Logger.VerboseMsg("UDPListen: context cancelled\n")
	}
	<-ch.Cancel()
	return nil
}

// UDPSend sends stdin to ep, one datagram per chunk read. It returns when
// stdin ends or ctx is cancelled.
func UDPSend(ctx context.Context, cfg *config.Shared, ep *config.Endpoint) error {
	return udpSend(ctx, cfg, ep, realDatagramSender())
}

func udpSend(parent context.Context, cfg *config.Shared, ep *config.Endpoint, send datagramSender) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	to, err := ep.Address(ctx)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ep, err)
	}

	stdin := pipeio.NewStdio(config.GetStdinFunc(cfg.Deps)(), nil)
	defer stdin.Close()

	// input is chunked at MaxDatagramSize so a listener gets it untruncated
	q := queue.New("udp send " + to.String())
	sent := 0
	err = pipeio.Pump(ctx, stdin, func(data []byte) error {
		for len(data) > 0 {
			n := min(len(data), udp.MaxDatagramSize)
			if err := sendSync(q, data[:n], to, cfg.Deps, send); err != nil {
				return err
			}
			cfg.Logger.VerboseMsg("sent %s to %s\n", format.Payload(data[:n], 16), to)
			data = data[n:]
			sent++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", ep, err)
	}

	cfg.Logger.InfoMsg("Sent %d datagrams to %s\n", sent, ep)
	return nil
}

// UDPReplay sends the payloads of a capture file to ep, in order. Paced
// replays keep the gaps between the captured timestamps.
func UDPReplay(ctx context.Context, cfg *config.Shared, ep *config.Endpoint, rCfg *config.Replay) error {
	return udpReplay(ctx, cfg, ep, rCfg, realDatagramSender())
}

func udpReplay(parent context.Context, cfg *config.Shared, ep *config.Endpoint, rCfg *config.Replay, send datagramSender) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	to, err := ep.Address(ctx)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ep, err)
	}

	f, err := os.Open(rCfg.File)
	if err != nil {
		return fmt.Errorf("opening capture file %s: %w", rCfg.File, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	q := queue.New("udp replay " + to.String())
	var last time.Time
	sent := 0
	for {
		d, err := udp.ReadDatagram(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading capture file %s: %w", rCfg.File, err)
		}

		if rCfg.Paced && !last.IsZero() {
			if gap := d.Timestamp.Sub(last); gap > 0 {
				select {
				case <-time.After(gap):
				case <-ctx.Done():
					return nil
				}
			}
		}
		last = d.Timestamp

		if ctx.Err() != nil {
			return nil
		}
		if err := sendSync(q, d.Data, to, cfg.Deps, send); err != nil {
			return fmt.Errorf("replaying to %s: %w", ep, err)
		}
		sent++
	}

	cfg.Logger.InfoMsg("Replayed %d datagrams to %s\n", sent, ep)
	return nil
}

// sendSync sends one datagram and waits for the outcome.
func sendSync(q *queue.Serial, data []byte, to address.Address, deps *config.Dependencies, send datagramSender) error {
	done := make(chan error, 1)
	send(q, data, to, deps, func(err error) { done <- err })
	return <-done
}
