package entrypoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/channel/tcp"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/pipeio"
	"dominicbreuker/sockchan/pkg/semaphore"
	"dominicbreuker/sockchan/pkg/socket"
	"dominicbreuker/sockchan/pkg/terminal"

	"golang.org/x/sys/unix"
)

// Listen accepts stream connections on ep. Every connection becomes a
// stream channel whose data is printed; stdin is sent to all of them. It
// returns when ctx is cancelled or accepting fails.
func Listen(ctx context.Context, cfg *config.Shared, ep *config.Endpoint, sCfg *config.Stream, lCfg *config.Listener) error {
	return listen(ctx, cfg, ep, sCfg, lCfg, nil)
}

func listen(
	parent context.Context,
	cfg *config.Shared,
	ep *config.Endpoint,
	sCfg *config.Stream,
	lCfg *config.Listener,
	ready func(address.Address),
) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	addr, err := ep.Address(ctx)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ep, err)
	}

	l, err := openListener(cfg.Deps, addr, lCfg.Backlog)
	if err != nil {
		return err
	}
	defer l.Close()

	local, err := l.LocalAddress()
	if err != nil {
		return fmt.Errorf("listening on %s: %w", ep, err)
	}
	cfg.Logger.InfoMsg("Listening on %s\n", local)

	out, closeOut, err := openOutput(cfg)
	if err != nil {
		return err
	}
	defer closeOut()

	conns := &connSet{
		cfg:   cfg,
		sCfg:  sCfg,
		out:   out,
		conns: make(map[*tcp.Channel]address.Address),
	}
	defer conns.closeAll()

	if ready != nil {
		ready(local)
	}

	sem := semaphore.New(lCfg.MaxConns, lCfg.AcceptTimeout)
	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- acceptLoop(ctx, cfg, l, sem, conns)
	}()

	stdin := pipeio.NewStdio(config.GetStdinFunc(cfg.Deps)(), nil)
	defer stdin.Close()
	go func() {
		if err := pumpInput(ctx, sCfg, stdin, conns.broadcast); err != nil {
			cfg.Logger.ErrorMsg("reading input: %s\n", err)
		}
		cfg.Logger.VerboseMsg("Listen: input ended\n")
	}()

	select {
	case err := <-acceptDone:
		return err
	case <-ctx.Done():
		cfg.Logger.VerboseMsg("Listen: context cancelled, closing listener\n")
		// accept fails with EINVAL once the listener is shut down
		if err := l.Shutdown(unix.SHUT_RDWR); err != nil {
			cfg.Logger.VerboseMsg("Listen: %s\n", err)
		}
		<-acceptDone
		return nil
	}
}

func openListener(deps *config.Dependencies, addr address.Address, backlog int) (*socket.Socket, error) {
	if backlog <= 0 {
		backlog = config.DefaultBacklog
	}

	l, err := config.GetSocketFunc(deps)(addr.Family().Domain(), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if err := l.SetReuseAddr(true); err != nil {
		l.Close()
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if err := l.Bind(addr); err != nil {
		l.Close()
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if err := l.Listen(backlog); err != nil {
		l.Close()
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return l, nil
}

func acceptLoop(ctx context.Context, cfg *config.Shared, l *socket.Socket, sem *semaphore.ConnSemaphore, conns *connSet) error {
	for {
		sock, peer, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting: %w", err)
		}

		if err := sem.Acquire(ctx); err != nil {
			cfg.Logger.ErrorMsg("Rejecting connection from %s: %s\n", peer, err)
			sock.Close()
			continue
		}

		cfg.Logger.InfoMsg("Connection from %s\n", peer)
		conns.adopt(peer, sock, sem.Release)
	}
}

// connSet tracks the connections of a listener.
type connSet struct {
	cfg  *config.Shared
	sCfg *config.Stream
	out  *terminal.Writer

	mu    sync.Mutex
	conns map[*tcp.Channel]address.Address
	wg    sync.WaitGroup
}

// adopt wraps an accepted socket in a channel. release runs once the
// connection closed.
func (s *connSet) adopt(peer address.Address, sock *socket.Socket, release func()) {
	s.wg.Add(1)

	var ch *tcp.Channel
	setup := func(c *tcp.Channel) {
		ch = c
		c.SetReadCallback(receiver(s.cfg, s.sCfg, s.out, peer.String()))
		s.mu.Lock()
		s.conns[c] = peer
		s.mu.Unlock()
	}

	tcp.NewFromSocket(peer, sock, setup, &tcp.Options{
		Logger: s.cfg.Logger,
		Deps:   s.cfg.Deps,
		Closed: func(error) {
			s.mu.Lock()
			delete(s.conns, ch)
			s.mu.Unlock()

			release()
			s.cfg.Logger.InfoMsg("Connection from %s closed\n", peer)
			s.wg.Done()
		},
	})
}

// broadcast writes data to every connection. Failed writes are logged and
// do not stop the input.
func (s *connSet) broadcast(data []byte) error {
	s.mu.Lock()
	targets := make([]*tcp.Channel, 0, len(s.conns))
	for ch := range s.conns {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		s.cfg.Logger.VerboseMsg("dropping %d bytes of input: no connections\n", len(data))
		return nil
	}

	for _, ch := range targets {
		if err := writeSync(ch, data); err != nil {
			s.cfg.Logger.VerboseMsg("%s: %s\n", ch, err)
		}
	}
	return nil
}

// Len returns the number of open connections.
func (s *connSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// closeAll disconnects every connection and waits until they closed.
func (s *connSet) closeAll() {
	s.mu.Lock()
	for ch := range s.conns {
		ch.Disconnect(nil)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		s.cfg.Logger.ErrorMsg("connections did not close within %s\n", closeTimeout)
	}
}
