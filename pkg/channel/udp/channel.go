// Package udp implements a managed datagram channel: a bound UDP socket that
// delivers every received packet to a read handler and sends through its
// own serial queue.
package udp

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/buffer"
	"dominicbreuker/sockchan/pkg/channel"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/format"
	"dominicbreuker/sockchan/pkg/log"
	"dominicbreuker/sockchan/pkg/poll"
	"dominicbreuker/sockchan/pkg/queue"
	"dominicbreuker/sockchan/pkg/socket"

	"golang.org/x/sys/unix"
)

// MaxDatagramSize is the receive buffer size. Longer datagrams are truncated.
const MaxDatagramSize = 4096

// ErrResumed is returned by Resume on a channel that is already resumed.
var ErrResumed = errors.New("channel already resumed")

var receiveBuffers = buffer.NewPool(MaxDatagramSize, 4, 64)

// ReadHandler receives datagrams.
type ReadHandler func(Datagram)

// ErrorHandler receives receive and send failures.
type ErrorHandler func(error)

// LoggingReadHandler returns a read handler that logs every datagram.
func LoggingReadHandler(logger *log.Logger) ReadHandler {
	return func(d Datagram) {
		logger.InfoMsg("received %s from %s\n", format.Payload(d.Data, 32), d.From)
	}
}

// LoggingErrorHandler returns an error handler that logs every error.
func LoggingErrorHandler(logger *log.Logger) ErrorHandler {
	return func(err error) {
		logger.ErrorMsg("%s\n", err)
	}
}

// Options configure a new Channel. The zero value is usable.
type Options struct {
	Label  string
	Logger *log.Logger
	Deps   *config.Dependencies

	// ReadHandler and ErrorHandler default to the logging handlers.
	ReadHandler  ReadHandler
	ErrorHandler ErrorHandler
}

// Channel is a UDP socket bound to a local address.
type Channel struct {
	label     string
	addr      address.Address
	logger    *log.Logger
	newSocket config.SocketFunc
	sendQ     *queue.Serial
	resumeMu  sync.Mutex

	mu              sync.Mutex
	readHandler     ReadHandler
	errorHandler    ErrorHandler
	configureSocket func(*socket.Socket)
	sock            *socket.Socket
	source          *poll.Source
	resumed         bool
}

// New creates a suspended channel for the local address addr, which must
// carry a port.
func New(addr address.Address, opts *Options) *Channel {
	if _, ok := addr.Port(); !ok {
		panic(fmt.Sprintf("udp: address %s has no port", addr))
	}
	if opts == nil {
		opts = &Options{}
	}

	c := &Channel{
		label:        opts.Label,
		addr:         addr,
		logger:       opts.Logger,
		newSocket:    config.GetSocketFunc(opts.Deps),
		readHandler:  opts.ReadHandler,
		errorHandler: opts.ErrorHandler,
	}
	if c.readHandler == nil {
		c.readHandler = LoggingReadHandler(c.logger)
	}
	if c.errorHandler == nil {
		c.errorHandler = LoggingErrorHandler(c.logger)
	}
	c.sendQ = queue.New(c.label + " send")
	return c
}

func (c *Channel) String() string {
	return fmt.Sprintf("UDPChannel(%s, %s)", c.label, c.addr)
}

// Address returns the local address.
func (c *Channel) Address() address.Address {
	return c.addr
}

// SetReadHandler replaces the read handler.
func (c *Channel) SetReadHandler(fn ReadHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readHandler = fn
}

// SetErrorHandler replaces the error handler.
func (c *Channel) SetErrorHandler(fn ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandler = fn
}

// SetConfigureSocket sets a hook that runs on the socket before it is bound.
func (c *Channel) SetConfigureSocket(fn func(*socket.Socket)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configureSocket = fn
}

// Resumed reports whether the channel is bound and receiving.
func (c *Channel) Resumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

// LocalAddress returns the address the socket is bound to, which differs
// from Address when binding to port 0.
func (c *Channel) LocalAddress() (address.Address, error) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()

	if sock == nil {
		return address.Address{}, fmt.Errorf("local address: %w", channel.ErrNotResumed)
	}
	return sock.LocalAddress()
}

// Resume creates and binds the socket and starts receiving. It returns once
// the socket is bound. Failures also go to the error handler.
func (c *Channel) Resume() error {
	c.resumeMu.Lock()
	defer c.resumeMu.Unlock()

	c.mu.Lock()
	active := c.source != nil
	configure := c.configureSocket
	c.mu.Unlock()
	if active {
		return fmt.Errorf("resume(%s): %w", c.addr, ErrResumed)
	}

	sock, err := c.newSocket(c.addr.Family().Domain(), unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		err = fmt.Errorf("resume(%s): %w", c.addr, err)
		c.handleError(err)
		return err
	}
	if configure != nil {
		configure(sock)
	}
	if err := sock.SetNonBlocking(true); err != nil {
		sock.Close()
		c.handleError(err)
		return err
	}

	registered := make(chan error, 1)
	var src *poll.Source
	src, err = poll.NewReadSource(sock.Descriptor(), poll.Handlers{
		Register: func() { registered <- c.register(src, sock) },
		Event:    func() { c.receive(sock) },
		Cancel:   func() { c.cleanup(src, sock) },
		Error:    c.handleError,
	})
	if err != nil {
		sock.Close()
		err = fmt.Errorf("resume(%s): %w", c.addr, err)
		c.handleError(err)
		return err
	}

	c.mu.Lock()
	c.sock = sock
	c.source = src
	c.mu.Unlock()

	src.Resume()
	select {
	case err := <-registered:
		return err
	case <-src.Done():
		select {
		case err := <-registered:
			return err
		default:
			return fmt.Errorf("resume(%s): %w", c.addr, channel.ErrCancelled)
		}
	}
}

// register runs on the source goroutine before the first wait.
func (c *Channel) register(src *poll.Source, sock *socket.Socket) error {
	if err := sock.Bind(c.addr); err != nil {
		err = fmt.Errorf("bind(%s): %w", c.addr, err)
		c.handleError(err)
		src.Cancel()
		return err
	}

	c.mu.Lock()
	c.resumed = true
	c.mu.Unlock()
	c.logger.VerboseMsg("%s: bound\n", c)
	return nil
}

// receive reads one datagram. Runs on the source goroutine.
func (c *Channel) receive(sock *socket.Socket) {
	buf := receiveBuffers.Get()
	defer receiveBuffers.Put(buf)

	n, from, err := sock.RecvFrom(buf)
	if errors.Is(err, unix.EAGAIN) {
		return
	}
	if err != nil {
		c.handleError(fmt.Errorf("receive(%s): %w", c.addr, err))
		return
	}

	d := Datagram{
		From:      from,
		Timestamp: time.Now(),
		Data:      bytes.Clone(buf[:n]),
	}

	c.mu.Lock()
	fn := c.readHandler
	c.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

// cleanup closes the socket once the source stopped.
func (c *Channel) cleanup(src *poll.Source, sock *socket.Socket) {
	c.sendQ.Sync(func() {})
	if err := sock.Close(); err != nil {
		c.handleError(err)
	}

	c.mu.Lock()
	if c.source == src {
		c.source = nil
		c.sock = nil
		c.resumed = false
	}
	c.mu.Unlock()
	c.logger.VerboseMsg("%s: cancelled\n", c)
}

func (c *Channel) handleError(err error) {
	c.mu.Lock()
	fn := c.errorHandler
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Cancel stops receiving and closes the socket. The returned channel is
// closed once that happened. Cancelling a channel that is not resumed is a
// no-op.
func (c *Channel) Cancel() <-chan struct{} {
	c.mu.Lock()
	src, resumed := c.source, c.resumed
	c.mu.Unlock()

	if src == nil || !resumed {
		done := make(chan struct{})
		close(done)
		return done
	}
	src.Cancel()
	return src.Done()
}

// Send transmits data, which is copied, to the address to, or to the
// channel's own address if to is nil. callback runs on the send queue.
func (c *Channel) Send(data []byte, to *address.Address, callback func(error)) {
	c.mu.Lock()
	sock, resumed := c.sock, c.resumed
	c.mu.Unlock()

	if !resumed {
		call(callback, fmt.Errorf("send: %w", channel.ErrNotResumed))
		return
	}

	dest := c.addr
	if to != nil {
		dest = *to
	}
	payload := bytes.Clone(data)

	c.sendQ.Async(func() {
		err := c.sendTo(sock, payload, dest)
		if err != nil {
			c.handleError(err)
		}
		call(callback, err)
	})
}

func (c *Channel) sendTo(sock *socket.Socket, payload []byte, dest address.Address) error {
	if dest.Family() != c.addr.Family() {
		return fmt.Errorf("send(%s): %w: cannot send %s data on %s socket",
			dest, channel.ErrFamilyMismatch, dest.Family(), c.addr.Family())
	}
	return sock.SendTo(payload, dest)
}

// Send transmits one datagram from a fresh socket without a channel. The
// send runs on q; callback receives the outcome there, or immediately when
// no socket could be created.
func Send(q *queue.Serial, data []byte, to address.Address, deps *config.Dependencies, callback func(error)) {
	sock, err := config.GetSocketFunc(deps)(to.Family().Domain(), unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		call(callback, fmt.Errorf("send(%s): %w", to, err))
		return
	}

	payload := bytes.Clone(data)
	q.Async(func() {
		defer sock.Close()
		call(callback, sock.SendTo(payload, to))
	})
}

func call(callback func(error), err error) {
	if callback != nil {
		callback(err)
	}
}
