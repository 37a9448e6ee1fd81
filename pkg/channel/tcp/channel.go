// Package tcp implements a managed stream channel over a raw TCP socket.
//
// A Channel serializes its state changes and callbacks on one queue. Reads
// run on a dedicated goroutine and are handed to the read callback in
// arrival order; writes run on a second queue in submission order.
package tcp

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
	"dominicbreuker/sockchan/pkg/log"
	"dominicbreuker/sockchan/pkg/queue"
	"dominicbreuker/sockchan/pkg/retry"
	"dominicbreuker/sockchan/pkg/socket"

	"golang.org/x/sys/unix"
)

// ReadBufferSize is the size of a single read from the socket.
const ReadBufferSize = 64 * 1024

var readBuffers = buffer.NewPool(ReadBufferSize, 0, 32)

// ReadCallback receives the chunks read from a connection. Exactly one of
// data and err is set.
type ReadCallback func(data []byte, err error)

// Options configure a new Channel. The zero value is usable.
type Options struct {
	Label  string
	Logger *log.Logger
	Deps   *config.Dependencies

	// ConnectTimeout bounds every handshake started by ConnectWithRetry and
	// by reconnects. Defaults to socket.DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// ReconnectDelay is the initial value of SetReconnectDelay.
	ReconnectDelay time.Duration

	// Closed runs on the channel's queue whenever a connection ended and no
	// reconnect is pending. err is set if a reconnect gave up or was
	// cancelled.
	Closed func(err error)
}

// Channel is a TCP connection to one address with an explicit lifecycle.
type Channel struct {
	label          string
	addr           address.Address
	logger         *log.Logger
	newSocket      config.SocketFunc
	connectTimeout time.Duration
	closed         func(error)

	q      *queue.Serial
	writer *queue.Serial
	sm     stateMachine

	cfgMu           sync.Mutex
	readCallback    ReadCallback
	shouldReconnect func() bool
	reconnectDelay  time.Duration
	configureSocket func(*socket.Socket)

	// owned by q
	sock               *socket.Socket
	gen                uint64
	disconnectCallback func(error)
	retrier            *retry.Retrier
	retryCallback      func(error)
	policy             retry.Policy
	reconnectTimer     *time.Timer
}

// New creates a disconnected channel for addr, which must carry a port.
func New(addr address.Address, opts *Options) *Channel {
	if _, ok := addr.Port(); !ok {
		panic(fmt.Sprintf("tcp: address %s has no port", addr))
	}
	if opts == nil {
		opts = &Options{}
	}

	c := &Channel{
		label:          opts.Label,
		addr:           addr,
		logger:         opts.Logger,
		newSocket:      config.GetSocketFunc(opts.Deps),
		connectTimeout: opts.ConnectTimeout,
		closed:         opts.Closed,
		reconnectDelay: opts.ReconnectDelay,
		policy:         retry.DefaultPolicy(),
	}
	if c.label == "" {
		c.label = addr.String()
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = socket.DefaultConnectTimeout
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = config.DefaultReconnectDelay
	}
	c.q = queue.New(c.label)
	c.writer = queue.New(c.label + " writer")
	return c
}

// NewFromSocket wraps an already connected socket, typically one returned by
// Accept. setup runs while the channel is still disconnected so it can
// install callbacks; afterwards the channel is connected and reading.
func NewFromSocket(addr address.Address, sock *socket.Socket, setup func(*Channel), opts *Options) *Channel {
	c := New(addr, opts)
	if setup != nil {
		setup(c)
	}

	c.q.Sync(func() {
		c.sm.mustTransition(Connecting)
		c.sock = sock
		c.gen++
		c.sm.mustTransition(Connected)
		c.logger.VerboseMsg("%s: adopted %s\n", c, sock)
		c.startReading(sock, c.gen)
	})
	return c
}

func (c *Channel) String() string {
	return fmt.Sprintf("TCPChannel(%s, %s, %s)", c.label, c.addr, c.sm.Current())
}

// Address returns the remote address.
func (c *Channel) Address() address.Address {
	return c.addr
}

// State returns the current state.
func (c *Channel) State() State {
	return c.sm.Current()
}

// Observe registers fn to be called after every state transition, on the
// channel's queue.
func (c *Channel) Observe(fn Observer) {
	c.sm.observe(fn)
}

// SetReadCallback sets the receiver of incoming data. It panics unless the
// channel is disconnected.
func (c *Channel) SetReadCallback(fn ReadCallback) {
	c.mustBeDisconnected("SetReadCallback")
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.readCallback = fn
}

// SetShouldReconnect sets the predicate asked after the remote side dropped
// the connection. It panics unless the channel is disconnected.
func (c *Channel) SetShouldReconnect(fn func() bool) {
	c.mustBeDisconnected("SetShouldReconnect")
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.shouldReconnect = fn
}

// SetReconnectDelay sets the wait before a reconnect. It panics unless the
// channel is disconnected.
func (c *Channel) SetReconnectDelay(d time.Duration) {
	c.mustBeDisconnected("SetReconnectDelay")
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.reconnectDelay = d
}

// SetConfigureSocket sets a hook that runs on every new socket before it
// connects. It panics unless the channel is disconnected.
func (c *Channel) SetConfigureSocket(fn func(*socket.Socket)) {
	c.mustBeDisconnected("SetConfigureSocket")
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.configureSocket = fn
}

func (c *Channel) mustBeDisconnected(op string) {
	if st := c.sm.Current(); st != Disconnected {
		panic(fmt.Sprintf("tcp: %s on %s channel", op, st))
	}
}

// Connect opens a connection, waiting at most timeout for the handshake.
// callback receives nil once connected, or the failure. A channel that is not
// disconnected fails with an IncorrectStateError and keeps its state.
func (c *Channel) Connect(timeout time.Duration, callback func(error)) {
	c.q.Async(func() {
		call(callback, c.connect(timeout))
	})
}

// ConnectWithRetry connects like Connect, retrying failures with policy.
// callback receives the outcome of the whole session.
func (c *Channel) ConnectWithRetry(policy retry.Policy, callback func(error)) {
	c.q.Async(func() {
		c.connectWithRetry(policy, callback)
	})
}

// Write sends data, which is copied. callback receives nil once every byte
// was written, or the failure.
func (c *Channel) Write(data []byte, callback func(error)) {
	payload := bytes.Clone(data)

	c.q.Async(func() {
		if st := c.sm.Current(); st != Connected {
			call(callback, channel.NewIncorrectState("write", st))
			return
		}

		sock := c.sock
		c.writer.Async(func() {
			_, err := sock.Write(payload)
			if callback != nil {
				c.q.Async(func() { callback(err) })
			}
		})
	})
}

// Disconnect closes the connection and stops pending connect retries and
// reconnects. callback runs once the socket is closed. Disconnecting a
// channel that is disconnected or disconnecting fails with an
// IncorrectStateError.
func (c *Channel) Disconnect(callback func(error)) {
	c.q.Async(func() {
		c.stopRetries()

		st := c.sm.Current()
		if st != Connected {
			call(callback, channel.NewIncorrectState("disconnect", st))
			return
		}

		c.logger.VerboseMsg("%s: disconnecting\n", c)
		c.sm.mustTransition(Disconnecting)
		c.disconnectCallback = callback
		if err := c.sock.Shutdown(unix.SHUT_RDWR); err != nil {
			// the read loop ends on its own when the peer is gone already
			c.logger.VerboseMsg("%s: %s\n", c, err)
		}
	})
}

func (c *Channel) connect(timeout time.Duration) error {
	if st := c.sm.Current(); st != Disconnected {
		return channel.NewIncorrectState("connect", st)
	}

	c.logger.VerboseMsg("%s: trying to connect\n", c)
	c.sm.mustTransition(Connecting)

	sock, err := c.newSocket(c.addr.Family().Domain(), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		c.sm.mustTransition(Disconnected)
		return fmt.Errorf("connect(%s): %w", c.addr, err)
	}

	c.cfgMu.Lock()
	configure := c.configureSocket
	c.cfgMu.Unlock()
	if configure != nil {
		configure(sock)
	}

	if err := sock.Connect(c.addr, timeout); err != nil {
		c.sm.mustTransition(Disconnected)
		c.logger.VerboseMsg("%s: connection failure: %s\n", c, err)
		return fmt.Errorf("connect(%s): %w", c.addr, err)
	}

	c.sock = sock
	c.gen++
	c.sm.mustTransition(Connected)
	c.startReading(sock, c.gen)
	c.logger.VerboseMsg("%s: connected\n", c)
	return nil
}

func (c *Channel) connectWithRetry(policy retry.Policy, callback func(error)) {
	if c.retrier != nil {
		call(callback, fmt.Errorf("connect(%s): %w", c.addr, channel.ErrRetrying))
		return
	}
	c.policy = policy

	var r *retry.Retrier
	r = retry.New(policy, func(report retry.Report) {
		c.q.Async(func() {
			if c.retrier != r {
				// stopped while this attempt was queued
				report(channel.ErrCancelled)
				return
			}
			err := c.connect(c.connectTimeout)
			if errors.Is(err, channel.ErrIncorrectState) {
				r.Cancel()
				c.finishRetry(r, err)
				return
			}
			if report(err) {
				return
			}
			c.finishRetry(r, err)
		})
	}, retry.WithLogger(c.logger), retry.WithLabel(c.label+" connect"))

	c.retrier = r
	c.retryCallback = callback
	r.Resume()
}

func (c *Channel) finishRetry(r *retry.Retrier, err error) {
	if c.retrier != r {
		return
	}
	callback := c.retryCallback
	c.retrier, c.retryCallback = nil, nil
	call(callback, err)
}

func (c *Channel) stopRetries() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
		c.finishDisconnect(fmt.Errorf("reconnect(%s): %w", c.addr, channel.ErrCancelled))
	}
	if r := c.retrier; r != nil {
		r.Cancel()
		c.finishRetry(r, fmt.Errorf("connect(%s): %w", c.addr, channel.ErrCancelled))
	}
}

func call(callback func(error), err error) {
	if callback != nil {
		callback(err)
	}
}
