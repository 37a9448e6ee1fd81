package tcp

import (
	"bytes"
	"errors"

	"dominicbreuker/sockchan/pkg/socket"

	"golang.org/x/sys/unix"
)

// startReading runs the read loop of the connection identified by gen. Must
// run on c.q.
func (c *Channel) startReading(sock *socket.Socket, gen uint64) {
	go c.readLoop(sock, gen)
}

func (c *Channel) readLoop(sock *socket.Socket, gen uint64) {
	buf := readBuffers.Get()
	defer readBuffers.Put(buf)

	for {
		n, err := sock.Read(buf)
		if err == nil && n > 0 {
			data := bytes.Clone(buf[:n])
			c.q.Async(func() {
				if c.gen == gen {
					c.deliver(data, nil)
				}
			})
			continue
		}

		c.q.Async(func() {
			if c.gen != gen {
				return
			}
			if err != nil && !errors.Is(err, unix.ECONNRESET) {
				c.deliver(nil, err)
			}
			c.handleDisconnect(gen)
		})
		return
	}
}

func (c *Channel) deliver(data []byte, err error) {
	c.cfgMu.Lock()
	fn := c.readCallback
	c.cfgMu.Unlock()

	if fn != nil {
		fn(data, err)
	}
}

// handleDisconnect tears the connection down after its read loop ended. A
// drop the channel did not ask for may schedule a reconnect.
func (c *Channel) handleDisconnect(gen uint64) {
	if c.gen != gen || c.sock == nil {
		return
	}

	remote := c.sm.Current() != Disconnecting
	sock := c.sock
	c.sock = nil
	c.gen++

	// blocked writes fail once the socket is shut down
	_ = sock.Shutdown(unix.SHUT_RDWR)
	c.writer.Sync(func() {})
	if err := sock.Close(); err != nil {
		c.logger.ErrorMsg("%s: %s\n", c, err)
	}

	c.sm.mustTransition(Disconnected)
	if remote {
		c.logger.VerboseMsg("%s: connection dropped by peer\n", c)
	} else {
		c.logger.VerboseMsg("%s: disconnected\n", c)
	}

	c.cfgMu.Lock()
	shouldReconnect := c.shouldReconnect
	delay := c.reconnectDelay
	c.cfgMu.Unlock()

	if remote && shouldReconnect != nil && shouldReconnect() {
		c.logger.VerboseMsg("%s: reconnecting in %s\n", c, delay)
		c.reconnectTimer = c.q.After(delay, c.reconnect)
		return
	}

	c.finishDisconnect(nil)
}

func (c *Channel) reconnect() {
	if c.reconnectTimer == nil {
		// stopped by Disconnect after it fired
		return
	}
	c.reconnectTimer = nil

	c.connectWithRetry(c.policy, func(err error) {
		if err != nil {
			c.logger.VerboseMsg("%s: reconnect failed: %s\n", c, err)
			c.finishDisconnect(err)
		}
	})
}

func (c *Channel) finishDisconnect(err error) {
	callback := c.disconnectCallback
	c.disconnectCallback = nil
	call(callback, err)
	call(c.closed, err)
}
