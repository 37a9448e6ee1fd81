package config

import (
	"fmt"
	"path/filepath"
	"time"

	"dominicbreuker/sockchan/pkg/retry"
	"dominicbreuker/sockchan/pkg/socket"
)

// DefaultReconnectDelay is the wait before reconnecting a dropped stream.
const DefaultReconnectDelay = 5 * time.Second

// Stream configures a TCP channel.
type Stream struct {
	ConnectTimeout time.Duration

	// Retry makes connects retry with Policy instead of failing on the first error.
	Retry  bool
	Policy retry.Policy

	// Reconnect reconnects after the remote side drops the connection.
	Reconnect      bool
	ReconnectDelay time.Duration

	// TLV frames payloads as type-length-value records.
	TLV bool
}

// DefaultStream returns a stream configuration with the default timeouts and
// backoff, without retries or reconnects.
func DefaultStream() Stream {
	return Stream{
		ConnectTimeout: socket.DefaultConnectTimeout,
		Policy:         retry.DefaultPolicy(),
		ReconnectDelay: DefaultReconnectDelay,
	}
}

func (c *Stream) Validate() []error {
	var errors []error

	if c.ConnectTimeout < 0 {
		errors = append(errors, fmt.Errorf("'--timeout' must not be negative"))
	}

	if c.Retry || c.Reconnect {
		for _, err := range c.Policy.Validate() {
			errors = append(errors, fmt.Errorf("retry policy: %w", err))
		}
	}

	if c.Reconnect && c.ReconnectDelay <= 0 {
		errors = append(errors, fmt.Errorf("'--reconnect-delay' must be positive"))
	}

	return errors
}

// Datagram configures a UDP channel.
type Datagram struct {
	ReuseAddr bool
	// Count stops a listener after that many datagrams. Zero means never.
	Count int
	// Capture is a file received datagrams are appended to.
	Capture string
}

func (c *Datagram) Validate() []error {
	var errors []error

	if c.Count < 0 {
		errors = append(errors, fmt.Errorf("'--count' must not be negative"))
	}

	if c.Capture != "" && filepath.Base(c.Capture) == "." {
		errors = append(errors, fmt.Errorf("'--capture' must name a file, got %q", c.Capture))
	}

	return errors
}

// Replay configures sending the datagrams of a capture file.
type Replay struct {
	File string
	// Paced keeps the gaps between the captured timestamps.
	Paced bool
}

func (c *Replay) Validate() []error {
	var errors []error

	if c.File == "" {
		errors = append(errors, fmt.Errorf("a capture file is required"))
	}

	return errors
}

// DefaultBacklog is the listen backlog of stream listeners.
const DefaultBacklog = 16

// Listener configures the accepting side of stream channels.
type Listener struct {
	// MaxConns bounds concurrent connections. Zero means unbounded.
	MaxConns int
	// AcceptTimeout is how long a new connection waits for a free slot
	// before it is rejected.
	AcceptTimeout time.Duration
	Backlog       int
}

func (c *Listener) Validate() []error {
	var errors []error

	if c.MaxConns < 0 {
		errors = append(errors, fmt.Errorf("'--max-conns' must not be negative"))
	}

	if c.MaxConns > 0 && c.AcceptTimeout <= 0 {
		errors = append(errors, fmt.Errorf("accept timeout must be positive when connections are limited"))
	}

	if c.Backlog < 0 {
		errors = append(errors, fmt.Errorf("backlog must not be negative"))
	}

	return errors
}
