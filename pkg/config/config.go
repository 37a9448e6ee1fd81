// Package config holds the validated settings of the sockchan commands and
// the dependencies they can be given for testing.
package config

import (
	"context"
	"fmt"
	"path/filepath"

	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/format"
	"dominicbreuker/sockchan/pkg/log"
)

// Protocol selects the channel type of an endpoint.
type Protocol int

const (
	ProtoTCP Protocol = iota + 1
	ProtoUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return ""
	}
}

// Shared are settings common to all commands.
type Shared struct {
	Verbose bool
	LogFile string

	Logger *log.Logger
	Deps   *Dependencies
}

func (c *Shared) Validate() []error {
	var errors []error

	if c.LogFile != "" && filepath.Base(c.LogFile) == "." {
		errors = append(errors, fmt.Errorf("'--log' must name a file, got %q", c.LogFile))
	}

	return errors
}

// Endpoint is the remote or local transport address of a command.
type Endpoint struct {
	Protocol Protocol
	Host     string
	Port     int
}

func (c *Endpoint) Validate() []error {
	var errors []error

	if c.Protocol != ProtoTCP && c.Protocol != ProtoUDP {
		errors = append(errors, fmt.Errorf("protocol must be tcp or udp"))
	}

	if err := validatePort(c.Port); err != nil {
		errors = append(errors, fmt.Errorf("port: %w", err))
	}

	return errors
}

// Address resolves the endpoint. An empty host means all IPv4 interfaces.
func (c *Endpoint) Address(ctx context.Context) (address.Address, error) {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return address.Resolve(ctx, host, uint16(c.Port))
}

func (c *Endpoint) String() string {
	return fmt.Sprintf("%s://%s", c.Protocol, format.Addr(c.Host, c.Port))
}
