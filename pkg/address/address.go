// Package address provides an immutable network endpoint value: an address
// family, a numeric host and an optional port.
package address

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"dominicbreuker/sockchan/pkg/format"

	"golang.org/x/sys/unix"
)

// Family is a socket address family. Values are the platform AF_* constants.
type Family int

// Supported families.
const (
	Unspecified Family = unix.AF_UNSPEC
	IPv4        Family = unix.AF_INET
	IPv6        Family = unix.AF_INET6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "inet"
	case IPv6:
		return "inet6"
	case Unspecified:
		return "unspec"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Domain returns the value to pass as domain argument to socket(2).
func (f Family) Domain() int {
	return int(f)
}

// Address is a network endpoint. The zero value is an unspecified address
// without port.
type Address struct {
	family  Family
	ip      netip.Addr
	port    uint16
	hasPort bool
}

// New builds an address from a numeric host and a port.
func New(host string, port uint16) (Address, error) {
	a, err := NoPort(host)
	if err != nil {
		return Address{}, err
	}
	a.port = port
	a.hasPort = true
	return a, nil
}

// NoPort builds an address from a numeric host only.
func NoPort(host string) (Address, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Address{}, fmt.Errorf("netip.ParseAddr(%s): %w", host, err)
	}
	return fromIP(ip), nil
}

// MustNew is like New but panics on error. Meant for constants in tests and
// examples.
func MustNew(host string, port uint16) Address {
	a, err := New(host, port)
	if err != nil {
		panic(err)
	}
	return a
}

// Parse parses "host:port" with a numeric host.
func Parse(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("net.SplitHostPort(%s): %w", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("parsing port %q: %w", portStr, err)
	}
	return New(host, uint16(port))
}

// Resolve looks host up and returns the first address found. Numeric hosts
// are returned without a lookup.
func Resolve(ctx context.Context, host string, port uint16) (Address, error) {
	if a, err := New(host, port); err == nil {
		return a, nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return Address{}, fmt.Errorf("LookupNetIP(%s): %w", host, err)
	}
	if len(ips) == 0 {
		return Address{}, fmt.Errorf("LookupNetIP(%s): no addresses", host)
	}
	a := fromIP(ips[0])
	a.port = port
	a.hasPort = true
	return a, nil
}

func fromIP(ip netip.Addr) Address {
	family := IPv6
	if ip.Is4() {
		family = IPv4
	}
	return Address{family: family, ip: ip}
}

// FromSockaddr converts a raw OS socket address.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return Address{family: IPv4, ip: netip.AddrFrom4(sa.Addr), port: uint16(sa.Port), hasPort: true}, nil
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			if iface, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				ip = ip.WithZone(iface.Name)
			}
		}
		return Address{family: IPv6, ip: ip, port: uint16(sa.Port), hasPort: true}, nil
	default:
		return Address{}, fmt.Errorf("unsupported socket address %T", sa)
	}
}

// Sockaddr converts the address into a raw OS socket address. An address
// without port gets port 0.
func (a Address) Sockaddr() (unix.Sockaddr, error) {
	switch a.family {
	case IPv4:
		return &unix.SockaddrInet4{Port: int(a.port), Addr: a.ip.As4()}, nil
	case IPv6:
		sa := &unix.SockaddrInet6{Port: int(a.port), Addr: a.ip.As16()}
		if zone := a.ip.Zone(); zone != "" {
			iface, err := net.InterfaceByName(zone)
			if err != nil {
				return nil, fmt.Errorf("net.InterfaceByName(%s): %w", zone, err)
			}
			sa.ZoneId = uint32(iface.Index)
		}
		return sa, nil
	default:
		return nil, fmt.Errorf("no socket address for family %s", a.family)
	}
}

// Family returns the address family.
func (a Address) Family() Family { return a.family }

// Host returns the numeric host, empty for the zero address.
func (a Address) Host() string {
	if !a.ip.IsValid() {
		return ""
	}
	return a.ip.String()
}

// Port returns the port and whether one is set.
func (a Address) Port() (uint16, bool) { return a.port, a.hasPort }

// IP returns the host as netip.Addr.
func (a Address) IP() netip.Addr { return a.ip }

// WithPort returns a copy with the port replaced.
func (a Address) WithPort(port uint16) Address {
	a.port = port
	a.hasPort = true
	return a
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	if !a.hasPort {
		return a.Host()
	}
	return format.Addr(a.Host(), int(a.port))
}

// Compare orders addresses by family, host and port; an address without port
// sorts before the same host with any port. It returns -1, 0 or +1.
func Compare(a, b Address) int {
	switch {
	case a.family < b.family:
		return -1
	case a.family > b.family:
		return 1
	}
	if c := a.ip.Compare(b.ip); c != 0 {
		return c
	}
	switch {
	case a.hasPort != b.hasPort:
		if !a.hasPort {
			return -1
		}
		return 1
	case a.port < b.port:
		return -1
	case a.port > b.port:
		return 1
	}
	return 0
}

// Less reports whether a sorts before b.
func Less(a, b Address) bool { return Compare(a, b) < 0 }
