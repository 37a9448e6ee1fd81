package shared

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/log"

	"github.com/urfave/cli/v3"
)

var transportRegexp = regexp.MustCompile(`^(tcp|udp)://(\[[0-9a-fA-F:.]+\]|[^:\[\]]*):(\d+)$`)

// ParseTransport parses a transport string in the format "protocol://host:port"
// where protocol is tcp or udp. IPv6 hosts are written in brackets. The host
// can be empty or "*" to bind to all interfaces.
func ParseTransport(s string) (proto config.Protocol, host string, port int, err error) {
	matches := transportRegexp.FindStringSubmatch(s)

	if len(matches) != 4 {
		err = parsingError(s)
		return
	}

	switch matches[1] {
	case "tcp":
		proto = config.ProtoTCP
	case "udp":
		proto = config.ProtoUDP
	default:
		err = parsingError(s)
		return
	}
	host = strings.TrimSuffix(strings.TrimPrefix(matches[2], "["), "]")
	if host == "*" { // also counts as all interfaces
		host = ""
	}

	port, err = strconv.Atoi(matches[3])
	if err != nil || port < 1 || port > 65535 {
		err = parsingError(s)
		return
	}

	return
}

// ParseEndpoint parses the single transport argument of a command into an
// endpoint of the wanted protocol. Hosts are required unless listening.
func ParseEndpoint(args cli.Args, want config.Protocol, listening bool) (*config.Endpoint, error) {
	if args.Len() != 1 {
		return nil, fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
	}

	proto, host, port, err := ParseTransport(args.Get(0))
	if err != nil {
		return nil, fmt.Errorf("parsing transport: %s", err)
	}
	if proto != want {
		return nil, fmt.Errorf("parsing transport: %s: protocol must be %s", args.Get(0), want)
	}
	if host == "" && !listening {
		return nil, fmt.Errorf("parsing transport: %s: specify a host", args.Get(0))
	}

	return &config.Endpoint{Protocol: proto, Host: host, Port: port}, nil
}

// Validate validates cfgs and prints every problem found. The returned error
// only signals that validation failed.
func Validate(cfgs ...config.ValidatableConfig) error {
	if errors := config.Validate(cfgs...); len(errors) > 0 {
		log.ErrorMsg("Argument validation errors:\n")
		for _, err := range errors {
			log.ErrorMsg(" - %s\n", err)
		}
		return fmt.Errorf("exiting")
	}
	return nil
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be 'protocol://host:port', where protocol = tcp|udp", s)
}
