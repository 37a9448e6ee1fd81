// Package format renders addresses and payloads for log lines and CLI output.
package format

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr joins host and port. IPv6 literals are bracketed.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", Host(host), port)
}

// Host brackets IPv6 literals so that they can be followed by a port.
func Host(host string) string {
	if strings.ContainsAny(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}

// Payload summarizes a byte slice as "<n> bytes: <hex>", cutting the hex
// part after max bytes. A max <= 0 prints everything.
func Payload(data []byte, max int) string {
	shown := data
	suffix := ""
	if max > 0 && len(data) > max {
		shown = data[:max]
		suffix = "..."
	}
	return fmt.Sprintf("%d bytes: %s%s", len(data), hex.EncodeToString(shown), suffix)
}
