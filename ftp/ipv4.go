package ftp

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseIPv4 parses a dotted quad for the 227 reply, IPv6 addresses are rejected
func ParseIPv4(s string) ([4]byte, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return [4]byte{}, fmt.Errorf("error parsing ip %q: %w", s, err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return [4]byte{}, fmt.Errorf("error parsing ip %q: passive mode needs an IPv4 address", s)
	}
	return addr.As4(), nil
}
