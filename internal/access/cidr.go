package access

import (
	"encoding/binary"
	"net/netip"
	"regexp"
	"strings"
)

// cidrRx validates dotted-quad addresses with an optional /prefix suffix before any
// value from an untrusted source is parsed.
var cidrRx = regexp.MustCompile(`^((25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)(/(3[0-2]|2[0-9]|1[0-9]|[0-9]))?$`)

// ValidExpr reports whether s is a syntactically valid IPv4 address or CIDR range.
func ValidExpr(s string) bool {
	return cidrRx.MatchString(s)
}

// ParseIPv4 converts a dotted-quad address into its 32 bit integer form.
func ParseIPv4(address string) (uint32, error) {
	addr, errParse := netip.ParseAddr(address)
	if errParse != nil || !addr.Is4() {
		return 0, ErrInvalidAddress
	}

	quad := addr.As4()

	return binary.BigEndian.Uint32(quad[:]), nil
}

// ParseCIDR converts an a.b.c.d/n expression into its network integer and prefix length.
func ParseCIDR(cidr string) (uint32, int, error) {
	if !strings.Contains(cidr, "/") {
		return 0, 0, ErrInvalidAddress
	}

	prefix, errParse := netip.ParsePrefix(cidr)
	if errParse != nil || !prefix.Addr().Is4() {
		return 0, 0, ErrInvalidAddress
	}

	network, errNetwork := ParseIPv4(prefix.Addr().String())
	if errNetwork != nil {
		return 0, 0, errNetwork
	}

	return network, prefix.Bits(), nil
}

// CIDRContains reports whether address falls inside the cidr range. Containment is
// pure integer arithmetic: both sides are masked with the network mask derived from
// the prefix length and compared. A prefix of zero therefore matches every address.
func CIDRContains(address string, cidr string) (bool, error) {
	addrInt, errAddr := ParseIPv4(address)
	if errAddr != nil {
		return false, errAddr
	}

	network, prefixLen, errCIDR := ParseCIDR(cidr)
	if errCIDR != nil {
		return false, errCIDR
	}

	// Go defines x << s == 0 for s >= 32, which yields the correct all-match mask for /0.
	mask := uint32(0xFFFFFFFF) << (32 - prefixLen)

	return addrInt&mask == network&mask, nil
}
