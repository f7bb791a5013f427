// Package address implements Shadow's immutable host-address records
// and the virtual DNS tables that resolve between them. Resolution
// happens entirely in-process against a map built at topology load; it
// never touches the real network.
package address

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Address binds a simulated host's IP to its hostname. It carries both
// a host-order and a network-order view of the IPv4 address, mirroring
// the two representations the original C engine kept side by side so
// that callers never need to call htonl/ntohl themselves.
type Address struct {
	ip       netip.Addr
	hostname string
}

// New constructs an Address for ip/hostname. ip must be an IPv4
// address; Shadow's topology model does not support IPv6 hosts.
func New(ip netip.Addr, hostname string) (Address, error) {
	if !ip.Is4() {
		return Address{}, fmt.Errorf("address: host address %s must be IPv4", ip)
	}
	return Address{ip: ip, hostname: hostname}, nil
}

// Addr returns the netip.Addr view of the address.
func (a Address) Addr() netip.Addr { return a.ip }

// Hostname returns the virtual hostname bound to this address.
func (a Address) Hostname() string { return a.hostname }

// HostOrder returns the address as a host-byte-order uint32.
func (a Address) HostOrder() uint32 {
	b := a.ip.As4()
	return binary.BigEndian.Uint32(b[:])
}

// NetworkOrder returns the address as network-byte-order bytes,
// suitable for embedding directly into a wire packet header.
func (a Address) NetworkOrder() [4]byte {
	return a.ip.As4()
}

// FromHostOrder builds an Address from a host-order uint32 and hostname.
func FromHostOrder(hostOrder uint32, hostname string) Address {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], hostOrder)
	return Address{ip: netip.AddrFrom4(b), hostname: hostname}
}

// String implements fmt.Stringer for logging.
func (a Address) String() string {
	return fmt.Sprintf("%s(%s)", a.hostname, a.ip)
}

// IsZero reports whether a is the zero value (no binding).
func (a Address) IsZero() bool {
	return a.hostname == "" && !a.ip.IsValid()
}
