package tcp

import (
	"fmt"
	"net/netip"
)

// Endpoint is an (address, port) pair identifying one side of a
// connection. The zero value represents an unbound endpoint (INADDR_ANY
// with an ephemeral port, assigned by the socket manager on connect).
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

func (e Endpoint) IsZero() bool {
	return !e.Addr.IsValid() && e.Port == 0
}
