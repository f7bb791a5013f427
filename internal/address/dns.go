package address

import (
	"fmt"
	"net/netip"
	"sync"
)

// ErrNoName is returned by ResolveName/ResolveAddr when a name or
// address has no binding,
// mirroring the EAI_NONAME errno the spec requires from a virtualized
// gethostbyname on an unknown name.
var ErrNoName = fmt.Errorf("address: name not found")

// DNS is the process-wide virtual hostname<->IP table built during
// topology load. All simulated hosts share one DNS; guest lookups are
// always served from it rather than the real resolver.
type DNS struct {
	mu     sync.RWMutex
	byName map[string]Address
	byAddr map[netip.Addr]Address
}

// NewDNS returns an empty virtual DNS table.
func NewDNS() *DNS {
	return &DNS{
		byName: make(map[string]Address),
		byAddr: make(map[netip.Addr]Address),
	}
}

// Register binds addr into the table. Registration happens once per
// host during topology build; it is torn down when the owning host is
// destroyed via Unregister.
func (d *DNS) Register(addr Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byName[addr.Hostname()]; exists {
		return fmt.Errorf("address: hostname %q already registered", addr.Hostname())
	}
	if _, exists := d.byAddr[addr.Addr()]; exists {
		return fmt.Errorf("address: IP %s already registered", addr.Addr())
	}

	d.byName[addr.Hostname()] = addr
	d.byAddr[addr.Addr()] = addr
	return nil
}

// Unregister removes addr's bindings, called when its owning host is
// destroyed.
func (d *DNS) Unregister(addr Address) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.byName, addr.Hostname())
	delete(d.byAddr, addr.Addr())
}

// ResolveName implements the virtual gethostbyname/getaddrinfo lookup:
// hostname -> Address. Returns ErrNoName for an unknown hostname.
func (d *DNS) ResolveName(hostname string) (Address, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addr, ok := d.byName[hostname]
	if !ok {
		return Address{}, ErrNoName
	}
	return addr, nil
}

// ResolveAddr implements the reverse lookup: IP -> Address (hostname).
func (d *DNS) ResolveAddr(ip netip.Addr) (Address, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addr, ok := d.byAddr[ip]
	if !ok {
		return Address{}, ErrNoName
	}
	return addr, nil
}
