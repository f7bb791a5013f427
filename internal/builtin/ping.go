package builtin

import (
	"fmt"
	"net/netip"
	"unsafe"

	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/tcp"
	"github.com/shadow-sim/shadow/internal/vsocket"
)

// pingState mirrors echoState's single-span registration pattern for
// the ping client: it connects once to a configured peer and writes a
// fixed message every time the connection becomes writable again,
// exercising the active-open path and the deferred-callback scheduler.
type pingState struct {
	services *plugin.KernelServices
	fd       int
	message  []byte
	sent     int
}

var ping pingState

// PingTable returns the function table for the ping client plug-in.
// Arguments: args[0] is the peer's hostname (resolved via the virtual
// DNS), args[1] the peer's port.
func PingTable() plugin.Table {
	return plugin.Table{
		NewInstance:    pingNewInstance,
		SocketWritable: pingSocketWritable,
		SocketReadable: pingSocketReadable,
	}
}

func pingNewInstance(services *plugin.KernelServices, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("builtin: ping: usage: ping <peer-hostname> <peer-port>")
	}

	ping.services = services
	ping.message = []byte("ping")
	ping.sent = 0

	peerIP, ok := services.ResolveName(args[0])
	if !ok {
		return fmt.Errorf("builtin: ping: unknown peer hostname %q", args[0])
	}
	addr, err := netip.ParseAddr(peerIP)
	if err != nil {
		return fmt.Errorf("builtin: ping: parse peer address: %w", err)
	}
	var port uint16
	if _, err := fmt.Sscanf(args[1], "%d", &port); err != nil {
		return fmt.Errorf("builtin: ping: parse peer port: %w", err)
	}

	fd, err := services.Sockets.Socket(vsocket.AFInet, vsocket.SockStream)
	if err != nil {
		return fmt.Errorf("builtin: ping: socket: %w", err)
	}
	ping.fd = fd

	services.RegisterGlobals(plugin.Span{
		Ptr:  unsafe.Pointer(&ping),
		Size: unsafe.Sizeof(ping),
	})

	if err := services.Sockets.Connect(fd, tcp.Endpoint{Addr: addr, Port: port}); err != nil && err != tcp.EINPROGRESS {
		return fmt.Errorf("builtin: ping: connect: %w", err)
	}
	services.Log("ping: connecting to %s:%d on fd %d", addr, port, fd)
	return nil
}

func pingSocketWritable(fd int) {
	if fd != ping.fd {
		return
	}
	if _, err := ping.services.Sockets.Send(fd, ping.message); err == nil {
		ping.sent++
		ping.services.Log("ping: sent message #%d", ping.sent)
	}
}

func pingSocketReadable(fd int) {
	if fd != ping.fd {
		return
	}
	buf := make([]byte, 64)
	n, err := ping.services.Sockets.Recv(fd, buf)
	if err != nil || n == 0 {
		return
	}
	ping.services.Log("ping: received reply %q", string(buf[:n]))

	// Schedule the next ping one round-trip's worth of guesswork later
	// by deferring rather than busy-looping on writability.
	ping.services.ScheduleDeferred(func() {
		pingSocketWritable(ping.fd)
	})
}
