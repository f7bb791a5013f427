// Package builtin ships a couple of small reference application
// plug-ins — an echo server and a ping client — built against the same
// plugin.Table/KernelServices contract a topology's <plugin> element
// would load from a real shared object. They exist so a topology file
// has something runnable to declare without requiring an actual guest
// binary, and so the engine's plug-in machinery gets exercised end to
// end by something other than a unit test fixture.
package builtin

import (
	"fmt"
	"net/netip"
	"unsafe"

	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/tcp"
	"github.com/shadow-sim/shadow/internal/vsocket"
)

const defaultEchoPort = 7000

// echoState is the plug-in's entire global footprint, registered as a
// single span so every host switch snapshots/restores it byte for
// byte (spec.md §4.11). services is itself a pointer, so the switch
// correctly repoints it at whichever host is currently live.
type echoState struct {
	services *plugin.KernelServices
	listenFD int
	port     uint16
}

var echo echoState

// EchoTable returns the function table for the echo server plug-in.
func EchoTable() plugin.Table {
	return plugin.Table{
		NewInstance:    echoNewInstance,
		SocketReadable: echoSocketReadable,
	}
}

func echoNewInstance(services *plugin.KernelServices, args []string) error {
	echo.services = services
	echo.port = defaultEchoPort
	if len(args) > 0 {
		var port uint16
		if _, err := fmt.Sscanf(args[0], "%d", &port); err == nil {
			echo.port = port
		}
	}

	addr, err := netip.ParseAddr(services.MyAddr())
	if err != nil {
		return fmt.Errorf("builtin: echo: parse host address: %w", err)
	}

	fd, err := services.Sockets.Socket(vsocket.AFInet, vsocket.SockStream)
	if err != nil {
		return fmt.Errorf("builtin: echo: socket: %w", err)
	}
	if err := services.Sockets.Bind(fd, tcp.Endpoint{Addr: addr, Port: echo.port}); err != nil {
		return fmt.Errorf("builtin: echo: bind: %w", err)
	}
	if err := services.Sockets.Listen(fd, 16); err != nil {
		return fmt.Errorf("builtin: echo: listen: %w", err)
	}
	echo.listenFD = fd

	services.RegisterGlobals(plugin.Span{
		Ptr:  unsafe.Pointer(&echo),
		Size: unsafe.Sizeof(echo),
	})

	services.Log("echo: listening on %s:%d", addr, echo.port)
	return nil
}

func echoSocketReadable(fd int) {
	if fd == echo.listenFD {
		acceptAll()
		return
	}

	buf := make([]byte, 4096)
	n, err := echo.services.Sockets.Recv(fd, buf)
	if err != nil {
		if err != tcp.EWOULDBLOCK {
			echo.services.Sockets.Close(fd)
		}
		return
	}
	if n == 0 {
		echo.services.Sockets.Shutdown(fd, tcp.ShutWR)
		return
	}
	if _, err := echo.services.Sockets.Send(fd, buf[:n]); err != nil && err != tcp.EWOULDBLOCK {
		echo.services.Sockets.Close(fd)
	}
}

func acceptAll() {
	for {
		fd, remote, err := echo.services.Sockets.Accept(echo.listenFD)
		if err != nil {
			return
		}
		echo.services.Log("echo: accepted connection from %s on fd %d", remote, fd)
	}
}
