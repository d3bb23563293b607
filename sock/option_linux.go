//go:build linux

// Package sock applies TCP socket options to harness listeners and device
// connections.
package sock

import (
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

const TCP_FASTOPEN = 23 // linux/include/uapi/linux/tcp.h

// SetQuickAck disables delayed ACKs on conn so a reply is acknowledged as
// soon as it arrives.
func SetQuickAck(conn net.Conn) error {
	tcpconn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("failed type assertion %q", conn.RemoteAddr())
	}
	syscon, err := tcpconn.SyscallConn()
	if err != nil {
		return fmt.Errorf("could not get syscall conn %q: %w", conn.RemoteAddr(), err)
	}
	var serr error
	err = syscon.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	})
	if err != nil {
		return fmt.Errorf("could not control %q: %w", conn.RemoteAddr(), err)
	}
	if serr != nil {
		return fmt.Errorf("setting TCP_QUICKACK on %q: %w", conn.RemoteAddr(), serr)
	}
	return nil
}

// ListenControl enables server-side TCP fast open on the harness listener.
// SO_REUSEPORT is deliberately left off so a second harness on the same port
// fails to bind.
func ListenControl() func(network, address string, c syscall.RawConn) error {
	return func(network, _ string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_TCP, TCP_FASTOPEN, 1); err != nil {
				slog.Debug("failed to set TCP_FASTOPEN", "error", err)
			}
		})
	}
}
