package acceptor

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCPBacklog opens a TCP listener on addr with the kernel
// listen(2) backlog set to backlog. net.Listen has no public hook for
// the backlog argument — Go's runtime sizes it from SOMAXCONN
// internally and ListenConfig.Control only runs before bind, too early
// to affect the later listen() call — so the socket is built directly
// with golang.org/x/sys/unix (already pulled in transitively by
// zeroconf) and handed back as a net.Listener via net.FileListener.
func listenTCPBacklog(addr string, backlog int) (net.Listener, error) {
	if backlog <= 0 {
		backlog = defaultListenBacklog
	}

	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}

	domain := unix.AF_INET
	if ip := resolved.IP; ip != nil && ip.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	var sa unix.Sockaddr
	if domain == unix.AF_INET6 {
		a := &unix.SockaddrInet6{Port: resolved.Port}
		if ip := resolved.IP; ip != nil {
			copy(a.Addr[:], ip.To16())
		}
		sa = a
	} else {
		a := &unix.SockaddrInet4{Port: resolved.Port}
		if ip := resolved.IP; ip != nil {
			copy(a.Addr[:], ip.To4())
		}
		sa = a
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen backlog %d: %w", backlog, err)
	}

	f := os.NewFile(uintptr(fd), "lottery-server-listener")
	ln, err := net.FileListener(f)
	closeErr := f.Close() // net.FileListener dup'd fd; always close our copy
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close dup source fd: %w", closeErr)
	}
	return ln, nil
}
