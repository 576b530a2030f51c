// Package sockengine is a thin non-blocking wrapper over the operating
// system's TCP socket calls.
//
// An Engine owns at most one descriptor. Every call returns immediately:
// connect may report InProgress, read may report ErrWouldBlock, and write may
// accept fewer bytes than offered. Failures are classified into the Kind
// taxonomy. Readiness is discovered either with PollReadiness or by
// registering the descriptor with an event loop.
package sockengine

import (
	"errors"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

// ConnectStatus is the outcome of a non-blocking connect.
type ConnectStatus int

const (
	// Connected means the connection is established.
	Connected ConnectStatus = iota
	// InProgress means the outcome is reported later through write readiness.
	InProgress
)

// Engine is a non-blocking TCP socket. It is not safe for concurrent use.
type Engine struct {
	fd     int
	family Family
}

// New returns an engine with no descriptor.
func New() *Engine {
	return &Engine{fd: -1}
}

// IsValid reports whether the engine owns a descriptor.
func (e *Engine) IsValid() bool {
	return e.fd >= 0
}

// Descriptor returns the native descriptor, or -1.
func (e *Engine) Descriptor() int {
	return e.fd
}

// Family returns the family the descriptor was created for.
func (e *Engine) Family() Family {
	return e.family
}

// Initialize creates a fresh non-blocking stream socket for family, closing
// any descriptor the engine already owned.
func (e *Engine) Initialize(family Family) error {
	e.Close()
	fd, err := unix.Socket(family.domain(), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return mapErrno("socket", err)
	}
	if err := prepare(fd); err != nil {
		unix.Close(fd)
		return err
	}
	e.fd = fd
	e.family = family
	return nil
}

// Adopt takes ownership of an already open descriptor and switches it to
// non-blocking mode.
func (e *Engine) Adopt(fd int) error {
	e.Close()
	if err := prepare(fd); err != nil {
		return err
	}
	e.fd = fd
	e.family = IPv4
	if sa, err := unix.Getsockname(fd); err == nil {
		if _, ok := sa.(*unix.SockaddrInet6); ok {
			e.family = IPv6
		}
	}
	return nil
}

func prepare(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return mapErrno("setnonblock", err)
	}
	unix.CloseOnExec(fd)
	return nil
}

// Close releases the descriptor. It is safe to call on an invalid engine.
func (e *Engine) Close() {
	if e.fd < 0 {
		return
	}
	unix.Close(e.fd)
	e.fd = -1
}

func (e *Engine) check(op string) error {
	if e.fd < 0 {
		return &Error{Kind: KindNotConnected, Op: op}
	}
	return nil
}

// Bind assigns the local address.
func (e *Engine) Bind(addr netip.AddrPort) error {
	if err := e.check("bind"); err != nil {
		return err
	}
	return mapErrno("bind", unix.Bind(e.fd, toSockaddr(addr)))
}

// Listen marks the socket as passive.
func (e *Engine) Listen(backlog int) error {
	if err := e.check("listen"); err != nil {
		return err
	}
	return mapErrno("listen", unix.Listen(e.fd, backlog))
}

// Accept returns the descriptor of one pending connection, or ErrWouldBlock.
// The returned descriptor is already non-blocking.
func (e *Engine) Accept() (int, error) {
	if err := e.check("accept"); err != nil {
		return -1, err
	}
	for {
		nfd, _, err := unix.Accept(e.fd)
		switch {
		case err == nil:
			if err := prepare(nfd); err != nil {
				unix.Close(nfd)
				return -1, err
			}
			return nfd, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ECONNABORTED):
			return -1, ErrWouldBlock
		default:
			return -1, mapErrno("accept", err)
		}
	}
}

// Connect starts connecting to addr.
func (e *Engine) Connect(addr netip.AddrPort) (ConnectStatus, error) {
	if err := e.check("connect"); err != nil {
		return 0, err
	}
	err := unix.Connect(e.fd, toSockaddr(addr))
	switch {
	case err == nil, errors.Is(err, unix.EISCONN):
		return Connected, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EALREADY), errors.Is(err, unix.EINTR):
		return InProgress, nil
	}
	return 0, mapErrno("connect", err)
}

// FinishConnect is the idempotent completion check run once the socket
// reports writable after Connect returned InProgress.
func (e *Engine) FinishConnect(addr netip.AddrPort) (ConnectStatus, error) {
	if err := e.check("connect"); err != nil {
		return 0, err
	}
	soErr, err := unix.GetsockoptInt(e.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, mapErrno("connect", err)
	}
	if soErr != 0 {
		return 0, mapErrno("connect", unix.Errno(soErr))
	}
	return e.Connect(addr)
}

// Read reads available bytes into p. It returns ErrWouldBlock when nothing is
// available and a KindRemoteClosed error on orderly shutdown by the peer.
func (e *Engine) Read(p []byte) (int, error) {
	if err := e.check("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(e.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, &Error{Kind: KindRemoteClosed, Op: "read"}
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		}
		return 0, mapErrno("read", err)
	}
}

// Write writes as much of p as the kernel accepts. A full send buffer is not
// an error: it returns 0, nil.
func (e *Engine) Write(p []byte) (int, error) {
	if err := e.check("write"); err != nil {
		return 0, err
	}
	for {
		n, err := unix.Write(e.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		}
		return 0, mapErrno("write", err)
	}
}

// ShutdownWrite half-closes the connection: the peer reads EOF while this
// side can still receive.
func (e *Engine) ShutdownWrite() error {
	if err := e.check("shutdown"); err != nil {
		return err
	}
	return mapErrno("shutdown", unix.Shutdown(e.fd, unix.SHUT_WR))
}

// BytesAvailable returns the number of bytes that can be read without
// blocking.
func (e *Engine) BytesAvailable() int {
	if e.fd < 0 {
		return 0
	}
	n, err := unix.IoctlGetInt(e.fd, ioctlReadable)
	if err != nil {
		return 0
	}
	return n
}

// LocalAddr returns the bound local address.
func (e *Engine) LocalAddr() netip.AddrPort {
	if e.fd < 0 {
		return netip.AddrPort{}
	}
	sa, err := unix.Getsockname(e.fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return fromSockaddr(sa)
}

// PeerAddr returns the connected peer address.
func (e *Engine) PeerAddr() netip.AddrPort {
	if e.fd < 0 {
		return netip.AddrPort{}
	}
	sa, err := unix.Getpeername(e.fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return fromSockaddr(sa)
}

// PollReadiness waits up to timeout for the requested readiness. A negative
// timeout waits indefinitely.
func (e *Engine) PollReadiness(timeout time.Duration, wantRead, wantWrite bool) (canRead, canWrite, timedOut bool, err error) {
	if err := e.check("poll"); err != nil {
		return false, false, false, err
	}
	var events int16
	if wantRead {
		events |= unix.POLLIN
	}
	if wantWrite {
		events |= unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(e.fd), Events: events}}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	deadline := time.Now().Add(timeout)
	for {
		n, perr := unix.Poll(fds, ms)
		if errors.Is(perr, unix.EINTR) {
			if timeout >= 0 {
				ms = int(time.Until(deadline) / time.Millisecond)
				if ms < 0 {
					ms = 0
				}
			}
			continue
		}
		if perr != nil {
			return false, false, false, mapErrno("poll", perr)
		}
		if n == 0 {
			return false, false, true, nil
		}
		break
	}
	re := fds[0].Revents
	// Errors and hangups count as readiness so the next call reports them.
	failed := re&(unix.POLLERR|unix.POLLHUP) != 0
	canRead = wantRead && (re&unix.POLLIN != 0 || failed)
	canWrite = wantWrite && (re&unix.POLLOUT != 0 || failed)
	return canRead, canWrite, false, nil
}
