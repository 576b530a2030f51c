package sockengine

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies socket failures into a fixed, portable taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindHostNotFound
	KindConnectionRefused
	KindTimeout
	KindNetwork
	KindUnsupported
	KindProtocol
	KindRemoteClosed
	KindNotConnected
)

var kindNames = [...]string{
	KindUnknown:           "unknown error",
	KindHostNotFound:      "host not found",
	KindConnectionRefused: "connection refused",
	KindTimeout:           "operation timed out",
	KindNetwork:           "network error",
	KindUnsupported:       "unsupported operation",
	KindProtocol:          "protocol error",
	KindRemoteClosed:      "remote host closed the connection",
	KindNotConnected:      "socket is not connected",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is a classified socket error.
type Error struct {
	Kind Kind
	Op   string // "connect", "read", ...
	Err  error  // underlying errno, if any
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrWouldBlock is returned by non-blocking operations that have nothing to
// do yet. It is not a failure.
var ErrWouldBlock = errors.New("operation would block")

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// mapErrno converts a raw errno into the taxonomy.
func mapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}

	kind := KindNetwork
	switch errno {
	case unix.ECONNREFUSED:
		kind = KindConnectionRefused
	case unix.ETIMEDOUT:
		kind = KindTimeout
	case unix.ECONNRESET, unix.EPIPE, unix.ECONNABORTED:
		kind = KindRemoteClosed
	case unix.ENOTCONN:
		kind = KindNotConnected
	case unix.EAFNOSUPPORT, unix.EPROTONOSUPPORT, unix.EOPNOTSUPP, unix.ENOPROTOOPT:
		kind = KindUnsupported
	}
	return &Error{Kind: kind, Op: op, Err: errno}
}
