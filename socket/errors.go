package socket

import (
	"github.com/gonzalop/netftp/internal/sockengine"
)

// ErrorKind classifies socket failures.
type ErrorKind = sockengine.Kind

// Error is the error type reported by sockets. Use errors.As to inspect the
// Kind, or KindOf.
type Error = sockengine.Error

// Error kinds.
const (
	// UnknownError is any failure the other kinds do not describe.
	UnknownError = sockengine.KindUnknown
	// HostNotFoundError means the host name did not resolve to an address.
	HostNotFoundError = sockengine.KindHostNotFound
	// ConnectionRefusedError means no address of the host accepted the
	// connection. The last attempt's error is wrapped.
	ConnectionRefusedError = sockengine.KindConnectionRefused
	// SocketTimeoutError means an operation did not finish in time.
	SocketTimeoutError = sockengine.KindTimeout
	// NetworkError is any other operating system failure, such as an
	// unreachable network.
	NetworkError = sockengine.KindNetwork
	// UnsupportedOperationError means the address family, protocol or
	// option is not supported.
	UnsupportedOperationError = sockengine.KindUnsupported
	// ProtocolError means the peer broke the expected exchange.
	ProtocolError = sockengine.KindProtocol
	// RemoteClosedError means the peer closed or reset the connection.
	RemoteClosedError = sockengine.KindRemoteClosed
	// NotConnectedError means the operation needs a connected socket.
	NotConnectedError = sockengine.KindNotConnected
)

// KindOf returns the kind of a socket error, or UnknownError for any other
// error.
func KindOf(err error) ErrorKind {
	return sockengine.KindOf(err)
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
