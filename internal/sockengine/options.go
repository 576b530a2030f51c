package sockengine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Option names a socket option understood by SetOption and Option.
type Option int

const (
	NoDelay Option = iota
	KeepAlive
	ReceiveBufferSize
	SendBufferSize
	ReuseAddress
	MulticastTTL
	MulticastLoopback
)

func (o Option) String() string {
	switch o {
	case NoDelay:
		return "NoDelay"
	case KeepAlive:
		return "KeepAlive"
	case ReceiveBufferSize:
		return "ReceiveBufferSize"
	case SendBufferSize:
		return "SendBufferSize"
	case ReuseAddress:
		return "ReuseAddress"
	case MulticastTTL:
		return "MulticastTTL"
	case MulticastLoopback:
		return "MulticastLoopback"
	}
	return fmt.Sprintf("Option(%d)", int(o))
}

// level returns the sockopt level and name for o on a socket of family f.
func (o Option) level(f Family) (level, name int, ok bool) {
	switch o {
	case NoDelay:
		return unix.IPPROTO_TCP, unix.TCP_NODELAY, true
	case KeepAlive:
		return unix.SOL_SOCKET, unix.SO_KEEPALIVE, true
	case ReceiveBufferSize:
		return unix.SOL_SOCKET, unix.SO_RCVBUF, true
	case SendBufferSize:
		return unix.SOL_SOCKET, unix.SO_SNDBUF, true
	case ReuseAddress:
		return unix.SOL_SOCKET, unix.SO_REUSEADDR, true
	case MulticastTTL:
		if f == IPv6 {
			return unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, true
		}
		return unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, true
	case MulticastLoopback:
		if f == IPv6 {
			return unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, true
		}
		return unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, true
	}
	return 0, 0, false
}

// SetOption sets o to v. Boolean options use 0 and 1.
func (e *Engine) SetOption(o Option, v int) error {
	if err := e.check("setsockopt"); err != nil {
		return err
	}
	level, name, ok := o.level(e.family)
	if !ok {
		return &Error{Kind: KindUnsupported, Op: "setsockopt " + o.String()}
	}
	return mapErrno("setsockopt "+o.String(), unix.SetsockoptInt(e.fd, level, name, v))
}

// Option returns the current value of o.
func (e *Engine) Option(o Option) (int, error) {
	if err := e.check("getsockopt"); err != nil {
		return 0, err
	}
	level, name, ok := o.level(e.family)
	if !ok {
		return 0, &Error{Kind: KindUnsupported, Op: "getsockopt " + o.String()}
	}
	v, err := unix.GetsockoptInt(e.fd, level, name)
	if err != nil {
		return 0, mapErrno("getsockopt "+o.String(), err)
	}
	return v, nil
}
