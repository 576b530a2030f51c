package socket

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/gonzalop/netftp/eventloop"
	"github.com/gonzalop/netftp/internal/sockengine"
)

// Listener accepts inbound connections and hands them out as connected
// Sockets.
type Listener struct {
	loop    *eventloop.Loop
	logger  *slog.Logger
	eng     *sockengine.Engine
	watch   *eventloop.Watch
	addr    netip.AddrPort
	onConn  func(*Socket)
	opts    []Option
	pending []*Socket
}

// Listen binds addr and starts accepting. A zero port picks an ephemeral
// one. If onConn is nil, accepted sockets queue up for
// NextPendingConnection. Options are applied to every accepted socket.
func Listen(loop *eventloop.Loop, addr netip.AddrPort, onConn func(*Socket), opts ...Option) (*Listener, error) {
	eng := sockengine.New()
	if err := eng.Initialize(sockengine.FamilyOf(addr.Addr())); err != nil {
		return nil, fmt.Errorf("listen %v: %w", addr, err)
	}
	_ = eng.SetOption(sockengine.ReuseAddress, 1)
	if err := eng.Bind(addr); err != nil {
		eng.Close()
		return nil, fmt.Errorf("listen %v: %w", addr, err)
	}
	if err := eng.Listen(8); err != nil {
		eng.Close()
		return nil, fmt.Errorf("listen %v: %w", addr, err)
	}

	l := &Listener{
		loop:   loop,
		logger: loggerFrom(opts),
		eng:    eng,
		addr:   eng.LocalAddr(),
		onConn: onConn,
		opts:   opts,
	}
	l.watch = loop.Watch(eng.Descriptor(), l.accept, nil)
	l.watch.SetRead(true)
	l.logger.Debug("listening", "addr", l.addr)
	return l, nil
}

// Addr returns the bound address, including the chosen port.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// IsListening reports whether the listener is still open.
func (l *Listener) IsListening() bool { return l.eng != nil }

func (l *Listener) accept() {
	for l.eng != nil {
		fd, err := l.eng.Accept()
		if errors.Is(err, sockengine.ErrWouldBlock) {
			return
		}
		if err != nil {
			l.logger.Debug("accept failed", "addr", l.addr, "error", err)
			return
		}
		s := New(l.loop, l.opts...)
		if err := s.SetDescriptor(fd); err != nil {
			l.logger.Debug("adopting accepted connection failed", "error", err)
			continue
		}
		l.logger.Debug("accepted connection", "addr", l.addr, "peer", s.PeerAddr())
		if l.onConn != nil {
			l.onConn(s)
			continue
		}
		l.pending = append(l.pending, s)
	}
}

// HasPendingConnections reports whether accepted sockets are queued.
func (l *Listener) HasPendingConnections() bool { return len(l.pending) > 0 }

// NextPendingConnection returns the oldest queued socket, or nil.
func (l *Listener) NextPendingConnection() *Socket {
	if len(l.pending) == 0 {
		return nil
	}
	s := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return s
}

// WaitForNewConnection drives the loop until a connection is queued. It
// only applies to listeners created without a callback.
func (l *Listener) WaitForNewConnection(timeout time.Duration) error {
	if l.onConn != nil {
		return errors.New("socket: listener delivers connections through its callback")
	}
	if len(l.pending) > 0 {
		return nil
	}
	if l.loop.Dispatching() {
		return fmt.Errorf("wait for new connection: %w", eventloop.ErrReentrant)
	}
	if !l.loop.RunUntil(func() bool { return len(l.pending) > 0 || l.eng == nil }, timeout) {
		return newError(SocketTimeoutError, "wait for new connection", nil)
	}
	if len(l.pending) == 0 {
		return newError(NotConnectedError, "wait for new connection", nil)
	}
	return nil
}

// Close stops listening. Queued connections are aborted.
func (l *Listener) Close() {
	if l.eng == nil {
		return
	}
	l.watch.Remove()
	l.eng.Close()
	l.eng = nil
	for _, s := range l.pending {
		s.Abort()
	}
	l.pending = nil
}
