// Package socket implements a buffered, event-driven TCP socket on top of an
// eventloop.Loop.
//
// A Socket never blocks. Connecting resolves the host name, then tries every
// resolved address in order, twice over, until one accepts. Written bytes are
// queued and flushed when the descriptor becomes writable; received bytes are
// collected into a read buffer and announced with ReadyRead. All methods must
// be called on the loop goroutine.
package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/gonzalop/netftp/eventloop"
	"github.com/gonzalop/netftp/internal/ringbuf"
	"github.com/gonzalop/netftp/internal/sockengine"
)

const (
	// DefaultConnectTimeout bounds each connection attempt.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultForceDisconnectTimeout bounds how long a graceful disconnect
	// waits for the write buffer to drain.
	DefaultForceDisconnectTimeout = 2 * time.Second

	readChunk    = 4096
	maxReadRound = 64 * 1024
)

// SocketOption names a low-level socket option.
type SocketOption = sockengine.Option

// Options accepted by SetSocketOption. Boolean options use 0 and 1.
const (
	// NoDelayOption disables Nagle's algorithm (TCP_NODELAY).
	NoDelayOption = sockengine.NoDelay
	// KeepAliveOption enables TCP keep-alive probes (SO_KEEPALIVE).
	KeepAliveOption = sockengine.KeepAlive
	// ReceiveBufferSizeOption is the kernel receive buffer size in bytes (SO_RCVBUF).
	ReceiveBufferSizeOption = sockengine.ReceiveBufferSize
	// SendBufferSizeOption is the kernel send buffer size in bytes (SO_SNDBUF).
	SendBufferSizeOption = sockengine.SendBufferSize
	// ReuseAddressOption allows binding an address in TIME_WAIT (SO_REUSEADDR).
	ReuseAddressOption = sockengine.ReuseAddress
	// MulticastTTLOption is the time-to-live of outgoing multicast packets.
	MulticastTTLOption = sockengine.MulticastTTL
	// MulticastLoopbackOption loops outgoing multicast packets back to the host.
	MulticastLoopbackOption = sockengine.MulticastLoopback
)

// engine is the subset of *sockengine.Engine a Socket drives.
type engine interface {
	Initialize(sockengine.Family) error
	Adopt(fd int) error
	Descriptor() int
	IsValid() bool
	Bind(netip.AddrPort) error
	Connect(netip.AddrPort) (sockengine.ConnectStatus, error)
	FinishConnect(netip.AddrPort) (sockengine.ConnectStatus, error)
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	ShutdownWrite() error
	Close()
	LocalAddr() netip.AddrPort
	PeerAddr() netip.AddrPort
	SetOption(sockengine.Option, int) error
	Option(sockengine.Option) (int, error)
}

// Option configures a Socket.
type Option func(*Socket)

// WithLogger sets the logger used for state transitions and diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Socket) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResolver replaces net.DefaultResolver for host name lookups.
func WithResolver(r Resolver) Option {
	return func(s *Socket) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithConnectTimeout sets the per-address connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Socket) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithForceDisconnectTimeout sets how long DisconnectFromHost waits for
// queued bytes before closing anyway.
func WithForceDisconnectTimeout(d time.Duration) Option {
	return func(s *Socket) {
		if d > 0 {
			s.forceTimeout = d
		}
	}
}

// WithReadBufferSize limits the read buffer. Zero means unlimited.
func WithReadBufferSize(n int) Option {
	return func(s *Socket) {
		s.readBufferSize = n
	}
}

// Socket is an event-driven TCP socket.
type Socket struct {
	loop      *eventloop.Loop
	logger    *slog.Logger
	resolver  Resolver
	handler   Handler
	newEngine func() engine

	eng   engine
	watch *eventloop.Watch
	state State
	err   error

	peerName   string
	port       uint16
	localAddr  netip.AddrPort
	peerAddr   netip.AddrPort
	bindAddr   netip.AddrPort
	options    map[SocketOption]int
	candidates []netip.Addr
	next       int
	target     netip.AddrPort
	lastErr    error

	lookupID     uint64
	cancelLookup context.CancelFunc

	readBuf         *ringbuf.Buffer
	writeBuf        *ringbuf.Buffer
	readBufferSize  int
	readPaused      bool
	shutdownPending bool
	writeClosed     bool

	connectTimeout time.Duration
	forceTimeout   time.Duration
	connectTimer   *eventloop.Timer
	forceTimer     *eventloop.Timer

	events   []func()
	emitting bool

	readyReads   int
	bytesWritten int
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loggerFrom returns the logger opts select, without building a socket.
func loggerFrom(opts []Option) *slog.Logger {
	s := Socket{logger: discardLogger()}
	for _, opt := range opts {
		opt(&s)
	}
	return s.logger
}

// New returns an unconnected socket driven by loop.
func New(loop *eventloop.Loop, opts ...Option) *Socket {
	s := &Socket{
		loop:           loop,
		logger:         discardLogger(),
		resolver:       net.DefaultResolver,
		newEngine:      func() engine { return sockengine.New() },
		readBuf:        ringbuf.New(0),
		writeBuf:       ringbuf.New(0),
		connectTimeout: DefaultConnectTimeout,
		forceTimeout:   DefaultForceDisconnectTimeout,
		options:        make(map[SocketOption]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandler replaces the event handler.
func (s *Socket) SetHandler(h Handler) {
	s.handler = h
}

// State returns the current connection state.
func (s *Socket) State() State { return s.state }

// Err returns the last error reported through Handler.Error.
func (s *Socket) Err() error { return s.err }

// PeerName returns the host name passed to ConnectToHost.
func (s *Socket) PeerName() string { return s.peerName }

// LocalAddr returns the local address of the connection.
func (s *Socket) LocalAddr() netip.AddrPort { return s.localAddr }

// PeerAddr returns the remote address of the connection.
func (s *Socket) PeerAddr() netip.AddrPort { return s.peerAddr }

// Descriptor returns the native descriptor, or -1.
func (s *Socket) Descriptor() int {
	if s.eng == nil {
		return -1
	}
	return s.eng.Descriptor()
}

// emit queues an event and drains the queue unless a handler is already
// running further up the stack.
func (s *Socket) emit(f func()) {
	s.events = append(s.events, f)
	if s.emitting {
		return
	}
	s.emitting = true
	defer func() { s.emitting = false }()
	for len(s.events) > 0 {
		ev := s.events[0]
		s.events[0] = nil
		s.events = s.events[1:]
		ev()
	}
}

func (s *Socket) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("socket state changed", "peer", s.peerName, "from", s.state, "to", st)
	s.state = st
	s.emit(func() {
		if s.handler.StateChanged != nil {
			s.handler.StateChanged(st)
		}
	})
}

func (s *Socket) emitError(err error) {
	s.err = err
	s.emit(func() {
		if s.handler.Error != nil {
			s.handler.Error(err)
		}
	})
}

func (s *Socket) emitDisconnected() {
	s.emit(func() {
		if s.handler.Disconnected != nil {
			s.handler.Disconnected()
		}
	})
}

// SetSocketOption sets a low-level option. Options set before the socket
// has a descriptor are applied when one is created.
func (s *Socket) SetSocketOption(o SocketOption, v int) error {
	s.options[o] = v
	if s.eng == nil || !s.eng.IsValid() {
		return nil
	}
	return s.eng.SetOption(o, v)
}

// SocketOptionValue returns the current value of a low-level option.
func (s *Socket) SocketOptionValue(o SocketOption) (int, error) {
	if s.eng == nil || !s.eng.IsValid() {
		if v, ok := s.options[o]; ok {
			return v, nil
		}
		return 0, newError(NotConnectedError, "getsockopt", nil)
	}
	return s.eng.Option(o)
}

func (s *Socket) applyOptions(eng engine) {
	for o, v := range s.options {
		if err := eng.SetOption(o, v); err != nil {
			s.logger.Debug("failed to apply socket option", "option", o, "error", err)
		}
	}
}

// Bind binds the socket to a local address and moves it to Bound. A later
// ConnectToHost connects from that address.
func (s *Socket) Bind(addr netip.AddrPort) error {
	if s.state != Unconnected {
		return fmt.Errorf("bind in state %v: %w", s.state, newError(UnsupportedOperationError, "bind", nil))
	}
	eng := s.newEngine()
	if err := eng.Initialize(sockengine.FamilyOf(addr.Addr())); err != nil {
		return err
	}
	_ = eng.SetOption(sockengine.ReuseAddress, 1)
	if err := eng.Bind(addr); err != nil {
		eng.Close()
		return err
	}
	s.eng = eng
	s.bindAddr = addr
	s.localAddr = eng.LocalAddr()
	s.setState(Bound)
	return nil
}

// ConnectToHost starts connecting to host:port. The result is reported
// through Handler.Connected or Handler.Error.
func (s *Socket) ConnectToHost(host string, port uint16) {
	if s.state != Unconnected && s.state != Bound {
		s.logger.Warn("connectToHost called while a connection is in progress", "state", s.state, "host", host)
		return
	}
	if s.state == Bound {
		s.closeEngine()
	} else {
		s.bindAddr = netip.AddrPort{}
	}

	s.peerName = host
	s.port = port
	s.err = nil
	s.lastErr = nil
	s.shutdownPending = false
	s.writeClosed = false
	s.readBuf.Reset()
	s.writeBuf.Reset()
	s.setState(HostLookup)

	if addr, err := netip.ParseAddr(host); err == nil {
		s.hostLookedUp([]netip.Addr{addr}, nil)
		return
	}
	s.lookupHost(host)
}

func (s *Socket) hostLookedUp(addrs []netip.Addr, err error) {
	if err != nil || len(addrs) == 0 {
		s.logger.Debug("host lookup failed", "host", s.peerName, "error", err)
		s.fail(newError(HostNotFoundError, "lookup "+s.peerName, err))
		return
	}
	s.emit(func() {
		if s.handler.HostFound != nil {
			s.handler.HostFound()
		}
	})
	if s.state != HostLookup {
		return
	}

	// Every address gets a second chance after all of them were tried once.
	s.candidates = make([]netip.Addr, 0, 2*len(addrs))
	s.candidates = append(s.candidates, addrs...)
	s.candidates = append(s.candidates, addrs...)
	s.next = 0
	s.setState(Connecting)
	s.connectToNextAddress()
}

func (s *Socket) connectToNextAddress() {
	for {
		if s.state != Connecting {
			return
		}
		if s.next >= len(s.candidates) {
			kind := ConnectionRefusedError
			if KindOf(s.lastErr) == HostNotFoundError {
				kind = HostNotFoundError
			}
			s.fail(newError(kind, "connect "+s.peerName, s.lastErr))
			return
		}
		addr := s.candidates[s.next]
		s.next++
		s.target = netip.AddrPortFrom(addr, s.port)

		s.closeEngine()
		eng := s.newEngine()
		if err := eng.Initialize(sockengine.FamilyOf(addr)); err != nil {
			s.lastErr = err
			continue
		}
		s.applyOptions(eng)
		if s.bindAddr.IsValid() {
			_ = eng.SetOption(sockengine.ReuseAddress, 1)
			if err := eng.Bind(s.bindAddr); err != nil {
				eng.Close()
				s.lastErr = err
				continue
			}
		}
		s.eng = eng

		s.logger.Debug("connecting", "host", s.peerName, "addr", s.target)
		status, err := eng.Connect(s.target)
		if err != nil {
			s.logger.Debug("connect attempt failed", "addr", s.target, "error", err)
			s.lastErr = err
			continue
		}
		s.watch = s.loop.Watch(eng.Descriptor(), s.onReadable, s.onWritable)
		if status == sockengine.Connected {
			s.connected()
			return
		}
		s.watch.SetWrite(true)
		s.connectTimer = s.loop.AfterFunc(s.connectTimeout, s.abortConnectionAttempt)
		return
	}
}

func (s *Socket) abortConnectionAttempt() {
	s.connectTimer = nil
	if s.state != Connecting {
		return
	}
	s.logger.Debug("connect attempt timed out", "addr", s.target)
	s.lastErr = newError(SocketTimeoutError, "connect", nil)
	s.connectToNextAddress()
}

func (s *Socket) finishConnect() {
	status, err := s.eng.FinishConnect(s.target)
	if err != nil {
		s.logger.Debug("connect attempt failed", "addr", s.target, "error", err)
		s.connectTimer.Stop()
		s.connectTimer = nil
		s.lastErr = err
		s.connectToNextAddress()
		return
	}
	if status == sockengine.Connected {
		s.connected()
	}
}

func (s *Socket) connected() {
	s.connectTimer.Stop()
	s.connectTimer = nil
	s.candidates = nil
	s.localAddr = s.eng.LocalAddr()
	s.peerAddr = s.eng.PeerAddr()
	s.watch.SetWrite(s.writeBuf.Len() > 0)
	s.setState(Connected)
	s.resumeReading()
	s.emit(func() {
		if s.handler.Connected != nil {
			s.handler.Connected()
		}
	})
}

// SetDescriptor adopts an already connected descriptor, such as one returned
// by accept, and moves the socket to Connected.
func (s *Socket) SetDescriptor(fd int) error {
	if s.state != Unconnected {
		return fmt.Errorf("adopt descriptor in state %v: %w", s.state, newError(UnsupportedOperationError, "adopt", nil))
	}
	eng := s.newEngine()
	if err := eng.Adopt(fd); err != nil {
		return err
	}
	s.applyOptions(eng)
	s.eng = eng
	s.err = nil
	s.shutdownPending = false
	s.writeClosed = false
	s.readBuf.Reset()
	s.writeBuf.Reset()
	s.watch = s.loop.Watch(fd, s.onReadable, s.onWritable)
	s.localAddr = eng.LocalAddr()
	s.peerAddr = eng.PeerAddr()
	s.peerName = s.peerAddr.Addr().String()
	s.port = s.peerAddr.Port()
	s.setState(Connected)
	s.resumeReading()
	return nil
}

// fail reports a connection failure and returns to Unconnected.
func (s *Socket) fail(err error) {
	s.stopTimers()
	s.stopLookup()
	s.closeEngine()
	s.candidates = nil
	s.setState(Unconnected)
	s.emitError(err)
}

// fatal handles an I/O error on an established connection.
func (s *Socket) fatal(err error) {
	wasConnected := s.state == Connected || s.state == Closing
	s.emitError(err)
	s.stopTimers()
	s.closeEngine()
	s.writeBuf.Reset()
	s.setState(Unconnected)
	if wasConnected {
		s.emitDisconnected()
	}
}

func (s *Socket) stopTimers() {
	s.connectTimer.Stop()
	s.connectTimer = nil
	s.forceTimer.Stop()
	s.forceTimer = nil
}

func (s *Socket) closeEngine() {
	if s.watch != nil {
		s.watch.Remove()
		s.watch = nil
	}
	if s.eng != nil {
		s.eng.Close()
		s.eng = nil
	}
}

func (s *Socket) onReadable() {
	if s.state != Connected {
		return
	}
	total := 0
	var rerr error
	for total < maxReadRound {
		want := readChunk
		if s.readBufferSize > 0 {
			room := s.readBufferSize - s.readBuf.Len()
			if room <= 0 {
				s.watch.SetRead(false)
				break
			}
			if room < want {
				want = room
			}
		}
		dst := s.readBuf.Reserve(want)
		n, err := s.eng.Read(dst)
		s.readBuf.Chop(len(dst) - n)
		total += n
		if errors.Is(err, sockengine.ErrWouldBlock) {
			break
		}
		if err != nil {
			rerr = err
			break
		}
	}

	if total > 0 {
		s.readyReads++
		s.emit(func() {
			if s.handler.ReadyRead != nil {
				s.handler.ReadyRead()
			}
		})
	}
	if rerr == nil || s.state != Connected {
		return
	}
	if KindOf(rerr) == RemoteClosedError {
		s.logger.Debug("remote host closed the connection", "peer", s.peerName)
		s.emitError(rerr)
		s.DisconnectFromHost()
		return
	}
	s.fatal(rerr)
}

func (s *Socket) onWritable() {
	switch s.state {
	case Connecting:
		s.finishConnect()
	case Connected, Closing:
		s.flush()
	}
}

// flush writes as much of the write buffer as the kernel accepts.
func (s *Socket) flush() bool {
	written := 0
	for s.writeBuf.Len() > 0 {
		n, err := s.eng.Write(s.writeBuf.Peek())
		if err != nil {
			s.fatal(err)
			return written > 0
		}
		if n == 0 {
			break
		}
		s.writeBuf.Discard(n)
		written += n
	}

	if written > 0 {
		s.bytesWritten++
		s.emit(func() {
			if s.handler.BytesWritten != nil {
				s.handler.BytesWritten(written)
			}
		})
	}
	if s.writeBuf.Len() > 0 || s.eng == nil {
		return written > 0
	}

	if s.watch != nil {
		s.watch.SetWrite(false)
	}
	if s.shutdownPending && s.state == Connected {
		s.shutdownPending = false
		s.writeClosed = true
		if err := s.eng.ShutdownWrite(); err != nil {
			s.logger.Debug("shutdown write failed", "error", err)
		}
	}
	if s.state == Closing {
		s.finishClose()
	}
	return written > 0
}

// Flush writes buffered data without waiting for a write notification. It
// reports whether any bytes were written.
func (s *Socket) Flush() bool {
	if s.state != Connected && s.state != Closing {
		return false
	}
	return s.flush()
}

// Write queues p for sending.
func (s *Socket) Write(p []byte) (int, error) {
	switch s.state {
	case HostLookup, Connecting, Connected:
	default:
		return 0, newError(NotConnectedError, "write", nil)
	}
	if s.shutdownPending || s.writeClosed {
		return 0, newError(NotConnectedError, "write after shutdown", nil)
	}
	if len(p) == 0 {
		return 0, nil
	}
	s.writeBuf.Write(p)
	if s.state == Connected && !s.watch.Writing() {
		s.watch.SetWrite(true)
	}
	return len(p), nil
}

// WriteString queues str for sending.
func (s *Socket) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// BytesToWrite returns the number of queued bytes not yet handed to the
// kernel.
func (s *Socket) BytesToWrite() int { return s.writeBuf.Len() }

// ShutdownWrite half-closes the connection once every queued byte is sent.
func (s *Socket) ShutdownWrite() error {
	if s.state != Connected {
		return newError(NotConnectedError, "shutdown", nil)
	}
	s.shutdownPending = true
	if s.writeBuf.Len() == 0 {
		s.flush()
	}
	return nil
}

// Read copies buffered bytes into p. It never blocks: with nothing buffered
// it returns 0 and a nil error while the connection is open, io.EOF after.
func (s *Socket) Read(p []byte) (int, error) {
	if s.readBuf.Len() == 0 {
		if s.state == Unconnected && len(p) > 0 {
			return 0, io.EOF
		}
		return 0, nil
	}
	n, _ := s.readBuf.Read(p)
	s.resumeReading()
	return n, nil
}

// ReadLine returns one buffered line including its terminator.
func (s *Socket) ReadLine() ([]byte, bool) {
	line, ok := s.readBuf.ReadLine()
	if ok {
		s.resumeReading()
	}
	return line, ok
}

// CanReadLine reports whether a full line is buffered.
func (s *Socket) CanReadLine() bool { return s.readBuf.CanReadLine() }

// ReadAll returns and consumes everything buffered.
func (s *Socket) ReadAll() []byte {
	b := s.readBuf.Bytes()
	s.readBuf.Reset()
	s.resumeReading()
	return b
}

// BytesAvailable returns the number of buffered bytes.
func (s *Socket) BytesAvailable() int { return s.readBuf.Len() }

// SetReadBufferSize limits the read buffer. While it is full the socket
// stops reading from the kernel. Zero means unlimited.
func (s *Socket) SetReadBufferSize(n int) {
	s.readBufferSize = n
	s.resumeReading()
}

// ReadBufferSize returns the read buffer limit.
func (s *Socket) ReadBufferSize() int { return s.readBufferSize }

// SetReadPaused suspends or resumes reading from the kernel.
func (s *Socket) SetReadPaused(paused bool) {
	s.readPaused = paused
	if paused {
		if s.watch != nil {
			s.watch.SetRead(false)
		}
		return
	}
	s.resumeReading()
}

func (s *Socket) resumeReading() {
	if s.state != Connected || s.watch == nil || s.readPaused || s.watch.Reading() {
		return
	}
	if s.readBufferSize > 0 && s.readBuf.Len() >= s.readBufferSize {
		return
	}
	s.watch.SetRead(true)
}

// DisconnectFromHost closes the connection once queued bytes are written.
// If they are not written within the force-disconnect timeout the socket is
// closed anyway.
func (s *Socket) DisconnectFromHost() {
	switch s.state {
	case Unconnected, Closing:
		return
	case HostLookup, Connecting, Bound:
		s.stopTimers()
		s.stopLookup()
		s.closeEngine()
		s.candidates = nil
		s.writeBuf.Reset()
		s.setState(Unconnected)
		return
	}

	s.setState(Closing)
	if s.watch != nil {
		s.watch.SetRead(false)
	}
	if s.writeBuf.Len() == 0 {
		s.finishClose()
		return
	}
	s.watch.SetWrite(true)
	s.forceTimer = s.loop.AfterFunc(s.forceTimeout, func() {
		s.forceTimer = nil
		if s.state == Closing {
			s.logger.Debug("forcing disconnect with unsent data", "peer", s.peerName, "pending", s.writeBuf.Len())
			s.finishClose()
		}
	})
}

func (s *Socket) finishClose() {
	s.stopTimers()
	s.closeEngine()
	s.writeBuf.Reset()
	s.shutdownPending = false
	s.setState(Unconnected)
	s.emitDisconnected()
}

// Abort closes the connection immediately, discarding unsent data. Calling
// it on an unconnected socket does nothing.
func (s *Socket) Abort() {
	s.stopLookup()
	s.stopTimers()
	s.writeBuf.Reset()
	s.shutdownPending = false
	s.candidates = nil
	wasConnected := s.state == Connected || s.state == Closing
	s.closeEngine()
	s.setState(Unconnected)
	if wasConnected {
		s.emitDisconnected()
	}
}

// Close disconnects gracefully and drops any unread data.
func (s *Socket) Close() {
	s.DisconnectFromHost()
	s.readBuf.Reset()
}

func (s *Socket) wait(op string, done func() bool, timeout time.Duration) error {
	if s.loop.Dispatching() {
		return fmt.Errorf("%s: %w", op, eventloop.ErrReentrant)
	}
	if s.loop.RunUntil(done, timeout) {
		return nil
	}
	return newError(SocketTimeoutError, op, nil)
}

// WaitForConnected drives the loop until the socket is connected or the
// attempt fails. A negative timeout waits indefinitely.
func (s *Socket) WaitForConnected(timeout time.Duration) error {
	if s.state == Connected {
		return nil
	}
	if s.state == Unconnected {
		return s.disconnectedErr("wait for connected")
	}
	err := s.wait("wait for connected", func() bool {
		return s.state == Connected || s.state == Unconnected
	}, timeout)
	if err != nil {
		return err
	}
	if s.state != Connected {
		return s.disconnectedErr("wait for connected")
	}
	return nil
}

// WaitForReadyRead drives the loop until new data arrives.
func (s *Socket) WaitForReadyRead(timeout time.Duration) error {
	if s.state == Unconnected {
		return newError(NotConnectedError, "wait for ready read", nil)
	}
	before := s.readyReads
	err := s.wait("wait for ready read", func() bool {
		return s.readyReads != before || s.state == Unconnected
	}, timeout)
	if err != nil {
		return err
	}
	if s.readyReads == before {
		return s.disconnectedErr("wait for ready read")
	}
	return nil
}

// WaitForBytesWritten drives the loop until some queued bytes are written.
func (s *Socket) WaitForBytesWritten(timeout time.Duration) error {
	if s.writeBuf.Len() == 0 {
		return nil
	}
	before := s.bytesWritten
	err := s.wait("wait for bytes written", func() bool {
		return s.bytesWritten != before || s.state == Unconnected
	}, timeout)
	if err != nil {
		return err
	}
	if s.bytesWritten == before {
		return s.disconnectedErr("wait for bytes written")
	}
	return nil
}

// WaitForDisconnected drives the loop until the socket is unconnected.
func (s *Socket) WaitForDisconnected(timeout time.Duration) error {
	if s.state == Unconnected {
		return nil
	}
	return s.wait("wait for disconnected", func() bool { return s.state == Unconnected }, timeout)
}

func (s *Socket) disconnectedErr(op string) error {
	if s.err != nil {
		return s.err
	}
	return newError(NotConnectedError, op, nil)
}
