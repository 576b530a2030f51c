package ftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/gonzalop/netftp/eventloop"
	"github.com/gonzalop/netftp/internal/ratelimit"
	"github.com/gonzalop/netftp/socket"
)

const uploadChunk = 16 * 1024

// dtp drives the data connection of the transfer in progress. It opens the
// connection (passive) or listens for it (active), streams the payload and
// reports back to the protocol interpreter when the connection comes up or
// goes away.
type dtp struct {
	pi       *pi
	loop     *eventloop.Loop
	logger   *slog.Logger
	sockOpts []socket.Option
	parser   CompositeParser
	limiter  *ratelimit.Limiter

	sock     *socket.Socket
	listener *socket.Listener

	data       payload
	offset     int
	chunk      []byte
	uploading  bool
	startWrite bool

	bytesDone  int64
	bytesTotal int64
	err        error
	download   bytes.Buffer
	throttle   *eventloop.Timer
}

func newDTP(p *pi, parsers []ListingParser, limiter *ratelimit.Limiter, opts []socket.Option) *dtp {
	return &dtp{
		pi:       p,
		loop:     p.loop,
		logger:   p.logger,
		sockOpts: opts,
		parser:   CompositeParser{Parsers: parsers},
		limiter:  limiter,
	}
}

// setPayload installs the data side of the next transfer.
func (d *dtp) setPayload(p payload) {
	d.data = p
	d.offset = 0
	d.bytesTotal = p.size
	d.bytesDone = 0
}

func (d *dtp) clearPayload() {
	d.data = payload{}
	d.offset = 0
	d.uploading = false
	d.startWrite = false
}

func (d *dtp) setBytesTotal(n int64) {
	d.bytesTotal = n
}

func (d *dtp) hasError() bool { return d.err != nil }

func (d *dtp) clearError() { d.err = nil }

// state is the state of the data socket. While listening for the server
// to connect it is Connecting; with neither socket nor listener it is
// Unconnected.
func (d *dtp) state() socket.State {
	if d.sock == nil {
		if d.listener != nil {
			return socket.Connecting
		}
		return socket.Unconnected
	}
	return d.sock.State()
}

// connectToHost opens a data connection to addr, dropping any previous one.
func (d *dtp) connectToHost(addr netip.AddrPort) {
	d.download.Reset()
	d.closeSocket()
	d.closeListener()

	s := socket.New(d.loop, d.sockOpts...)
	d.sock = s
	s.SetHandler(d.handler(s))
	d.logger.Debug("opening data connection", "addr", addr)
	s.ConnectToHost(addr.Addr().String(), addr.Port())
}

// setupListener listens on local and returns the chosen port. The first
// connection the server makes becomes the data connection.
func (d *dtp) setupListener(local netip.Addr) (uint16, error) {
	d.download.Reset()
	d.closeSocket()
	d.closeListener()

	l, err := socket.Listen(d.loop, netip.AddrPortFrom(local, 0), d.accepted, d.sockOpts...)
	if err != nil {
		return 0, fmt.Errorf("data listener: %w", err)
	}
	d.listener = l
	return l.Addr().Port(), nil
}

func (d *dtp) accepted(s *socket.Socket) {
	if d.sock != nil {
		d.logger.Debug("rejecting extra data connection", "peer", s.PeerAddr())
		s.Abort()
		return
	}
	d.closeListener()
	d.sock = s
	s.SetHandler(d.handler(s))
	d.logger.Debug("data connection accepted", "peer", s.PeerAddr())
	if d.startWrite {
		d.writeData()
	}
}

// waitForConnection arranges for a pending upload to start once the server
// connects in active mode.
func (d *dtp) waitForConnection() {
	if d.sock == nil && d.listener != nil {
		d.startWrite = true
	}
}

func (d *dtp) handler(s *socket.Socket) socket.Handler {
	return socket.Handler{
		Connected:    func() { d.connected(s) },
		ReadyRead:    func() { d.readyRead(s) },
		BytesWritten: func(n int) { d.bytesWritten(s, n) },
		Disconnected: func() { d.closed(s) },
		Error:        func(err error) { d.socketError(s, err) },
	}
}

func (d *dtp) connected(s *socket.Socket) {
	if s != d.sock {
		return
	}
	d.bytesDone = 0
	d.pi.dtpConnected()
	if d.startWrite {
		d.writeData()
	}
}

func (d *dtp) socketError(s *socket.Socket, err error) {
	if s != d.sock {
		return
	}
	switch socket.KindOf(err) {
	case socket.HostNotFoundError, socket.ConnectionRefusedError, socket.SocketTimeoutError:
		if s.State() == socket.Unconnected {
			d.pi.dtpConnectFailed(err)
			return
		}
	}
	d.logger.Debug("data connection error", "error", err)
}

// writeData sends the next chunk of the upload, or half-closes the
// connection once the payload is exhausted.
func (d *dtp) writeData() {
	if d.sock == nil || d.sock.State() != socket.Connected {
		d.startWrite = true
		return
	}
	d.startWrite = false
	if d.data.kind == payloadNone || d.throttle.Active() {
		return
	}

	n, eof, err := d.nextChunk()
	if err != nil {
		d.err = fmt.Errorf("reading upload data: %w", err)
		d.abortConnection(true)
		return
	}
	d.uploading = true
	if n > 0 {
		if _, err := d.sock.Write(d.chunk[:n]); err != nil {
			d.err = err
			d.abortConnection(true)
			return
		}
		if delay := d.limiter.Reserve(n); delay > 0 {
			d.throttle = d.loop.AfterFunc(delay, d.resumeUpload)
		}
	}
	if eof {
		if d.bytesDone == 0 && d.sock.BytesToWrite() == 0 {
			d.progress(0)
		}
		d.clearPayload()
		_ = d.sock.ShutdownWrite()
	}
}

func (d *dtp) resumeUpload() {
	d.throttle = nil
	if d.uploading && d.sock != nil && d.sock.BytesToWrite() == 0 {
		d.writeData()
	}
}

// nextChunk fills d.chunk from the payload.
func (d *dtp) nextChunk() (n int, eof bool, err error) {
	if d.chunk == nil {
		d.chunk = make([]byte, uploadChunk)
	}
	switch d.data.kind {
	case payloadBuffer:
		n = copy(d.chunk, d.data.buf[d.offset:])
		d.offset += n
		return n, d.offset >= len(d.data.buf), nil
	case payloadStream:
		if d.data.r == nil {
			return 0, true, nil
		}
		n, err = d.data.r.Read(d.chunk)
		if errors.Is(err, io.EOF) {
			return n, true, nil
		}
		return n, false, err
	}
	return 0, true, nil
}

func (d *dtp) bytesWritten(s *socket.Socket, n int) {
	if s != d.sock {
		return
	}
	d.bytesDone += int64(n)
	d.progress(d.bytesDone)
	if d.uploading && s.BytesToWrite() == 0 && !d.throttle.Active() {
		d.writeData()
	}
}

func (d *dtp) progress(done int64) {
	d.pi.client.transferProgress(done, d.bytesTotal)
}

func (d *dtp) readyRead(s *socket.Socket) {
	if s != d.sock {
		return
	}
	if d.pi.currentCmd == "" {
		d.logger.Debug("data arrived with no command in progress")
		s.ReadAll()
		s.Abort()
		return
	}
	if d.pi.abortState != abortNone {
		s.ReadAll()
		return
	}

	if strings.HasPrefix(d.pi.currentCmd, "LIST") {
		for {
			line, ok := s.ReadLine()
			if !ok {
				break
			}
			d.listLine(string(line))
		}
		return
	}

	data := s.ReadAll()
	d.deliver(data)
	if delay := d.limiter.Reserve(len(data)); delay > 0 && d.sock == s {
		s.SetReadPaused(true)
		d.throttle.Stop()
		d.throttle = d.loop.AfterFunc(delay, func() {
			d.throttle = nil
			if d.sock == s {
				s.SetReadPaused(false)
			}
		})
	}
}

// deliver hands downloaded bytes to the writer, or buffers them for
// Client.ReadAll.
func (d *dtp) deliver(data []byte) {
	if len(data) == 0 {
		return
	}
	if d.data.kind == payloadStream && d.data.w != nil {
		n, err := d.data.w.Write(data)
		d.bytesDone += int64(n)
		d.progress(d.bytesDone)
		if err != nil {
			d.err = fmt.Errorf("writing download data: %w", err)
			d.abortConnection(true)
		}
		return
	}
	d.download.Write(data)
	d.bytesDone += int64(len(data))
	d.progress(d.bytesDone)
	d.pi.client.readyRead()
}

func (d *dtp) listLine(line string) {
	if entry, ok := d.parser.Parse(line); ok {
		d.pi.client.listInfo(entry)
		return
	}
	if isMissingTarget(line) {
		d.err = &ListingError{Line: strings.TrimRight(line, "\r\n")}
		return
	}
	if strings.TrimSpace(line) != "" {
		d.logger.Debug("unparsed listing line", "line", strings.TrimRight(line, "\r\n"))
	}
}

// closed runs when the server (or we) closed the data connection. Bytes
// still buffered are delivered before the interpreter hears about it.
func (d *dtp) closed(s *socket.Socket) {
	if s != d.sock {
		return
	}
	if d.pi.currentCmd != "" && d.pi.abortState == abortNone {
		if strings.HasPrefix(d.pi.currentCmd, "LIST") {
			for {
				line, ok := s.ReadLine()
				if !ok {
					break
				}
				d.listLine(string(line))
			}
			if rest := s.ReadAll(); len(rest) > 0 {
				d.listLine(string(rest))
			}
		} else {
			d.deliver(s.ReadAll())
		}
	} else {
		s.ReadAll()
	}
	if d.data.kind == payloadStream {
		d.clearPayload()
	}
	d.throttle.Stop()
	d.throttle = nil
	d.pi.dtpClosed()
}

// abortConnection drops the data connection and the payload. With notify
// set, the interpreter is told the connection closed.
func (d *dtp) abortConnection(notify bool) {
	d.clearPayload()
	d.throttle.Stop()
	d.throttle = nil
	wasOpen := d.state() != socket.Unconnected
	d.closeListener()
	d.closeSocket()
	if notify && wasOpen {
		d.pi.dtpClosed()
	}
}

// closeSocket aborts the data socket without delivering its events.
func (d *dtp) closeSocket() {
	if d.sock == nil {
		return
	}
	s := d.sock
	d.sock = nil
	s.SetHandler(socket.Handler{})
	s.Abort()
}

func (d *dtp) closeListener() {
	if d.listener == nil {
		return
	}
	d.listener.Close()
	d.listener = nil
}

// readAll drains downloaded bytes that had no writer.
func (d *dtp) readAll() []byte {
	b := bytes.Clone(d.download.Bytes())
	d.download.Reset()
	return b
}

func (d *dtp) bytesAvailable() int64 {
	return int64(d.download.Len())
}
