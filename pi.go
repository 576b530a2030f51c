package ftp

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gonzalop/netftp/eventloop"
	"github.com/gonzalop/netftp/socket"
)

type piState int

const (
	piBegin piState = iota
	piIdle
	piWaiting
	piSuccess
	piFailure
)

type abortState int

const (
	abortNone abortState = iota
	abortStarted
	abortWaitForFinish
)

// replyStates maps the first digit of a reply to the state it leads to.
var replyStates = [5]piState{piWaiting, piSuccess, piIdle, piFailure, piFailure}

// pi is the protocol interpreter: it owns the control connection, sends the
// wire lines of the logical command in progress one at a time and turns the
// replies into progress of that command.
type pi struct {
	client *Client
	loop   *eventloop.Loop
	logger *slog.Logger
	sock   *socket.Socket
	dtp    *dtp
	parser replyParser

	state      piState
	abortState abortState
	pending    []string
	currentCmd string
	rawCommand bool
	aborting   bool // no data connection may start for the current command

	extended      bool // try EPSV/EPRT
	forceExtended bool // ... even on IPv4

	waitForDtpToConnect bool
	waitForDtpToClose   bool
	deferred            *Response
	inReadyRead         bool

	connected bool
	ctrlErr   error
	closing   bool // disconnect once the current reply is handled
}

func newPI(c *Client) *pi {
	p := &pi{
		client:        c,
		loop:          c.loop,
		logger:        c.logger,
		extended:      !c.disableEPSV,
		forceExtended: c.extendedMode,
	}
	opts := []socket.Option{
		socket.WithLogger(c.logger),
		socket.WithConnectTimeout(c.connectTimeout),
	}
	if c.resolver != nil {
		opts = append(opts, socket.WithResolver(c.resolver))
	}
	p.sock = socket.New(c.loop, opts...)
	p.sock.SetHandler(p.handler())

	dataOpts := append(opts, socket.WithReadBufferSize(c.dataReadBufferSize))
	p.dtp = newDTP(p, defaultParsers(c.parsers), c.limiter, dataOpts)
	return p
}

func (p *pi) handler() socket.Handler {
	return socket.Handler{
		StateChanged: p.socketStateChanged,
		ReadyRead:    p.readyRead,
		Disconnected: p.disconnected,
		Error:        p.socketError,
	}
}

func (p *pi) reset() {
	p.state = piBegin
	p.abortState = abortNone
	p.pending = nil
	p.currentCmd = ""
	p.rawCommand = false
	p.aborting = false
	p.waitForDtpToConnect = false
	p.waitForDtpToClose = false
	p.deferred = nil
	p.parser = replyParser{}
	p.connected = false
	p.ctrlErr = nil
	p.closing = false
}

// connectToHost opens the control connection. Whatever connection existed
// before is dropped silently.
func (p *pi) connectToHost(host string, port uint16) {
	if p.sock.State() != socket.Unconnected {
		p.sock.SetHandler(socket.Handler{})
		p.sock.Abort()
		p.sock.SetHandler(p.handler())
	}
	p.dtp.abortConnection(false)
	p.reset()
	p.sock.ConnectToHost(host, port)
}

// sendCommands starts sending cmds. It fails if another batch is still in
// progress or the interpreter cannot accept commands.
func (p *pi) sendCommands(cmds []string) error {
	if len(p.pending) > 0 {
		return fmt.Errorf("ftp: %d commands still pending", len(p.pending))
	}
	if p.sock.State() != socket.Connected || p.state != piIdle {
		return &socket.Error{Kind: socket.NotConnectedError, Op: "send command"}
	}
	p.pending = append([]string(nil), cmds...)
	p.startNextCommand()
	return nil
}

func (p *pi) clearPendingCommands() {
	p.pending = nil
}

// abort clears the queue and stops the transfer in progress. Only STOR gets
// an ABOR on the wire; for everything else closing the data connection is
// enough, since most servers ignore ABOR or the data after it anyway.
func (p *pi) abort() {
	p.pending = nil
	if p.abortState != abortNone || p.currentCmd == "" {
		return
	}
	p.aborting = true
	if strings.HasPrefix(p.currentCmd, "STOR ") {
		p.abortState = abortStarted
		p.logger.Debug("ftp command", "cmd", "ABOR")
		_, _ = p.sock.WriteString("ABOR\r\n")
	}
	p.dtp.abortConnection(true)
	if p.waitForDtpToConnect {
		p.waitForDtpToConnect = false
		if p.state == piIdle {
			p.startNextCommand()
		}
	}
}

// useExtended reports whether PASV/PORT go out as EPSV/EPRT.
func (p *pi) useExtended(local netip.Addr) bool {
	if !p.extended {
		return false
	}
	return p.forceExtended || !local.Unmap().Is4()
}

// startNextCommand sends the next queued line. With the queue empty it
// reports the logical command finished.
func (p *pi) startNextCommand() bool {
	if p.waitForDtpToConnect {
		return false
	}
	if len(p.pending) == 0 {
		p.currentCmd = ""
		p.aborting = false
		p.client.piFinished()
		return false
	}
	if p.state != piIdle {
		return false
	}

	cmd := p.pending[0]
	p.pending = p.pending[1:]

	local := p.sock.LocalAddr().Addr().Unmap()
	switch cmd {
	case "PORT":
		port, err := p.dtp.setupListener(local)
		if err != nil {
			p.client.piError(err)
			return p.startNextCommand()
		}
		addr := netip.AddrPortFrom(local, port)
		if p.useExtended(local) {
			cmd = "EPRT " + formatEPRT(addr)
		} else {
			arg, err := formatPORT(addr)
			if err != nil {
				p.dtp.closeListener()
				p.client.piError(err)
				return p.startNextCommand()
			}
			cmd = "PORT " + arg
		}
	case "PASV":
		if p.useExtended(local) {
			cmd = "EPSV"
		}
	}

	p.currentCmd = cmd
	p.state = piWaiting
	p.logger.Debug("ftp command", "cmd", redact(cmd))
	if _, err := p.sock.WriteString(cmd + "\r\n"); err != nil {
		p.logger.Debug("failed to queue command", "cmd", redact(cmd), "error", err)
	}
	return true
}

// redact hides the argument of PASS in logs.
func redact(cmd string) string {
	if strings.HasPrefix(cmd, "PASS ") {
		return "PASS ****"
	}
	return cmd
}

func (p *pi) socketStateChanged(st socket.State) {
	switch st {
	case socket.HostLookup:
		p.client.piConnectState(HostLookup)
	case socket.Connecting:
		p.client.piConnectState(Connecting)
	case socket.Connected:
		p.connected = true
		p.client.piConnectState(Connected)
	}
}

func (p *pi) socketError(err error) {
	if !p.connected {
		// The connection never came up.
		p.client.piConnectState(Unconnected)
		p.client.piConnectionError(fmt.Errorf("host %s: %w", p.sock.PeerName(), err))
		return
	}
	if p.ctrlErr == nil {
		p.ctrlErr = err
	}
}

func (p *pi) disconnected() {
	err := p.ctrlErr
	p.dtp.abortConnection(false)
	p.reset()
	p.client.piConnectionError(connectionError("control connection", err))
	p.client.piConnectState(Unconnected)
}

// protocolFailure tears the control connection down after a reply that
// cannot be parsed.
func (p *pi) protocolFailure(err error) {
	p.logger.Debug("malformed reply", "error", err)
	p.ctrlErr = err
	p.sock.Abort()
}

func (p *pi) readyRead() {
	if p.waitForDtpToClose || p.inReadyRead {
		return
	}
	p.inReadyRead = true
	defer func() { p.inReadyRead = false }()

	for p.sock.State() != socket.Unconnected {
		line, ok := p.sock.ReadLine()
		if !ok {
			return
		}
		r, err := p.parser.feed(string(line))
		if err != nil {
			p.protocolFailure(err)
			return
		}
		if r == nil {
			continue
		}
		p.logger.Debug("ftp response", "code", r.Code, "message", r.Message)
		if !p.processReply(r) {
			p.deferred = r
			return
		}
		if p.waitForDtpToClose {
			return
		}
	}
}

// processReply advances the state machine with one reply. It returns false
// if the reply has to wait until the data connection is closed.
func (p *pi) processReply(r *Response) bool {
	code := r.Code

	// Only treat the transfer as complete once every byte has been read
	// from the data connection.
	if code == 226 || (code == 250 && strings.HasPrefix(p.currentCmd, "RETR")) {
		if p.dtp.state() != socket.Unconnected {
			p.waitForDtpToClose = true
			return false
		}
	}

	switch p.abortState {
	case abortStarted:
		p.abortState = abortWaitForFinish
	case abortWaitForFinish:
		p.abortState = abortNone
		p.logger.Debug("abort complete", "code", code)
		return true
	}

	switch p.state {
	case piBegin:
		if r.Is1xx() {
			return true
		}
		if r.Is2xx() {
			p.state = piIdle
			p.client.piFinished()
			return true
		}
		p.protocolFailure(&ProtocolError{Command: "connect", Response: r.Message, Code: code})
		return true
	case piWaiting:
		if code == 202 {
			p.state = piFailure
		} else {
			p.state = replyStates[code/100-1]
		}
	default:
		p.logger.Debug("ignoring unrequested reply", "code", code, "message", r.Message)
		return true
	}

	p.client.piReply(code, r.Message)
	var failure error
	if p.rawCommand {
		p.rawCommand = false
	} else {
		failure = p.replyAction(r)
	}

	switch p.state {
	case piSuccess, piIdle:
		p.state = piIdle
		if p.dtp.hasError() {
			p.client.piError(p.dtp.err)
			p.dtp.clearError()
		}
		p.startNextCommand()
	case piFailure:
		switch {
		case strings.HasPrefix(p.currentCmd, "EPSV") && p.extended && !p.aborting:
			p.logger.Debug("EPSV failed, falling back to PASV")
			p.extended = false
			p.pending = append([]string{"PASV"}, p.pending...)
		case strings.HasPrefix(p.currentCmd, "EPRT") && p.extended && !p.aborting:
			p.logger.Debug("EPRT failed, falling back to PORT")
			p.extended = false
			p.dtp.closeListener()
			p.pending = append([]string{"PORT"}, p.pending...)
		case failure != nil:
			p.client.piError(failure)
		default:
			p.client.piError(&ProtocolError{Command: redact(p.currentCmd), Response: r.Message, Code: code})
		}
		p.state = piIdle
		p.startNextCommand()
	}

	if p.closing {
		p.closing = false
		p.sock.DisconnectFromHost()
	}
	return true
}

// replyAction applies the side effects of particular replies. A non-nil
// error means a positive reply could not be used; the state is switched to
// failure.
func (p *pi) replyAction(r *Response) error {
	switch {
	case (r.Code == 227 || r.Code == 229) && p.aborting:
		p.logger.Debug("ignoring passive reply of aborted command", "code", r.Code)
	case r.Code == 227:
		addr, err := parsePASV(r.Message)
		if err != nil {
			p.state = piFailure
			return err
		}
		addr = resolveDataAddr(addr, p.sock.PeerAddr().Addr())
		p.waitForDtpToConnect = true
		p.dtp.connectToHost(addr)
	case r.Code == 229:
		port, err := parseEPSV(r.Message)
		if err != nil {
			p.state = piFailure
			return err
		}
		p.waitForDtpToConnect = true
		p.dtp.connectToHost(netip.AddrPortFrom(p.sock.PeerAddr().Addr(), port))
	case r.Code == 230:
		if strings.HasPrefix(p.currentCmd, "USER ") && len(p.pending) > 0 && strings.HasPrefix(p.pending[0], "PASS ") {
			// Logged in without a password.
			p.pending = p.pending[1:]
		}
		p.client.piConnectState(LoggedIn)
	case r.Code == 213:
		if strings.HasPrefix(p.currentCmd, "SIZE ") {
			if n, err := strconv.ParseInt(strings.TrimSpace(r.Message), 10, 64); err == nil {
				p.dtp.setBytesTotal(n)
			}
		}
	case r.Code == 221:
		if p.currentCmd == "QUIT" {
			p.closing = true
		}
	case r.Is1xx() && strings.HasPrefix(p.currentCmd, "STOR "):
		p.dtp.waitForConnection()
		p.dtp.writeData()
	}
	return nil
}

func (p *pi) dtpConnected() {
	p.waitForDtpToConnect = false
	p.startNextCommand()
}

func (p *pi) dtpConnectFailed(err error) {
	p.waitForDtpToConnect = false
	p.client.piError(fmt.Errorf("data connection: %w", err))
	if p.state == piIdle {
		p.startNextCommand()
	}
}

// dtpClosed handles a reply that was held back for the data connection,
// then whatever else is buffered on the control connection.
func (p *pi) dtpClosed() {
	if p.waitForDtpToClose {
		p.waitForDtpToClose = false
		if r := p.deferred; r != nil {
			p.deferred = nil
			if !p.processReply(r) {
				p.deferred = r
				return
			}
		}
	}
	p.readyRead()
}
