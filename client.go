package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gonzalop/netftp/eventloop"
	"github.com/gonzalop/netftp/internal/ratelimit"
	"github.com/gonzalop/netftp/socket"
)

// State is the connection state of a Client.
type State int

const (
	Unconnected State = iota
	HostLookup
	Connecting
	Connected
	LoggedIn
	Closing
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "Unconnected"
	case HostLookup:
		return "HostLookup"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case LoggedIn:
		return "LoggedIn"
	case Closing:
		return "Closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Callbacks receives client events. Any field may be nil. Callbacks run on
// the loop goroutine and may queue further commands.
type Callbacks struct {
	// StateChanged reports a new connection state.
	StateChanged func(State)

	// CommandStarted reports that the command with the given id started.
	CommandStarted func(id int)

	// CommandFinished reports the outcome of a command. err is nil on
	// success.
	CommandFinished func(id int, err error)

	// Done reports that the last queued command finished. failed is true
	// if any command since the previous Done failed.
	Done func(failed bool)

	// ListInfo receives every entry of a directory listing.
	ListInfo func(*Entry)

	// ReadyRead reports downloaded data waiting for ReadAll. It is only
	// used by Get calls without a writer.
	ReadyRead func()

	// TransferProgress reports the bytes moved so far and the expected
	// total, which is 0 when unknown.
	TransferProgress func(done, total int64)

	// RawCommandReply receives the replies to commands sent with
	// RawCommand.
	RawCommandReply func(code int, text string)
}

// Client is an event-driven FTP client.
//
// Every operation queues a command and returns its id right away. Commands
// run one after another on the client's event loop; progress and results
// are delivered through Callbacks. Run, RunOnce or WaitForDone drive the
// loop. All methods must be called from the goroutine driving the loop.
type Client struct {
	// loop drives every socket of the client
	loop    *eventloop.Loop
	ownLoop bool

	// logger is used for debug logging
	logger *slog.Logger

	callbacks Callbacks

	// pi owns the control connection and the data channel
	pi *pi

	// limiter throttles data transfers, nil when unlimited
	limiter *ratelimit.Limiter

	connectTimeout     time.Duration
	transferMode       TransferMode
	disableEPSV        bool
	extendedMode       bool
	parsers            []ListingParser
	resolver           socket.Resolver
	dataReadBufferSize int
	bandwidthLimit     int64

	// pending holds the queued commands; pending[0] runs once started is set
	pending []*command
	started bool

	state State

	// err is the error of the last finished command
	err error

	// batchErrs collects failures until the queue drains
	batchErrs    []error
	lastBatchErr error
}

// New returns an unconnected client.
//
// Example:
//
//	client, err := ftp.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Shutdown()
//
//	client.ConnectToHost("ftp.example.com", 21)
//	client.Login("anonymous", "")
//	client.List("/pub")
//	client.Close()
//	if err := client.WaitForDone(time.Minute); err != nil {
//	    log.Fatal(err)
//	}
func New(options ...Option) (*Client, error) {
	c := &Client{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		connectTimeout: socket.DefaultConnectTimeout,
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.loop == nil {
		loop, err := eventloop.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create event loop: %w", err)
		}
		c.loop = loop
		c.ownLoop = true
	}
	c.limiter = ratelimit.New(c.bandwidthLimit)
	c.pi = newPI(c)
	return c, nil
}

// SetCallbacks replaces the event callbacks.
func (c *Client) SetCallbacks(cb Callbacks) {
	c.callbacks = cb
}

// Loop returns the event loop driving the client.
func (c *Client) Loop() *eventloop.Loop { return c.loop }

// ConnectToHost queues a connection to host. A zero port means 21.
func (c *Client) ConnectToHost(host string, port uint16) int {
	if port == 0 {
		port = 21
	}
	cmd := newCommand(ConnectToHost)
	cmd.host = host
	cmd.port = port
	return c.addCommand(cmd)
}

// Login queues USER and PASS. An empty user logs in as "anonymous", an
// empty password is sent as "anonymous@". If the server accepts the user
// without a password, PASS is skipped.
func (c *Client) Login(user, password string) int {
	return c.addCommand(newCommand(Login, loginCommands(user, password)...))
}

// Close queues QUIT. The command finishes once the connection is closed.
func (c *Client) Close() int {
	return c.addCommand(newCommand(Close, "QUIT"))
}

// SetTransferMode selects passive or active data connections for the
// commands queued after it.
func (c *Client) SetTransferMode(mode TransferMode) int {
	id := c.addCommand(newCommand(SetTransferMode))
	c.transferMode = mode
	c.pi.extended = !c.disableEPSV
	return id
}

// List queues a directory listing. Entries are delivered through
// Callbacks.ListInfo. An empty dir lists the working directory.
func (c *Client) List(dir string) int {
	return c.addCommand(newCommand(List, listCommands(dir, c.transferMode)...))
}

// Cd queues a change of the working directory.
func (c *Client) Cd(dir string) int {
	return c.addCommand(newCommand(Cd, "CWD "+dir))
}

// Get queues a download of file into w. With a nil w the data is buffered
// and announced through Callbacks.ReadyRead; ReadAll returns it.
func (c *Client) Get(file string, w io.Writer, t TransferType) int {
	cmd := newCommand(Get, getCommands(file, t, c.transferMode)...)
	cmd.data = writerPayload(w)
	return c.addCommand(cmd)
}

// Put queues an upload of data to file.
func (c *Client) Put(data []byte, file string, t TransferType) int {
	p := bufferPayload(data)
	cmd := newCommand(Put, putCommands(file, p.size, t, c.transferMode)...)
	cmd.data = p
	return c.addCommand(cmd)
}

// PutReader queues an upload of everything r yields to file. The reader is
// consumed on the loop goroutine in 16 KiB chunks.
func (c *Client) PutReader(r io.Reader, file string, t TransferType) int {
	p := readerPayload(r)
	cmd := newCommand(Put, putCommands(file, p.size, t, c.transferMode)...)
	cmd.data = p
	return c.addCommand(cmd)
}

// Remove queues the deletion of file.
func (c *Client) Remove(file string) int {
	return c.addCommand(newCommand(Remove, "DELE "+file))
}

// Rename queues renaming oldName to newName.
func (c *Client) Rename(oldName, newName string) int {
	return c.addCommand(newCommand(Rename, "RNFR "+oldName, "RNTO "+newName))
}

// Mkdir queues the creation of dir.
func (c *Client) Mkdir(dir string) int {
	return c.addCommand(newCommand(Mkdir, "MKD "+dir))
}

// Rmdir queues the removal of dir.
func (c *Client) Rmdir(dir string) int {
	return c.addCommand(newCommand(Rmdir, "RMD "+dir))
}

// RawCommand queues an arbitrary command. Its replies are delivered
// through Callbacks.RawCommandReply.
func (c *Client) RawCommand(command string) int {
	return c.addCommand(newCommand(RawCommand, strings.TrimRight(command, "\r\n")))
}

func (c *Client) addCommand(cmd *command) int {
	c.pending = append(c.pending, cmd)
	c.logger.Debug("queued command", "id", cmd.id, "command", cmd.kind)
	if len(c.pending) == 1 {
		c.loop.Post(c.startNextCommand)
	}
	return cmd.id
}

func (c *Client) startNextCommand() {
	if len(c.pending) == 0 || c.started {
		return
	}
	cmd := c.pending[0]
	c.started = true
	c.err = nil
	c.logger.Debug("starting command", "id", cmd.id, "command", cmd.kind)
	if c.callbacks.CommandStarted != nil {
		c.callbacks.CommandStarted(cmd.id)
	}

	switch cmd.kind {
	case ConnectToHost:
		c.pi.connectToHost(cmd.host, cmd.port)
		return
	case SetTransferMode:
		c.finishCommand(nil)
		return
	case Close:
		if c.state == Unconnected {
			c.finishCommand(nil)
			return
		}
		c.setState(Closing)
	case Get, Put, List:
		c.pi.dtp.setPayload(cmd.data)
	case RawCommand:
		c.pi.rawCommand = true
	}

	if err := c.pi.sendCommands(cmd.wire); err != nil {
		c.finishCommand(err)
	}
}

// finishCommand reports the outcome of the running command and schedules
// the next one.
func (c *Client) finishCommand(err error) {
	if len(c.pending) == 0 {
		return
	}
	cmd := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	c.started = false

	if cmd.aborted {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrAborted, err)
		} else {
			err = ErrAborted
		}
	}
	if err != nil {
		if prefix := cmd.kind.errorPrefix(); prefix != "" {
			err = fmt.Errorf("%s: %w", prefix, err)
		}
		c.err = err
		c.batchErrs = append(c.batchErrs, err)
		c.logger.Debug("command failed", "id", cmd.id, "command", cmd.kind, "error", err)
	} else {
		c.logger.Debug("command finished", "id", cmd.id, "command", cmd.kind)
	}

	if c.callbacks.CommandFinished != nil {
		c.callbacks.CommandFinished(cmd.id, err)
	}

	if len(c.pending) > 0 {
		c.loop.Post(c.startNextCommand)
		return
	}
	errs := c.batchErrs
	c.batchErrs = nil
	c.lastBatchErr = errors.Join(errs...)
	if c.callbacks.Done != nil {
		c.callbacks.Done(len(errs) > 0)
	}
}

func (c *Client) setState(st State) {
	if c.state == st {
		return
	}
	c.logger.Debug("client state changed", "from", c.state, "to", st)
	c.state = st
	if c.callbacks.StateChanged != nil {
		c.callbacks.StateChanged(st)
	}
}

func (c *Client) current() *command {
	if len(c.pending) == 0 || !c.started {
		return nil
	}
	return c.pending[0]
}

// piFinished runs when the interpreter has no more lines to send for the
// running command.
func (c *Client) piFinished() {
	cmd := c.current()
	if cmd == nil {
		return
	}
	if cmd.kind == Close && cmd.err == nil && c.state != Unconnected {
		// Finishes once the connection is gone.
		return
	}
	c.finishCommand(cmd.err)
}

// piError records a failure of the running command. Its remaining lines are
// dropped; the command finishes when the interpreter is idle again. Failing
// SIZE and ALLO do not fail a transfer.
func (c *Client) piError(err error) {
	cmd := c.current()
	if cmd == nil {
		c.logger.Debug("error without a running command", "error", err)
		return
	}
	cur := c.pi.currentCmd
	switch {
	case cmd.kind == Get && strings.HasPrefix(cur, "SIZE "):
		c.pi.dtp.setBytesTotal(0)
		return
	case cmd.kind == Put && strings.HasPrefix(cur, "ALLO "):
		return
	}
	if cmd.err == nil {
		cmd.err = err
	}
	c.pi.clearPendingCommands()
	c.pi.dtp.abortConnection(false)
}

// piConnectionError fails the running command after the control connection
// failed or went away. Close is finished by the state change instead.
func (c *Client) piConnectionError(err error) {
	cmd := c.current()
	if cmd == nil || cmd.kind == Close {
		return
	}
	c.finishCommand(err)
}

func (c *Client) piConnectState(st State) {
	c.setState(st)
	if st != Unconnected {
		return
	}
	if cmd := c.current(); cmd != nil && cmd.kind == Close {
		c.finishCommand(cmd.err)
	}
}

func (c *Client) piReply(code int, text string) {
	cmd := c.current()
	if cmd != nil && cmd.kind == RawCommand && c.callbacks.RawCommandReply != nil {
		c.callbacks.RawCommandReply(code, text)
	}
}

func (c *Client) transferProgress(done, total int64) {
	if c.callbacks.TransferProgress != nil {
		c.callbacks.TransferProgress(done, total)
	}
}

func (c *Client) readyRead() {
	if c.callbacks.ReadyRead != nil {
		c.callbacks.ReadyRead()
	}
}

func (c *Client) listInfo(e *Entry) {
	if c.callbacks.ListInfo != nil {
		c.callbacks.ListInfo(e)
	}
}

// Abort drops every queued command and stops the running one, which then
// finishes with ErrAborted.
func (c *Client) Abort() {
	if len(c.pending) == 0 {
		return
	}
	c.ClearPendingCommands()
	cmd := c.pending[0]
	cmd.aborted = true
	if !c.started {
		c.finishCommand(nil)
		return
	}
	c.pi.abort()
}

// ClearPendingCommands drops every queued command except the running one.
func (c *Client) ClearPendingCommands() {
	if len(c.pending) > 1 {
		clear(c.pending[1:])
		c.pending = c.pending[:1]
	}
}

// HasPendingCommands reports whether commands are queued behind the
// running one.
func (c *Client) HasPendingCommands() bool {
	return len(c.pending) > 1
}

// CurrentID returns the id of the running command, or 0.
func (c *Client) CurrentID() int {
	if len(c.pending) == 0 {
		return 0
	}
	return c.pending[0].id
}

// CurrentCommand returns the kind of the running command, or None.
func (c *Client) CurrentCommand() Command {
	if len(c.pending) == 0 {
		return None
	}
	return c.pending[0].kind
}

// State returns the connection state.
func (c *Client) State() State { return c.state }

// Error returns the error of the last finished command, or nil.
func (c *Client) Error() error { return c.err }

// ReadAll returns and consumes downloaded data of a Get without a writer.
func (c *Client) ReadAll() []byte { return c.pi.dtp.readAll() }

// BytesAvailable returns the number of bytes ReadAll would return.
func (c *Client) BytesAvailable() int64 { return c.pi.dtp.bytesAvailable() }

// WaitForDone drives the loop until every queued command finished and
// returns their joined errors. A negative timeout waits indefinitely.
func (c *Client) WaitForDone(timeout time.Duration) error {
	if len(c.pending) == 0 {
		return nil
	}
	if c.loop.Dispatching() {
		return fmt.Errorf("wait for done: %w", eventloop.ErrReentrant)
	}
	if !c.loop.RunUntil(func() bool { return len(c.pending) == 0 }, timeout) {
		return &socket.Error{Kind: socket.SocketTimeoutError, Op: "wait for done"}
	}
	return c.lastBatchErr
}

// Run drives the loop until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	return c.loop.Run(ctx)
}

// RunOnce runs one iteration of the loop, waiting at most timeout for
// something to happen.
func (c *Client) RunOnce(timeout time.Duration) error {
	return c.loop.RunOnce(timeout)
}

// Shutdown drops all commands and connections without talking to the
// server, and releases the event loop if the client created it.
func (c *Client) Shutdown() error {
	clear(c.pending)
	c.pending = nil
	c.started = false
	c.pi.dtp.abortConnection(false)
	c.pi.sock.SetHandler(socket.Handler{})
	c.pi.sock.Abort()
	c.pi.reset()
	c.setState(Unconnected)
	if c.ownLoop {
		return c.loop.Close()
	}
	return nil
}
