package ftp

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"
)

// Command identifies the kind of a queued client operation.
type Command int

const (
	None Command = iota
	SetTransferMode
	ConnectToHost
	Login
	Close
	List
	Cd
	Get
	Put
	Remove
	Mkdir
	Rmdir
	Rename
	RawCommand
)

var commandNames = [...]string{
	None:            "None",
	SetTransferMode: "SetTransferMode",
	ConnectToHost:   "ConnectToHost",
	Login:           "Login",
	Close:           "Close",
	List:            "List",
	Cd:              "Cd",
	Get:             "Get",
	Put:             "Put",
	Remove:          "Remove",
	Mkdir:           "Mkdir",
	Rmdir:           "Rmdir",
	Rename:          "Rename",
	RawCommand:      "RawCommand",
}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// TransferMode selects who opens data connections.
type TransferMode int

const (
	// Passive makes the client connect to an address announced by the
	// server (PASV/EPSV).
	Passive TransferMode = iota
	// Active makes the server connect to a port the client listens on
	// (PORT/EPRT).
	Active
)

// TransferType selects the representation type of a transfer.
type TransferType int

const (
	Binary TransferType = iota
	ASCII
)

func (t TransferType) command() string {
	if t == ASCII {
		return "TYPE A"
	}
	return "TYPE I"
}

type payloadKind int

const (
	payloadNone payloadKind = iota
	payloadBuffer
	payloadStream
)

// payload is the data side of a transfer: an in-memory upload, a stream to
// read an upload from or write a download to, or nothing.
type payload struct {
	kind payloadKind
	buf  []byte
	r    io.Reader
	w    io.Writer
	size int64 // upload size, 0 when unknown
}

func bufferPayload(b []byte) payload {
	return payload{kind: payloadBuffer, buf: b, size: int64(len(b))}
}

func readerPayload(r io.Reader) payload {
	return payload{kind: payloadStream, r: r, size: readerSize(r)}
}

func writerPayload(w io.Writer) payload {
	if w == nil {
		return payload{}
	}
	return payload{kind: payloadStream, w: w}
}

// readerSize guesses the number of bytes r will yield, or 0.
func readerSize(r io.Reader) int64 {
	switch v := r.(type) {
	case interface{ Len() int }:
		return int64(v.Len())
	case interface{ Stat() (os.FileInfo, error) }:
		if fi, err := v.Stat(); err == nil && fi.Mode().IsRegular() {
			return fi.Size()
		}
	}
	return 0
}

var lastCommandID atomic.Int64

// command is a queued logical operation and the wire lines it expands to.
type command struct {
	id      int
	kind    Command
	wire    []string
	host    string
	port    uint16
	data    payload
	err     error
	aborted bool
}

func newCommand(kind Command, wire ...string) *command {
	return &command{
		id:   int(lastCommandID.Add(1)),
		kind: kind,
		wire: wire,
	}
}

func dataCommand(mode TransferMode) string {
	if mode == Active {
		return "PORT"
	}
	return "PASV"
}

func loginCommands(user, password string) []string {
	if user == "" {
		user = "anonymous"
	}
	if password == "" {
		password = "anonymous@"
	}
	return []string{"USER " + user, "PASS " + password}
}

func listCommands(dir string, mode TransferMode) []string {
	list := "LIST"
	if dir != "" {
		list += " " + dir
	}
	return []string{"TYPE A", dataCommand(mode), list}
}

func getCommands(file string, t TransferType, mode TransferMode) []string {
	return []string{t.command(), "SIZE " + file, dataCommand(mode), "RETR " + file}
}

func putCommands(file string, size int64, t TransferType, mode TransferMode) []string {
	cmds := []string{t.command(), dataCommand(mode)}
	if size > 0 {
		cmds = append(cmds, "ALLO "+strconv.FormatInt(size, 10))
	}
	return append(cmds, "STOR "+file)
}

// errorPrefix names what failed for the logical operation.
func (c Command) errorPrefix() string {
	switch c {
	case ConnectToHost:
		return "connecting to host failed"
	case Login:
		return "login failed"
	case List:
		return "listing directory failed"
	case Cd:
		return "changing directory failed"
	case Get:
		return "downloading file failed"
	case Put:
		return "uploading file failed"
	case Remove:
		return "removing file failed"
	case Mkdir:
		return "creating directory failed"
	case Rmdir:
		return "removing directory failed"
	case Rename:
		return "renaming file failed"
	}
	return ""
}
