package ftp

import (
	"errors"
	"fmt"

	"github.com/gonzalop/netftp/socket"
)

// ProtocolError is a negative server reply to a command. It keeps the
// command/reply pair so failures can be diagnosed without a wire trace.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR file.txt")
	Command string

	// Response is the reply text received from the server (e.g., "Permission denied")
	Response string

	// Code is the numeric FTP reply code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
// This can be used to implement retry logic.
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx) or a
// 202 "command not implemented, superfluous" reply.
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx() || e.Code == 202
}

// ListingError reports a listing line in which the server said the target
// does not exist. The LIST command fails with it after the transfer ends.
type ListingError struct {
	Line string
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("ftp: listing failed: %s", e.Line)
}

var (
	// ErrAborted finishes the command that was running when Abort was called.
	// Queued commands dropped by Abort are not reported.
	ErrAborted = errors.New("ftp: command aborted")

	// ErrMalformedReply is wrapped by errors for replies that do not follow
	// the FTP reply syntax. Such errors also carry socket.ProtocolError.
	ErrMalformedReply = errors.New("ftp: malformed reply")
)

// connectionError returns the error a command fails with when the control
// connection goes away under it.
func connectionError(op string, err error) error {
	if err == nil {
		err = &socket.Error{Kind: socket.RemoteClosedError, Op: op}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// malformedReply wraps a reply syntax problem into the socket taxonomy.
func malformedReply(line string) error {
	return &socket.Error{
		Kind: socket.ProtocolError,
		Op:   "read reply",
		Err:  fmt.Errorf("%w: %q", ErrMalformedReply, line),
	}
}
