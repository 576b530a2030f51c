package ftp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gonzalop/netftp/eventloop"
	"github.com/gonzalop/netftp/socket"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// WithLogger enables debug logging using the provided logger.
// All FTP commands and responses will be logged at debug level, PASS
// arguments excepted.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := ftp.New(ftp.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("nil logger")
		}
		c.logger = logger
		return nil
	}
}

// WithConnectTimeout bounds every attempt to connect to a single address,
// for the control and the data connection alike. The default is 30 seconds.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", timeout)
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithActiveMode enables active mode (PORT) instead of passive mode (PASV/EPSV).
// In active mode, the client opens a port and tells the server to connect to it.
// This is less common than passive mode and may not work behind NAT/firewalls.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.transferMode = Active
		return nil
	}
}

// WithDisableEPSV disables the extended EPSV and EPRT commands.
// By default they are used on IPv6 control connections, falling back to
// PASV and PORT once if the server rejects them.
func WithDisableEPSV() Option {
	return func(c *Client) error {
		if c.extendedMode {
			return fmt.Errorf("EPSV cannot be both disabled and forced")
		}
		c.disableEPSV = true
		return nil
	}
}

// WithExtendedMode makes the client send EPSV and EPRT on IPv4 control
// connections too.
func WithExtendedMode() Option {
	return func(c *Client) error {
		if c.disableEPSV {
			return fmt.Errorf("EPSV cannot be both disabled and forced")
		}
		c.extendedMode = true
		return nil
	}
}

// WithCustomListParser adds a custom directory listing parser.
// Custom parsers are tried before the built-in parsers (Unix, DOS).
// This allows handling non-standard LIST formats.
func WithCustomListParser(parser ListingParser) Option {
	return func(c *Client) error {
		if parser == nil {
			return fmt.Errorf("nil listing parser")
		}
		// Prepend the custom parser so it has priority
		c.parsers = append([]ListingParser{parser}, c.parsers...)
		return nil
	}
}

// WithBandwidthLimit caps data transfers at bytesPerSecond, in both
// directions. Zero or negative means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.bandwidthLimit = bytesPerSecond
		return nil
	}
}

// WithLoop runs the client on an existing event loop, so it can share the
// loop with other sockets. Shutdown leaves such a loop open.
func WithLoop(loop *eventloop.Loop) Option {
	return func(c *Client) error {
		if loop == nil {
			return fmt.Errorf("nil event loop")
		}
		c.loop = loop
		return nil
	}
}

// WithResolver sets the resolver used to look up host names.
func WithResolver(r socket.Resolver) Option {
	return func(c *Client) error {
		c.resolver = r
		return nil
	}
}

// WithDataReadBufferSize limits how much downloaded data is buffered before
// the client stops reading from the data connection. Zero means unlimited.
func WithDataReadBufferSize(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("negative read buffer size %d", n)
		}
		c.dataReadBufferSize = n
		return nil
	}
}

// WithCallbacks sets the event callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Client) error {
		c.callbacks = cb
		return nil
	}
}
