package sockengine

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

var loopback = netip.MustParseAddrPort("127.0.0.1:0")

func listenLoopback(t *testing.T) *Engine {
	t.Helper()
	l := New()
	if err := l.Initialize(IPv4); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(l.Close)
	if err := l.SetOption(ReuseAddress, 1); err != nil {
		t.Fatalf("SetOption(ReuseAddress) error = %v", err)
	}
	if err := l.Bind(loopback); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := l.Listen(8); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	return l
}

// connectPair returns a connected client engine and the accepted server side.
func connectPair(t *testing.T) (client, server *Engine) {
	t.Helper()
	l := listenLoopback(t)
	addr := l.LocalAddr()

	client = New()
	if err := client.Initialize(IPv4); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(client.Close)

	status, err := client.Connect(addr)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if status == InProgress {
		_, canWrite, timedOut, err := client.PollReadiness(5*time.Second, false, true)
		if err != nil || timedOut || !canWrite {
			t.Fatalf("PollReadiness() = %v, %v, %v", canWrite, timedOut, err)
		}
		if status, err = client.FinishConnect(addr); err != nil || status != Connected {
			t.Fatalf("FinishConnect() = %v, %v", status, err)
		}
	}

	if canRead, _, _, err := l.PollReadiness(5*time.Second, true, false); err != nil || !canRead {
		t.Fatalf("listener never became readable: %v", err)
	}
	fd, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	server = New()
	if err := server.Adopt(fd); err != nil {
		t.Fatalf("Adopt() error = %v", err)
	}
	t.Cleanup(server.Close)
	return client, server
}

func TestEngine_ConnectReadWrite(t *testing.T) {
	t.Parallel()
	client, server := connectPair(t)

	if client.PeerAddr() != server.LocalAddr() {
		t.Errorf("client peer %v != server local %v", client.PeerAddr(), server.LocalAddr())
	}

	if _, err := server.Read(make([]byte, 8)); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Read() on idle socket error = %v, want ErrWouldBlock", err)
	}

	msg := []byte("220 ready\r\n")
	if n, err := client.Write(msg); err != nil || n != len(msg) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if canRead, _, _, err := server.PollReadiness(5*time.Second, true, false); err != nil || !canRead {
		t.Fatalf("server never became readable: %v", err)
	}
	if got := server.BytesAvailable(); got != len(msg) {
		t.Errorf("BytesAvailable() = %d, want %d", got, len(msg))
	}
	buf := make([]byte, 64)
	n, err := server.Read(buf)
	if err != nil || string(buf[:n]) != string(msg) {
		t.Fatalf("Read() = %q, %v", buf[:n], err)
	}

	if err := client.ShutdownWrite(); err != nil {
		t.Fatalf("ShutdownWrite() error = %v", err)
	}
	if _, _, _, err := server.PollReadiness(5*time.Second, true, false); err != nil {
		t.Fatal(err)
	}
	if _, err := server.Read(buf); KindOf(err) != KindRemoteClosed {
		t.Errorf("Read() after peer shutdown error = %v, want RemoteClosed", err)
	}

	// Half-closed: the other direction still works.
	if _, err := server.Write([]byte("ok")); err != nil {
		t.Fatalf("Write() on half-closed socket error = %v", err)
	}
	if _, _, _, err := client.PollReadiness(5*time.Second, true, false); err != nil {
		t.Fatal(err)
	}
	if n, err := client.Read(buf); err != nil || string(buf[:n]) != "ok" {
		t.Errorf("Read() = %q, %v", buf[:n], err)
	}
}

func TestEngine_ConnectRefused(t *testing.T) {
	t.Parallel()
	l := listenLoopback(t)
	addr := l.LocalAddr()
	l.Close()

	e := New()
	if err := e.Initialize(IPv4); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	status, err := e.Connect(addr)
	if err == nil && status == InProgress {
		if _, _, _, perr := e.PollReadiness(5*time.Second, false, true); perr != nil {
			t.Fatal(perr)
		}
		_, err = e.FinishConnect(addr)
	}
	if KindOf(err) != KindConnectionRefused {
		t.Errorf("connect to closed port error = %v, want ConnectionRefused", err)
	}
}

func TestEngine_PollTimeout(t *testing.T) {
	t.Parallel()
	_, server := connectPair(t)

	start := time.Now()
	canRead, _, timedOut, err := server.PollReadiness(20*time.Millisecond, true, false)
	if err != nil || canRead || !timedOut {
		t.Fatalf("PollReadiness() = %v, %v, %v; want timeout", canRead, timedOut, err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Errorf("PollReadiness returned too early")
	}
}

func TestEngine_Invalid(t *testing.T) {
	t.Parallel()
	e := New()
	if e.IsValid() || e.Descriptor() != -1 {
		t.Fatal("new engine should have no descriptor")
	}
	if _, err := e.Read(make([]byte, 1)); KindOf(err) != KindNotConnected {
		t.Errorf("Read() error = %v, want NotConnected", err)
	}
	if _, err := e.Write([]byte("x")); KindOf(err) != KindNotConnected {
		t.Errorf("Write() error = %v, want NotConnected", err)
	}
	if e.BytesAvailable() != 0 {
		t.Error("BytesAvailable() on invalid engine != 0")
	}
	e.Close() // no-op
}

func TestEngine_Options(t *testing.T) {
	t.Parallel()
	client, _ := connectPair(t)

	tests := []struct {
		opt  Option
		set  int
		want func(int) bool
	}{
		{NoDelay, 1, func(v int) bool { return v != 0 }},
		{KeepAlive, 1, func(v int) bool { return v != 0 }},
		{SendBufferSize, 65536, func(v int) bool { return v >= 65536 }},
		{ReceiveBufferSize, 65536, func(v int) bool { return v >= 65536 }},
	}
	for _, tt := range tests {
		t.Run(tt.opt.String(), func(t *testing.T) {
			if err := client.SetOption(tt.opt, tt.set); err != nil {
				t.Fatalf("SetOption() error = %v", err)
			}
			v, err := client.Option(tt.opt)
			if err != nil {
				t.Fatalf("Option() error = %v", err)
			}
			if !tt.want(v) {
				t.Errorf("Option() = %d after SetOption(%d)", v, tt.set)
			}
		})
	}

	if err := client.SetOption(Option(99), 1); KindOf(err) != KindUnsupported {
		t.Errorf("SetOption(unknown) error = %v, want Unsupported", err)
	}
}

func TestMapErrno(t *testing.T) {
	t.Parallel()
	tests := []struct {
		errno unix.Errno
		want  Kind
	}{
		{unix.ECONNREFUSED, KindConnectionRefused},
		{unix.ETIMEDOUT, KindTimeout},
		{unix.ECONNRESET, KindRemoteClosed},
		{unix.EPIPE, KindRemoteClosed},
		{unix.ENOTCONN, KindNotConnected},
		{unix.EAFNOSUPPORT, KindUnsupported},
		{unix.EHOSTUNREACH, KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			err := mapErrno("op", tt.errno)
			if KindOf(err) != tt.want {
				t.Errorf("mapErrno(%v) kind = %v, want %v", tt.errno, KindOf(err), tt.want)
			}
			if !errors.Is(err, tt.errno) {
				t.Errorf("mapErrno(%v) does not wrap the errno", tt.errno)
			}
		})
	}
	if mapErrno("op", nil) != nil {
		t.Error("mapErrno(nil) != nil")
	}
	if KindOf(mapErrno("op", errors.New("x"))) != KindUnknown {
		t.Error("non-errno should map to KindUnknown")
	}
}
