package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// serveJob answers a fixed session: login, one listing, one download into
// a local file, QUIT.
func serveJob(t *testing.T, l net.Listener, data net.Listener) {
	conn, err := l.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	c := textproto.NewConn(conn)
	_ = c.PrintfLine("220 ready")

	port := data.Addr().(*net.TCPAddr).Port
	transfer := func(f func(net.Conn)) {
		_ = c.PrintfLine("150 opening data connection")
		d, err := data.Accept()
		if err != nil {
			t.Errorf("data accept: %v", err)
			return
		}
		f(d)
		d.Close()
		_ = c.PrintfLine("226 done")
	}

	for {
		line, err := c.ReadLine()
		if err != nil {
			return
		}
		cmd, _, _ := strings.Cut(line, " ")
		switch cmd {
		case "USER":
			_ = c.PrintfLine("331 password please")
		case "PASS":
			_ = c.PrintfLine("230 logged in")
		case "TYPE":
			_ = c.PrintfLine("200 ok")
		case "SIZE":
			_ = c.PrintfLine("213 5")
		case "PASV":
			_ = c.PrintfLine("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
		case "LIST":
			transfer(func(d net.Conn) {
				fmt.Fprint(d, "-rw-r--r--   1 ftp      ftp             5 Aug 10  2004 hello.txt\r\n")
			})
		case "RETR":
			transfer(func(d net.Conn) { fmt.Fprint(d, "hello") })
		case "QUIT":
			_ = c.PrintfLine("221 bye")
			return
		default:
			_ = c.PrintfLine("502 not implemented")
		}
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	data, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer data.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveJob(t, l, data)
	}()

	local := filepath.Join(t.TempDir(), "hello.txt")
	job, err := ParseJob(fmt.Appendf(nil, `
host: 127.0.0.1
port: %d
connect_timeout: 5s
timeout: 10s
steps:
  - op: list
  - op: get
    path: hello.txt
    local: %s
`, l.Addr().(*net.TCPAddr).Port, local))
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := run(job, logger, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	<-done

	if !strings.Contains(out.String(), "hello.txt") {
		t.Errorf("listing output %q lacks hello.txt", out.String())
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("downloaded %q, want hello", got)
	}
}
