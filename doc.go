// Package ftp implements an event-driven FTP client on top of a
// single-threaded event loop.
//
// # Overview
//
// The client never blocks. Every operation queues a command and returns its
// id; the commands run one after another on the client's event loop, and
// their progress and outcome are delivered through callbacks. The package
// provides:
//   - Passive (PASV/EPSV) and active (PORT/EPRT) data connections, with a
//     one-time fallback from the extended commands to the legacy ones
//   - Downloads into an io.Writer or an internal buffer, uploads from a byte
//     slice or an io.Reader
//   - Unix and DOS directory listing parsers, plus custom parsers
//   - Transfer progress and an optional bandwidth limit
//   - Abort of the command in progress, including ABOR for uploads
//
// The lower layers are usable on their own: package socket offers a
// buffered, non-blocking TCP socket with asynchronous name resolution, and
// package eventloop the reactor that drives it.
//
// # Basic Usage
//
//	client, err := ftp.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Shutdown()
//
//	client.SetCallbacks(ftp.Callbacks{
//	    ListInfo: func(e *ftp.Entry) { fmt.Println(e.Name) },
//	})
//	client.ConnectToHost("ftp.example.com", 21)
//	client.Login("anonymous", "")
//	client.List("/pub")
//	client.Close()
//
//	if err := client.WaitForDone(time.Minute); err != nil {
//	    log.Fatal(err)
//	}
//
// # Driving the Loop
//
// WaitForDone runs the loop until the queue is empty. Programs that own a
// loop of their own can share it with WithLoop and call Run or RunOnce
// instead; callbacks then fire from that loop. The client is not safe for
// concurrent use: call it only from the goroutine running its loop.
//
// # File Transfers
//
//	file, err := os.Open("local.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer file.Close()
//	client.PutReader(file, "remote.txt", ftp.Binary)
//
//	out, err := os.Create("copy.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer out.Close()
//	client.Get("remote.txt", out, ftp.Binary)
//
// TransferProgress reports the bytes moved and the expected total, taken
// from SIZE for downloads and from the payload for uploads.
//
// # Error Handling
//
// A failing command does not stop the queue. CommandFinished receives its
// error, and WaitForDone returns the errors of the whole batch joined.
// Negative replies are *ProtocolError values; connection problems are
// *socket.Error values classified by kind:
//
//	client.SetCallbacks(ftp.Callbacks{
//	    CommandFinished: func(id int, err error) {
//	        var pe *ftp.ProtocolError
//	        switch {
//	        case errors.As(err, &pe):
//	            fmt.Printf("%s: %d %s\n", pe.Command, pe.Code, pe.Response)
//	        case socket.KindOf(err) == socket.ConnectionRefusedError:
//	            fmt.Println("server is down")
//	        }
//	    },
//	})
package ftp
