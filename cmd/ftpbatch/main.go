// Command ftpbatch runs the operations listed in a YAML job file against one
// FTP server, one after another, over a single connection.
//
// Usage:
//
//	ftpbatch -job job.yaml [-v]
//
// Example job:
//
//	host: ftp.gnu.org
//	user: anonymous
//	timeout: 2m
//	steps:
//	  - op: list
//	    path: /gnu
//	  - op: get
//	    path: /gnu/README
//	    local: README
//	    ascii: true
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	ftp "github.com/gonzalop/netftp"
)

func main() {
	jobPath := flag.String("job", "job.yaml", "YAML job file")
	verbose := flag.Bool("v", false, "log FTP commands and replies")
	flag.Parse()

	job, err := ReadJob(*jobPath)
	if err != nil {
		log.Fatalln("Job file error:", err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(job, logger, os.Stdout); err != nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}
}

func clientOptions(job *Job, logger *slog.Logger) []ftp.Option {
	opts := []ftp.Option{ftp.WithLogger(logger)}
	if job.connectTimeout > 0 {
		opts = append(opts, ftp.WithConnectTimeout(job.connectTimeout))
	}
	if job.Mode == "active" {
		opts = append(opts, ftp.WithActiveMode())
	}
	if job.Extended {
		opts = append(opts, ftp.WithExtendedMode())
	}
	if job.DisableEPSV {
		opts = append(opts, ftp.WithDisableEPSV())
	}
	if job.BandwidthLimit > 0 {
		opts = append(opts, ftp.WithBandwidthLimit(job.BandwidthLimit))
	}
	return opts
}

// run queues the whole job on one client and drives it to completion.
// Listings and downloads without a local file go to out.
func run(job *Job, logger *slog.Logger, out io.Writer) error {
	client, err := ftp.New(clientOptions(job, logger)...)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	steps := make(map[int]Step)
	client.SetCallbacks(ftp.Callbacks{
		StateChanged: func(st ftp.State) {
			logger.Debug("state changed", "state", st)
		},
		ListInfo: func(e *ftp.Entry) {
			fmt.Fprintf(out, "%-4s %12d %s %s\n", e.Type, e.Size, e.ModTime.Format("2006-01-02 15:04"), e.Name)
		},
		TransferProgress: func(done, total int64) {
			logger.Debug("transfer progress", "done", done, "total", total)
		},
		RawCommandReply: func(code int, text string) {
			fmt.Fprintf(out, "%d %s\n", code, text)
		},
		CommandFinished: func(id int, err error) {
			s, ok := steps[id]
			if !ok {
				return
			}
			if err != nil {
				logger.Warn("step failed", "op", s.Op, "path", s.Path, "error", err)
				return
			}
			logger.Info("step done", "op", s.Op, "path", s.Path)
		},
	})

	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	client.ConnectToHost(job.Host, job.Port)
	client.Login(job.User, job.Password)
	for _, s := range job.Steps {
		id, f, err := queueStep(client, s, out)
		if err != nil {
			client.Abort()
			return err
		}
		if f != nil {
			files = append(files, f)
		}
		steps[id] = s
	}
	client.Close()

	return client.WaitForDone(job.timeout)
}

func queueStep(c *ftp.Client, s Step, out io.Writer) (int, *os.File, error) {
	t := ftp.Binary
	if s.ASCII {
		t = ftp.ASCII
	}
	switch s.Op {
	case "list":
		return c.List(s.Path), nil, nil
	case "cd":
		return c.Cd(s.Path), nil, nil
	case "remove":
		return c.Remove(s.Path), nil, nil
	case "mkdir":
		return c.Mkdir(s.Path), nil, nil
	case "rmdir":
		return c.Rmdir(s.Path), nil, nil
	case "rename":
		return c.Rename(s.Path, s.To), nil, nil
	case "raw":
		return c.RawCommand(s.Path), nil, nil
	case "get":
		if s.Local == "" {
			return c.Get(s.Path, out, t), nil, nil
		}
		f, err := os.Create(s.Local)
		if err != nil {
			return 0, nil, fmt.Errorf("get %s: %w", s.Path, err)
		}
		return c.Get(s.Path, f, t), f, nil
	case "put":
		f, err := os.Open(s.Local)
		if err != nil {
			return 0, nil, fmt.Errorf("put %s: %w", s.Path, err)
		}
		return c.PutReader(f, s.Path, t), f, nil
	}
	return 0, nil, fmt.Errorf("unknown op %q", s.Op)
}
