package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseJob(t *testing.T) {
	t.Parallel()
	job, err := ParseJob([]byte(`
host: ftp.example.com
port: 2121
user: alice
password: secret
mode: active
connect_timeout: 10s
timeout: 90s
bandwidth_limit: 65536
steps:
  - op: list
    path: /pub
  - op: get
    path: /pub/README
    local: README
    ascii: true
  - op: rename
    path: a.txt
    to: b.txt
`))
	if err != nil {
		t.Fatal(err)
	}
	if job.Host != "ftp.example.com" || job.Port != 2121 || job.User != "alice" {
		t.Errorf("job = %+v", job)
	}
	if job.connectTimeout != 10*time.Second || job.timeout != 90*time.Second {
		t.Errorf("timeouts = %v, %v", job.connectTimeout, job.timeout)
	}
	if len(job.Steps) != 3 || !job.Steps[1].ASCII || job.Steps[2].To != "b.txt" {
		t.Errorf("steps = %+v", job.Steps)
	}
}

func TestParseJob_Defaults(t *testing.T) {
	t.Parallel()
	job, err := ParseJob([]byte("host: localhost\n"))
	if err != nil {
		t.Fatal(err)
	}
	if job.timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", job.timeout, defaultTimeout)
	}
	if job.connectTimeout != 0 {
		t.Errorf("connectTimeout = %v, want 0", job.connectTimeout)
	}
}

func TestParseJob_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing host", "port: 21\n", "host is required"},
		{"unknown key", "host: h\nspeed: 3\n", "speed"},
		{"bad mode", "host: h\nmode: turbo\n", "unknown mode"},
		{"conflicting EPSV flags", "host: h\nextended: true\ndisable_epsv: true\n", "mutually exclusive"},
		{"bad duration", "host: h\ntimeout: soon\n", "timeout"},
		{"negative duration", "host: h\nconnect_timeout: -1s\n", "must be positive"},
		{"unknown op", "host: h\nsteps:\n  - op: chmod\n", "step 1: unknown op"},
		{"missing op", "host: h\nsteps:\n  - path: x\n", "missing op"},
		{"put without local", "host: h\nsteps:\n  - op: put\n    path: x\n", "local file"},
		{"rename without target", "host: h\nsteps:\n  - op: rename\n    path: x\n", "new name"},
		{"cd without path", "host: h\nsteps:\n  - op: list\n  - op: cd\n", "step 2: cd needs a path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestReadJob(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte("host: localhost\nsteps:\n  - op: list\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	job, err := ReadJob(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(job.Steps) != 1 {
		t.Errorf("got %d steps, want 1", len(job.Steps))
	}

	if _, err := ReadJob(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ReadJob succeeded on a missing file")
	}
}
