package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Job describes one batch run: where to connect and what to do there.
type Job struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Mode is "passive" (default) or "active".
	Mode string `yaml:"mode"`
	// Extended forces EPSV/EPRT on IPv4; DisableEPSV never sends them.
	Extended    bool `yaml:"extended"`
	DisableEPSV bool `yaml:"disable_epsv"`

	// ConnectTimeout and Timeout are Go durations ("30s", "5m").
	ConnectTimeout string `yaml:"connect_timeout"`
	Timeout        string `yaml:"timeout"`

	// BandwidthLimit in bytes per second, 0 for unlimited.
	BandwidthLimit int64 `yaml:"bandwidth_limit"`

	Steps []Step `yaml:"steps"`

	connectTimeout time.Duration
	timeout        time.Duration
}

// Step is a single queued operation.
type Step struct {
	// Op is one of list, cd, get, put, remove, mkdir, rmdir, rename, raw.
	Op string `yaml:"op"`
	// Path is the remote path, or the raw command line for raw.
	Path string `yaml:"path"`
	// To is the new name for rename.
	To string `yaml:"to"`
	// Local is the local file for get and put. An empty Local on get
	// writes to stdout.
	Local string `yaml:"local"`
	// ASCII selects TYPE A for get and put.
	ASCII bool `yaml:"ascii"`
}

const defaultTimeout = 5 * time.Minute

// ReadJob loads and validates a job file.
func ReadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return ParseJob(data)
}

// ParseJob decodes a YAML job. Unknown keys are rejected.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) validate() error {
	if j.Host == "" {
		return errors.New("job: host is required")
	}
	switch j.Mode {
	case "", "passive", "active":
	default:
		return fmt.Errorf("job: unknown mode %q", j.Mode)
	}
	if j.Extended && j.DisableEPSV {
		return errors.New("job: extended and disable_epsv are mutually exclusive")
	}

	var err error
	if j.connectTimeout, err = parseDuration(j.ConnectTimeout, 0); err != nil {
		return fmt.Errorf("job: connect_timeout: %w", err)
	}
	if j.timeout, err = parseDuration(j.Timeout, defaultTimeout); err != nil {
		return fmt.Errorf("job: timeout: %w", err)
	}

	for i, s := range j.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("job: step %d: %w", i+1, err)
		}
	}
	return nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %v", d)
	}
	return d, nil
}

func (s Step) validate() error {
	switch s.Op {
	case "list":
		return nil
	case "cd", "remove", "mkdir", "rmdir", "raw", "get":
		if s.Path == "" {
			return fmt.Errorf("%s needs a path", s.Op)
		}
	case "put":
		if s.Path == "" || s.Local == "" {
			return errors.New("put needs a path and a local file")
		}
	case "rename":
		if s.Path == "" || s.To == "" {
			return errors.New("rename needs a path and a new name")
		}
	case "":
		return errors.New("missing op")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}
