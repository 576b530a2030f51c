package ftp

import (
	"net/netip"
	"testing"
)

func TestParsePASV(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantAddr string
		wantErr  bool
	}{
		{
			name:     "standard PASV response",
			input:    "Entering Passive Mode (192,168,1,1,195,149)",
			wantAddr: "192.168.1.1:50069",
		},
		{
			name:     "PASV without parentheses",
			input:    "Entering Passive Mode 10,0,0,5,78,52",
			wantAddr: "10.0.0.5:20020",
		},
		{
			name:    "invalid PASV response",
			input:   "Invalid response",
			wantErr: true,
		},
		{
			name:    "PASV with invalid IP parts",
			input:   "Entering Passive Mode (300,168,1,1,195,149)",
			wantErr: true,
		},
		{
			name:     "PASV with 0.0.0.0 IP",
			input:    "Entering Passive Mode (0,0,0,0,195,149)",
			wantAddr: "0.0.0.0:50069",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := parsePASV(tt.input)

			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePASV() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if addr.String() != tt.wantAddr {
				t.Errorf("parsePASV() = %v, want %v", addr, tt.wantAddr)
			}
		})
	}
}

func TestParseEPSV(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantPort uint16
		wantErr  bool
	}{
		{
			name:     "standard EPSV response",
			input:    "Entering Extended Passive Mode (|||6446|)",
			wantPort: 6446,
		},
		{
			name:     "EPSV with text",
			input:    "Extended Passive Mode OK (|||12345|)",
			wantPort: 12345,
		},
		{
			name:     "other delimiter",
			input:    "Entering Extended Passive Mode (!!!2121!)",
			wantPort: 2121,
		},
		{
			name:    "invalid EPSV response",
			input:   "Invalid response",
			wantErr: true,
		},
		{
			name:    "mixed delimiters",
			input:   "Entering Extended Passive Mode (|!|6446|)",
			wantErr: true,
		},
		{
			name:    "port out of range",
			input:   "Entering Extended Passive Mode (|||70000|)",
			wantErr: true,
		},
		{
			name:    "missing closing parenthesis",
			input:   "Entering Extended Passive Mode (|||6446|",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, err := parseEPSV(tt.input)

			if (err != nil) != tt.wantErr {
				t.Fatalf("parseEPSV() error = %v, wantErr %v", err, tt.wantErr)
			}
			if port != tt.wantPort {
				t.Errorf("parseEPSV() = %v, want %v", port, tt.wantPort)
			}
		})
	}
}

func TestFormatPORT(t *testing.T) {
	t.Parallel()
	got, err := formatPORT(netip.MustParseAddrPort("192.168.1.100:50000"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "192,168,1,100,195,80"; got != want {
		t.Errorf("formatPORT() = %q, want %q", got, want)
	}

	mapped := netip.AddrPortFrom(netip.MustParseAddr("::ffff:10.0.0.1"), 21)
	if got, err := formatPORT(mapped); err != nil || got != "10,0,0,1,0,21" {
		t.Errorf("formatPORT(mapped) = %q, %v", got, err)
	}

	if _, err := formatPORT(netip.MustParseAddrPort("[::1]:2121")); err == nil {
		t.Error("formatPORT accepted an IPv6 address")
	}
}

func TestFormatEPRT(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want string
	}{
		{"10.0.0.1:2121", "|1|10.0.0.1|2121|"},
		{"[::1]:50000", "|2|::1|50000|"},
		{"[2001:db8::5]:21", "|2|2001:db8::5|21|"},
	}
	for _, tt := range tests {
		if got := formatEPRT(netip.MustParseAddrPort(tt.addr)); got != tt.want {
			t.Errorf("formatEPRT(%s) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestResolveDataAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		pasvAddr    string
		controlHost string
		wantAddr    string
	}{
		{
			name:        "normal address",
			pasvAddr:    "192.168.1.5:12345",
			controlHost: "10.0.0.1",
			wantAddr:    "192.168.1.5:12345",
		},
		{
			name:        "zero address",
			pasvAddr:    "0.0.0.0:12345",
			controlHost: "10.0.0.1",
			wantAddr:    "10.0.0.1:12345",
		},
		{
			name:        "zero address over IPv6 control",
			pasvAddr:    "0.0.0.0:12345",
			controlHost: "2001:db8::1",
			wantAddr:    "[2001:db8::1]:12345",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveDataAddr(netip.MustParseAddrPort(tt.pasvAddr), netip.MustParseAddr(tt.controlHost))
			if got.String() != tt.wantAddr {
				t.Errorf("resolveDataAddr() = %v, want %v", got, tt.wantAddr)
			}
		})
	}

	// Without a known peer the announced address is kept.
	zero := netip.MustParseAddrPort("0.0.0.0:1")
	if got := resolveDataAddr(zero, netip.Addr{}); got != zero {
		t.Errorf("resolveDataAddr(zero, invalid) = %v, want %v", got, zero)
	}
}
