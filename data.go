package ftp

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// pasvRegex matches the PASV response format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
var pasvRegex = regexp.MustCompile(`(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)`)

// parsePASV parses a PASV reply text and returns the data address.
// Example: "Entering Passive Mode (192,168,1,1,195,149)"
// Returns: 192.168.1.1:50069 (195*256 + 149 = 50069)
func parsePASV(response string) (netip.AddrPort, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return netip.AddrPort{}, fmt.Errorf("invalid PASV response: %s", response)
	}

	var parts [6]int
	for i := range parts {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return netip.AddrPort{}, fmt.Errorf("invalid PASV field: %s", matches[i+1])
		}
		parts[i] = val
	}
	ip := netip.AddrFrom4([4]byte{byte(parts[0]), byte(parts[1]), byte(parts[2]), byte(parts[3])})
	port := uint16(parts[4]<<8 | parts[5])
	return netip.AddrPortFrom(ip, port), nil
}

// parseEPSV parses an EPSV reply text and returns the port.
// Example: "Entering Extended Passive Mode (|||6446|)"
// Returns: 6446
//
// RFC 2428 lets the server pick any printable delimiter in place of '|'.
func parseEPSV(response string) (uint16, error) {
	open := strings.IndexByte(response, '(')
	if open < 0 || len(response) < open+6 {
		return 0, fmt.Errorf("invalid EPSV response: %s", response)
	}
	body := response[open+1:]
	d := body[0]
	if d < 33 || d > 126 || body[1] != d || body[2] != d {
		return 0, fmt.Errorf("invalid EPSV response: %s", response)
	}
	rest := body[3:]
	end := strings.IndexByte(rest, d)
	if end <= 0 || end+1 >= len(rest) || rest[end+1] != ')' {
		return 0, fmt.Errorf("invalid EPSV response: %s", response)
	}
	port, err := strconv.ParseUint(rest[:end], 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("invalid EPSV port: %s", rest[:end])
	}
	return uint16(port), nil
}

// formatPORT formats an address for the PORT command.
// Converts 192.168.1.100:50000 to "192,168,1,100,195,80"
func formatPORT(addr netip.AddrPort) (string, error) {
	ip := addr.Addr().Unmap()
	if !ip.Is4() {
		return "", fmt.Errorf("PORT requires IPv4 address, got %s", addr.Addr())
	}
	b := ip.As4()
	port := addr.Port()
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", b[0], b[1], b[2], b[3], port>>8, port&0xff), nil
}

// formatEPRT formats an address for the EPRT command.
// Format: |d|net-prt|net-addr|tcp-port|
// net-prt: 1 for IPv4, 2 for IPv6
func formatEPRT(addr netip.AddrPort) string {
	ip := addr.Addr().Unmap()
	proto := 2
	if ip.Is4() {
		proto = 1
	}
	return fmt.Sprintf("|%d|%s|%d|", proto, ip.WithZone(""), addr.Port())
}

// resolveDataAddr resolves the data connection address.
// If the PASV reply carries 0.0.0.0, the control connection peer is used.
func resolveDataAddr(pasv netip.AddrPort, controlPeer netip.Addr) netip.AddrPort {
	if pasv.Addr().IsUnspecified() && controlPeer.IsValid() {
		return netip.AddrPortFrom(controlPeer, pasv.Port())
	}
	return pasv
}
