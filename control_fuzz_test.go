package ftp

import (
	"strings"
	"testing"
)

func FuzzReplyParser(f *testing.F) {
	f.Add("220 Service ready\r\n")
	f.Add("123-a\r\n123-b\r\n123 c\r\n")
	f.Add("211-Features:\r\n SIZE\r\n MDTM\r\n211 End\r\n")
	f.Add("227 Entering Passive Mode (127,0,0,1,4,1)\r\n")
	f.Add("600 bad\r\n")

	f.Fuzz(func(t *testing.T, s string) {
		var p replyParser
		for _, line := range strings.SplitAfter(s, "\n") {
			r, err := p.feed(line)
			if err != nil {
				// A rejected line leaves the parser between replies.
				if p.pending() {
					t.Fatalf("parser pending after error on %q", line)
				}
				continue
			}
			if r != nil && (r.Code < 100 || r.Code > 559) {
				t.Fatalf("reply code %d out of range", r.Code)
			}
		}
	})
}

func FuzzParsePassiveReplies(f *testing.F) {
	f.Add("Entering Passive Mode (192,168,1,1,195,149)")
	f.Add("Entering Extended Passive Mode (|||6446|)")
	f.Add("(!!!1!)")

	f.Fuzz(func(t *testing.T, s string) {
		// Just ensure they don't panic
		_, _ = parsePASV(s)
		_, _ = parseEPSV(s)
	})
}
