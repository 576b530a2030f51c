package ftp

import (
	"testing"
)

func FuzzParseListLine(f *testing.F) {
	// Add seed corpus
	f.Add("-rw-r--r--   1 user  group     1024 Dec 20 10:30 file.txt")
	f.Add("drwxr-xr-x   2 user  group     4096 Dec 20 10:30 mydir")
	f.Add("lrwxrwxrwx   1 root  root        11 Dec 20 10:30 link -> target.txt")
	f.Add("09-24-24  10:30AM       <DIR>          logger")
	f.Add("12-14-23  12:22PM           1037794 large-document.pdf")
	f.Add("ls: /nope: No such file or directory")

	parser := &CompositeParser{Parsers: defaultParsers(nil)}
	f.Fuzz(func(t *testing.T, line string) {
		entry, ok := parser.Parse(line)
		if ok && entry == nil {
			t.Fatalf("Parse(%q) matched without an entry", line)
		}
		if ok && entry.Name == "" {
			t.Fatalf("Parse(%q) returned an empty name", line)
		}
	})
}
