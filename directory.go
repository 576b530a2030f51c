package ftp

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Entry represents a file or directory entry from a LIST command.
type Entry struct {
	Name    string
	Type    string // "file", "dir", or "link"
	Size    int64
	Target  string // For symlinks, the target path (empty for files/dirs)
	Owner   string
	Group   string
	Mode    os.FileMode
	ModTime time.Time
	Raw     string // The raw line from the LIST command
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.Type == "dir" }

// ListingParser is an interface for parsing directory listing entries.
// Parse reports false for lines it does not recognize.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

var (
	// perms links owner group size month day time/year name
	unixListRegex = regexp.MustCompile(`^([\-dl])([a-zA-Z\-]{9,9})\s+\d+\s+(\S*)\s+(\S*)\s+(\d+)\s+(\S+\s+\S+\s+\S+)\s+(\S.*)`)

	// MM-DD-YY  HH:MMAM size|<DIR> name
	dosListRegex = regexp.MustCompile(`^(\d\d-\d\d-\d\d)\s+(\d\d:\d\d[AP]M)\s+(<DIR>|\d+)\s+(\S.*)$`)
)

// UnixParser parses Unix-style "ls -l" directory entries.
type UnixParser struct {
	now func() time.Time
}

// Parse implements ListingParser.
func (p *UnixParser) Parse(line string) (*Entry, bool) {
	m := unixListRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	size, err := strconv.ParseInt(m[5], 10, 64)
	if err != nil {
		return nil, false
	}

	entry := &Entry{
		Owner: m[3],
		Group: m[4],
		Size:  size,
		Mode:  parseUnixPerms(m[2]),
		Raw:   line,
	}
	name := m[7]
	switch m[1] {
	case "d":
		entry.Type = "dir"
		entry.Mode |= os.ModeDir
	case "l":
		entry.Type = "link"
		entry.Mode |= os.ModeSymlink
		if before, after, ok := strings.Cut(name, " -> "); ok && before != "" {
			name = before
			entry.Target = after
		}
	default:
		entry.Type = "file"
	}
	entry.Name = name

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	entry.ModTime, _ = parseUnixDate(m[6], now())
	return entry, true
}

// parseUnixPerms converts "rwxr-x--x" into permission bits. 's' and 't'
// imply the execute bit; their upper-case forms do not.
func parseUnixPerms(perms string) os.FileMode {
	var mode os.FileMode
	for i := 0; i < 9 && i < len(perms); i++ {
		bit := os.FileMode(1) << (8 - i)
		switch c := perms[i]; c {
		case 'r', 'w', 'x':
			if c == "rwx"[i%3] {
				mode |= bit
			}
		case 's', 'S':
			if c == 's' {
				mode |= bit
			}
			if i == 2 {
				mode |= os.ModeSetuid
			} else if i == 5 {
				mode |= os.ModeSetgid
			}
		case 't', 'T':
			if c == 't' {
				mode |= bit
			}
			if i == 8 {
				mode |= os.ModeSticky
			}
		}
	}
	return mode
}

// parseUnixDate parses the three date tokens of a Unix listing: either
// "Mon DD YYYY" or "Mon DD HH:MM". The second form has no year: the current
// year is assumed, and the previous one if that puts the date more than a
// day into the future.
func parseUnixDate(s string, now time.Time) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	loc := now.Location()
	if t, err := time.ParseInLocation("Jan 2 2006", s, loc); err == nil {
		return t, true
	}
	t, err := time.ParseInLocation("Jan 2 15:04", s, loc)
	if err != nil {
		return time.Time{}, false
	}
	t = t.AddDate(now.Year()-t.Year(), 0, 0)
	if t.After(now.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t, true
}

// DOSParser parses DOS/Windows-style directory entries.
type DOSParser struct{}

// Parse implements ListingParser.
func (p *DOSParser) Parse(line string) (*Entry, bool) {
	m := dosListRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	entry := &Entry{Name: m[4], Raw: line}
	if m[3] == "<DIR>" {
		entry.Type = "dir"
		entry.Mode = os.ModeDir
	} else {
		size, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, false
		}
		entry.Type = "file"
		entry.Size = size
	}
	if t, err := time.Parse("01-02-06 03:04PM", m[1]+" "+m[2]); err == nil {
		entry.ModTime = t
	}
	return entry, true
}

// CompositeParser tries multiple parsers in order.
type CompositeParser struct {
	Parsers []ListingParser
}

// Parse implements ListingParser. Blank lines never match.
func (p *CompositeParser) Parse(line string) (*Entry, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, false
	}
	for _, parser := range p.Parsers {
		if entry, ok := parser.Parse(line); ok {
			return entry, true
		}
	}
	return nil, false
}

// defaultParsers returns the built-in parsers preceded by custom ones.
func defaultParsers(custom []ListingParser) []ListingParser {
	parsers := make([]ListingParser, 0, len(custom)+2)
	parsers = append(parsers, custom...)
	return append(parsers, &UnixParser{}, &DOSParser{})
}

// isMissingTarget reports whether an unparsed listing line is the server
// telling us, on the data connection, that the listed path does not exist.
func isMissingTarget(line string) bool {
	return strings.HasSuffix(strings.TrimRight(line, "\r\n"), "No such file or directory")
}
