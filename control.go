package ftp

import (
	"strings"
)

// Response represents an FTP server reply.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the reply text. For multi-line replies it is the
	// concatenation of every line with the "ddd-" / "ddd " prefixes and the
	// line terminators removed.
	Message string

	// Lines contains the raw lines of the reply, without terminators.
	Lines []string
}

// IsMultiLine reports whether the reply spanned more than one line.
func (r *Response) IsMultiLine() bool {
	return len(r.Lines) > 1
}

// Is1xx returns true if the reply is a positive preliminary reply.
func (r *Response) Is1xx() bool {
	return r.Code >= 100 && r.Code < 200
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the response code is in the 3xx range (intermediate).
func (r *Response) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// Is4xx returns true if the response code is in the 4xx range (temporary failure).
func (r *Response) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// replyParser assembles replies from lines as they arrive on the control
// connection.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	"220-This is line 2\r\n"
//	"220 Ready\r\n"
//
// The reply is complete when a line starts with the code followed by a
// space. Lines in between that do not carry the "ddd-" prefix are kept
// verbatim.
type replyParser struct {
	code  string // digits of the reply in progress, "" between replies
	text  strings.Builder
	lines []string
}

// pending reports whether a multi-line reply has been started but not
// terminated.
func (p *replyParser) pending() bool {
	return p.code != ""
}

// feed consumes one line. It returns the reply once its last line was fed,
// or an error if the line cannot start a reply.
func (p *replyParser) feed(raw string) (*Response, error) {
	line := strings.TrimRight(raw, "\r\n")

	if p.code == "" {
		if !validReplyCode(line) {
			return nil, malformedReply(line)
		}
		if len(line) > 3 && line[3] != ' ' && line[3] != '-' {
			return nil, malformedReply(line)
		}
		p.code = line[:3]
		p.text.Reset()
		p.lines = p.lines[:0]
		if len(line) > 3 && line[3] == '-' {
			p.lines = append(p.lines, line)
			p.text.WriteString(line[4:])
			return nil, nil
		}
		return p.finish(line), nil
	}

	if line == p.code || strings.HasPrefix(line, p.code+" ") {
		return p.finish(line), nil
	}
	p.lines = append(p.lines, line)
	if strings.HasPrefix(line, p.code+"-") {
		p.text.WriteString(line[4:])
	} else {
		p.text.WriteString(line)
	}
	return nil, nil
}

func (p *replyParser) finish(last string) *Response {
	if len(last) > 4 {
		p.text.WriteString(last[4:])
	}
	lines := make([]string, 0, len(p.lines)+1)
	lines = append(lines, p.lines...)
	lines = append(lines, last)

	r := &Response{
		Code:    int(p.code[0]-'0')*100 + int(p.code[1]-'0')*10 + int(p.code[2]-'0'),
		Message: p.text.String(),
		Lines:   lines,
	}
	p.code = ""
	p.text.Reset()
	p.lines = p.lines[:0]
	return r
}

// validReplyCode checks the first three characters of line: the first digit
// must be 1-5, the second 0-5 and the third 0-9.
func validReplyCode(line string) bool {
	if len(line) < 3 {
		return false
	}
	return line[0] >= '1' && line[0] <= '5' &&
		line[1] >= '0' && line[1] <= '5' &&
		line[2] >= '0' && line[2] <= '9'
}
