package textsmtp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
)

// Conn reads SMTP replies from and writes CRLF terminated commands to
// a byte stream. It is not safe for concurrent use; the protocol is
// strictly one command, one reply.
type Conn struct {
	R    *bufio.Reader
	W    *bufio.Writer
	conn io.ReadWriteCloser

	readerSize    int
	writerSize    int
	maxLineLength int
}

// NewConn wraps conn. Zero sizes fall back to the bufio defaults and a zero
// maxLineLength disables the line length check.
func NewConn(conn io.ReadWriteCloser, readerSize, writerSize, maxLineLength int) *Conn {
	c := &Conn{
		readerSize:    readerSize,
		writerSize:    writerSize,
		maxLineLength: maxLineLength,
	}
	c.Replace(conn)
	return c
}

// Replace swaps the underlying stream, e.g. after a STARTTLS handshake.
// Buffered but unread input is discarded.
func (c *Conn) Replace(conn io.ReadWriteCloser) {
	c.conn = conn
	if c.readerSize > 0 {
		c.R = bufio.NewReaderSize(conn, c.readerSize)
	} else {
		c.R = bufio.NewReader(conn)
	}
	if c.writerSize > 0 {
		c.W = bufio.NewWriterSize(conn, c.writerSize)
	} else {
		c.W = bufio.NewWriter(conn)
	}
}

// Buffered returns the number of bytes read from the stream but not yet
// consumed. A server must not send anything after its 220 to STARTTLS.
func (c *Conn) Buffered() int {
	return c.R.Buffered()
}

// PrintfLine writes the formatted output followed by \r\n and flushes.
func (c *Conn) PrintfLine(format string, args ...any) error {
	if _, err := fmt.Fprintf(c.W, format, args...); err != nil {
		return err
	}
	if _, err := c.W.Write(crnl); err != nil {
		return err
	}
	return c.W.Flush()
}

// ReadResponse reads one reply of the form:
//
//	code-message line 1
//	code-message line 2
//	...
//	code message line n
//
// Every line must carry the same three-digit code; the reply ends at the
// first line whose separator is a space. A line without a valid code, a code
// that changes between lines, or a stream that ends before the final line
// is reported as *smtp.ProtocolError and no partial response is returned.
//
// Network timeouts are returned unchanged so the caller can classify them.
func (c *Conn) ReadResponse() (smtp.Response, error) {
	var (
		resp smtp.Response
		raw  []string
	)

	for {
		line, err := c.ReadLine()
		if err != nil {
			var perr *smtp.ProtocolError
			if smtp.IsTimeout(err) || errors.As(err, &perr) {
				return smtp.Response{}, err
			}
			msg := "connection closed before reply"
			if len(raw) > 0 {
				msg = "connection closed in the middle of a multi-line reply"
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return smtp.Response{}, &smtp.ProtocolError{Msg: msg, Err: err}
		}

		code, continued, text, err := parseCodeLine(line)
		if err != nil {
			return smtp.Response{}, err
		}
		if len(raw) > 0 && code != resp.Code {
			return smtp.Response{}, &smtp.ProtocolError{
				Msg: fmt.Sprintf("reply code changed from %03d to %03d within one reply", resp.Code, code),
			}
		}

		resp.Code = code
		resp.Lines = append(resp.Lines, text)
		raw = append(raw, line)

		if !continued {
			break
		}
	}

	resp.Raw = strings.Join(raw, "\n")
	return resp, nil
}

// parseCodeLine splits "<code><sep><text>". A bare three digit line is a
// final line with empty text.
func parseCodeLine(line string) (code int, continued bool, text string, err error) {
	if len(line) < 3 || len(line) > 3 && line[3] != ' ' && line[3] != '-' {
		err = &smtp.ProtocolError{Msg: "malformed reply line " + strconv.Quote(line)}
		return
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			err = &smtp.ProtocolError{Msg: "invalid reply code in " + strconv.Quote(line)}
			return
		}
	}
	code, _ = strconv.Atoi(line[:3])
	if code < 100 || code > 599 {
		err = &smtp.ProtocolError{Msg: "invalid reply code in " + strconv.Quote(line)}
		return
	}
	if len(line) == 3 {
		return code, false, "", nil
	}
	return code, line[3] == '-', line[4:], nil
}

// Expect validates resp against the code the protocol requires at step.
func Expect(resp smtp.Response, code int, step smtp.Step) error {
	if resp.Code != code {
		return smtp.NewUnexpectedResponseError(step, code, resp)
	}
	return nil
}

// ReadLine reads a single line, eliding the final \n or \r\n.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.readLineSlice()
	return string(line), err
}

func (c *Conn) readLineSlice() ([]byte, error) {
	var line []byte
	for {
		l, more, err := c.R.ReadLine()
		if err != nil {
			return nil, err
		}
		// Avoid the copy if the first call produced a full line.
		if line == nil && !more {
			return l, nil
		}
		line = append(line, l...)
		if c.maxLineLength > 0 && len(line) > c.maxLineLength {
			return nil, &smtp.ProtocolError{Msg: "reply line too long"}
		}
		if !more {
			break
		}
	}
	return line, nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.conn.Close()
}
