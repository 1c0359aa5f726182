package smtp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrOutOfSequence is returned when a command is issued in a session state
// that does not allow it.
var ErrOutOfSequence = errors.New("smtp: command out of sequence")

// EnhancedCode is the RFC 3463 enhanced status code, e.g. {5, 1, 1}.
type EnhancedCode [3]int

// EnhancedCodeNotSet is the value used when the server did not send one.
var EnhancedCodeNotSet = EnhancedCode{0, 0, 0}

func (c EnhancedCode) String() string {
	if c == EnhancedCodeNotSet {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", c[0], c[1], c[2])
}

// ParseEnhancedCode parses the leading "X.Y.Z" token of a reply line.
// It returns the code and the remaining text.
func ParseEnhancedCode(text string) (EnhancedCode, string, bool) {
	token, rest, _ := strings.Cut(text, " ")
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return EnhancedCodeNotSet, text, false
	}

	var code EnhancedCode
	for i, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil || num < 0 {
			return EnhancedCodeNotSet, text, false
		}
		code[i] = num
	}
	if code[0] < 2 || code[0] > 5 {
		return EnhancedCodeNotSet, text, false
	}
	return code, rest, true
}

// ConfigurationError means a required setting is missing or invalid.
// It is always returned before any network activity.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("smtp: invalid configuration: %s %s", e.Field, e.Reason)
}

// ConnectionError means the connection could not be opened, the TLS
// handshake failed, or the connection broke while writing.
type ConnectionError struct {
	Addr string
	Step Step
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp: connection to %s failed at %s: %v", e.Addr, e.Step, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError means the server reply could not be parsed or the stream
// ended before a reply was complete.
type ProtocolError struct {
	Step Step
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	s := fmt.Sprintf("smtp: protocol error at %s: %s", e.Step, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnexpectedResponseError means the server answered a step with a code other
// than the one the protocol requires.
type UnexpectedResponseError struct {
	Step         Step
	Expected     int
	Got          int
	EnhancedCode EnhancedCode
	Text         string
}

// NewUnexpectedResponseError builds the error for resp, lifting an enhanced
// status code out of the text when present.
func NewUnexpectedResponseError(step Step, expected int, resp Response) *UnexpectedResponseError {
	e := &UnexpectedResponseError{
		Step:     step,
		Expected: expected,
		Got:      resp.Code,
		Text:     resp.Message(),
	}

	if len(resp.Lines) == 0 {
		return e
	}
	code, _, ok := ParseEnhancedCode(resp.Lines[0])
	if !ok {
		return e
	}
	// Per RFC 2034 the enhanced code is repeated on every line.
	lines := make([]string, len(resp.Lines))
	prefix := code.String() + " "
	for i, line := range resp.Lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	e.EnhancedCode = code
	e.Text = strings.Join(lines, "\n")
	return e
}

func (e *UnexpectedResponseError) Error() string {
	s := fmt.Sprintf("smtp: %s: expected %03d, got %03d", e.Step, e.Expected, e.Got)
	if e.Text != "" {
		s += ": " + e.Text
	}
	return s
}

// Temporary returns true if the status code is 4xx.
func (e *UnexpectedResponseError) Temporary() bool {
	return e.Got/100 == 4
}

// Permanent returns true if the status code is 5xx.
func (e *UnexpectedResponseError) Permanent() bool {
	return e.Got/100 == 5
}

// AuthenticationError means the server rejected the login exchange. Callers
// map it to provider specific guidance.
type AuthenticationError struct {
	Mechanism string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("smtp: authentication with %s failed: %v", e.Mechanism, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TimeoutError means the connect timeout or a read deadline expired.
type TimeoutError struct {
	Step Step
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("smtp: timeout at %s: %v", e.Step, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout always reports true.
func (e *TimeoutError) Timeout() bool { return true }
