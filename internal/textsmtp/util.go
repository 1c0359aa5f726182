package textsmtp

import (
	"errors"
	"strings"
)

// ErrLineBreak is returned for command arguments that would inject a new
// command line.
var ErrLineBreak = errors.New("smtp: a line must not contain CR or LF")

// IsPrintableASCII reports whether val only holds printable US-ASCII.
func IsPrintableASCII(val string) bool {
	for _, ch := range val {
		if ch < ' ' || '~' < ch {
			return false
		}
	}
	return true
}

// ValidateLine rejects command arguments containing CR or LF.
func ValidateLine(line string) error {
	if strings.ContainsAny(line, "\n\r") {
		return ErrLineBreak
	}
	return nil
}
