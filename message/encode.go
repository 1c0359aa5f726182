package message

import (
	"bytes"
	"mime/quotedprintable"
	"strings"
)

// maxLineLength is the folding limit for header lines, RFC 5322 2.1.1.
const maxLineLength = 78

// encodeQP encodes s as quoted-printable. Line endings, whatever their
// form, come out as CRLF.
func encodeQP(s string) ([]byte, error) {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fold breaks the value of header key at whitespace so that no line,
// including "key: ", exceeds maxLineLength. Words longer than the limit
// are kept whole.
func fold(key, value string) string {
	words := strings.Split(value, " ")

	var sb strings.Builder
	lineLen := len(key) + 2
	for i, w := range words {
		if i > 0 {
			if lineLen+1+len(w) > maxLineLength {
				sb.WriteString("\r\n ")
				lineLen = 1
			} else {
				sb.WriteByte(' ')
				lineLen++
			}
		}
		sb.WriteString(w)
		lineLen += len(w)
	}
	return sb.String()
}
