// Package message composes the outbound messages handed to the transport:
// RFC 5322 headers plus a single-part or multipart/alternative MIME body.
package message

import (
	"bytes"
	"io"
	"strings"
)

// Field is one header field. Value is already encoded and folded.
type Field struct {
	Key   string
	Value string
}

// Message is a composed message ready for the wire. It is built once by a
// Composer and not modified afterwards.
type Message struct {
	// From is the bare sender address used for MAIL FROM.
	From string
	// To is the bare recipient address used for RCPT TO.
	To      string
	Subject string
	Text    *string
	HTML    *string

	// Header holds the fields in the order they are written.
	Header []Field
	// Boundary is empty for single part messages.
	Boundary string
	// Body is the encoded body with CRLF line endings.
	Body []byte
}

// Get returns the value of the first field named key, or "".
func (m *Message) Get(key string) string {
	for _, f := range m.Header {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Multipart reports whether the body is multipart/alternative.
func (m *Message) Multipart() bool {
	return m.Boundary != ""
}

// HeaderBlock returns the header fields, each terminated by CRLF.
func (m *Message) HeaderBlock() string {
	var sb strings.Builder
	for _, f := range m.Header {
		sb.WriteString(f.Key)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// Bytes returns headers, the separating blank line and the body.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = m.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo implements io.WriterTo.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, m.HeaderBlock()+"\r\n")
	total := int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(m.Body)
	return total + int64(n), err
}
