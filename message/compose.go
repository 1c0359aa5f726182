package message

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
)

// boundaryPrefix never occurs in quoted-printable output: '=' is only ever
// followed by two hex digits or a line break there.
const boundaryPrefix = "=_"

// maxBoundaryAttempts bounds the regeneration of colliding boundaries.
const maxBoundaryAttempts = 8

// ErrBoundaryCollision is returned when no boundary absent from both bodies
// could be generated.
var ErrBoundaryCollision = errors.New("message: could not generate a boundary absent from the body")

// Composer builds messages from one sender. The zero value of the optional
// fields is usable.
type Composer struct {
	FromAddress string
	FromName    string
	// ReplyTo defaults to FromAddress.
	ReplyTo string
	// Hostname is the right hand side of Message-ID. It defaults to the
	// domain of FromAddress.
	Hostname string

	// Now defaults to time.Now.
	Now func() time.Time
	// Boundary defaults to NewBoundary.
	Boundary func() string
}

// NewBoundary returns "=_" followed by 32 random hex digits.
func NewBoundary() string {
	return boundaryPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Compose builds a message to the given recipient. With both bodies the
// result is multipart/alternative, text first and HTML second; with one
// body it is a single part of the matching type. At least one body is
// required.
//
// Invalid addresses, line breaks in header values and a missing body are
// reported as *smtp.ConfigurationError.
func (c *Composer) Compose(to, subject string, text, html *string) (*Message, error) {
	from, err := parseAddress("from address", c.FromAddress)
	if err != nil {
		return nil, err
	}
	replyTo := from
	if c.ReplyTo != "" {
		if replyTo, err = parseAddress("reply-to address", c.ReplyTo); err != nil {
			return nil, err
		}
	}
	rcpt, err := parseAddress("recipient address", to)
	if err != nil {
		return nil, err
	}
	if err := noLineBreak("subject", subject); err != nil {
		return nil, err
	}
	if err := noLineBreak("from name", c.FromName); err != nil {
		return nil, err
	}
	if text == nil && html == nil {
		return nil, &smtp.ConfigurationError{Field: "body", Reason: "requires a text or an HTML part"}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	host := c.Hostname
	if host == "" {
		host = domainOf(from.Address)
	}

	m := &Message{
		From:    from.Address,
		To:      rcpt.Address,
		Subject: subject,
		Text:    text,
		HTML:    html,
	}

	var content []Field
	switch {
	case text != nil && html != nil:
		textPart, err := encodeQP(*text)
		if err != nil {
			return nil, err
		}
		htmlPart, err := encodeQP(*html)
		if err != nil {
			return nil, err
		}
		if m.Boundary, err = c.boundary(textPart, htmlPart); err != nil {
			return nil, err
		}
		content = []Field{{"Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", m.Boundary)}}
		m.Body = writeAlternative(m.Boundary, textPart, htmlPart)
	case text != nil:
		m.Body, err = encodeQP(*text)
		content = singlePart(contentTypeText)
	default:
		m.Body, err = encodeQP(*html)
		content = singlePart(contentTypeHTML)
	}
	if err != nil {
		return nil, err
	}

	// the Message-ID reuses the boundary entropy, so two compositions
	// differ only in the boundary and the clock
	token := m.Boundary
	if token == "" {
		if token, err = c.boundary(); err != nil {
			return nil, err
		}
	}
	date := now()

	sender := &mail.Address{Name: c.FromName, Address: from.Address}
	m.Header = append([]Field{
		{"From", fold("From", sender.String())},
		{"To", fold("To", rcpt.String())},
		{"Reply-To", fold("Reply-To", replyTo.String())},
		{"Subject", fold("Subject", mime.QEncoding.Encode("UTF-8", subject))},
		{"Date", date.Format(time.RFC1123Z)},
		{"Message-ID", messageID(date, token, host)},
		{"MIME-Version", "1.0"},
	}, content...)
	return m, nil
}

// messageID returns <timestamp.token@host> with the boundary prefix removed
// from token.
func messageID(date time.Time, token, host string) string {
	return "<" + date.UTC().Format("20060102150405") + "." + strings.TrimPrefix(token, boundaryPrefix) + "@" + host + ">"
}

// boundary returns a boundary that occurs in none of parts.
func (c *Composer) boundary(parts ...[]byte) (string, error) {
	gen := NewBoundary
	if c.Boundary != nil {
		gen = c.Boundary
	}

next:
	for i := 0; i < maxBoundaryAttempts; i++ {
		b := gen()
		if b == "" {
			continue
		}
		for _, p := range parts {
			if bytes.Contains(p, []byte(b)) {
				continue next
			}
		}
		return b, nil
	}
	return "", ErrBoundaryCollision
}

const (
	contentTypeText = "text/plain; charset=UTF-8"
	contentTypeHTML = "text/html; charset=UTF-8"
)

func singlePart(contentType string) []Field {
	return []Field{
		{"Content-Type", contentType},
		{"Content-Transfer-Encoding", "quoted-printable"},
	}
}

func writeAlternative(boundary string, text, html []byte) []byte {
	var buf bytes.Buffer
	for _, part := range []struct {
		contentType string
		body        []byte
	}{
		{contentTypeText, text},
		{contentTypeHTML, html},
	} {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", part.contentType)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		buf.Write(part.body)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

func parseAddress(field, value string) (*mail.Address, error) {
	if value == "" {
		return nil, &smtp.ConfigurationError{Field: field, Reason: "is required"}
	}
	if err := noLineBreak(field, value); err != nil {
		return nil, err
	}
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return nil, &smtp.ConfigurationError{Field: field, Reason: fmt.Sprintf("%q is invalid: %v", value, err)}
	}
	return addr, nil
}

func noLineBreak(field, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return &smtp.ConfigurationError{Field: field, Reason: "must not contain CR or LF"}
	}
	return nil
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}
