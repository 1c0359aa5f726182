package client

import (
	"crypto/tls"
	"log/slog"
	"time"
)

var defaultConfig = config{
	localName: "localhost",
	// As recommended by RFC 5321. For DATA command reply (3xx one) RFC
	// recommends a slightly shorter timeout but we do not bother
	// differentiating these.
	commandTimeout: 5 * time.Minute,
	// 10 minutes + 2 minute buffer in case the server is doing transparent
	// forwarding and also follows recommended timeouts.
	submissionTimeout: 12 * time.Minute,
	// 30 seconds, very generous
	tlsHandshakeTimeout: 30 * time.Second,

	// Doubled maximum line length per RFC 5321 (Section 4.5.3.1.6)
	maxLineLength: 2000,

	readerSize: 4096,
	writerSize: 4096,
}

// config contains everything needed to drive one session.
type config struct {
	localName  string // the name to use in EHLO
	serverName string // the name the TLS certificate is checked against
	tlsConfig  *tls.Config
	logger     *slog.Logger

	// Time to wait for tls handshake to succeed.
	tlsHandshakeTimeout time.Duration

	// Time to wait for command responses (this includes 3xx reply to DATA).
	commandTimeout time.Duration

	// Time to wait for responses after final dot.
	submissionTimeout time.Duration

	// Max line length of a reply, defaults to 2000
	maxLineLength int

	readerSize int
	writerSize int
}

// Option defines a client option.
type Option func(c *config)

// WithLocalName sets the EHLO local name.
func WithLocalName(localName string) Option {
	return func(c *config) {
		c.localName = localName
	}
}

// WithServerName sets the host name used to verify the certificate during
// STARTTLS. It defaults to the host of the remote address.
func WithServerName(serverName string) Option {
	return func(c *config) {
		c.serverName = serverName
	}
}

// WithTLSConfig sets the TLS config used for STARTTLS.
// A nil config verifies the server certificate against serverName.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *config) {
		c.tlsConfig = cfg
	}
}

// WithLogger sets the logger. Commands and replies are logged at debug
// level, credentials never.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTimeout sets the command, submission and TLS handshake timeouts at once.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.commandTimeout = timeout
		c.submissionTimeout = timeout
		c.tlsHandshakeTimeout = timeout
	}
}

// WithCommandTimeout sets the command timeout.
func WithCommandTimeout(commandTimeout time.Duration) Option {
	return func(c *config) {
		c.commandTimeout = commandTimeout
	}
}

// WithSubmissionTimeout sets the submission timeout.
func WithSubmissionTimeout(submissionTimeout time.Duration) Option {
	return func(c *config) {
		c.submissionTimeout = submissionTimeout
	}
}

// WithTLSHandshakeTimeout sets tls handshake timeout.
func WithTLSHandshakeTimeout(tlsHandshakeTimeout time.Duration) Option {
	return func(c *config) {
		c.tlsHandshakeTimeout = tlsHandshakeTimeout
	}
}

// WithMaxLineLength sets the max line length.
func WithMaxLineLength(maxLineLength int) Option {
	return func(c *config) {
		c.maxLineLength = maxLineLength
	}
}

// WithReaderSize sets the reader size.
func WithReaderSize(readerSize int) Option {
	return func(c *config) {
		c.readerSize = readerSize
	}
}

// WithWriterSize sets the writer size.
func WithWriterSize(writerSize int) Option {
	return func(c *config) {
		c.writerSize = writerSize
	}
}
