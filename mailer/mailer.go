// Package mailer implements the mail transport used by the application.
// It composes messages and delivers them over SMTP with the client
// package, or hands them to a local submitter when SMTP is disabled.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
	"github.com/aliadelelroby/Greenhouse-sub000/client"
	"github.com/aliadelelroby/Greenhouse-sub000/message"
)

// LocalSubmitter delivers a message without SMTP, for example through the
// sendmail binary. Its result is returned to callers unchanged.
type LocalSubmitter interface {
	Submit(ctx context.Context, msg *message.Message) (bool, error)
}

// DialFunc opens the connection for one session. client.Dial is the default.
type DialFunc func(ctx context.Context, addr string, enc smtp.Encryption, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error)

// Mailer sends messages. It holds no per-send state, every Send uses its
// own connection, so one Mailer may be used concurrently.
type Mailer struct {
	logger *slog.Logger
	local  LocalSubmitter
	dial   DialFunc
}

// Option defines a mailer option.
type Option func(m *Mailer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailer) {
		m.logger = logger
	}
}

// WithLocalSubmitter sets the fallback used when the transport is disabled.
// It defaults to SendmailSubmitter, also when local is nil.
func WithLocalSubmitter(local LocalSubmitter) Option {
	return func(m *Mailer) {
		m.local = local
	}
}

// WithDialer replaces client.Dial. A nil dial keeps client.Dial.
func WithDialer(dial DialFunc) Option {
	return func(m *Mailer) {
		m.dial = dial
	}
}

// New returns a mailer. The zero Mailer is usable too.
func New(opts ...Option) *Mailer {
	m := &Mailer{}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mailer) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

func (m *Mailer) submitter() LocalSubmitter {
	if m.local != nil {
		return m.local
	}
	return SendmailSubmitter{}
}

func (m *Mailer) dialer() DialFunc {
	if m.dial != nil {
		return m.dial
	}
	return client.Dial
}

// Send delivers msg according to cfg.
//
// If cfg.Enabled is false the message is handed to the local submitter and
// its result is returned unchanged. Otherwise one SMTP session is run and
// true is returned only if the server accepted the message. The error is
// one of the error kinds of the smtp package and never contains the
// password. Nothing is retried.
//
// ctx bounds dialing. Once connected, the session is bounded by cfg.Timeout.
func (m *Mailer) Send(ctx context.Context, cfg TransportConfig, msg *message.Message) (bool, error) {
	if msg == nil {
		return false, &smtp.ConfigurationError{Field: "message", Reason: "is required"}
	}
	if !cfg.Enabled {
		m.log().Debug("smtp transport disabled, using local submission", slog.String("to", msg.To))
		return m.submitter().Submit(ctx, msg)
	}

	if err := cfg.Validate(); err != nil {
		return false, err
	}

	start := time.Now()
	enc := cfg.ResolvedEncryption()
	tlsConfig := cfg.tlsConfig()

	conn, err := m.dialer()(ctx, cfg.Addr(), enc, tlsConfig, cfg.timeout())
	if err != nil {
		return false, err
	}

	c := client.New(conn,
		client.WithLocalName(cfg.localName()),
		client.WithServerName(cfg.Host),
		client.WithTLSConfig(tlsConfig),
		client.WithTimeout(cfg.timeout()),
		client.WithLogger(m.log()),
	)

	err = c.Deliver(ctx, client.Envelope{
		From:     msg.From,
		To:       []string{msg.To},
		StartTLS: enc == smtp.EncryptionStartTLS,
		Auth:     cfg.saslClient(),
	}, bytes.NewReader(msg.Bytes()))
	if err != nil {
		return false, err
	}

	m.log().Info("mail delivered",
		slog.String("to", msg.To),
		slog.String("addr", cfg.Addr()),
		slog.String("encryption", enc.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return true, nil
}

// SendMail composes a message from cfg's sender to the given recipient and
// sends it. At least one of text and html must be set.
func (m *Mailer) SendMail(ctx context.Context, cfg TransportConfig, to, subject string, text, html *string) (bool, error) {
	composer := &message.Composer{
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
		ReplyTo:     cfg.ReplyTo,
	}
	msg, err := composer.Compose(to, subject, text, html)
	if err != nil {
		return false, err
	}
	return m.Send(ctx, cfg, msg)
}

var defaultMailer = New()

// SendMail sends with a Mailer using the default logger and the sendmail
// fallback.
func SendMail(ctx context.Context, cfg TransportConfig, to, subject string, text, html *string) (bool, error) {
	return defaultMailer.SendMail(ctx, cfg, to, subject, text, html)
}
