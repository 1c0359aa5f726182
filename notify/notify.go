// Package notify sends the account notifications of the dashboard:
// password reset and welcome emails. It decides what to send and what to
// do with a failure; delivery itself is left to the mailer package.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a-h/templ"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
	"github.com/aliadelelroby/Greenhouse-sub000/internal/limit"
	"github.com/aliadelelroby/Greenhouse-sub000/mailer"
	"github.com/aliadelelroby/Greenhouse-sub000/notify/templates"
)

// ErrNotDelivered is returned when the transport reported no error but did
// not deliver either, as a local submitter may.
var ErrNotDelivered = errors.New("notify: message was not delivered")

// ErrTooManyResets is returned by PasswordReset when an address asked for
// more resets than the configured limit allows.
var ErrTooManyResets = fmt.Errorf("notify: too many password resets: %w", limit.ErrRatelimit)

const (
	passwordResetText = `Hello {{name}},

We received a request to reset the password of your {{app}} account.
Open the link below to choose a new one:

{{url}}

If you did not ask for this, you can ignore this email.
`

	welcomeText = `Hello {{name}},

Your {{app}} account is ready. Sign in to see your greenhouses and sensors:

{{url}}
`

	testText = `This is a test message from {{app}}.

If you can read it, the mail settings work.
`
)

// Sender is implemented by *mailer.Mailer.
type Sender interface {
	SendMail(ctx context.Context, cfg mailer.TransportConfig, to, subject string, text, html *string) (bool, error)
}

// Notifier sends notifications with one transport configuration.
type Notifier struct {
	sender  Sender
	cfg     mailer.TransportConfig
	appName string
	logger  *slog.Logger
	resets  *limit.Ratelimit
}

// Option defines a notifier option.
type Option func(n *Notifier)

// WithAppName sets the product name used in subjects and bodies.
func WithAppName(name string) Option {
	return func(n *Notifier) {
		n.appName = name
	}
}

// WithResetLimit allows at most rate password reset emails per address
// within per. Resets are not limited by default.
func WithResetLimit(rate int, per time.Duration) Option {
	return func(n *Notifier) {
		n.resets = limit.New(limit.RatelimitConfig{Rate: rate, Duration: per})
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// New returns a notifier sending through sender with cfg.
func New(sender Sender, cfg mailer.TransportConfig, opts ...Option) *Notifier {
	n := &Notifier{
		sender:  sender,
		cfg:     cfg,
		appName: "Greenhouse",
	}
	for _, o := range opts {
		o(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// PasswordReset sends the password reset link to the given address.
func (n *Notifier) PasswordReset(ctx context.Context, to, name, resetURL string) error {
	if n.resets != nil {
		if err := n.resets.Take(strings.ToLower(to)); err != nil {
			n.logger.Warn("password reset rate limited", slog.String("to", to))
			return ErrTooManyResets
		}
	}
	return n.send(ctx, "password_reset", to,
		fmt.Sprintf("Reset your %s password", n.appName),
		passwordResetText,
		templates.PasswordReset(n.appName, name, resetURL),
		map[string]string{"name": name, "app": n.appName, "url": resetURL},
	)
}

// Welcome sends the welcome email to a newly created user.
func (n *Notifier) Welcome(ctx context.Context, to, name, loginURL string) error {
	return n.send(ctx, "welcome", to,
		fmt.Sprintf("Welcome to %s", n.appName),
		welcomeText,
		templates.Welcome(n.appName, name, loginURL),
		map[string]string{"name": name, "app": n.appName, "url": loginURL},
	)
}

// Test sends a short message that confirms the mail settings work.
func (n *Notifier) Test(ctx context.Context, to string) error {
	return n.send(ctx, "test", to,
		fmt.Sprintf("%s test message", n.appName),
		testText,
		templates.Test(n.appName),
		map[string]string{"app": n.appName},
	)
}

func (n *Notifier) send(ctx context.Context, kind, to, subject, textTmpl string, html templ.Component, vars map[string]string) error {
	text, err := Render(textTmpl, vars)
	if err != nil {
		return err
	}
	body, err := templates.Render(ctx, html)
	if err != nil {
		return err
	}

	ok, err := n.sender.SendMail(ctx, n.cfg, to, subject, &text, &body)
	if err == nil && !ok {
		err = ErrNotDelivered
	}
	if err != nil {
		n.logger.Error("notification failed",
			slog.String("kind", kind),
			slog.String("to", to),
			slog.String("error_kind", errorKind(err)),
			slog.String("hint", Explain(err, n.cfg.Host)),
			slog.Any("err", err),
		)
		return err
	}
	return nil
}

func errorKind(err error) string {
	var (
		cfgErr  *smtp.ConfigurationError
		authErr *smtp.AuthenticationError
		toErr   *smtp.TimeoutError
		connErr *smtp.ConnectionError
		respErr *smtp.UnexpectedResponseError
		protErr *smtp.ProtocolError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &authErr):
		return "authentication"
	case errors.As(err, &toErr):
		return "timeout"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &respErr):
		return "unexpected_response"
	case errors.As(err, &protErr):
		return "protocol"
	}
	return "other"
}
