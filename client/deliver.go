package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-sasl"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
)

// Envelope holds what one delivery needs besides the payload.
type Envelope struct {
	From string
	To   []string

	// StartTLS upgrades the connection after the first EHLO.
	StartTLS bool
	// Auth, if set, authenticates before MAIL FROM.
	Auth sasl.Client
}

// Deliver runs the whole command sequence for one message:
//
//	greeting, EHLO, [STARTTLS, EHLO], [AUTH], MAIL FROM, RCPT TO..., DATA,
//	payload, QUIT
//
// It returns nil only if every step got the reply it requires. The reply
// to QUIT is not required. The connection is closed when Deliver returns,
// whatever the outcome.
//
// ctx is only checked before the first step; once the session runs it is
// bounded by the client timeouts alone.
func (c *Client) Deliver(ctx context.Context, env Envelope, msg io.Reader) error {
	defer func() { _ = c.Close() }()

	if err := ctx.Err(); err != nil {
		return c.fail(err)
	}
	if len(env.To) == 0 {
		return &smtp.ConfigurationError{Field: "recipient address", Reason: "is required"}
	}

	if err := c.Greet(); err != nil {
		return err
	}
	if err := c.Hello(); err != nil {
		return err
	}
	if env.StartTLS {
		if err := c.StartTLS(); err != nil {
			return err
		}
	}
	if env.Auth != nil {
		if err := c.Auth(env.Auth); err != nil {
			return err
		}
	}
	if err := c.Mail(env.From); err != nil {
		return err
	}
	for _, to := range env.To {
		if err := c.Rcpt(to); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, msg); err != nil {
		var cerr *smtp.ConnectionError
		var terr *smtp.TimeoutError
		if errors.As(err, &cerr) || errors.As(err, &terr) {
			return err
		}
		return c.fail(fmt.Errorf("smtp: reading message: %w", err))
	}
	if err := w.Close(); err != nil {
		return err
	}

	// best effort, the message is accepted
	_ = c.Quit()
	return nil
}
