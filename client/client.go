package client

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/emersion/go-sasl"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
	"github.com/aliadelelroby/Greenhouse-sub000/internal/textsmtp"
)

// Client is an SMTP client session over one connection.
//
// Every method is one protocol step. A step only runs in the states the
// protocol allows, otherwise it returns smtp.ErrOutOfSequence and the
// session is untouched. A step that fails on the wire moves the session to
// smtp.StateFailed and closes the connection; there is no recovery.
//
// A Client is not safe for concurrent use.
type Client struct {
	// keep a reference to the connection so it can be used to create a TLS
	// connection later
	conn   net.Conn
	text   *textsmtp.Conn
	addr   string
	cfg    config
	logger *slog.Logger

	state   smtp.State
	helloOK bool              // EHLO accepted in the current encryption context
	ext     map[string]string // supported extensions
	closed  bool
}

// New returns a client for an already established connection, as returned
// by Dial. The client owns conn from now on.
func New(conn net.Conn, opts ...Option) *Client {
	cfg := defaultConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	c := &Client{
		conn:   conn,
		cfg:    cfg,
		logger: cfg.logger,
		state:  smtp.StateConnected,
	}
	if ra := conn.RemoteAddr(); ra != nil {
		c.addr = ra.String()
		if c.cfg.serverName == "" {
			if host, _, err := net.SplitHostPort(c.addr); err == nil {
				c.cfg.serverName = host
			}
		}
	}
	c.text = textsmtp.NewConn(conn, cfg.readerSize, cfg.writerSize, cfg.maxLineLength)
	return c
}

// State returns the current session state.
func (c *Client) State() smtp.State {
	return c.state
}

// Close closes the connection. It is safe to call more than once; the
// connection is closed exactly once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.state != smtp.StateFailed {
		c.state = smtp.StateClosed
	}
	return c.text.Close()
}

// fail moves the session to the terminal failed state, closes the
// connection and returns err.
func (c *Client) fail(err error) error {
	c.state = smtp.StateFailed
	if !c.closed {
		c.closed = true
		if cerr := c.text.Close(); cerr != nil {
			c.logger.Debug("smtp close after failure", slog.Any("err", cerr))
		}
	}
	return err
}

// require checks that the session is in one of the given states.
func (c *Client) require(step smtp.Step, states ...smtp.State) error {
	for _, s := range states {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in state %s", smtp.ErrOutOfSequence, step, c.state)
}

// ioError classifies a socket error that happened at step.
func (c *Client) ioError(step smtp.Step, err error) error {
	var perr *smtp.ProtocolError
	switch {
	case smtp.IsTimeout(err):
		return &smtp.TimeoutError{Step: step, Err: err}
	case errors.As(err, &perr):
		perr.Step = step
		return perr
	default:
		return &smtp.ConnectionError{Addr: c.addr, Step: step, Err: err}
	}
}

// readResponse reads one reply under the command timeout.
func (c *Client) readResponse(step smtp.Step) (smtp.Response, error) {
	timeout := smtp.Timeout(c.conn, c.cfg.commandTimeout)
	defer timeout()

	resp, err := c.text.ReadResponse()
	if err != nil {
		return smtp.Response{}, c.ioError(step, err)
	}
	c.logger.Debug("smtp reply", slog.String("step", step.String()), slog.Int("code", resp.Code), slog.String("text", resp.Message()))
	return resp, nil
}

// exchange writes line and reads the reply. logged replaces line in the
// debug log. An expect of 0 accepts any code.
func (c *Client) exchange(step smtp.Step, expect int, line, logged string) (smtp.Response, error) {
	timeout := smtp.Timeout(c.conn, c.cfg.commandTimeout)
	defer timeout()

	c.logger.Debug("smtp command", slog.String("step", step.String()), slog.String("line", logged))
	if err := c.text.PrintfLine("%s", line); err != nil {
		return smtp.Response{}, c.ioError(step, err)
	}

	resp, err := c.readResponse(step)
	if err != nil {
		return smtp.Response{}, err
	}
	if expect != 0 {
		if err := textsmtp.Expect(resp, expect, step); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// cmd is a convenience function that sends a command and validates the
// reply code. Any error fails the session.
func (c *Client) cmd(step smtp.Step, expect int, format string, args ...any) (smtp.Response, error) {
	line := fmt.Sprintf(format, args...)
	resp, err := c.exchange(step, expect, line, line)
	if err != nil {
		return resp, c.fail(err)
	}
	return resp, nil
}

// Greet reads the server greeting and expects 220.
func (c *Client) Greet() error {
	if err := c.require(smtp.StepGreeting, smtp.StateConnected); err != nil {
		return err
	}

	resp, err := c.readResponse(smtp.StepGreeting)
	if err == nil {
		err = textsmtp.Expect(resp, 220, smtp.StepGreeting)
	}
	if err != nil {
		return c.fail(err)
	}

	c.state = smtp.StateGreeted
	return nil
}

// Hello sends EHLO and expects 250. The capability list is recorded for
// Extension but does not steer the sequence.
func (c *Client) Hello() error {
	if err := c.require(smtp.StepHello, smtp.StateGreeted, smtp.StateEncryptionNegotiated); err != nil {
		return err
	}
	if err := textsmtp.ValidateLine(c.cfg.localName); err != nil {
		return &smtp.ConfigurationError{Field: "local name", Reason: "must not contain CR or LF"}
	}

	resp, err := c.cmd(smtp.StepHello, 250, "EHLO %s", c.cfg.localName)
	if err != nil {
		return err
	}

	ext := make(map[string]string)
	if len(resp.Lines) > 1 {
		for _, line := range resp.Lines[1:] {
			name, param, _ := strings.Cut(line, " ")
			ext[strings.ToUpper(name)] = param
		}
	}
	c.ext = ext
	c.helloOK = true
	return nil
}

// StartTLS sends STARTTLS, expects 220, upgrades the existing connection in
// place and repeats EHLO over the encrypted channel. A refusal fails the
// session: nothing is ever sent in plain text instead.
func (c *Client) StartTLS() error {
	if err := c.require(smtp.StepStartTLS, smtp.StateGreeted); err != nil {
		return err
	}
	if !c.helloOK {
		return fmt.Errorf("%w: %s before EHLO", smtp.ErrOutOfSequence, smtp.StepStartTLS)
	}

	if _, err := c.cmd(smtp.StepStartTLS, 220, "STARTTLS"); err != nil {
		return err
	}
	if c.text.Buffered() > 0 {
		return c.fail(&smtp.ProtocolError{Step: smtp.StepStartTLS, Msg: "server sent data before the TLS handshake"})
	}

	conn := tls.Client(c.conn, withServerName(c.cfg.tlsConfig, c.cfg.serverName))

	timeout := smtp.Timeout(conn, c.cfg.tlsHandshakeTimeout)
	err := conn.Handshake()
	timeout()
	if err != nil {
		return c.fail(c.ioError(smtp.StepStartTLS, err))
	}

	c.conn = conn
	c.text.Replace(conn)
	c.helloOK = false
	c.ext = nil
	c.state = smtp.StateEncryptionNegotiated

	return c.Hello()
}

// TLSConnectionState returns the client's TLS connection state.
// The return values are their zero values if TLS is not in use.
func (c *Client) TLSConnectionState() (tls.ConnectionState, bool) {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, ok
	}
	return tc.ConnectionState(), true
}

// Extension reports whether an extension is supported by the server.
// The extension name is case-insensitive. If the extension is supported,
// Extension also returns a string that contains any parameters the
// server specifies for the extension.
func (c *Client) Extension(ext string) (bool, string) {
	param, ok := c.ext[strings.ToUpper(ext)]
	return ok, param
}

// SupportsAuth checks whether an authentication mechanism is advertised.
func (c *Client) SupportsAuth(mech string) bool {
	mechs, ok := c.ext["AUTH"]
	if !ok {
		return false
	}
	for _, m := range strings.Fields(mechs) {
		if strings.EqualFold(m, mech) {
			return true
		}
	}
	return false
}

// Auth runs the challenge-response exchange of a. Challenges arrive as
// 334 replies and success is 235. Everything the client sends during the
// exchange is credential material and is never logged.
//
// Rejections and malformed exchanges are returned as
// *smtp.AuthenticationError; socket errors and timeouts keep their kind.
func (c *Client) Auth(a sasl.Client) error {
	if err := c.require(smtp.StepAuth, smtp.StateGreeted, smtp.StateEncryptionNegotiated); err != nil {
		return err
	}
	if !c.helloOK {
		return fmt.Errorf("%w: %s before EHLO", smtp.ErrOutOfSequence, smtp.StepAuth)
	}

	mech, ir, err := a.Start()
	if err != nil {
		return c.fail(&smtp.AuthenticationError{Mechanism: mech, Err: err})
	}

	encoding := base64.StdEncoding
	line, logged := "AUTH "+mech, "AUTH "+mech
	if len(ir) > 0 {
		line += " " + encoding.EncodeToString(ir)
		logged += " <redacted>"
	} else if ir != nil {
		line += " ="
		logged += " ="
	}

	for {
		resp, err := c.exchange(smtp.StepAuth, 0, line, logged)
		if err != nil {
			return c.fail(c.authError(mech, err))
		}

		switch resp.Code {
		case 235:
			c.state = smtp.StateAuthenticated
			return nil
		case 334:
		default:
			return c.fail(&smtp.AuthenticationError{
				Mechanism: mech,
				Err:       smtp.NewUnexpectedResponseError(smtp.StepAuth, 235, resp),
			})
		}

		challenge, err := encoding.DecodeString(resp.Message())
		if err != nil && mech == sasl.Login {
			// LOGIN prompts are not interpreted, some relays send them unencoded
			challenge, err = []byte(resp.Message()), nil
		}
		var next []byte
		if err == nil {
			next, err = a.Next(challenge)
		}
		if err != nil {
			// abort the AUTH
			_, _ = c.exchange(smtp.StepAuth, 0, "*", "*")
			return c.fail(&smtp.AuthenticationError{Mechanism: mech, Err: err})
		}

		line, logged = encoding.EncodeToString(next), "<redacted>"
	}
}

func (c *Client) authError(mech string, err error) error {
	var terr *smtp.TimeoutError
	var cerr *smtp.ConnectionError
	if errors.As(err, &terr) || errors.As(err, &cerr) {
		return err
	}
	return &smtp.AuthenticationError{Mechanism: mech, Err: err}
}

// Mail issues MAIL FROM and expects 250.
func (c *Client) Mail(from string) error {
	err := c.require(smtp.StepMailFrom, smtp.StateGreeted, smtp.StateEncryptionNegotiated, smtp.StateAuthenticated)
	if err != nil {
		return err
	}
	if !c.helloOK {
		return fmt.Errorf("%w: %s before EHLO", smtp.ErrOutOfSequence, smtp.StepMailFrom)
	}
	if err := textsmtp.ValidateLine(from); err != nil {
		return &smtp.ConfigurationError{Field: "from address", Reason: "must not contain CR or LF"}
	}

	if _, err := c.cmd(smtp.StepMailFrom, 250, "MAIL FROM:<%s>", from); err != nil {
		return err
	}
	c.state = smtp.StateSenderSet
	return nil
}

// Rcpt issues RCPT TO and expects 250. It may be called once per recipient.
func (c *Client) Rcpt(to string) error {
	if err := c.require(smtp.StepRcptTo, smtp.StateSenderSet, smtp.StateRecipientSet); err != nil {
		return err
	}
	if err := textsmtp.ValidateLine(to); err != nil {
		return &smtp.ConfigurationError{Field: "recipient address", Reason: "must not contain CR or LF"}
	}

	if _, err := c.cmd(smtp.StepRcptTo, 250, "RCPT TO:<%s>", to); err != nil {
		return err
	}
	c.state = smtp.StateRecipientSet
	return nil
}

// Data issues DATA, expects 354 and returns a writer for the payload.
// The payload is dot-stuffed on the way out. Closing the writer sends the
// terminating "." and expects 250. The session stays in
// smtp.StateDataOpen until Quit or Close.
func (c *Client) Data() (*DataCloser, error) {
	if err := c.require(smtp.StepData, smtp.StateRecipientSet); err != nil {
		return nil, err
	}

	if _, err := c.cmd(smtp.StepData, 354, "DATA"); err != nil {
		return nil, err
	}
	c.state = smtp.StateDataOpen
	return &DataCloser{c: c, writer: textsmtp.NewDotWriter(c.text.W)}, nil
}

// Quit sends QUIT and closes the connection. The reply is read but not
// required, a failed QUIT still leaves the session closed.
func (c *Client) Quit() error {
	if c.closed {
		return nil
	}

	_, err := c.exchange(smtp.StepQuit, 221, "QUIT", "QUIT")
	if err != nil {
		c.logger.Debug("smtp quit", slog.Any("err", err))
	}
	return errors.Join(err, c.Close())
}
