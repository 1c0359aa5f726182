package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
	"github.com/aliadelelroby/Greenhouse-sub000/tester"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newScripted(t *testing.T, replies []string, opts ...tester.ScriptOption) *tester.ScriptedServer {
	t.Helper()
	s, err := tester.NewScriptedServer(replies, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dialScripted(t *testing.T, s *tester.ScriptedServer, opts ...Option) *Client {
	t.Helper()
	conn, err := Dial(context.Background(), s.Addr(), smtp.EncryptionNone, nil, time.Second)
	require.NoError(t, err)
	return New(conn, append([]Option{WithLocalName("greenhouse.test"), WithTimeout(2 * time.Second)}, opts...)...)
}

func genCert(t *testing.T) tls.Certificate {
	t.Helper()
	cert, err := tester.GenX509KeyPair("127.0.0.1")
	require.NoError(t, err)
	return cert
}

func TestDeliverStartTLSAuth(t *testing.T) {
	cert := genCert(t)
	s := newScripted(t, []string{
		"220 relay.test ESMTP",
		"250-relay.test\n250-STARTTLS\n250 AUTH LOGIN PLAIN",
		"220 2.0.0 ready to start TLS",
		"250-relay.test\n250 AUTH LOGIN PLAIN",
		"334 VXNlcm5hbWU6",
		"334 UGFzc3dvcmQ6",
		"235 2.7.0 authenticated",
		"250 2.1.0 sender ok",
		"250 2.1.5 recipient ok",
		"354 end data with <CR><LF>.<CR><LF>",
		"250 2.0.0 queued",
	}, tester.WithStartTLS(cert))

	c := dialScripted(t, s, WithTLSConfig(&tls.Config{RootCAs: tester.CertPool(cert)}))

	err := c.Deliver(context.Background(), Envelope{
		From:     "noreply@greenhouse.test",
		To:       []string{"grower@example.com"},
		StartTLS: true,
		Auth:     NewLoginClient("user", "secret"),
	}, strings.NewReader("Subject: hi\r\n\r\nhello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, smtp.StateClosed, c.State())

	require.True(t, s.Wait(2*time.Second))
	assert.NoError(t, s.Err())
	assert.Equal(t, []string{
		"EHLO greenhouse.test",
		"STARTTLS",
		"EHLO greenhouse.test",
		"AUTH LOGIN",
		b64("user"),
		b64("secret"),
		"MAIL FROM:<noreply@greenhouse.test>",
		"RCPT TO:<grower@example.com>",
		"DATA",
		"QUIT",
	}, s.Commands())
	assert.Equal(t, "Subject: hi\r\n\r\nhello", s.Data())
}

func TestDeliverRecipientRejected(t *testing.T) {
	s := newScripted(t, []string{
		"220 relay.test ESMTP",
		"250 relay.test",
		"250 sender ok",
		"550 5.1.1 no such user",
	})
	c := dialScripted(t, s)

	err := c.Deliver(context.Background(), Envelope{
		From: "noreply@greenhouse.test",
		To:   []string{"nobody@example.com"},
	}, strings.NewReader("hello"))
	require.Error(t, err)

	var uerr *smtp.UnexpectedResponseError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, smtp.StepRcptTo, uerr.Step)
	assert.Equal(t, 250, uerr.Expected)
	assert.Equal(t, 550, uerr.Got)
	assert.Equal(t, smtp.EnhancedCode{5, 1, 1}, uerr.EnhancedCode)
	assert.True(t, uerr.Permanent())
	assert.Equal(t, smtp.StateFailed, c.State())

	// the server sees the connection close
	require.True(t, s.Wait(2*time.Second))
	cmds := s.Commands()
	assert.Equal(t, "RCPT TO:<nobody@example.com>", cmds[len(cmds)-1])
	assert.NotContains(t, cmds, "DATA")
}

func TestDeliverStartTLSRefused(t *testing.T) {
	s := newScripted(t, []string{
		"220 relay.test ESMTP",
		"250-relay.test\n250 STARTTLS",
		"454 4.7.0 TLS not available",
	})
	c := dialScripted(t, s)

	err := c.Deliver(context.Background(), Envelope{
		From:     "noreply@greenhouse.test",
		To:       []string{"grower@example.com"},
		StartTLS: true,
		Auth:     NewLoginClient("user", "secret"),
	}, strings.NewReader("hello"))

	var uerr *smtp.UnexpectedResponseError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, smtp.StepStartTLS, uerr.Step)
	assert.Equal(t, 220, uerr.Expected)
	assert.True(t, uerr.Temporary())

	require.True(t, s.Wait(2*time.Second))
	assert.Equal(t, []string{"EHLO greenhouse.test", "STARTTLS"}, s.Commands())
}

func TestDeliverAuthRejected(t *testing.T) {
	s := newScripted(t, []string{
		"220 relay.test ESMTP",
		"250-relay.test\n250 AUTH LOGIN",
		"334 VXNlcm5hbWU6",
		"334 UGFzc3dvcmQ6",
		"535 5.7.8 Authentication credentials invalid",
	})
	c := dialScripted(t, s)

	err := c.Deliver(context.Background(), Envelope{
		From: "noreply@greenhouse.test",
		To:   []string{"grower@example.com"},
		Auth: NewLoginClient("user", "hunter2"),
	}, strings.NewReader("hello"))

	var aerr *smtp.AuthenticationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, sasl.Login, aerr.Mechanism)

	var uerr *smtp.UnexpectedResponseError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 535, uerr.Got)
	assert.Equal(t, smtp.StepAuth, uerr.Step)

	assert.NotContains(t, err.Error(), "hunter2")
	assert.NotContains(t, err.Error(), b64("hunter2"))
	assert.Equal(t, smtp.StateFailed, c.State())
}

func TestDeliverDotStuffing(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "LoneDot", payload: "Subject: x\r\n\r\n.\r\nafter\r\n", want: "Subject: x\r\n\r\n..\r\nafter"},
		{name: "LeadingDot", payload: "a\r\n.b\r\n", want: "a\r\n..b"},
		{name: "Unchanged", payload: "a line\r\nanother. line\r\n", want: "a line\r\nanother. line"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScripted(t, []string{"220 ready", "250 ok", "250 ok", "250 ok", "354 go", "250 queued"})
			c := dialScripted(t, s)

			err := c.Deliver(context.Background(), Envelope{
				From: "a@greenhouse.test",
				To:   []string{"b@example.com"},
			}, strings.NewReader(tt.payload))
			require.NoError(t, err)
			require.True(t, s.Wait(2*time.Second))
			assert.Equal(t, tt.want, s.Data())
		})
	}
}

func TestDeliverTimeout(t *testing.T) {
	s := newScripted(t, []string{"220 ready", tester.Stall})

	conn, err := Dial(context.Background(), s.Addr(), smtp.EncryptionNone, nil, time.Second)
	require.NoError(t, err)
	c := New(conn, WithTimeout(100*time.Millisecond))

	start := time.Now()
	err = c.Deliver(context.Background(), Envelope{
		From: "a@greenhouse.test",
		To:   []string{"b@example.com"},
	}, strings.NewReader("hello"))

	var terr *smtp.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, smtp.StepHello, terr.Step)
	assert.True(t, terr.Timeout())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, smtp.StateFailed, c.State())
}

func TestDeliverCanceledContext(t *testing.T) {
	fake := tester.NewFakeConn("220 hi\r\n", &bytes.Buffer{})
	c := New(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Deliver(ctx, Envelope{From: "a@b.c", To: []string{"d@e.f"}}, strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.CloseCount())
}

func TestImplicitTLS(t *testing.T) {
	cert := genCert(t)
	s := newScripted(t, []string{"220 relay.test ESMTPS", "250 relay.test"}, tester.WithImplicitTLS(cert))

	conn, err := Dial(context.Background(), s.Addr(), smtp.EncryptionTLS, &tls.Config{RootCAs: tester.CertPool(cert)}, time.Second)
	require.NoError(t, err)

	c := New(conn)
	defer c.Close()

	state, ok := c.TLSConnectionState()
	require.True(t, ok)
	assert.True(t, state.HandshakeComplete)

	require.NoError(t, c.Greet())
	require.NoError(t, c.Hello())
	_ = c.Quit()
	assert.Equal(t, smtp.StateClosed, c.State())
	require.True(t, s.Wait(2*time.Second))
	assert.Equal(t, []string{"EHLO localhost", "QUIT"}, s.Commands())
}

func TestImplicitTLSUntrusted(t *testing.T) {
	cert := genCert(t)
	s := newScripted(t, []string{"220 relay.test ESMTPS"}, tester.WithImplicitTLS(cert))

	_, err := Dial(context.Background(), s.Addr(), smtp.EncryptionTLS, nil, time.Second)
	var cerr *smtp.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, s.Addr(), cerr.Addr)
	assert.Equal(t, smtp.StepConnect, cerr.Step)

	// permissive config accepts the self-signed certificate
	s = newScripted(t, []string{"220 relay.test ESMTPS"}, tester.WithImplicitTLS(cert))
	conn, err := Dial(context.Background(), s.Addr(), smtp.EncryptionTLS, &tls.Config{InsecureSkipVerify: true}, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDialErrors(t *testing.T) {
	_, err := Dial(context.Background(), "no-port", smtp.EncryptionNone, nil, time.Second)
	var cfgErr *smtp.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, smtp.EncryptionNone, nil, time.Second)
	var cerr *smtp.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, addr, cerr.Addr)
	assert.Contains(t, cerr.Error(), addr)
}

func TestGreetingRejected(t *testing.T) {
	fake := tester.NewFakeConn("554 5.3.2 busy\r\n", &bytes.Buffer{})
	c := New(fake)

	err := c.Greet()
	var uerr *smtp.UnexpectedResponseError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, smtp.StepGreeting, uerr.Step)
	assert.Equal(t, smtp.StateFailed, c.State())
	assert.Equal(t, 1, fake.CloseCount())

	// closed exactly once
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Quit())
	assert.Equal(t, 1, fake.CloseCount())
	assert.Equal(t, smtp.StateFailed, c.State())
}

func TestProtocolErrorMidReply(t *testing.T) {
	fake := tester.NewFakeConn("220 hi\r\n250-relay\r\n250-SIZE\r\n", &bytes.Buffer{})
	c := New(fake)

	require.NoError(t, c.Greet())
	err := c.Hello()

	var perr *smtp.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, smtp.StepHello, perr.Step)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 1, fake.CloseCount())
}

func TestOutOfSequence(t *testing.T) {
	out := &bytes.Buffer{}
	fake := tester.NewFakeConn("220 hi\r\n250 ok\r\n", out)
	c := New(fake)

	assert.ErrorIs(t, c.Mail("a@b.c"), smtp.ErrOutOfSequence)
	assert.ErrorIs(t, c.Hello(), smtp.ErrOutOfSequence)
	_, err := c.Data()
	assert.ErrorIs(t, err, smtp.ErrOutOfSequence)

	require.NoError(t, c.Greet())
	assert.ErrorIs(t, c.StartTLS(), smtp.ErrOutOfSequence)
	assert.ErrorIs(t, c.Rcpt("a@b.c"), smtp.ErrOutOfSequence)

	assert.Equal(t, smtp.StateGreeted, c.State())
	assert.Empty(t, out.String())
	assert.Zero(t, fake.CloseCount())
}

func TestLineInjection(t *testing.T) {
	out := &bytes.Buffer{}
	fake := tester.NewFakeConn("220 hi\r\n250 ok\r\n", out)
	c := New(fake, WithLocalName("host>\r\nDATA"))

	require.NoError(t, c.Greet())
	var cfgErr *smtp.ConfigurationError
	require.ErrorAs(t, c.Hello(), &cfgErr)
	assert.Empty(t, out.String())
}

func TestWriteErrorIsConnectionError(t *testing.T) {
	fake := tester.NewFakeConn("220 hi\r\n", &bytes.Buffer{})
	fake.WriteErr = errors.New("broken pipe")
	c := New(fake)

	require.NoError(t, c.Greet())
	err := c.Hello()
	var cerr *smtp.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, smtp.StepHello, cerr.Step)
	assert.Equal(t, smtp.StateFailed, c.State())
}

func TestAuthPlain(t *testing.T) {
	out := &bytes.Buffer{}
	fake := tester.NewFakeConn("220 hi\r\n250-relay\r\n250 AUTH PLAIN\r\n235 ok\r\n", out)
	c := New(fake)

	require.NoError(t, c.Greet())
	require.NoError(t, c.Hello())
	assert.True(t, c.SupportsAuth("plain"))
	ok, param := c.Extension("auth")
	assert.True(t, ok)
	assert.Equal(t, "PLAIN", param)

	require.NoError(t, c.Auth(sasl.NewPlainClient("", "user", "secret")))
	assert.Equal(t, smtp.StateAuthenticated, c.State())
	assert.Equal(t, "EHLO localhost\r\nAUTH PLAIN "+b64("\x00user\x00secret")+"\r\n", out.String())
}

func TestAuthIsNotLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fake := tester.NewFakeConn("220 hi\r\n250 ok\r\n334 VXNlcm5hbWU6\r\n334 UGFzc3dvcmQ6\r\n235 ok\r\n", &bytes.Buffer{})
	c := New(fake, WithLogger(logger))

	require.NoError(t, c.Greet())
	require.NoError(t, c.Hello())
	require.NoError(t, c.Auth(NewLoginClient("user@example.com", "hunter2")))

	assert.Contains(t, logs.String(), "AUTH LOGIN")
	assert.Contains(t, logs.String(), "<redacted>")
	assert.NotContains(t, logs.String(), b64("hunter2"))
	assert.NotContains(t, logs.String(), b64("user@example.com"))
	assert.NotContains(t, logs.String(), "hunter2")
}

func TestAuthBadChallenge(t *testing.T) {
	out := &bytes.Buffer{}
	fake := tester.NewFakeConn("220 hi\r\n250 ok\r\n334 not base64!\r\n501 aborted\r\n", out)
	c := New(fake)

	require.NoError(t, c.Greet())
	require.NoError(t, c.Hello())

	err := c.Auth(sasl.NewPlainClient("", "user", "secret"))
	var aerr *smtp.AuthenticationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "PLAIN", aerr.Mechanism)
	assert.True(t, strings.HasSuffix(out.String(), "\r\n*\r\n"))
	assert.Equal(t, smtp.StateFailed, c.State())
}

func TestAuthLoginClearTextPrompt(t *testing.T) {
	s := newScripted(t, []string{
		"220 relay.test ESMTP",
		"250-relay.test\n250 AUTH LOGIN",
		"334 Username:",
		"334 Password:",
		"235 authenticated",
		"250 sender ok",
		"250 recipient ok",
		"354 go ahead",
		"250 queued",
	})
	c := dialScripted(t, s)

	err := c.Deliver(context.Background(), Envelope{
		From: "noreply@greenhouse.test",
		To:   []string{"grower@example.com"},
		Auth: NewLoginClient("user", "secret"),
	}, strings.NewReader("hello\r\n"))
	require.NoError(t, err)

	require.True(t, s.Wait(2*time.Second))
	assert.Equal(t, []string{
		"EHLO greenhouse.test",
		"AUTH LOGIN",
		b64("user"),
		b64("secret"),
		"MAIL FROM:<noreply@greenhouse.test>",
		"RCPT TO:<grower@example.com>",
		"DATA",
		"QUIT",
	}, s.Commands())
}

func TestLoginClient(t *testing.T) {
	a := NewLoginClient("user", "secret")

	mech, ir, err := a.Start()
	require.NoError(t, err)
	assert.Equal(t, "LOGIN", mech)
	assert.Nil(t, ir)

	resp, err := a.Next([]byte("Username:"))
	require.NoError(t, err)
	assert.Equal(t, "user", string(resp))

	resp, err = a.Next([]byte("Password:"))
	require.NoError(t, err)
	assert.Equal(t, "secret", string(resp))

	_, err = a.Next([]byte("again?"))
	assert.ErrorIs(t, err, sasl.ErrUnexpectedServerChallenge)
}

func TestDataCloser(t *testing.T) {
	out := &bytes.Buffer{}
	fake := tester.NewFakeConn("220 hi\r\n250 ok\r\n250 ok\r\n250 ok\r\n354 go\r\n250 2.0.0 queued\r\n", out)
	c := New(fake)

	require.NoError(t, c.Greet())
	require.NoError(t, c.Hello())
	require.NoError(t, c.Mail("a@b.c"))
	require.NoError(t, c.Rcpt("d@e.f"))
	w, err := c.Data()
	require.NoError(t, err)
	assert.Equal(t, smtp.StateDataOpen, c.State())

	_, err = io.WriteString(w, ".\n")
	require.NoError(t, err)
	resp, err := w.CloseWithResponse()
	require.NoError(t, err)
	assert.Equal(t, 250, resp.Code)
	assert.Equal(t, int64(len("..\r\n.\r\n")), w.Written())
	assert.True(t, strings.HasSuffix(out.String(), "DATA\r\n..\r\n.\r\n"))

	assert.Error(t, w.Close())
	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	c := New(tester.NewFakeConn("", &bytes.Buffer{}),
		WithTimeout(time.Minute),
		WithCommandTimeout(time.Second),
		WithSubmissionTimeout(2*time.Second),
		WithTLSHandshakeTimeout(3*time.Second),
		WithMaxLineLength(512),
		WithReaderSize(1024),
		WithWriterSize(2048),
	)
	assert.Equal(t, time.Second, c.cfg.commandTimeout)
	assert.Equal(t, 2*time.Second, c.cfg.submissionTimeout)
	assert.Equal(t, 3*time.Second, c.cfg.tlsHandshakeTimeout)
	assert.Equal(t, 512, c.cfg.maxLineLength)
	assert.Equal(t, 1024, c.cfg.readerSize)
	assert.Equal(t, 2048, c.cfg.writerSize)
	assert.Equal(t, "localhost", c.cfg.localName)
}

func TestReplyLineTooLong(t *testing.T) {
	fake := tester.NewFakeConn("220 "+strings.Repeat("x", 100)+"\r\n", &bytes.Buffer{})
	c := New(fake, WithReaderSize(16), WithMaxLineLength(32))

	err := c.Greet()
	var perr *smtp.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, smtp.StepGreeting, perr.Step)
	assert.Equal(t, smtp.StateFailed, c.State())
	assert.Equal(t, 1, fake.CloseCount())
}

func TestSubmissionTimeout(t *testing.T) {
	s := newScripted(t, []string{
		"220 ready",
		"250 relay.test",
		"250 sender ok",
		"250 recipient ok",
		"354 go ahead",
		tester.Stall,
	})
	c := dialScripted(t, s, WithSubmissionTimeout(100*time.Millisecond))

	err := c.Deliver(context.Background(), Envelope{
		From: "a@greenhouse.test",
		To:   []string{"b@example.com"},
	}, strings.NewReader("hello\r\n"))

	var terr *smtp.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, smtp.StepPayload, terr.Step)
	assert.Equal(t, smtp.StateFailed, c.State())
}

func TestDeliverQuitNotRequired(t *testing.T) {
	tests := []struct {
		name string
		quit string
	}{
		{name: "Rejected", quit: "554 5.0.0 not now"},
		{name: "NoAnswer", quit: tester.Stall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScripted(t, []string{
				"220 ready",
				"250 relay.test",
				"250 sender ok",
				"250 recipient ok",
				"354 go ahead",
				"250 2.0.0 queued",
				tt.quit,
			})
			c := dialScripted(t, s, WithCommandTimeout(200*time.Millisecond))

			err := c.Deliver(context.Background(), Envelope{
				From: "a@greenhouse.test",
				To:   []string{"b@example.com"},
			}, strings.NewReader("hello\r\n"))
			require.NoError(t, err)
			assert.Equal(t, smtp.StateClosed, c.State())

			require.True(t, s.Wait(2*time.Second))
			assert.Equal(t, "QUIT", s.Commands()[len(s.Commands())-1])
		})
	}
}
