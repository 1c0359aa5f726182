package client

import (
	"errors"
	"log/slog"
	"time"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
	"github.com/aliadelelroby/Greenhouse-sub000/internal/textsmtp"
)

// DataCloser implements an io.WriteCloser with the additional
// CloseWithResponse function.
type DataCloser struct {
	writer *textsmtp.DotWriter
	c      *Client
	closed bool
}

// Write dot-stuffs p onto the connection. A failed write fails the session.
func (d *DataCloser) Write(p []byte) (int, error) {
	if d.closed {
		return 0, errors.New("smtp: write on closed data writer")
	}
	if d.c.state != smtp.StateDataOpen {
		return 0, d.c.require(smtp.StepPayload, smtp.StateDataOpen)
	}

	if t := d.c.cfg.commandTimeout; t > 0 {
		_ = d.c.conn.SetWriteDeadline(time.Now().Add(t))
		defer func() { _ = d.c.conn.SetWriteDeadline(time.Time{}) }()
	}

	n, err := d.writer.Write(p)
	if err != nil {
		return n, d.c.fail(d.c.ioError(smtp.StepPayload, err))
	}
	return n, nil
}

// Written returns the number of bytes sent so far, dot-stuffing included.
func (d *DataCloser) Written() int64 {
	return d.writer.Written()
}

// CloseWithResponse terminates the payload and returns the server reply,
// which must be 250.
func (d *DataCloser) CloseWithResponse() (smtp.Response, error) {
	if d.closed {
		return smtp.Response{}, errors.New("smtp: data writer closed twice")
	}
	d.closed = true
	if d.c.state != smtp.StateDataOpen {
		return smtp.Response{}, d.c.require(smtp.StepPayload, smtp.StateDataOpen)
	}

	timeout := smtp.Timeout(d.c.conn, d.c.cfg.submissionTimeout)
	defer timeout()

	if err := d.writer.Close(); err != nil {
		return smtp.Response{}, d.c.fail(d.c.ioError(smtp.StepPayload, err))
	}

	resp, err := d.c.text.ReadResponse()
	if err != nil {
		return smtp.Response{}, d.c.fail(d.c.ioError(smtp.StepPayload, err))
	}
	if err := textsmtp.Expect(resp, 250, smtp.StepPayload); err != nil {
		return resp, d.c.fail(err)
	}
	d.c.logger.Debug("smtp reply",
		slog.String("step", smtp.StepPayload.String()),
		slog.Int("code", resp.Code),
		slog.Int64("bytes", d.writer.Written()),
	)
	return resp, nil
}

// Close closes the data closer.
func (d *DataCloser) Close() error {
	_, err := d.CloseWithResponse()
	return err
}
