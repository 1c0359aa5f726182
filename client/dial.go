package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
)

// Dial opens a connection to addr ("host:port"). With implicit TLS the
// handshake is complete before Dial returns. EncryptionAuto is resolved
// from the port. timeout bounds the whole connect including the handshake.
//
// A nil tlsConfig verifies the certificate against the host of addr.
// The caller owns the returned connection.
func Dial(ctx context.Context, addr string, enc smtp.Encryption, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &smtp.ConfigurationError{Field: "addr", Reason: err.Error()}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, &smtp.ConfigurationError{Field: "addr", Reason: "has an invalid port " + strconv.Quote(portStr)}
	}

	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	if smtp.ResolveEncryption(enc, port) == smtp.EncryptionTLS {
		tlsDialer := tls.Dialer{
			NetDialer: dialer,
			Config:    withServerName(tlsConfig, host),
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		if smtp.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &smtp.TimeoutError{Step: smtp.StepConnect, Err: err}
		}
		return nil, &smtp.ConnectionError{Addr: addr, Step: smtp.StepConnect, Err: err}
	}
	return conn, nil
}

// withServerName returns a config that verifies against serverName unless
// cfg already names a server. cfg itself is never modified.
func withServerName(cfg *tls.Config, serverName string) *tls.Config {
	if cfg == nil {
		return &tls.Config{ServerName: serverName}
	}
	if cfg.ServerName == "" && serverName != "" {
		cfg = cfg.Clone()
		cfg.ServerName = serverName
	}
	return cfg
}
