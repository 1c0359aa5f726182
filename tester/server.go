package tester

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Stall makes the ScriptedServer stop answering until it is closed.
const Stall = "\x00stall"

// ScriptedServer is a relay that answers with a fixed list of raw replies,
// one per command line, starting with the greeting. It records every line
// the client sends and the DATA payload exactly as received.
//
// It serves a single connection. Once the script is exhausted QUIT gets
// "221" and every other command "503".
type ScriptedServer struct {
	replies     []string
	cert        *tls.Certificate
	implicitTLS bool

	ln   net.Listener
	done chan struct{}

	mu       sync.Mutex
	commands []string
	data     []string
	conn     net.Conn
	err      error
}

// ScriptOption configures a ScriptedServer.
type ScriptOption func(*ScriptedServer)

// WithStartTLS upgrades the connection with cert after the server answered
// STARTTLS with a 220.
func WithStartTLS(cert tls.Certificate) ScriptOption {
	return func(s *ScriptedServer) {
		s.cert = &cert
	}
}

// WithImplicitTLS serves TLS from the first byte.
func WithImplicitTLS(cert tls.Certificate) ScriptOption {
	return func(s *ScriptedServer) {
		s.cert = &cert
		s.implicitTLS = true
	}
}

// NewScriptedServer listens on a random loopback port and serves replies.
// Reply lines may be separated by "\n"; CRLF is added.
func NewScriptedServer(replies []string, opts ...ScriptOption) (*ScriptedServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &ScriptedServer{
		replies: replies,
		ln:      ln,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	go s.serve()
	return s, nil
}

// Addr returns host:port of the listener.
func (s *ScriptedServer) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the listening port.
func (s *ScriptedServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Commands returns the lines received so far, without line endings.
// Lines of the DATA payload are not included.
func (s *ScriptedServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Data returns the payload of the last DATA command, dot-stuffing intact,
// lines joined with CRLF and without the terminating ".".
func (s *ScriptedServer) Data() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return ""
	}
	return s.data[len(s.data)-1]
}

// Err returns the error that ended the session, nil for a clean
// client side close.
func (s *ScriptedServer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session ended or d passed. It reports whether the
// session ended.
func (s *ScriptedServer) Wait(d time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(d):
		return false
	}
}

// Close stops the listener and drops the connection.
func (s *ScriptedServer) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	return err
}

func (s *ScriptedServer) serve() {
	defer close(s.done)

	conn, err := s.ln.Accept()
	if err != nil {
		s.setErr(err)
		return
	}
	_ = s.ln.Close()

	if s.implicitTLS {
		conn = tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{*s.cert}})
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	s.setErr(s.session(conn))
}

func (s *ScriptedServer) session(conn net.Conn) error {
	r := bufio.NewReader(conn)
	next := 0

	reply := func(cmd string) (string, error) {
		if next >= len(s.replies) {
			if strings.EqualFold(cmd, "QUIT") {
				return "221 bye", nil
			}
			return "503 script exhausted", nil
		}
		rep := s.replies[next]
		next++
		if rep == Stall {
			_, _ = io.Copy(io.Discard, conn)
			return "", io.EOF
		}
		return rep, nil
	}

	greeting, err := reply("")
	if err != nil {
		return nil
	}
	if err := writeReply(conn, greeting); err != nil {
		return err
	}

	for {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.record(line)

		rep, err := reply(line)
		if err != nil {
			return nil
		}

		cmd := strings.ToUpper(line)
		if cmd == "DATA" && strings.HasPrefix(rep, "354") {
			if err := writeReply(conn, rep); err != nil {
				return err
			}
			payload, err := readPayload(r)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.data = append(s.data, payload)
			s.mu.Unlock()

			if rep, err = reply(""); err != nil {
				return nil
			}
		}

		if err := writeReply(conn, rep); err != nil {
			return err
		}

		if cmd == "STARTTLS" && strings.HasPrefix(rep, "220") && s.cert != nil {
			tconn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{*s.cert}})
			if err := tconn.Handshake(); err != nil {
				return err
			}
			conn = tconn
			r = bufio.NewReader(conn)
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
		}

		if cmd == "QUIT" {
			return nil
		}
	}
}

func (s *ScriptedServer) record(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *ScriptedServer) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func readPayload(r *bufio.Reader) (string, error) {
	var lines []string
	for {
		line, err := readLine(r)
		if err != nil {
			return "", err
		}
		if line == "." {
			return strings.Join(lines, "\r\n"), nil
		}
		lines = append(lines, line)
	}
}

func writeReply(w io.Writer, reply string) error {
	reply = strings.ReplaceAll(reply, "\r\n", "\n")
	reply = strings.ReplaceAll(reply, "\n", "\r\n")
	_, err := io.WriteString(w, reply+"\r\n")
	return err
}
