// Package smtp contains the vocabulary shared by the transport packages:
// encryption modes, protocol steps, session states, server responses and
// the error kinds a send can fail with.
package smtp

import (
	"fmt"
	"strings"
)

// Encryption describes how the connection to the relay is secured.
type Encryption int32

const (
	// EncryptionAuto derives the mode from the port: 465 is implicit TLS,
	// 587 is STARTTLS, everything else is plain.
	EncryptionAuto Encryption = 0
	// EncryptionNone is always just a plain connection.
	EncryptionNone Encryption = 1
	// EncryptionTLS does an implicit tls connection.
	EncryptionTLS Encryption = 2
	// EncryptionStartTLS upgrades the plain connection in place and fails
	// if the server refuses.
	EncryptionStartTLS Encryption = 3
)

// ResolveEncryption returns the effective mode for port.
func ResolveEncryption(enc Encryption, port int) Encryption {
	if enc != EncryptionAuto {
		return enc
	}
	switch port {
	case 465:
		return EncryptionTLS
	case 587:
		return EncryptionStartTLS
	default:
		return EncryptionNone
	}
}

// String returns the configuration name of the mode.
func (e Encryption) String() string {
	switch e {
	case EncryptionAuto:
		return "auto"
	case EncryptionNone:
		return "none"
	case EncryptionTLS:
		return "tls"
	case EncryptionStartTLS:
		return "starttls"
	default:
		return fmt.Sprintf("Encryption(%d)", int32(e))
	}
}

// ParseEncryption parses a configuration value. It accepts a few common
// aliases ("ssl", "plain", "tls-implicit").
func ParseEncryption(s string) (Encryption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncryptionAuto, nil
	case "none", "plain":
		return EncryptionNone, nil
	case "tls", "ssl", "implicit", "tls-implicit":
		return EncryptionTLS, nil
	case "starttls":
		return EncryptionStartTLS, nil
	default:
		return EncryptionAuto, fmt.Errorf("smtp: unknown encryption mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Encryption) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so the mode can be
// read from environment variables and YAML.
func (e *Encryption) UnmarshalText(text []byte) error {
	v, err := ParseEncryption(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Step identifies a position in the command sequence of one send.
// Errors carry the step they happened at.
type Step int

const (
	StepConnect Step = iota
	StepGreeting
	StepHello
	StepStartTLS
	StepAuth
	StepMailFrom
	StepRcptTo
	StepData
	StepPayload
	StepQuit
)

var stepNames = [...]string{
	StepConnect:  "CONNECT",
	StepGreeting: "GREETING",
	StepHello:    "EHLO",
	StepStartTLS: "STARTTLS",
	StepAuth:     "AUTH",
	StepMailFrom: "MAIL FROM",
	StepRcptTo:   "RCPT TO",
	StepData:     "DATA",
	StepPayload:  "PAYLOAD",
	StepQuit:     "QUIT",
}

func (s Step) String() string {
	if s >= 0 && int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// State is the position of a client session. Transitions only move
// forward; any failure moves the session to StateFailed.
type State int

const (
	// StateConnected means the socket is open and nothing has been read yet.
	StateConnected State = iota
	// StateGreeted means the 220 greeting was read. EHLO happens in this state.
	StateGreeted
	// StateEncryptionNegotiated means STARTTLS succeeded and EHLO was repeated
	// over the encrypted channel.
	StateEncryptionNegotiated
	// StateAuthenticated means AUTH finished with 235.
	StateAuthenticated
	// StateSenderSet means MAIL FROM was accepted.
	StateSenderSet
	// StateRecipientSet means RCPT TO was accepted.
	StateRecipientSet
	// StateDataOpen means DATA was answered with 354.
	StateDataOpen
	// StateClosed means the socket was closed after a successful sequence or QUIT.
	StateClosed
	// StateFailed is terminal: a step failed and the socket was closed.
	StateFailed
)

var stateNames = [...]string{
	StateConnected:            "connected",
	StateGreeted:              "greeted",
	StateEncryptionNegotiated: "encryption-negotiated",
	StateAuthenticated:        "authenticated",
	StateSenderSet:            "sender-set",
	StateRecipientSet:         "recipient-set",
	StateDataOpen:             "data-open",
	StateClosed:               "closed",
	StateFailed:               "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further command may be issued.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Response is one logical server reply. Every line of a multi-line reply
// shares Code; Lines holds the text after the code and separator, in order.
type Response struct {
	Code  int
	Lines []string
	// Raw is the reply as received, lines joined with "\n".
	Raw string
}

// Message returns the reply text, lines joined with "\n".
func (r Response) Message() string {
	return strings.Join(r.Lines, "\n")
}
