package mailer

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/emersion/go-sasl"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
	"github.com/aliadelelroby/Greenhouse-sub000/client"
)

const (
	// AuthLogin is the default mechanism.
	AuthLogin = sasl.Login
	// AuthPlain sends identity, user and password in one response.
	AuthPlain = sasl.Plain
)

// DefaultTimeout bounds connecting and every read when TransportConfig.Timeout
// is not set.
const DefaultTimeout = 30 * time.Second

// TransportConfig holds everything the transport needs for one send. All
// values are plain scalars so the struct can be filled from YAML or the
// environment.
type TransportConfig struct {
	// Enabled selects the SMTP transport. When false, messages are handed
	// to the local submitter instead.
	Enabled bool `yaml:"enabled" env:"SMTP_ENABLED"`

	Host string `yaml:"host" env:"SMTP_HOST"`
	Port int    `yaml:"port" env:"SMTP_PORT"`
	// Encryption auto picks implicit TLS for 465, STARTTLS for 587 and
	// none otherwise.
	Encryption smtp.Encryption `yaml:"encryption" env:"SMTP_ENCRYPTION"`
	// VerifyTLS enables certificate verification. Self-signed certificates
	// are accepted when false.
	VerifyTLS bool `yaml:"verify_tls" env:"SMTP_VERIFY_TLS"`

	// Authentication is skipped when Username is empty.
	Username      string `yaml:"username" env:"SMTP_USERNAME"`
	Password      string `yaml:"password" env:"SMTP_PASSWORD"`
	AuthMechanism string `yaml:"auth_mechanism" env:"SMTP_AUTH_MECHANISM"`

	FromAddress string `yaml:"from_address" env:"SMTP_FROM_ADDRESS"`
	FromName    string `yaml:"from_name" env:"SMTP_FROM_NAME"`
	// ReplyTo defaults to FromAddress.
	ReplyTo string `yaml:"reply_to" env:"SMTP_REPLY_TO"`
	// LocalName is sent with EHLO. It defaults to the host name.
	LocalName string `yaml:"local_name" env:"SMTP_LOCAL_NAME"`

	// Timeout bounds connecting and each read. It defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT"`
}

// DefaultTransportConfig returns the configuration used before any file or
// environment is applied.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Enabled:       true,
		Port:          587,
		Encryption:    smtp.EncryptionAuto,
		AuthMechanism: AuthLogin,
		Timeout:       DefaultTimeout,
	}
}

// LoadTransportConfig returns the defaults overridden by SMTP_* environment
// variables.
func LoadTransportConfig() (TransportConfig, error) {
	cfg := DefaultTransportConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("mailer: parsing environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration without any network activity.
// Failures are *smtp.ConfigurationError.
func (c TransportConfig) Validate() error {
	if c.Enabled {
		if c.Host == "" {
			return &smtp.ConfigurationError{Field: "host", Reason: "is required"}
		}
		if c.Port < 1 || c.Port > 65535 {
			return &smtp.ConfigurationError{Field: "port", Reason: fmt.Sprintf("%d is out of range", c.Port)}
		}
	}

	if c.FromAddress == "" {
		return &smtp.ConfigurationError{Field: "from address", Reason: "is required"}
	}
	for _, f := range []struct{ name, value string }{
		{"host", c.Host},
		{"from address", c.FromAddress},
		{"from name", c.FromName},
		{"reply-to address", c.ReplyTo},
		{"local name", c.LocalName},
		{"username", c.Username},
	} {
		if strings.ContainsAny(f.value, "\r\n") {
			return &smtp.ConfigurationError{Field: f.name, Reason: "must not contain CR or LF"}
		}
	}
	if _, err := mail.ParseAddress(c.FromAddress); err != nil {
		return &smtp.ConfigurationError{Field: "from address", Reason: fmt.Sprintf("%q is invalid", c.FromAddress)}
	}
	if c.ReplyTo != "" {
		if _, err := mail.ParseAddress(c.ReplyTo); err != nil {
			return &smtp.ConfigurationError{Field: "reply-to address", Reason: fmt.Sprintf("%q is invalid", c.ReplyTo)}
		}
	}

	if c.Username != "" && c.Password == "" {
		return &smtp.ConfigurationError{Field: "password", Reason: "is required with a username"}
	}
	switch strings.ToUpper(c.AuthMechanism) {
	case "", AuthLogin, AuthPlain:
	default:
		return &smtp.ConfigurationError{Field: "auth mechanism", Reason: fmt.Sprintf("%q is not supported", c.AuthMechanism)}
	}
	return nil
}

// Addr returns host:port.
func (c TransportConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ResolvedEncryption returns the encryption mode after resolving auto.
func (c TransportConfig) ResolvedEncryption() smtp.Encryption {
	return smtp.ResolveEncryption(c.Encryption, c.Port)
}

// LogValue implements slog.LogValuer. The password is never included.
func (c TransportConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", c.Enabled),
		slog.String("addr", c.Addr()),
		slog.String("encryption", c.ResolvedEncryption().String()),
		slog.Bool("verify_tls", c.VerifyTLS),
		slog.String("username", c.Username),
		slog.Bool("password_set", c.Password != ""),
		slog.String("from", c.FromAddress),
	)
}

func (c TransportConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c TransportConfig) localName() string {
	if c.LocalName != "" {
		return c.LocalName
	}
	if host, err := os.Hostname(); err == nil && host != "" && !strings.ContainsAny(host, "\r\n") {
		return host
	}
	return "localhost"
}

func (c TransportConfig) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.Host,
		InsecureSkipVerify: !c.VerifyTLS, //nolint:gosec // opt-in verification
		MinVersion:         tls.VersionTLS12,
	}
}

// saslClient returns nil when no credentials are configured.
func (c TransportConfig) saslClient() sasl.Client {
	if c.Username == "" {
		return nil
	}
	if strings.EqualFold(c.AuthMechanism, AuthPlain) {
		return sasl.NewPlainClient("", c.Username, c.Password)
	}
	return client.NewLoginClient(c.Username, c.Password)
}
