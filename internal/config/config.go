// Package config loads the application configuration: defaults, then an
// optional YAML file, then .env files, then the environment. Environment
// variables always win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
	"github.com/aliadelelroby/Greenhouse-sub000/mailer"
)

const (
	// LocalSendmail hands messages to the sendmail binary.
	LocalSendmail = "sendmail"
	// LocalDir stores messages in a directory.
	LocalDir = "dir"
)

// Config holds the complete application configuration.
type Config struct {
	App     AppConfig              `yaml:"app"`
	SMTP    mailer.TransportConfig `yaml:"smtp"`
	Local   LocalConfig            `yaml:"local"`
	Logging LoggingConfig          `yaml:"logging"`
}

// AppConfig names the product in notifications.
type AppConfig struct {
	Name    string `yaml:"name" env:"APP_NAME"`
	BaseURL string `yaml:"base_url" env:"APP_BASE_URL"`
	// ResetsPerHour caps password reset emails per address, zero disables.
	ResetsPerHour int `yaml:"resets_per_hour" env:"APP_RESETS_PER_HOUR"`
}

// LocalConfig selects the local submission used when SMTP is disabled.
type LocalConfig struct {
	Mode         string `yaml:"mode" env:"MAIL_LOCAL_MODE"`
	Dir          string `yaml:"dir" env:"MAIL_LOCAL_DIR"`
	SendmailPath string `yaml:"sendmail_path" env:"SENDMAIL_PATH"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Default returns the configuration before any file or variable is applied.
func Default() *Config {
	return &Config{
		App:     AppConfig{Name: "Greenhouse", BaseURL: "http://localhost:8080", ResetsPerHour: 5},
		SMTP:    mailer.DefaultTransportConfig(),
		Local:   LocalConfig{Mode: LocalSendmail, Dir: "mail"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, if path is not empty, and applies the
// environment on top. envFiles are loaded into the environment first
// without overriding variables that are already set; when none are given,
// ./.env is used if it exists.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration the transport does not
// check itself.
func (c *Config) Validate() error {
	switch c.Local.Mode {
	case LocalSendmail:
	case LocalDir:
		if c.Local.Dir == "" {
			return &smtp.ConfigurationError{Field: "local dir", Reason: "is required in dir mode"}
		}
	default:
		return &smtp.ConfigurationError{Field: "local mode", Reason: fmt.Sprintf("%q is not one of sendmail, dir", c.Local.Mode)}
	}
	return nil
}

// LocalSubmitter returns the fallback selected by Local.Mode.
func (c *Config) LocalSubmitter() mailer.LocalSubmitter {
	if c.Local.Mode == LocalDir {
		return mailer.DirSubmitter{Dir: c.Local.Dir}
	}
	return mailer.SendmailSubmitter{Path: c.Local.SendmailPath}
}
