package notify

import (
	"errors"
	"fmt"
	"strings"

	smtp "github.com/aliadelelroby/Greenhouse-sub000"
)

// Explain turns a send error into guidance for whoever maintains the mail
// settings. host is the configured SMTP host; it selects provider specific
// advice for authentication failures.
func Explain(err error, host string) string {
	if err == nil {
		return ""
	}

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
		return fmt.Sprintf("The mail settings are incomplete: %s %s.", cfgErr.Field, cfgErr.Reason)
	case errors.As(err, &authErr):
		return explainAuth(strings.ToLower(host))
	case errors.As(err, &toErr):
		return fmt.Sprintf("The mail server did not answer in time (%s). Check the host, the port and any firewall in between.", toErr.Step)
	case errors.As(err, &connErr):
		return fmt.Sprintf("Could not connect to %s. Check the host, the port and the encryption mode: port 465 uses TLS, port 587 uses STARTTLS.", connErr.Addr)
	case errors.As(err, &respErr):
		msg := fmt.Sprintf("The mail server refused the message at %s with %03d", respErr.Step, respErr.Got)
		if respErr.Text != "" {
			msg += ": " + respErr.Text
		}
		if respErr.Temporary() {
			return msg + ". Try again later."
		}
		return msg + "."
	case errors.As(err, &protErr):
		return "The mail server sent a reply that is not SMTP. Check that the port and the encryption mode match the server."
	}
	return "The message could not be sent."
}

func explainAuth(host string) string {
	switch {
	case strings.HasSuffix(host, "gmail.com") || strings.HasSuffix(host, "googlemail.com"):
		return "Gmail rejected the credentials. With 2-step verification enabled, create an app password at https://myaccount.google.com/apppasswords and use it instead of the account password."
	case strings.Contains(host, "office365.com") || strings.Contains(host, "outlook.com") || strings.Contains(host, "hotmail.com") || strings.Contains(host, "live.com"):
		return "Outlook rejected the credentials. Make sure SMTP AUTH is enabled for the mailbox, and use an app password if multi-factor authentication is on."
	case strings.Contains(host, "yahoo."):
		return "Yahoo rejected the credentials. Generate an app password in the Yahoo account security settings and use it instead of the account password."
	}
	return "The mail server rejected the username or password."
}
