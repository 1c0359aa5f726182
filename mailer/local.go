package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aliadelelroby/Greenhouse-sub000/message"
)

// DefaultSendmailPath is where most MTAs install their sendmail binary.
const DefaultSendmailPath = "/usr/sbin/sendmail"

// SendmailSubmitter pipes messages to a local sendmail binary, which reads
// the recipients from the To header.
type SendmailSubmitter struct {
	// Path defaults to DefaultSendmailPath.
	Path string
	// Args default to -t -i.
	Args []string
}

// Submit implements LocalSubmitter.
func (s SendmailSubmitter) Submit(ctx context.Context, msg *message.Message) (bool, error) {
	path := s.Path
	if path == "" {
		path = DefaultSendmailPath
	}
	args := s.Args
	if args == nil {
		args = []string{"-t", "-i"}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(msg.Bytes())
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if out := strings.TrimSpace(stderr.String()); out != "" {
			return false, fmt.Errorf("mailer: local submission via %s: %w: %s", path, err, out)
		}
		return false, fmt.Errorf("mailer: local submission via %s: %w", path, err)
	}
	return true, nil
}

// DirSubmitter stores messages in a directory instead of sending them,
// for development. Each message is written as an .eml file next to a .json
// file with its metadata.
type DirSubmitter struct {
	Dir string
	// Now defaults to time.Now.
	Now func() time.Time
}

type submission struct {
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Multipart bool   `json:"multipart"`
	File      string `json:"file"`
}

// Submit implements LocalSubmitter.
func (d DirSubmitter) Submit(_ context.Context, msg *message.Message) (bool, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return false, fmt.Errorf("mailer: creating %s: %w", d.Dir, err)
	}

	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	// the suffix keeps two messages in the same second apart
	base := fmt.Sprintf("%s_%s_%s", now.Format("2006_01_02_150405"), sanitizeFilename(msg.Subject), uuid.NewString()[:8])

	emlPath := filepath.Join(d.Dir, base+".eml")
	if err := os.WriteFile(emlPath, msg.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("mailer: writing message: %w", err)
	}

	data, err := json.MarshalIndent(submission{
		Timestamp: now.Format(time.RFC3339),
		From:      msg.From,
		To:        msg.To,
		Subject:   msg.Subject,
		Multipart: msg.Multipart(),
		File:      base + ".eml",
	}, "", "  ")
	if err != nil {
		return false, fmt.Errorf("mailer: encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Dir, base+".json"), data, 0o644); err != nil {
		return false, fmt.Errorf("mailer: writing metadata: %w", err)
	}
	return true, nil
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeFilename.ReplaceAllString(s, "")

	const maxLength = 100
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
