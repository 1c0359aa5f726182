// Command greenhouse-mail sends a notification with the configured mail
// transport. It is used to check the mail settings of a deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aliadelelroby/Greenhouse-sub000/internal/config"
	"github.com/aliadelelroby/Greenhouse-sub000/mailer"
	"github.com/aliadelelroby/Greenhouse-sub000/notify"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	to := flag.String("to", "", "recipient address")
	kind := flag.String("kind", "test", "notification to send: test, welcome or reset")
	name := flag.String("name", "there", "recipient name used in welcome and reset messages")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	if *to == "" {
		slog.Error("missing -to")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	m := mailer.New(mailer.WithLocalSubmitter(cfg.LocalSubmitter()))
	n := notify.New(m, cfg.SMTP,
		notify.WithAppName(cfg.App.Name),
		notify.WithResetLimit(cfg.App.ResetsPerHour, time.Hour),
	)

	slog.Info("sending notification",
		"kind", *kind,
		"to", *to,
		"smtp", cfg.SMTP,
	)

	base := strings.TrimSuffix(cfg.App.BaseURL, "/")
	switch *kind {
	case "test":
		err = n.Test(ctx, *to)
	case "welcome":
		err = n.Welcome(ctx, *to, *name, base+"/login")
	case "reset":
		err = n.PasswordReset(ctx, *to, *name, base+"/password/reset")
	default:
		slog.Error("unknown notification kind", "kind", *kind)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, notify.Explain(err, cfg.SMTP.Host))
		os.Exit(1)
	}

	slog.Info("notification sent", "kind", *kind, "to", *to)
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
