package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/shineum/mail-sink/internal/admin"
	"github.com/shineum/mail-sink/internal/config"
	"github.com/shineum/mail-sink/internal/email"
	"github.com/shineum/mail-sink/internal/form"
	"github.com/shineum/mail-sink/internal/notice"
	"github.com/shineum/mail-sink/internal/smtp"
	smtptls "github.com/shineum/mail-sink/internal/tls"
)

// adminShutdownTimeout bounds the admin API graceful shutdown.
const adminShutdownTimeout = 5 * time.Second

// runner carries state from the global flags into the commands.
type runner struct {
	out io.Writer
	cfg *config.Config
}

// newCLI builds the command-line application. Command output goes to out;
// logs go to stderr, except for serve which logs to stdout.
func newCLI(out io.Writer) *cli.App {
	r := &runner{out: out}

	app := cli.NewApp()
	app.Name = "mail-sink"
	app.Usage = "capture outgoing mail in a log file instead of delivering it"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to YAML configuration file (optional)",
		},
		cli.StringFlag{
			Name:  "env-file",
			Value: ".env",
			Usage: "dotenv file loaded before configuration; ignored when missing",
		},
	}
	app.Before = r.before
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the SMTP listener and the admin API",
			Action: r.serve,
		},
		{
			Name:   "status",
			Usage:  "show the mail sink state",
			Action: r.status,
		},
		{
			Name:  "configure",
			Usage: "enable or disable the sink and set the log file",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "enabled", Usage: "route all outgoing mail to the log file"},
				cli.StringFlag{Name: "file-path", Usage: "path to the log file"},
			},
			Action: r.configure,
		},
		{
			Name:  "send",
			Usage: "send a test message through the active mailer",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "to", Usage: "recipient list"},
				cli.StringFlag{Name: "from", Usage: "sender address"},
				cli.StringFlag{Name: "subject", Value: "Mail sink test", Usage: "message subject"},
				cli.StringFlag{Name: "body", Value: "This is a test message.", Usage: "message body"},
			},
			Action: r.send,
		},
	}
	app.Action = r.serve
	return app
}

func (r *runner) before(c *cli.Context) error {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return err
	}
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	r.cfg = cfg
	setupLogger(cfg.Logging.Level, os.Stderr)
	return nil
}

func (r *runner) serve(_ *cli.Context) error {
	setupLogger(r.cfg.Logging.Level, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, r.cfg, notice.LogNotifier{})
	if err != nil {
		return err
	}

	tlsConfig, tlsSource, err := smtptls.LoadOrGenerate(r.cfg.TLS.CertFile, r.cfg.TLS.KeyFile, r.cfg.SMTP.Hostname)
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     r.cfg.SMTP.Listen,
		Hostname:       r.cfg.SMTP.Hostname,
		Handler:        a.dispatcher,
		TLSConfig:      tlsConfig,
		AuthUsername:   r.cfg.SMTP.Username,
		AuthPassword:   r.cfg.SMTP.Password,
		MaxMessageSize: r.cfg.SMTP.MaxMessageSize,

		ConnectionsPerMinute: r.cfg.SMTP.ConnectionsPerMinute,
	})

	active, err := a.dispatcher.Active()
	if err != nil {
		slog.Warn("default mailer cannot be resolved", "error", err)
	}
	attrs := []any{
		"listen", r.cfg.SMTP.Listen,
		"auth_enabled", r.cfg.AuthEnabled(),
		"tls_mode", string(tlsSource),
		"max_message_size", humanize.IBytes(uint64(r.cfg.SMTP.MaxMessageSize)),
		"settings", r.cfg.Settings.Path,
	}
	if active != nil {
		attrs = append(attrs, "mailer", active.Name())
	}
	slog.Info("starting mail-sink", attrs...)

	var httpServer *http.Server
	if r.cfg.Admin.Listen != "" {
		httpServer = &http.Server{
			Addr: r.cfg.Admin.Listen,
			Handler: admin.New(a.form, a.store, admin.Config{
				Username: r.cfg.Admin.Username,
				Password: r.cfg.Admin.Password,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("admin API listening", "addr", r.cfg.Admin.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin API error", "error", err)
				stop()
			}
		}()
	}

	serveErr := server.ListenAndServe(ctx)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin API shutdown failed", "error", err)
		}
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}

	slog.Info("mail-sink stopped")
	return nil
}

func (r *runner) status(_ *cli.Context) error {
	a, err := newApp(context.Background(), r.cfg, notice.NewQueue())
	if err != nil {
		return err
	}
	values, err := a.form.Build()
	if err != nil {
		return err
	}

	state := "disabled"
	if values.Enabled {
		state = "enabled"
	}
	mailer := "unresolved"
	if p, err := a.dispatcher.Active(); err == nil {
		mailer = p.Name()
	}

	ids := a.registry.Registered()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, string(id))
	}

	fmt.Fprintf(r.out, "Mail sink:       %s\n", state)
	fmt.Fprintf(r.out, "Log file:        %s\n", values.FilePath)
	fmt.Fprintf(r.out, "Active mailer:   %s\n", mailer)
	fmt.Fprintf(r.out, "Known mailers:   %s\n", strings.Join(names, ", "))
	return nil
}

func (r *runner) configure(c *cli.Context) error {
	a, err := newApp(context.Background(), r.cfg, notice.NewQueue())
	if err != nil {
		return err
	}
	values, err := a.form.Build()
	if err != nil {
		return err
	}
	if c.IsSet("enabled") {
		values.Enabled = c.Bool("enabled")
	}
	if c.IsSet("file-path") {
		values.FilePath = c.String("file-path")
	}

	errs, err := a.form.Process(values)
	if len(errs) > 0 {
		for _, fe := range errs {
			fmt.Fprintf(r.out, "%s: %s\n", fe.Field, fe.Message)
		}
		return fmt.Errorf("invalid %s settings", form.ID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out, "The configuration options have been saved.")
	return nil
}

func (r *runner) send(c *cli.Context) error {
	to := c.String("to")
	if strings.TrimSpace(to) == "" {
		return errors.New("send: --to is required")
	}

	queue := notice.NewQueue()
	a, err := newApp(context.Background(), r.cfg, queue)
	if err != nil {
		return err
	}

	msg := &email.Message{
		From:    c.String("from"),
		To:      to,
		Subject: c.String("subject"),
		Body:    c.String("body"),
	}
	if msg.From != "" {
		msg.Headers.Set("From", msg.From)
	}
	if err := a.dispatcher.Send(context.Background(), msg); err != nil {
		return err
	}

	for _, n := range queue.Drain() {
		fmt.Fprintf(r.out, "[%s] %s\n", n.Kind, n.Text)
	}
	fmt.Fprintf(r.out, "Message %s dispatched.\n", msg.ID)
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output on w.
func setupLogger(level string, w io.Writer) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
