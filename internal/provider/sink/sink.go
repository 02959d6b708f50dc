// Package sink implements a Provider that never delivers mail. Each message
// is formatted as plain text and appended to a log file whose path is read
// from the sink settings. Intended for development and testing.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/shineum/mail-sink/internal/email"
	"github.com/shineum/mail-sink/internal/fsutil"
	"github.com/shineum/mail-sink/internal/notice"
	"github.com/shineum/mail-sink/internal/settings"
)

// Outcome tells whether a message reached the log file.
type Outcome int

const (
	// Logged means the message was appended to the log file.
	Logged Outcome = iota
	// Suppressed means the write failed and the failure was swallowed.
	Suppressed
)

func (o Outcome) String() string {
	switch o {
	case Logged:
		return "logged"
	case Suppressed:
		return "suppressed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes one Deliver call. Callers of Send never see it.
type Result struct {
	Outcome  Outcome
	Path     string
	Err      error
	Prepared Prepared
}

// Config holds the settings for creating a Writer.
type Config struct {
	// LineEndings replaces every body line break. Empty means the
	// platform newline.
	LineEndings string

	// SendmailPath is the transport command line. When it already carries
	// a -f flag, Return-Path stays in the headers.
	SendmailPath string

	// Notifier receives the user-facing "simulated" notice. Optional.
	Notifier notice.Notifier

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Writer appends outgoing messages to the configured log file.
type Writer struct {
	store        settings.Store
	lineEndings  string
	sendmailPath string
	notifier     notice.Notifier
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a Writer that resolves its file path from store on every send.
func New(store settings.Store, cfg Config) *Writer {
	w := &Writer{
		store:        store,
		lineEndings:  cfg.LineEndings,
		sendmailPath: cfg.SendmailPath,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if w.lineEndings == "" {
		w.lineEndings = PlatformLineEnding()
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Name returns the provider name.
func (w *Writer) Name() string {
	return "sink"
}

// Send logs msg and always returns nil. A mail sink must never break the
// application sending the mail; use Deliver to observe write failures.
func (w *Writer) Send(_ context.Context, msg *email.Message) error {
	w.Deliver(msg)
	return nil
}

// Deliver formats msg, appends it to the log file and reports what happened.
func (w *Writer) Deliver(msg *email.Message) Result {
	prepared := Prepare(msg, PrepareOptions{
		LineEndings:  w.lineEndings,
		SendmailPath: w.sendmailPath,
		Now:          w.now(),
	})

	result := Result{Outcome: Logged, Prepared: prepared}

	path, err := w.filePath()
	if err == nil {
		result.Path = path
		err = appendToLog(path, Compose(prepared))
	}
	if err != nil {
		result.Outcome = Suppressed
		result.Err = err
		w.logger.Warn("mail sink could not write message",
			"path", path,
			"error", err,
		)
	}

	if w.notifier != nil {
		w.notifier.Notify(notice.Notice{
			Kind: notice.Status,
			Text: fmt.Sprintf("An email message to '%s' was simulated", prepared.To),
		})
	}
	w.logger.Info(fmt.Sprintf("Test mail '%s' would be sent", msg.Subject),
		"channel", "mail_sink",
		"message_id", msg.ID,
		"outcome", result.Outcome.String(),
	)

	return result
}

// filePath reads the log file path from the sink settings.
func (w *Writer) filePath() (string, error) {
	cfg, err := settings.Open(w.store, settings.SinkSettings)
	if err != nil {
		return "", err
	}
	path, ok := cfg.Get(settings.KeyFilePath)
	if !ok {
		return "", errors.New("no log file path configured")
	}
	return path, nil
}

// appendToLog appends buf to path, preparing the parent directory when the
// file does not exist yet.
func appendToLog(path, buf string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		dir := fsutil.Dirname(path)
		if err := fsutil.PrepareDirectory(dir, fsutil.CreateDirectory|fsutil.ModifyPermissions); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if _, err := f.WriteString(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to write log file: %w", err)
	}
	return f.Close()
}
