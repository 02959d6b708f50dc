package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mail-sink/internal/config"
	"github.com/shineum/mail-sink/internal/dispatch"
	"github.com/shineum/mail-sink/internal/form"
	"github.com/shineum/mail-sink/internal/notice"
	"github.com/shineum/mail-sink/internal/provider"
	"github.com/shineum/mail-sink/internal/provider/ses"
	"github.com/shineum/mail-sink/internal/provider/sink"
	"github.com/shineum/mail-sink/internal/provider/stdout"
	"github.com/shineum/mail-sink/internal/settings"
	"github.com/shineum/mail-sink/internal/toggle"
)

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	store      settings.Store
	registry   *provider.Registry
	toggle     *toggle.Controller
	form       *form.Form
	dispatcher *dispatch.Dispatcher
}

// newApp validates cfg, seeds the settings store and builds the mailer
// registry. Sink notices go to notifier.
func newApp(ctx context.Context, cfg *config.Config, notifier notice.Notifier) (*app, error) {
	fallback, err := provider.ParseID(cfg.Sink.FallbackMailer)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback mailer: %w", err)
	}
	if _, err := provider.ParseID(cfg.Sink.DefaultMailer); err != nil {
		return nil, fmt.Errorf("invalid default mailer: %w", err)
	}
	lineEndings, err := sink.ParseLineEndings(cfg.Sink.LineEndings)
	if err != nil {
		return nil, err
	}

	store := settings.NewFileStore(cfg.Settings.Path)
	if err := settings.Install(store, settings.Defaults{
		DefaultMailer: cfg.Sink.DefaultMailer,
		FilePath:      cfg.Sink.FilePath,
	}); err != nil {
		return nil, fmt.Errorf("failed to install settings: %w", err)
	}

	registry, err := buildRegistry(ctx, cfg, store, lineEndings, notifier)
	if err != nil {
		return nil, err
	}

	ctrl := toggle.New(store, fallback)
	return &app{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		toggle:     ctrl,
		form:       form.New(store, ctrl),
		dispatcher: dispatch.New(store, registry, fallback),
	}, nil
}

// buildRegistry binds every mailer that can be constructed from cfg. SES is
// only registered when its region and sender are configured.
func buildRegistry(ctx context.Context, cfg *config.Config, store settings.Store, lineEndings string, notifier notice.Notifier) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	registry.Register(provider.Sink, sink.New(store, sink.Config{
		LineEndings:  lineEndings,
		SendmailPath: cfg.Transport.SendmailPath,
		Notifier:     notifier,
	}))
	registry.Register(provider.Stdout, stdout.New())

	if cfg.SESConfigured() {
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		registry.Register(provider.SES, p)
		slog.Info("SES mailer registered",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
	}
	return registry, nil
}
