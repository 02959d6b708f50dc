// Package dispatch routes outgoing mail to whichever backend the mail system
// configuration currently names.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shineum/mail-sink/internal/email"
	"github.com/shineum/mail-sink/internal/provider"
	"github.com/shineum/mail-sink/internal/settings"
)

// Dispatcher is a provider.Provider that resolves the active backend on
// every message, so toggling the sink takes effect without a restart.
type Dispatcher struct {
	store    settings.Store
	registry *provider.Registry
	fallback provider.ID
}

// New creates a Dispatcher. fallback is used while no default mailer is
// configured.
func New(store settings.Store, registry *provider.Registry, fallback provider.ID) *Dispatcher {
	return &Dispatcher{store: store, registry: registry, fallback: fallback}
}

// Name returns the provider name.
func (d *Dispatcher) Name() string {
	return "dispatch"
}

// Active returns the backend that would handle a message sent now.
func (d *Dispatcher) Active() (provider.Provider, error) {
	mail, err := settings.Open(d.store, settings.MailSystem)
	if err != nil {
		return nil, err
	}
	id, ok := mail.Get(settings.KeyDefaultMailer)
	if !ok {
		id = string(d.fallback)
	}
	return d.registry.Resolve(id)
}

// Send hands msg to the active backend and returns its result.
func (d *Dispatcher) Send(ctx context.Context, msg *email.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	backend, err := d.Active()
	if err != nil {
		return fmt.Errorf("failed to resolve mailer: %w", err)
	}

	slog.Debug("dispatching message",
		"message_id", msg.ID,
		"mailer", backend.Name(),
		"to", msg.To,
	)

	if err := backend.Send(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", backend.Name(), err)
	}
	return nil
}
