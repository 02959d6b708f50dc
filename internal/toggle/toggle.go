// Package toggle switches the mail system between the sink and the mailer
// it replaced.
package toggle

import (
	"log/slog"

	"github.com/shineum/mail-sink/internal/provider"
	"github.com/shineum/mail-sink/internal/settings"
)

// Controller reads and flips the active mailer. It owns the
// overriding_mailer_id key of the sink settings.
type Controller struct {
	store    settings.Store
	fallback provider.ID
}

// New creates a Controller. fallback is restored on deactivation when no
// overriding mailer was remembered.
func New(store settings.Store, fallback provider.ID) *Controller {
	return &Controller{store: store, fallback: fallback}
}

// IsSinkActive reports whether the mail system's default mailer is the sink.
func (c *Controller) IsSinkActive() (bool, error) {
	mail, err := settings.Open(c.store, settings.MailSystem)
	if err != nil {
		return false, err
	}
	current, _ := mail.Get(settings.KeyDefaultMailer)
	return current == string(provider.Sink), nil
}

// SetSinkState activates or deactivates the sink. It does nothing when the
// sink is already in the desired state. Both objects are saved; a failed
// save is returned as is, without rollback.
func (c *Controller) SetSinkState(desired bool) error {
	active, err := c.IsSinkActive()
	if err != nil {
		return err
	}
	if active == desired {
		return nil
	}

	mail, err := settings.Open(c.store, settings.MailSystem)
	if err != nil {
		return err
	}
	sink, err := settings.Open(c.store, settings.SinkSettings)
	if err != nil {
		return err
	}

	if desired {
		previous, _ := mail.Get(settings.KeyDefaultMailer)
		sink.Set(settings.KeyOverridingMailer, previous)
		mail.Set(settings.KeyDefaultMailer, string(provider.Sink))
	} else {
		restore, ok := sink.Get(settings.KeyOverridingMailer)
		if !ok {
			restore = string(c.fallback)
		}
		sink.Clear(settings.KeyOverridingMailer)
		mail.Set(settings.KeyDefaultMailer, restore)
	}

	if err := mail.Save(); err != nil {
		return err
	}
	if err := sink.Save(); err != nil {
		return err
	}

	current, _ := mail.Get(settings.KeyDefaultMailer)
	slog.Info("mail sink toggled",
		"active", desired,
		"default_mailer", current,
	)
	return nil
}
