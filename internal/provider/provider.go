// Package provider defines the mailer backend interface and the set of
// backends a mail system can be switched between.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shineum/mail-sink/internal/email"
)

// ErrUnknownMailer is returned when an identifier names no known backend.
var ErrUnknownMailer = errors.New("unknown mailer")

// Provider is the interface that mail backends must implement.
type Provider interface {
	// Send hands a message to the backend. Backends that deliver for real
	// return an error when delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this backend.
	Name() string
}

// ID identifies a mailer backend in the mail system configuration.
type ID string

// Known mailer backends.
const (
	Sink   ID = "sink_logger"
	Stdout ID = "stdout"
	SES    ID = "ses"
)

// IDs lists every known backend identifier.
func IDs() []ID {
	return []ID{Sink, Stdout, SES}
}

// ParseID converts a stored identifier into an ID.
func ParseID(s string) (ID, error) {
	for _, id := range IDs() {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMailer, s)
}

// Registry resolves mailer identifiers to configured backends.
type Registry struct {
	backends map[ID]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[ID]Provider)}
}

// Register binds id to p, replacing any previous binding.
func (r *Registry) Register(id ID, p Provider) {
	r.backends[id] = p
}

// Resolve returns the backend bound to the identifier s.
func (r *Registry) Resolve(s string) (Provider, error) {
	id, err := ParseID(s)
	if err != nil {
		return nil, err
	}
	p, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", ErrUnknownMailer, s)
	}
	return p, nil
}

// Registered returns the identifiers that have a backend, sorted.
func (r *Registry) Registered() []ID {
	out := make([]ID, 0, len(r.backends))
	for id := range r.backends {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
