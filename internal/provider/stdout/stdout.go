// Package stdout implements a Provider that prints emails instead of sending
// them. It is the fallback mailer restored when the sink is switched off.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/shineum/mail-sink/internal/email"
)

// Provider prints email messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the message. Write errors are ignored; it always returns nil.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	rule := strings.Repeat("-", 40)
	b.WriteString(rule + "\n")
	if msg.From != "" {
		fmt.Fprintf(&b, "From: %s\n", msg.From)
	}
	fmt.Fprintf(&b, "To: %s\n", msg.To)
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Name, "From") || strings.EqualFold(h.Name, "To") || strings.EqualFold(h.Name, "Subject") {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", h.Name, h.Value)
	}
	fmt.Fprintf(&b, "Subject: %s\n\n", msg.Subject)

	body := msg.Body
	if body == "" {
		body = msg.HTMLBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}
	b.WriteString(rule + "\n")

	_, _ = io.WriteString(p.writer, b.String())
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count with binary units.
func formatSize(n int) string {
	return humanize.IBytes(uint64(n))
}
