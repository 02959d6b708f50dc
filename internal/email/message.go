// Package email defines the outgoing message model handed to mailer backends.
package email

import (
	"net/mail"
	"strings"
)

// Header is a single message header line.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header set. Emission order follows insertion order.
type Headers []Header

// Get returns the value of the first header matching name (case-insensitive).
func (h Headers) Get(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Set replaces the value of the first header matching name, or appends a new
// header at the end when none matches.
func (h *Headers) Set(name, value string) {
	for i, hdr := range *h {
		if strings.EqualFold(hdr.Name, name) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Del removes every header matching name.
func (h *Headers) Del(name string) {
	kept := (*h)[:0]
	for _, hdr := range *h {
		if !strings.EqualFold(hdr.Name, name) {
			kept = append(kept, hdr)
		}
	}
	*h = kept
}

// Clone returns a copy that can be modified without touching h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Message is an outgoing email as handed over by the dispatch host.
type Message struct {
	// ID correlates log lines for one message; it is not a Message-ID header.
	ID string

	From    string
	To      string
	Subject string
	Headers Headers

	// Body is the plain text body. HTMLBody is used by backends that can
	// deliver HTML and as a fallback when Body is empty.
	Body        string
	HTMLBody    string
	Attachments []Attachment
}

// Recipients splits To into bare addresses. Lists that do not parse as
// RFC 5322 are split on commas.
func (m *Message) Recipients() []string {
	if strings.TrimSpace(m.To) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(m.To); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}
	parts := strings.Split(m.To, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
