package form

import (
	"sort"
	"strings"
)

// Message is a translatable text: a stable template plus @placeholder
// arguments substituted on rendering.
type Message struct {
	Template string            `json:"template"`
	Args     map[string]string `json:"args,omitempty"`
}

// String renders the message in the source language.
func (m Message) String() string {
	if len(m.Args) == 0 {
		return m.Template
	}
	// Longest placeholders first so @log does not clobber @logfile.
	keys := make([]string, 0, len(m.Args))
	for k := range m.Args {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, m.Args[k])
	}
	return strings.NewReplacer(pairs...).Replace(m.Template)
}

// FieldError is a validation failure attached to one form field.
type FieldError struct {
	Field   string  `json:"field"`
	Message Message `json:"message"`
}

// Errors collects field errors. A nil or empty Errors means valid input.
type Errors []FieldError

func (e *Errors) add(field, template string, args map[string]string) {
	*e = append(*e, FieldError{Field: field, Message: Message{Template: template, Args: args}})
}

// Error joins all messages.
func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message.String())
	}
	return strings.Join(parts, "; ")
}

// For returns the errors recorded against field.
func (e Errors) For(field string) []FieldError {
	var out []FieldError
	for _, fe := range e {
		if fe.Field == field {
			out = append(out, fe)
		}
	}
	return out
}
