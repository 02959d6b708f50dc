package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/shineum/mail-sink/internal/email"
)

type namedProvider string

func (n namedProvider) Send(context.Context, *email.Message) error { return nil }
func (n namedProvider) Name() string                               { return string(n) }

func TestParseID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{in: "sink_logger", want: Sink},
		{in: "stdout", want: Stdout},
		{in: "ses", want: SES},
		{in: "php_mail", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseID(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownMailer) {
					t.Fatalf("ParseID(%q): got err %v, want ErrUnknownMailer", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseID(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(Stdout, namedProvider("stdout"))
	r.Register(Sink, namedProvider("sink"))

	p, err := r.Resolve("sink_logger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "sink" {
		t.Errorf("Name(): got %q, want %q", p.Name(), "sink")
	}

	if _, err := r.Resolve("ses"); !errors.Is(err, ErrUnknownMailer) {
		t.Errorf("Resolve(ses) without binding: got %v, want ErrUnknownMailer", err)
	}
	if _, err := r.Resolve("bogus"); !errors.Is(err, ErrUnknownMailer) {
		t.Errorf("Resolve(bogus): got %v, want ErrUnknownMailer", err)
	}

	got := r.Registered()
	if len(got) != 2 || got[0] != Sink || got[1] != Stdout {
		t.Errorf("Registered(): got %v, want [sink_logger stdout]", got)
	}
}
