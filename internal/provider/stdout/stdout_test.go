package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/mail-sink/internal/email"
)

func TestSend_BasicMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Message{
		From:    "sender@example.com",
		To:      "alice@example.com, bob@example.com",
		Subject: "Monthly Report",
		Headers: email.Headers{
			{Name: "Subject", Value: "Monthly Report"},
			{Name: "X-Mailer", Value: "mail-sink"},
		},
		Body: "Please find the report attached.",
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"From: sender@example.com\n",
		"To: alice@example.com, bob@example.com\n",
		"X-Mailer: mail-sink\n",
		"Subject: Monthly Report\n",
		"Please find the report attached.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Count(output, "Subject:") != 1 {
		t.Error("Subject header should be printed once")
	}
	if strings.Contains(output, "Attachments:") {
		t.Error("output should not contain Attachments line when there are none")
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Message{
		To:      "alice@example.com",
		Subject: "Monthly Report",
		Body:    "See attached.",
		Attachments: []email.Attachment{
			{Filename: "report.pdf", ContentType: "application/pdf", Content: make([]byte, 1258291)},
			{Filename: "summary.csv", ContentType: "text/csv", Content: make([]byte, 46080)},
		},
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Attachments: report.pdf (1.2 MiB), summary.csv (45 KiB)") {
		t.Errorf("unexpected attachments line in %q", output)
	}
}

func TestSend_HTMLBodyFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Message{To: "r@example.com", Subject: "HTML Only", HTMLBody: "<p>HTML content</p>"}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "<p>HTML content</p>") {
		t.Error("output should display HTML body when text body is empty")
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestSend_WriteErrorIgnored(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(brokenWriter{})
	if err := p.Send(context.Background(), &email.Message{To: "r@example.com"}); err != nil {
		t.Errorf("Send: got %v, want nil", err)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New().Name(); got != "stdout" {
		t.Errorf("Name: got %q, want %q", got, "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45 KiB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MiB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
