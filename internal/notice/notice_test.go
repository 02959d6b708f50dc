package notice

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestQueue_Drain(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Notify(Notice{Kind: Status, Text: "one"})
	q.Notify(Notice{Kind: Warning, Text: "two"})

	got := q.Drain()
	if len(got) != 2 {
		t.Fatalf("Drain(): got %d notices, want 2", len(got))
	}
	if got[0].Text != "one" || got[1].Kind != Warning {
		t.Errorf("Drain(): got %+v", got)
	}
	if again := q.Drain(); len(again) != 0 {
		t.Errorf("second Drain(): got %d notices, want 0", len(again))
	}
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	n.Notify(Notice{Kind: Warning, Text: "careful"})

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "careful") {
		t.Errorf("log output: got %q", out)
	}
}
