package sink

import (
	"fmt"
	"mime"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/shineum/mail-sink/internal/email"
)

// separator opens every logged message.
const separator = "====================="

var lineBreak = regexp.MustCompile(`\r?\n`)

// Prepared holds a message in the shape a sendmail-style transport expects.
type Prepared struct {
	To      string
	Subject string
	Body    string
	// Headers is the joined header block, one "Name: value" per line.
	Headers string
	// EnvelopeSender is the Return-Path taken out of the headers, if any.
	EnvelopeSender string
	// AdditionalParams is the transport flag carrying EnvelopeSender.
	AdditionalParams string
}

// PrepareOptions controls Prepare.
type PrepareOptions struct {
	LineEndings  string
	SendmailPath string
	Now          time.Time
}

// Prepare encodes msg the way sendmail would receive it. msg is not modified.
func Prepare(msg *email.Message, opts PrepareOptions) Prepared {
	headers := msg.Headers.Clone()
	var prepared Prepared

	if rp, ok := headers.Get("Return-Path"); ok && !strings.Contains(opts.SendmailPath, " -f") {
		headers.Del("Return-Path")
		prepared.EnvelopeSender = rp
		prepared.AdditionalParams = "-f" + rp
	}

	headers.Set("Date", opts.Now.Format(time.RFC1123Z))

	lines := make([]string, 0, len(headers))
	for _, h := range headers {
		lines = append(lines, fmt.Sprintf("%s: %s", h.Name, encodeHeader(h.Value)))
	}

	body := msg.Body
	if body == "" {
		body = msg.HTMLBody
	}
	lineEndings := opts.LineEndings
	if lineEndings == "" {
		lineEndings = PlatformLineEnding()
	}

	prepared.To = msg.To
	prepared.Subject = encodeHeader(msg.Subject)
	prepared.Body = lineBreak.ReplaceAllLiteralString(body, lineEndings)
	prepared.Headers = strings.Join(lines, "\n")
	return prepared
}

// Compose renders p as the text block appended to the log file.
func Compose(p Prepared) string {
	var b strings.Builder
	b.WriteString("\n" + separator + "\n")
	b.WriteString(p.Headers + "\n")
	b.WriteString("Subject: " + p.Subject + "\n")
	b.WriteString("To: " + p.To + "\n\n")
	b.WriteString(p.Body)
	return b.String()
}

// encodeHeader returns v unchanged when it is plain ASCII, otherwise as
// RFC 2047 base64 encoded-words.
func encodeHeader(v string) string {
	return mime.BEncoding.Encode("UTF-8", v)
}

// PlatformLineEnding is the newline sequence of the running OS.
func PlatformLineEnding() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// ParseLineEndings maps a configured name (lf, crlf, cr) to its sequence.
// An empty name selects the platform newline.
func ParseLineEndings(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return PlatformLineEnding(), nil
	case "lf":
		return "\n", nil
	case "crlf":
		return "\r\n", nil
	case "cr":
		return "\r", nil
	default:
		return "", fmt.Errorf("unknown line ending %q (want lf, crlf or cr)", name)
	}
}
