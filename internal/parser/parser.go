// Package parser turns raw RFC 5322 messages received over SMTP into
// outgoing email.Message values, keeping header order.
package parser

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/mail-sink/internal/email"
)

var wordDecoder = &mime.WordDecoder{}

// Parse parses a raw message. To and Subject are lifted out of the header
// list; every other header is kept in order with encoded-words decoded.
// Multipart bodies are flattened to their text/html parts and attachments.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	headers, err := readOrderedHeaders(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	result := &email.Message{}
	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case "to":
			result.To = h.Value
		case "subject":
			result.Subject = h.Value
		default:
			if strings.EqualFold(h.Name, "From") {
				result.From = h.Value
			}
			result.Headers = append(result.Headers, h)
		}
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		// The body is flattened, so the multipart framing no longer applies.
		result.Headers.Set("Content-Type", "text/plain; charset=UTF-8")
		result.Headers.Del("Content-Transfer-Encoding")
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	result.Headers.Del("Content-Transfer-Encoding")

	switch mediaType {
	case "text/html":
		result.HTMLBody = string(body)
	case "text/plain":
		result.Body = string(body)
	default:
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		result.Body = string(body)
	}
	return result, nil
}

// readOrderedHeaders reads the header section of raw, unfolding continuation
// lines and decoding RFC 2047 encoded-words.
func readOrderedHeaders(raw []byte) (email.Headers, error) {
	var headers email.Headers
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), len(raw)+1)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && len(headers) > 0 {
			last := &headers[len(headers)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		headers = append(headers, email.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for i := range headers {
		if decoded, err := wordDecoder.DecodeHeader(headers[i].Value); err == nil {
			headers[i].Value = decoded
		}
	}
	return headers, nil
}

// parseMultipart walks a multipart body, collecting the first text/plain and
// text/html parts and every attachment. Nested multiparts are descended.
func parseMultipart(body io.Reader, boundary string, result *email.Message) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if params["boundary"] == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, params["boundary"], result); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		filename := partFilename(part, params)
		isAttachment := strings.HasPrefix(disposition, "attachment") ||
			(filename != "" && mediaType != "text/plain" && mediaType != "text/html")

		switch {
		case isAttachment:
			if filename == "" {
				filename = fallbackFilename(mediaType)
			}
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Content:     content,
			})
		case mediaType == "text/plain":
			if result.Body == "" {
				result.Body = string(content)
			}
		case mediaType == "text/html":
			if result.HTMLBody == "" {
				result.HTMLBody = string(content)
			}
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
				"disposition", disposition,
			)
		}
	}
}

// decodeBody reads r and undoes the given Content-Transfer-Encoding.
// multipart.Reader already strips quoted-printable from parts, in which
// case the header is gone and r is returned as read.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// partFilename returns the filename from Content-Disposition or the
// Content-Type name parameter.
func partFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	return params["name"]
}

func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}
