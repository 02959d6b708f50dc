package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mail-sink/internal/parser"
	"github.com/shineum/mail-sink/internal/provider"
)

// state is a position in the SMTP command sequence.
type state int

const (
	stateConnected state = iota
	stateGreeted
	stateAuthenticated
	stateMail
	stateRcpt
)

func (s state) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateGreeted:
		return "greeted"
	case stateAuthenticated:
		return "authenticated"
	case stateMail:
		return "mail"
	case stateRcpt:
		return "rcpt"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session defaults.
const (
	DefaultIdleTimeout    = 60 * time.Second
	DefaultMaxMessageSize = 10 * 1024 * 1024
)

var errMessageTooLarge = errors.New("message exceeds maximum size")

// SessionOptions configures a Session.
type SessionOptions struct {
	Hostname string
	Auth     *Authenticator

	// Handler receives every accepted message.
	Handler provider.Provider

	// TLSConfig enables STARTTLS when non-nil.
	TLSConfig *tls.Config

	MaxMessageSize int64
	IdleTimeout    time.Duration
}

// Session is one client connection.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	opts   SessionOptions
	log    *slog.Logger

	state     state
	tlsActive bool

	mailFrom string
	rcptTo   []string
}

// NewSession creates a session for conn.
func NewSession(conn net.Conn, opts SessionOptions) *Session {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("", "")
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		opts:   opts,
		log:    slog.Default().With("remote", conn.RemoteAddr().String()),
	}
}

// Handle serves commands until the client quits, the connection fails or
// ctx is cancelled.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.reply(220, "%s ESMTP mail-sink", s.opts.Hostname)

	for {
		if ctx.Err() != nil {
			s.reply(421, "Service shutting down")
			return
		}

		line, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				s.log.Debug("connection read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg := parseCommand(line)
		if s.dispatch(ctx, verb, arg) {
			return
		}
	}
}

// dispatch runs one command and reports whether the session is over.
func (s *Session) dispatch(ctx context.Context, verb, arg string) bool {
	switch verb {
	case "EHLO", "HELO":
		s.handleHello(verb, arg)
	case "STARTTLS":
		s.handleStartTLS()
	case "AUTH":
		s.handleAuth(arg)
	case "MAIL":
		s.handleMail(arg)
	case "RCPT":
		s.handleRcpt(arg)
	case "DATA":
		s.handleData(ctx)
	case "RSET":
		s.resetTransaction()
		s.reply(250, "OK")
	case "NOOP":
		s.reply(250, "OK")
	case "QUIT":
		s.reply(221, "Bye")
		return true
	default:
		s.reply(500, "Unrecognized command")
	}
	return false
}

func (s *Session) handleHello(verb, arg string) {
	if arg == "" {
		s.reply(501, "Syntax: %s hostname", verb)
		return
	}
	s.resetTransaction()
	s.state = stateGreeted

	if verb == "HELO" {
		s.reply(250, "%s Hello %s", s.opts.Hostname, arg)
		return
	}

	lines := []string{fmt.Sprintf("%s Hello %s", s.opts.Hostname, arg)}
	if s.opts.TLSConfig != nil && !s.tlsActive {
		lines = append(lines, "STARTTLS")
	}
	if s.opts.Auth.Enabled() {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	lines = append(lines, fmt.Sprintf("SIZE %d", s.opts.MaxMessageSize), "8BITMIME", "OK")
	s.replyMulti(250, lines)
}

func (s *Session) handleStartTLS() {
	switch {
	case s.opts.TLSConfig == nil:
		s.reply(454, "TLS not available")
		return
	case s.tlsActive:
		s.reply(454, "TLS already active")
		return
	}

	s.reply(220, "Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.opts.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.log.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	// RFC 3207: the client must greet again after the handshake.
	s.state = stateConnected
	s.resetTransaction()
}

func (s *Session) handleAuth(arg string) {
	switch {
	case s.state < stateGreeted:
		s.reply(503, "Send EHLO/HELO first")
		return
	case !s.opts.Auth.Enabled():
		s.reply(503, "AUTH not available")
		return
	case s.state >= stateAuthenticated:
		s.reply(503, "Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(strings.TrimSpace(initial))
	case "LOGIN":
		err = s.authLogin()
	default:
		s.reply(504, "Unrecognized authentication type")
		return
	}

	switch {
	case err == nil:
		s.state = stateAuthenticated
		s.reply(235, "Authentication successful")
	case errors.Is(err, errAuthCancelled):
		s.reply(501, "Authentication cancelled")
	case errors.Is(err, ErrAuthMalformed):
		s.reply(501, "Malformed authentication response")
	case errors.Is(err, ErrAuthFailed):
		s.log.Warn("authentication failed")
		s.reply(535, "Authentication failed")
	default:
		s.log.Debug("authentication aborted", "error", err)
	}
}

var errAuthCancelled = errors.New("authentication cancelled")

func (s *Session) authPlain(initial string) error {
	if initial == "" {
		resp, err := s.challenge("")
		if err != nil {
			return err
		}
		initial = resp
	}
	return s.opts.Auth.VerifyPlain(initial)
}

func (s *Session) authLogin() error {
	user, err := s.challenge("VXNlcm5hbWU6")
	if err != nil {
		return err
	}
	pass, err := s.challenge("UGFzc3dvcmQ6")
	if err != nil {
		return err
	}
	return s.opts.Auth.VerifyLogin(user, pass)
}

// challenge sends a 334 continuation and reads the client's answer.
func (s *Session) challenge(prompt string) (string, error) {
	if prompt == "" {
		s.reply(334, "")
	} else {
		s.reply(334, "%s", prompt)
	}
	line, err := s.readLine()
	if err != nil {
		return "", err
	}
	if line == "*" {
		return "", errAuthCancelled
	}
	return line, nil
}

func (s *Session) handleMail(arg string) {
	if s.state < stateGreeted {
		s.reply(503, "Send EHLO/HELO first")
		return
	}
	if s.opts.Auth.Enabled() && s.state < stateAuthenticated {
		s.reply(530, "Authentication required")
		return
	}
	if s.state >= stateMail {
		s.reply(503, "Nested MAIL command")
		return
	}

	addr, ok := pathArgument(arg, "FROM:")
	if !ok {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMail
	s.reply(250, "OK")
}

func (s *Session) handleRcpt(arg string) {
	if s.state < stateMail {
		s.reply(503, "Send MAIL FROM first")
		return
	}

	addr, ok := pathArgument(arg, "TO:")
	if !ok || addr == "" {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcpt
	s.reply(250, "OK")
}

func (s *Session) handleData(ctx context.Context) {
	if s.state < stateRcpt {
		s.reply(503, "Send RCPT TO first")
		return
	}

	s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")

	raw, err := s.readData()
	if errors.Is(err, errMessageTooLarge) {
		s.reply(552, "Message exceeds fixed maximum message size")
		s.resetTransaction()
		return
	}
	if err != nil {
		s.log.Error("error reading DATA", "error", err)
		return
	}
	defer s.resetTransaction()

	msg, err := parser.Parse(raw)
	if err != nil {
		s.log.Error("failed to parse message", "error", err)
		s.reply(550, "Failed to process message")
		return
	}

	msg.ID = uuid.NewString()
	if msg.From == "" {
		msg.From = s.mailFrom
	}
	if msg.To == "" {
		msg.To = strings.Join(s.rcptTo, ", ")
	}

	s.log.Info("message received",
		"message_id", msg.ID,
		"envelope_from", s.mailFrom,
		"recipients", len(s.rcptTo),
		"size", len(raw),
	)

	if err := s.opts.Handler.Send(ctx, msg); err != nil {
		s.log.Error("mail handler failed",
			"message_id", msg.ID,
			"handler", s.opts.Handler.Name(),
			"error", err,
		)
		s.reply(451, "Temporary failure, please try again later")
		return
	}

	s.reply(250, "OK message accepted as %s", msg.ID)
}

// readData reads a dot-terminated message body, undoing dot-stuffing.
// Oversized bodies are read to the terminator and discarded.
func (s *Session) readData() ([]byte, error) {
	var (
		buf      strings.Builder
		tooLarge bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		if tooLarge {
			continue
		}
		if int64(buf.Len()+len(line)) > s.opts.MaxMessageSize {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}
	if tooLarge {
		return nil, errMessageTooLarge
	}
	return []byte(buf.String()), nil
}

// resetTransaction drops the envelope but keeps greeting and auth.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.state > stateAuthenticated {
		if s.opts.Auth.Enabled() {
			s.state = stateAuthenticated
		} else {
			s.state = stateGreeted
		}
	}
}

func (s *Session) readLine() (string, error) {
	if err := s.conn.SetDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Session) reply(code int, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if text == "" {
		fmt.Fprintf(s.writer, "%d \r\n", code)
	} else {
		fmt.Fprintf(s.writer, "%d %s\r\n", code, text)
	}
	s.flush()
}

func (s *Session) replyMulti(code int, lines []string) {
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		fmt.Fprintf(s.writer, "%d%s%s\r\n", code, sep, line)
	}
	s.flush()
}

func (s *Session) flush() {
	if err := s.writer.Flush(); err != nil {
		s.log.Debug("failed to write to client", "error", err)
	}
}

// parseCommand splits a command line into its upper-cased verb and argument.
func parseCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}

// pathArgument extracts the address from a MAIL FROM:/RCPT TO: argument.
// ESMTP parameters after the path are ignored. The null reverse-path <>
// yields an empty address.
func pathArgument(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	return extractAddress(arg[len(prefix):])
}

// extractAddress accepts <user@example.com> or a bare address.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}
	addr, _, _ := strings.Cut(s, " ")
	return addr, addr != ""
}
