package smtp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mail-sink/internal/email"
)

// mockProvider records messages handed over by the session.
type mockProvider struct {
	received chan *email.Message
	sendErr  error
}

func newMockProvider() *mockProvider {
	return &mockProvider{received: make(chan *email.Message, 4)}
}

func (m *mockProvider) Send(_ context.Context, msg *email.Message) error {
	m.received <- msg
	return m.sendErr
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) next(t *testing.T) *email.Message {
	t.Helper()
	select {
	case msg := <-m.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("provider did not receive message")
		return nil
	}
}

// connPair creates a connected pair of net.Conn for testing SMTP sessions.
func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(done)
			return
		}
		done <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	server = <-done
	if server == nil {
		t.Fatal("accept failed")
	}
	return client, server
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// startSession runs a session against a fresh connection and consumes the
// greeting.
func startSession(t *testing.T, opts SessionOptions) *testClient {
	t.Helper()

	client, server := connPair(t)
	t.Cleanup(func() { client.Close() })

	if opts.Hostname == "" {
		opts.Hostname = "mail.test.com"
	}
	sess := NewSession(server, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	go sess.Handle(ctx)

	c := &testClient{t: t, conn: client, reader: bufio.NewReader(client)}
	greeting := c.readLine()
	if !strings.HasPrefix(greeting, "220 ") || !strings.Contains(greeting, "mail.test.com") {
		t.Fatalf("greeting: got %q", greeting)
	}
	return c
}

func (c *testClient) readLine() string {
	c.t.Helper()
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) send(cmd string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		c.t.Fatalf("failed to write command: %v", err)
	}
}

// cmd sends a command and returns the final reply line.
func (c *testClient) cmd(cmd string) string {
	c.t.Helper()
	c.send(cmd)
	for {
		line := c.readLine()
		if len(line) < 4 || line[3] != '-' {
			return line
		}
	}
}

// ehlo sends EHLO and returns every reply line.
func (c *testClient) ehlo() []string {
	c.t.Helper()
	c.send("EHLO client.test.com")
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if !strings.HasPrefix(line, "250-") {
			return lines
		}
	}
}

func expectCode(t *testing.T, what, got, code string) {
	t.Helper()
	if !strings.HasPrefix(got, code+" ") {
		t.Errorf("%s: got %q, want prefix %q", what, got, code+" ")
	}
}

func TestSession_EHLO(t *testing.T) {
	t.Parallel()

	c := startSession(t, SessionOptions{
		Auth:           NewAuthenticator("user", "pass"),
		Handler:        newMockProvider(),
		MaxMessageSize: 1024,
	})

	lines := strings.Join(c.ehlo(), "\n")
	for _, want := range []string{"250-mail.test.com Hello client.test.com", "AUTH PLAIN LOGIN", "SIZE 1024", "250 OK"} {
		if !strings.Contains(lines, want) {
			t.Errorf("EHLO response missing %q:\n%s", want, lines)
		}
	}
	if strings.Contains(lines, "STARTTLS") {
		t.Errorf("STARTTLS advertised without TLS config:\n%s", lines)
	}
}

func TestSession_BasicCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  string
		code string
	}{
		{name: "HELO", cmd: "HELO client.test.com", code: "250"},
		{name: "HELO without hostname", cmd: "HELO", code: "501"},
		{name: "EHLO without hostname", cmd: "EHLO", code: "501"},
		{name: "NOOP", cmd: "NOOP", code: "250"},
		{name: "unknown", cmd: "FOOBAR", code: "500"},
		{name: "STARTTLS unavailable", cmd: "STARTTLS", code: "454"},
		{name: "AUTH before greeting", cmd: "AUTH PLAIN", code: "503"},
		{name: "QUIT", cmd: "QUIT", code: "221"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := startSession(t, SessionOptions{Handler: newMockProvider()})
			expectCode(t, tt.cmd, c.cmd(tt.cmd), tt.code)
		})
	}
}

func TestSession_MailTransaction(t *testing.T) {
	t.Parallel()

	prov := newMockProvider()
	c := startSession(t, SessionOptions{Handler: prov})
	c.ehlo()

	expectCode(t, "MAIL FROM", c.cmd("MAIL FROM:<sender@example.com>"), "250")
	expectCode(t, "RCPT TO", c.cmd("RCPT TO:<recipient@example.com>"), "250")
	expectCode(t, "DATA", c.cmd("DATA"), "354")

	c.send(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Email",
		"",
		"Hello, this is a test email.",
		"..leading dot",
		".",
	}, "\r\n"))

	resp := c.readLine()
	expectCode(t, "end of DATA", resp, "250")

	msg := prov.next(t)
	if msg.Subject != "Test Email" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Email")
	}
	if msg.ID == "" || !strings.Contains(resp, msg.ID) {
		t.Errorf("ID: got %q, reply %q", msg.ID, resp)
	}
	if !strings.Contains(msg.Body, "\r\n.leading dot") {
		t.Errorf("dot-stuffing not undone: %q", msg.Body)
	}
}

func TestSession_EnvelopeFillsMissingHeaders(t *testing.T) {
	t.Parallel()

	prov := newMockProvider()
	c := startSession(t, SessionOptions{Handler: prov})
	c.ehlo()

	c.cmd("MAIL FROM:<sender@example.com>")
	c.cmd("RCPT TO:<a@example.com>")
	c.cmd("RCPT TO:<b@example.com>")
	c.cmd("DATA")
	c.send("Subject: No addresses\r\n\r\nbody\r\n.")
	expectCode(t, "end of DATA", c.readLine(), "250")

	msg := prov.next(t)
	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q", msg.From)
	}
	if msg.To != "a@example.com, b@example.com" {
		t.Errorf("To: got %q", msg.To)
	}
}

func TestSession_HandlerFailure(t *testing.T) {
	t.Parallel()

	prov := newMockProvider()
	prov.sendErr = errors.New("unknown mailer")
	c := startSession(t, SessionOptions{Handler: prov})
	c.ehlo()

	c.cmd("MAIL FROM:<sender@example.com>")
	c.cmd("RCPT TO:<r@example.com>")
	c.cmd("DATA")
	c.send("Subject: x\r\n\r\nbody\r\n.")
	expectCode(t, "end of DATA", c.readLine(), "451")

	// The transaction is reset, so RCPT needs a new MAIL FROM.
	expectCode(t, "RCPT after failure", c.cmd("RCPT TO:<r@example.com>"), "503")
}

func TestSession_MessageTooLarge(t *testing.T) {
	t.Parallel()

	prov := newMockProvider()
	c := startSession(t, SessionOptions{Handler: prov, MaxMessageSize: 64})
	c.ehlo()

	c.cmd("MAIL FROM:<sender@example.com>")
	c.cmd("RCPT TO:<r@example.com>")
	c.cmd("DATA")
	c.send("Subject: big\r\n\r\n" + strings.Repeat("x", 200) + "\r\n.")
	expectCode(t, "end of DATA", c.readLine(), "552")

	// The session stays usable.
	expectCode(t, "NOOP", c.cmd("NOOP"), "250")
	if len(prov.received) != 0 {
		t.Error("oversized message should not reach the handler")
	}
}

func TestSession_RSET(t *testing.T) {
	t.Parallel()

	c := startSession(t, SessionOptions{Handler: newMockProvider()})
	c.ehlo()

	c.cmd("MAIL FROM:<sender@example.com>")
	expectCode(t, "RSET", c.cmd("RSET"), "250")
	expectCode(t, "RCPT TO after RSET", c.cmd("RCPT TO:<recipient@example.com>"), "503")
}

func TestSession_StateOrderEnforcement(t *testing.T) {
	t.Parallel()

	c := startSession(t, SessionOptions{
		Auth:    NewAuthenticator("user", "pass"),
		Handler: newMockProvider(),
	})

	expectCode(t, "MAIL FROM before EHLO", c.cmd("MAIL FROM:<sender@example.com>"), "503")
	c.ehlo()
	expectCode(t, "MAIL FROM without AUTH", c.cmd("MAIL FROM:<sender@example.com>"), "530")
	expectCode(t, "RCPT TO before MAIL FROM", c.cmd("RCPT TO:<recipient@example.com>"), "503")
	expectCode(t, "DATA before RCPT TO", c.cmd("DATA"), "503")
}

func TestSession_AuthPlain(t *testing.T) {
	t.Parallel()

	c := startSession(t, SessionOptions{
		Auth:    NewAuthenticator("user", "pass"),
		Handler: newMockProvider(),
	})
	c.ehlo()

	expectCode(t, "bad credentials", c.cmd("AUTH PLAIN "+b64("\x00user\x00wrong")), "535")
	expectCode(t, "good credentials", c.cmd("AUTH PLAIN "+b64("\x00user\x00pass")), "235")
	expectCode(t, "second AUTH", c.cmd("AUTH PLAIN "+b64("\x00user\x00pass")), "503")
	expectCode(t, "MAIL FROM", c.cmd("MAIL FROM:<sender@example.com>"), "250")
}

func TestSession_AuthLogin(t *testing.T) {
	t.Parallel()

	c := startSession(t, SessionOptions{
		Auth:    NewAuthenticator("user", "pass"),
		Handler: newMockProvider(),
	})
	c.ehlo()

	expectCode(t, "AUTH LOGIN", c.cmd("AUTH LOGIN"), "334")
	expectCode(t, "username", c.cmd(b64("user")), "334")
	expectCode(t, "password", c.cmd(b64("pass")), "235")
}

func TestSession_AuthCancelled(t *testing.T) {
	t.Parallel()

	c := startSession(t, SessionOptions{
		Auth:    NewAuthenticator("user", "pass"),
		Handler: newMockProvider(),
	})
	c.ehlo()

	expectCode(t, "AUTH PLAIN", c.cmd("AUTH PLAIN"), "334")
	expectCode(t, "cancel", c.cmd("*"), "501")
	expectCode(t, "MAIL FROM", c.cmd("MAIL FROM:<sender@example.com>"), "530")
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line     string
		wantVerb string
		wantArg  string
	}{
		{line: "EHLO example.com", wantVerb: "EHLO", wantArg: "example.com"},
		{line: "mail FROM:<a@b.com>", wantVerb: "MAIL", wantArg: "FROM:<a@b.com>"},
		{line: "QUIT", wantVerb: "QUIT", wantArg: ""},
		{line: "AUTH PLAIN  dGVzdA== ", wantVerb: "AUTH", wantArg: "PLAIN  dGVzdA=="},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			verb, arg := parseCommand(tt.line)
			if verb != tt.wantVerb || arg != tt.wantArg {
				t.Errorf("parseCommand(%q): got (%q, %q), want (%q, %q)",
					tt.line, verb, arg, tt.wantVerb, tt.wantArg)
			}
		})
	}
}

func TestPathArgument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		arg    string
		prefix string
		want   string
		wantOK bool
	}{
		{arg: "FROM:<user@example.com>", prefix: "FROM:", want: "user@example.com", wantOK: true},
		{arg: "from: <user@example.com> SIZE=100", prefix: "FROM:", want: "user@example.com", wantOK: true},
		{arg: "FROM:<>", prefix: "FROM:", want: "", wantOK: true},
		{arg: "TO:user@example.com", prefix: "TO:", want: "user@example.com", wantOK: true},
		{arg: "TO:<user@example.com", prefix: "TO:", wantOK: false},
		{arg: "FROM user@example.com", prefix: "FROM:", wantOK: false},
		{arg: "TO:", prefix: "TO:", wantOK: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.arg, func(t *testing.T) {
			t.Parallel()
			got, ok := pathArgument(tt.arg, tt.prefix)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("pathArgument(%q): got (%q, %v), want (%q, %v)",
					tt.arg, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestServer_ServeUntilCancelled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	prov := newMockProvider()
	srv := New(ServerConfig{Hostname: "mail.test.com", Handler: prov})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	c := &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	expectCode(t, "greeting", c.readLine(), "220")
	expectCode(t, "QUIT", c.cmd("QUIT"), "221")
	conn.Close()

	if got := srv.Addr(); got != ln.Addr().String() {
		t.Errorf("Addr(): got %q, want %q", got, ln.Addr().String())
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve: unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
