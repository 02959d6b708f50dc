package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-sink/internal/email"
	"github.com/shineum/mail-sink/internal/provider"
	"github.com/shineum/mail-sink/internal/settings"
	"github.com/shineum/mail-sink/internal/toggle"
)

type recordingProvider struct {
	name string
	err  error
	sent []*email.Message
}

func (r *recordingProvider) Send(_ context.Context, msg *email.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingProvider) Name() string { return r.name }

func setup(t *testing.T, defaultMailer string) (*Dispatcher, *settings.MemoryStore, *recordingProvider, *recordingProvider) {
	t.Helper()
	store := settings.NewMemoryStore()
	if defaultMailer != "" {
		require.NoError(t, store.Save(settings.MailSystem, map[string]string{settings.KeyDefaultMailer: defaultMailer}))
	}
	sinkP := &recordingProvider{name: "sink"}
	stdoutP := &recordingProvider{name: "stdout"}
	reg := provider.NewRegistry()
	reg.Register(provider.Sink, sinkP)
	reg.Register(provider.Stdout, stdoutP)
	return New(store, reg, provider.Stdout), store, sinkP, stdoutP
}

func TestSend_FollowsToggle(t *testing.T) {
	t.Parallel()

	d, store, sinkP, stdoutP := setup(t, "stdout")
	ctrl := toggle.New(store, provider.Stdout)

	require.NoError(t, d.Send(context.Background(), &email.Message{Subject: "before"}))
	require.NoError(t, ctrl.SetSinkState(true))
	require.NoError(t, d.Send(context.Background(), &email.Message{Subject: "during"}))
	require.NoError(t, ctrl.SetSinkState(false))
	require.NoError(t, d.Send(context.Background(), &email.Message{Subject: "after"}))

	require.Len(t, sinkP.sent, 1)
	assert.Equal(t, "during", sinkP.sent[0].Subject)
	require.Len(t, stdoutP.sent, 2)
	assert.Equal(t, "after", stdoutP.sent[1].Subject)
}

func TestSend_AssignsID(t *testing.T) {
	t.Parallel()

	d, _, _, stdoutP := setup(t, "")
	require.NoError(t, d.Send(context.Background(), &email.Message{}))
	require.NoError(t, d.Send(context.Background(), &email.Message{ID: "keep-me"}))

	require.Len(t, stdoutP.sent, 2)
	assert.NotEmpty(t, stdoutP.sent[0].ID)
	assert.Equal(t, "keep-me", stdoutP.sent[1].ID)
}

func TestSend_UnknownMailer(t *testing.T) {
	t.Parallel()

	d, _, _, _ := setup(t, "php_mail")
	err := d.Send(context.Background(), &email.Message{})
	assert.ErrorIs(t, err, provider.ErrUnknownMailer)
}

func TestSend_BackendError(t *testing.T) {
	t.Parallel()

	d, _, _, stdoutP := setup(t, "stdout")
	stdoutP.err = errors.New("boom")

	err := d.Send(context.Background(), &email.Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdout: boom")
}
