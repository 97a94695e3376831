package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestVerificationMessage(t *testing.T) {
	msg, err := VerificationMessage("alice@example.com", LinkData{
		Name:   "Alice",
		Link:   "http://localhost:8080/auth/email-confirmation/abc?x=1&y=2",
		Expiry: "15m0s",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Verify your email address", msg.Subject)
	assert.Contains(t, msg.Body, "Hi Alice")
	// html/template escapes the query separator inside attributes
	assert.Contains(t, msg.Body, `href="http://localhost:8080/auth/email-confirmation/abc?x=1&amp;y=2"`)
	assert.Contains(t, msg.Body, "15m0s")
}

func TestPasswordResetMessage_EscapesName(t *testing.T) {
	msg, err := PasswordResetMessage("bob@example.com", LinkData{Name: "<b>Bob</b>", Link: "http://x/reset"})
	require.NoError(t, err)

	assert.Equal(t, "Reset your password", msg.Subject)
	assert.NotContains(t, msg.Body, "<b>Bob</b>")
	assert.Contains(t, msg.Body, "&lt;b&gt;Bob&lt;/b&gt;")
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	err := sender.Send(context.Background(), Message{To: "alice@example.com", Subject: "Hello", Body: "<p>hi</p>"})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "alice@example.com", entries[0].ContextMap()["to"])
	assert.Equal(t, "Hello", entries[0].ContextMap()["subject"])
}

func TestNewSMTPSender(t *testing.T) {
	sender, err := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 2525, From: "library@example.com"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, sender.client)

	_, err = NewSMTPSender(SMTPConfig{Host: "", Port: 25}, zap.NewNop())
	assert.Error(t, err)
}
