package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogNotifierRecordsRecipientOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := LogNotifier{Log: zap.New(core)}

	err := n.Send(context.Background(), Message{To: "sli@example.org", Subject: "Account dump", Body: "balance: 10.00"})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "sli@example.org", fields["to"])
	assert.Equal(t, "Account dump", fields["subject"])
	assert.NotContains(t, fields, "body")
}

func TestLogNotifierWithoutLogger(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Send(context.Background(), Message{To: "x@example.org"}))
}

func TestSMTPMailerReportsUnreachableServer(t *testing.T) {
	m := NewSMTPMailer("127.0.0.1", 1, "", "", "noreply@example.org")
	err := m.Send(context.Background(), Message{To: "sli@example.org", Subject: "hi", Body: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sli@example.org")
}
