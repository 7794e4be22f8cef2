package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromLedgerTransaction(t *testing.T) {
	ref := "referrer"
	tx := &ledger.Transaction{
		Signature: "sig",
		Timestamp: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Sender:    "A",
		Recipient: "A",
		Amount:    2.5,
		Type:      ledger.TxTypeMint,
		Referrer:  &ref,
	}

	event := FromLedgerTransaction(tx)
	assert.Equal(t, "ledger.mint", event.Subject())
	assert.Equal(t, "MINT", event.Type)
	assert.Equal(t, &ref, event.Referrer)
	assert.Equal(t, tx.Timestamp, event.Timestamp)
	assert.WithinDuration(t, time.Now(), event.PublishedAt, 5*time.Second)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishLedgerEvent(ctx, &LedgerEvent{Signature: "a", Type: "MINT"}))
	require.NoError(t, m.PublishLedgerEvent(ctx, &LedgerEvent{Signature: "b", Type: "TRANSFER"}))

	assert.Len(t, m.GetPublishedEvents(), 2)
	transfers := m.GetPublishedEventsForSubject("ledger.transfer")
	require.Len(t, transfers, 1)
	assert.Equal(t, "b", transfers[0].Signature)

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishLedgerEvent(ctx, &LedgerEvent{Signature: "c", Type: "BURN"}))
	assert.Len(t, m.GetPublishedEvents(), 2)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
