package nats

import (
	"strings"
	"time"

	"github.com/brojonat/gsoltrack/service/ledger"
)

// LedgerEvent is published after a transaction is appended to the ledger.
// Subject: "ledger.{type}", e.g. "ledger.mint".
type LedgerEvent struct {
	Signature string    `json:"signature"`
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    float64   `json:"amount"`
	Referrer  *string   `json:"referrer,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for the event.
func (e *LedgerEvent) Subject() string {
	return SubjectPrefix + strings.ToLower(e.Type)
}

// FromLedgerTransaction converts a ledger record to an event for publishing.
func FromLedgerTransaction(tx *ledger.Transaction) *LedgerEvent {
	return &LedgerEvent{
		Signature:   tx.Signature,
		Type:        string(tx.Type),
		Sender:      tx.Sender,
		Recipient:   tx.Recipient,
		Amount:      tx.Amount,
		Referrer:    tx.Referrer,
		Timestamp:   tx.Timestamp,
		PublishedAt: time.Now().UTC(),
	}
}
