package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateTransaction is returned by a Writer when a transaction with
	// the same signature is already in the ledger.
	ErrDuplicateTransaction = errors.New("transaction already recorded")

	// ErrDegreeExceeded is returned when a traversal is requested beyond the
	// configured ceiling (or with a negative degree).
	ErrDegreeExceeded = errors.New("degree out of range")

	// ErrInvalidTransaction is returned when a record violates the ledger
	// invariants (non-positive amount, unknown type, missing parties).
	ErrInvalidTransaction = errors.New("invalid ledger transaction")

	// ErrInvalidWindow is returned when a time window ends before it starts.
	ErrInvalidWindow = errors.New("window ends before it starts")
)

// Writer is the durable append side of the ledger.
// Implementations must not retry internally.
type Writer interface {
	AppendTransaction(ctx context.Context, tx Transaction) error
}

// EdgeSource answers single-hop lookups for a frontier of addresses.
// Returned edges carry Degree 0; the resolver assigns hop distances.
type EdgeSource interface {
	// OutgoingEdges returns transfers sent by any of the senders, plus one
	// edge referrer->minter for every mint referred by any of the senders.
	OutgoingEdges(ctx context.Context, senders []string) ([]Edge, error)

	// IncomingEdges returns transfers received by any of the recipients, plus
	// one edge referrer->recipient for every referred mint they received.
	IncomingEdges(ctx context.Context, recipients []string) ([]Edge, error)
}

// BalanceSource computes per-address aggregates over the ledger.
type BalanceSource interface {
	// MintTotals sums mints (minus burns) received by each address.
	MintTotals(ctx context.Context, addresses []string) ([]BalanceDetail, error)

	// NetTransfers sums incoming minus outgoing transfers for each address.
	NetTransfers(ctx context.Context, addresses []string) ([]BalanceDetail, error)
}

// ActivitySource reports when an address first and last received gSOL.
// A nil window with a nil error means the address has no history.
type ActivitySource interface {
	ActivityWindow(ctx context.Context, address string) (*ActivityWindow, error)
}

// ReferralSource counts referred mints per referrer. Nil bounds are open.
type ReferralSource interface {
	ReferralCounts(ctx context.Context, from, to *time.Time) ([]ReferralCount, error)
}

// TransactionLister pages through the ledger history of one address.
type TransactionLister interface {
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]Transaction, error)
}

// Store is the full ledger capability handle. It is passed explicitly to
// every component that needs it.
type Store interface {
	Writer
	EdgeSource
	BalanceSource
	ActivitySource
	ReferralSource
	TransactionLister
}

// Validate checks the invariants every persisted record must hold.
func (tx Transaction) Validate() error {
	switch {
	case tx.Signature == "":
		return errors.Join(ErrInvalidTransaction, errors.New("signature is required"))
	case tx.Sender == "" || tx.Recipient == "":
		return errors.Join(ErrInvalidTransaction, errors.New("sender and recipient are required"))
	case !tx.Type.Valid():
		return errors.Join(ErrInvalidTransaction, errors.New("unknown type "+string(tx.Type)))
	case !(tx.Amount > 0):
		return errors.Join(ErrInvalidTransaction, errors.New("amount must be positive"))
	case tx.Referrer != nil && tx.Type != TxTypeMint:
		return errors.Join(ErrInvalidTransaction, errors.New("referrer is only valid on mints"))
	}
	return nil
}
