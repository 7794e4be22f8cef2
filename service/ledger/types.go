package ledger

import (
	"time"
)

// TxType is the semantic type assigned to a classified transaction.
type TxType string

const (
	TxTypeMint     TxType = "MINT"
	TxTypeTransfer TxType = "TRANSFER"
	TxTypeBurn     TxType = "BURN"
	TxTypeOther    TxType = "OTHER"
)

// Valid reports whether t is one of the known transaction types.
func (t TxType) Valid() bool {
	switch t {
	case TxTypeMint, TxTypeTransfer, TxTypeBurn, TxTypeOther:
		return true
	}
	return false
}

// Transaction is a classified gSOL movement as persisted in the ledger.
// Amounts are in token display units (already divided by the mint decimals).
type Transaction struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    float64   `json:"amount"`
	Type      TxType    `json:"type"`
	Referrer  *string   `json:"referrer,omitempty"` // only set on MINT
}

// Edge is a sender->recipient relationship discovered by the graph resolver.
// Degree is the hop distance at which the pair was first reached (0 = direct).
type Edge struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Degree    int    `json:"degree"`
}

// Reflexive reports whether the edge points back at its own sender.
func (e Edge) Reflexive() bool {
	return e.Sender == e.Recipient
}

type edgeKey struct {
	sender    string
	recipient string
}

func (e Edge) key() edgeKey {
	return edgeKey{sender: e.Sender, recipient: e.Recipient}
}

// Neighbours holds the two independent traversal results for an address.
// Outgoing is "who did I send to", Incoming is "who sent to me".
type Neighbours struct {
	Outgoing []Edge
	Incoming []Edge
}

// BalanceDetail is an address's aggregated net position and activity window.
type BalanceDetail struct {
	Address string    `json:"address"`
	Balance float64   `json:"balance"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// AugmentedNeighbour merges an edge with the balance detail of the neighbour
// it leads to.
type AugmentedNeighbour struct {
	BalanceDetail
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Degree    int    `json:"degree"`
}

// AugmentedNeighbours is the neighbour query response.
// SenderResult comes from the outgoing traversal (the neighbour is the recipient),
// RecipientResult from the incoming traversal (the neighbour is the sender).
type AugmentedNeighbours struct {
	SenderResult    []AugmentedNeighbour `json:"sender_result"`
	RecipientResult []AugmentedNeighbour `json:"recipient_result"`
}

// ActivityWindow is the first and last time an address received gSOL.
type ActivityWindow struct {
	First time.Time
	Last  time.Time
}

// ReferralCount is one leaderboard row.
type ReferralCount struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

// ListTransactionsParams contains pagination parameters for listing an
// address's ledger history.
type ListTransactionsParams struct {
	Address string
	Limit   int32
	Offset  int32
}
