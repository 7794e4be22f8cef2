package solana

import (
	"fmt"

	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Well-known addresses
var (
	// SunriseProgramID is the Sunrise Stake program that mints gSOL.
	SunriseProgramID = solana.MustPublicKeyFromBase58("sunzv8N3A8dRHwUBvxgRDEbWKk8t7yiHR4FLRgFsTX6")

	// GSOLMint is the gSOL token mint on mainnet.
	GSOLMint = solana.MustPublicKeyFromBase58("gso1xA56hacfgTHTF4F7wN5r4jbnJsKh99vR595uybA")
)

// ReferredMintAccountCount is the number of accounts on a Sunrise deposit
// instruction that carries a referrer. The referrer is the last one.
const ReferredMintAccountCount = 21

// Classifier turns raw transactions into ledger records for a single mint
// and minting program.
type Classifier struct {
	mint    solana.PublicKey
	program solana.PublicKey
}

// NewClassifier creates a classifier for the given token mint and minting
// program.
func NewClassifier(mint, program solana.PublicKey) *Classifier {
	return &Classifier{mint: mint, program: program}
}

// Mint returns the tracked token mint.
func (c *Classifier) Mint() solana.PublicKey {
	return c.mint
}

// Classify maps a raw transaction to a ledger transaction.
//
// One token balance change is a mint when the account that paid for it is the
// token recipient, or a transfer from the payer when the mint was routed to
// someone else. A single decrease is a burn. Two changes of opposite sign are
// a transfer. Anything else returns ErrUnsupportedTransaction.
func (c *Classifier) Classify(raw *RawTransaction) (*ledger.Transaction, error) {
	diffs, err := TokenBalanceDifferences(raw, c.mint)
	if err != nil {
		return nil, err
	}
	if raw.Meta.Failed() {
		return nil, fmt.Errorf("%w: transaction failed on chain", ErrUnsupportedTransaction)
	}

	switch len(diffs) {
	case 1:
		return c.classifySingle(raw, diffs[0])
	case 2:
		return c.classifyTransfer(raw, diffs[0], diffs[1])
	default:
		return nil, fmt.Errorf("%w: %d token balance changes", ErrUnsupportedTransaction, len(diffs))
	}
}

func (c *Classifier) classifySingle(raw *RawTransaction, d TokenBalanceDifference) (*ledger.Transaction, error) {
	owner := d.Owner.String()

	switch d.Raw.Sign() {
	case 0:
		return nil, fmt.Errorf("%w: zero token balance change", ErrUnsupportedTransaction)
	case -1:
		return &ledger.Transaction{
			Signature: raw.Signature(),
			Timestamp: raw.Time(),
			Sender:    owner,
			Recipient: owner,
			Amount:    -d.Diff,
			Type:      ledger.TxTypeBurn,
		}, nil
	}

	natives, err := NativeBalanceDifferences(raw)
	if err != nil {
		return nil, err
	}
	funder := fundingParty(natives, d)
	if funder == nil {
		funder = &d.Owner
	}

	tx := &ledger.Transaction{
		Signature: raw.Signature(),
		Timestamp: raw.Time(),
		Sender:    funder.String(),
		Recipient: owner,
		Amount:    d.Diff,
		Type:      ledger.TxTypeTransfer,
	}
	if funder.Equals(d.Owner) {
		tx.Type = ledger.TxTypeMint
		if ref := c.Referrer(raw); ref != nil {
			s := ref.String()
			tx.Referrer = &s
		}
	}
	return tx, nil
}

// fundingParty returns the first account whose SOL outflow covers the
// minted amount.
func fundingParty(natives []BalanceDifference, minted TokenBalanceDifference) *solana.PublicKey {
	need := minted.Display()
	for _, n := range natives {
		spent := decimal.NewFromInt(-n.Diff).Div(decimal.NewFromInt(LamportsPerSOL))
		if spent.GreaterThanOrEqual(need) {
			owner := n.Owner
			return &owner
		}
	}
	return nil
}

func (c *Classifier) classifyTransfer(raw *RawTransaction, a, b TokenBalanceDifference) (*ledger.Transaction, error) {
	if a.Raw.Sign() > 0 {
		a, b = b, a
	}
	if a.Raw.Sign() >= 0 || b.Raw.Sign() <= 0 {
		return nil, fmt.Errorf("%w: two token balance changes without a sender and a recipient", ErrUnsupportedTransaction)
	}
	return &ledger.Transaction{
		Signature: raw.Signature(),
		Timestamp: raw.Time(),
		Sender:    a.Owner.String(),
		Recipient: b.Owner.String(),
		Amount:    b.Diff,
		Type:      ledger.TxTypeTransfer,
	}, nil
}

// Referrer returns the referrer of a Sunrise deposit, or nil if the first
// Sunrise instruction does not carry one.
func (c *Classifier) Referrer(raw *RawTransaction) *solana.PublicKey {
	msg := raw.Transaction.Message
	programIndex := -1
	for i, k := range msg.AccountKeys {
		if k.Equals(c.program) {
			programIndex = i
			break
		}
	}
	if programIndex < 0 {
		return nil
	}

	for _, ix := range msg.Instructions {
		if ix.ProgramIDIndex != programIndex {
			continue
		}
		if len(ix.Accounts) != ReferredMintAccountCount {
			return nil
		}
		accounts := raw.AccountList()
		idx := ix.Accounts[ReferredMintAccountCount-1]
		if idx < 0 || idx >= len(accounts) {
			return nil
		}
		ref := accounts[idx]
		return &ref
	}
	return nil
}
