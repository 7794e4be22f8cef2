package solana

import (
	"encoding/json"
	"time"

	"github.com/gagliardetto/solana-go"
)

// RawTransaction is a confirmed transaction as delivered by the Helius "raw"
// webhook, which uses the same JSON shape as the RPC getTransaction response
// with JSON encoding.
type RawTransaction struct {
	BlockTime   *int64           `json:"blockTime"`
	Slot        uint64           `json:"slot"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction *Transaction     `json:"transaction"`
}

// Transaction is the signed part of a RawTransaction.
type Transaction struct {
	Signatures []string `json:"signatures"`
	Message    *Message `json:"message"`
}

// Message holds the static account list and the compiled instructions.
type Message struct {
	AccountKeys         []solana.PublicKey   `json:"accountKeys"`
	Header              MessageHeader        `json:"header"`
	RecentBlockhash     string               `json:"recentBlockhash"`
	Instructions        []Instruction        `json:"instructions"`
	AddressTableLookups []AddressTableLookup `json:"addressTableLookups,omitempty"`
}

// MessageHeader describes the signer/readonly layout of AccountKeys.
type MessageHeader struct {
	NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
	NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// Instruction is a compiled instruction. ProgramIDIndex indexes the static
// account keys, Accounts index the full account list.
type Instruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

// AddressTableLookup references accounts loaded from an address lookup table.
type AddressTableLookup struct {
	AccountKey      solana.PublicKey `json:"accountKey"`
	WritableIndexes []uint8          `json:"writableIndexes"`
	ReadonlyIndexes []uint8          `json:"readonlyIndexes"`
}

// TransactionMeta carries the execution results, including the balance
// snapshots used for classification.
type TransactionMeta struct {
	Err               json.RawMessage `json:"err,omitempty"`
	Fee               uint64          `json:"fee"`
	PreBalances       []uint64        `json:"preBalances"`
	PostBalances      []uint64        `json:"postBalances"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
	LoadedAddresses   LoadedAddresses `json:"loadedAddresses"`
	LogMessages       []string        `json:"logMessages,omitempty"`
}

// Failed reports whether the transaction errored on chain.
func (m *TransactionMeta) Failed() bool {
	return len(m.Err) > 0 && string(m.Err) != "null"
}

// TokenBalance is an SPL token account balance snapshot.
type TokenBalance struct {
	AccountIndex  int               `json:"accountIndex"`
	Mint          solana.PublicKey  `json:"mint"`
	Owner         *solana.PublicKey `json:"owner,omitempty"`
	ProgramID     *solana.PublicKey `json:"programId,omitempty"`
	UITokenAmount UITokenAmount     `json:"uiTokenAmount"`
}

// UITokenAmount holds the raw integer amount as a decimal string.
type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString,omitempty"`
}

// LoadedAddresses are accounts pulled in through address lookup tables.
type LoadedAddresses struct {
	Writable []solana.PublicKey `json:"writable"`
	Readonly []solana.PublicKey `json:"readonly"`
}

// Signature returns the first (fee payer) signature, which identifies the
// transaction.
func (r *RawTransaction) Signature() string {
	if r.Transaction == nil || len(r.Transaction.Signatures) == 0 {
		return ""
	}
	return r.Transaction.Signatures[0]
}

// Time returns the block time, or the zero time if unknown.
func (r *RawTransaction) Time() time.Time {
	if r.BlockTime == nil {
		return time.Time{}
	}
	return time.Unix(*r.BlockTime, 0).UTC()
}

// AccountList returns the static account keys followed by the loaded writable
// and loaded readonly addresses. Balance arrays are indexed against it.
func (r *RawTransaction) AccountList() []solana.PublicKey {
	if r.Transaction == nil || r.Transaction.Message == nil {
		return nil
	}
	keys := r.Transaction.Message.AccountKeys
	out := make([]solana.PublicKey, 0, len(keys))
	out = append(out, keys...)
	if r.Meta != nil {
		out = append(out, r.Meta.LoadedAddresses.Writable...)
		out = append(out, r.Meta.LoadedAddresses.Readonly...)
	}
	return out
}
