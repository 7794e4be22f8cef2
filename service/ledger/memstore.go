package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store used by tests.
type MemoryStore struct {
	mu   sync.RWMutex
	txs  []Transaction
	sigs map[string]struct{}
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sigs: make(map[string]struct{}),
	}
}

// AppendTransaction adds a transaction. Returns ErrDuplicateTransaction if the
// signature is already present.
func (s *MemoryStore) AppendTransaction(_ context.Context, tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sigs[tx.Signature]; exists {
		return ErrDuplicateTransaction
	}
	if tx.Referrer != nil {
		ref := *tx.Referrer
		tx.Referrer = &ref
	}
	s.sigs[tx.Signature] = struct{}{}
	s.txs = append(s.txs, tx)
	return nil
}

// OutgoingEdges implements EdgeSource.
func (s *MemoryStore) OutgoingEdges(_ context.Context, senders []string) ([]Edge, error) {
	set := toSet(senders)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []Edge
	seen := make(map[edgeKey]bool)
	for _, tx := range s.txs {
		var e Edge
		switch {
		case tx.Type == TxTypeTransfer && set[tx.Sender]:
			e = Edge{Sender: tx.Sender, Recipient: tx.Recipient}
		case tx.Type == TxTypeMint && tx.Referrer != nil && set[*tx.Referrer]:
			e = Edge{Sender: *tx.Referrer, Recipient: tx.Recipient}
		default:
			continue
		}
		if !seen[e.key()] {
			seen[e.key()] = true
			edges = append(edges, e)
		}
	}
	return edges, nil
}

// IncomingEdges implements EdgeSource.
func (s *MemoryStore) IncomingEdges(_ context.Context, recipients []string) ([]Edge, error) {
	set := toSet(recipients)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []Edge
	seen := make(map[edgeKey]bool)
	for _, tx := range s.txs {
		if !set[tx.Recipient] {
			continue
		}
		var e Edge
		switch {
		case tx.Type == TxTypeTransfer:
			e = Edge{Sender: tx.Sender, Recipient: tx.Recipient}
		case tx.Type == TxTypeMint && tx.Referrer != nil:
			e = Edge{Sender: *tx.Referrer, Recipient: tx.Recipient}
		default:
			continue
		}
		if !seen[e.key()] {
			seen[e.key()] = true
			edges = append(edges, e)
		}
	}
	return edges, nil
}

// MintTotals implements BalanceSource. Burns subtract from the owner's total.
func (s *MemoryStore) MintTotals(_ context.Context, addresses []string) ([]BalanceDetail, error) {
	set := toSet(addresses)

	s.mu.RLock()
	defer s.mu.RUnlock()

	acc := newAccumulator()
	for _, tx := range s.txs {
		if !set[tx.Recipient] {
			continue
		}
		switch tx.Type {
		case TxTypeMint:
			acc.add(tx.Recipient, tx.Amount, tx.Timestamp)
		case TxTypeBurn:
			acc.add(tx.Recipient, -tx.Amount, tx.Timestamp)
		}
	}
	return acc.details(), nil
}

// NetTransfers implements BalanceSource.
func (s *MemoryStore) NetTransfers(_ context.Context, addresses []string) ([]BalanceDetail, error) {
	set := toSet(addresses)

	s.mu.RLock()
	defer s.mu.RUnlock()

	acc := newAccumulator()
	for _, tx := range s.txs {
		if tx.Type != TxTypeTransfer {
			continue
		}
		if set[tx.Recipient] {
			acc.add(tx.Recipient, tx.Amount, tx.Timestamp)
		}
		if set[tx.Sender] {
			acc.add(tx.Sender, -tx.Amount, tx.Timestamp)
		}
	}
	return acc.details(), nil
}

// ActivityWindow implements ActivitySource.
func (s *MemoryStore) ActivityWindow(_ context.Context, address string) (*ActivityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w *ActivityWindow
	for _, tx := range s.txs {
		if tx.Recipient != address || (tx.Type != TxTypeMint && tx.Type != TxTypeTransfer) {
			continue
		}
		if w == nil {
			w = &ActivityWindow{First: tx.Timestamp, Last: tx.Timestamp}
			continue
		}
		if tx.Timestamp.Before(w.First) {
			w.First = tx.Timestamp
		}
		if tx.Timestamp.After(w.Last) {
			w.Last = tx.Timestamp
		}
	}
	return w, nil
}

// ReferralCounts implements ReferralSource.
func (s *MemoryStore) ReferralCounts(_ context.Context, from, to *time.Time) ([]ReferralCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, tx := range s.txs {
		if tx.Type != TxTypeMint || tx.Referrer == nil {
			continue
		}
		if from != nil && tx.Timestamp.Before(*from) {
			continue
		}
		if to != nil && tx.Timestamp.After(*to) {
			continue
		}
		counts[*tx.Referrer]++
	}

	out := make([]ReferralCount, 0, len(counts))
	for ref, n := range counts {
		out = append(out, ReferralCount{Referrer: ref, Count: n})
	}
	return out, nil
}

// ListTransactions implements TransactionLister. Newest first.
func (s *MemoryStore) ListTransactions(_ context.Context, params ListTransactionsParams) ([]Transaction, error) {
	s.mu.RLock()
	var matched []Transaction
	for _, tx := range s.txs {
		if params.Address == "" || tx.Sender == params.Address || tx.Recipient == params.Address {
			matched = append(matched, tx)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Signature < matched[j].Signature
	})

	offset := int(params.Offset)
	if offset >= len(matched) {
		return []Transaction{}, nil
	}
	matched = matched[offset:]
	if params.Limit > 0 && int(params.Limit) < len(matched) {
		matched = matched[:params.Limit]
	}
	return matched, nil
}

// Len returns the number of stored transactions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

type accumulator struct {
	byAddr map[string]*BalanceDetail
}

func newAccumulator() *accumulator {
	return &accumulator{byAddr: make(map[string]*BalanceDetail)}
}

func (a *accumulator) add(addr string, amount float64, ts time.Time) {
	d, ok := a.byAddr[addr]
	if !ok {
		a.byAddr[addr] = &BalanceDetail{Address: addr, Balance: amount, Start: ts, End: ts}
		return
	}
	d.Balance += amount
	if ts.Before(d.Start) {
		d.Start = ts
	}
	if ts.After(d.End) {
		d.End = ts
	}
}

func (a *accumulator) details() []BalanceDetail {
	out := make([]BalanceDetail, 0, len(a.byAddr))
	for _, d := range a.byAddr {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

var _ Store = (*MemoryStore)(nil)
