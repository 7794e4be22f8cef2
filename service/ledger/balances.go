package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brojonat/gsoltrack/service/metrics"
	"golang.org/x/sync/errgroup"
)

// Aggregator computes balance details for a set of addresses by combining the
// mint totals and net transfer aggregates.
type Aggregator struct {
	balances BalanceSource
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAggregator creates an aggregator over the given balance source.
func NewAggregator(balances BalanceSource, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		balances: balances,
		metrics:  m,
		logger:   logger,
	}
}

// BalanceDetails returns one merged detail per requested address that has any
// ledger history. Addresses found in neither aggregate are logged and omitted.
func (a *Aggregator) BalanceDetails(ctx context.Context, addresses []string) ([]BalanceDetail, error) {
	addresses = dedupe(addresses)
	if len(addresses) == 0 {
		return nil, nil
	}

	var mints, transfers []BalanceDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		res, err := a.balances.MintTotals(gctx, addresses)
		a.metrics.RecordBalanceAggregation("mints", time.Since(start).Seconds(), err)
		if err != nil {
			return fmt.Errorf("mint totals: %w", err)
		}
		mints = res
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		res, err := a.balances.NetTransfers(gctx, addresses)
		a.metrics.RecordBalanceAggregation("transfers", time.Since(start).Seconds(), err)
		if err != nil {
			return fmt.Errorf("net transfers: %w", err)
		}
		transfers = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := MergeBalances(mints, transfers)

	found := make(map[string]bool, len(merged))
	for _, d := range merged {
		found[d.Address] = true
	}
	for _, addr := range addresses {
		if !found[addr] {
			a.logger.WarnContext(ctx, "no balance data for address",
				"address", addr,
				"stage", "aggregate",
			)
			a.metrics.RecordDataIntegrityWarning("aggregate")
		}
	}

	return merged, nil
}

// MergeBalances combines mint totals and net transfers by address. An address
// present in one list is kept unchanged; one present in both gets the summed
// balance, the earlier start and the later end. The result is sorted by address.
func MergeBalances(mints, transfers []BalanceDetail) []BalanceDetail {
	byAddr := make(map[string]BalanceDetail, len(mints)+len(transfers))
	add := func(d BalanceDetail) {
		prev, ok := byAddr[d.Address]
		if !ok {
			byAddr[d.Address] = d
			return
		}
		byAddr[d.Address] = combine(prev, d)
	}
	for _, d := range mints {
		add(d)
	}
	for _, d := range transfers {
		add(d)
	}

	out := make([]BalanceDetail, 0, len(byAddr))
	for _, d := range byAddr {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func combine(a, b BalanceDetail) BalanceDetail {
	out := BalanceDetail{
		Address: a.Address,
		Balance: a.Balance + b.Balance,
		Start:   a.Start,
		End:     a.End,
	}
	if b.Start.Before(out.Start) {
		out.Start = b.Start
	}
	if b.End.After(out.End) {
		out.End = b.End
	}
	return out
}

func dedupe(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
