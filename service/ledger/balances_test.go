package ledger

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeBalances(t *testing.T) {
	tests := []struct {
		name      string
		mints     []BalanceDetail
		transfers []BalanceDetail
		want      []BalanceDetail
	}{
		{
			name:  "mint only kept unchanged",
			mints: []BalanceDetail{{Address: "A", Balance: 10, Start: at(1), End: at(5)}},
			want:  []BalanceDetail{{Address: "A", Balance: 10, Start: at(1), End: at(5)}},
		},
		{
			name:      "transfer only kept unchanged",
			transfers: []BalanceDetail{{Address: "B", Balance: -3, Start: at(2), End: at(2)}},
			want:      []BalanceDetail{{Address: "B", Balance: -3, Start: at(2), End: at(2)}},
		},
		{
			name:      "both sources summed with widest window",
			mints:     []BalanceDetail{{Address: "A", Balance: 10, Start: at(3), End: at(5)}},
			transfers: []BalanceDetail{{Address: "A", Balance: -4, Start: at(1), End: at(4)}},
			want:      []BalanceDetail{{Address: "A", Balance: 6, Start: at(1), End: at(5)}},
		},
		{
			name: "empty inputs",
			want: []BalanceDetail{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeBalances(tt.mints, tt.transfers))
		})
	}
}

func TestMergeBalances_Properties(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}
	genDetails := func(idx []int) []BalanceDetail {
		// indexes may repeat; keep the first occurrence so each list has one row per address
		seen := map[string]bool{}
		var out []BalanceDetail
		for i, n := range idx {
			a := names[n]
			if seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, BalanceDetail{
				Address: a,
				Balance: float64(i) - 2,
				Start:   at(i),
				End:     at(i * 2),
			})
		}
		return out
	}
	addrGen := gen.SliceOf(gen.IntRange(0, len(names)-1))

	properties := gopter.NewProperties(nil)

	properties.Property("merge is commutative", prop.ForAll(
		func(a, b []int) bool {
			m, x := genDetails(a), genDetails(b)
			return reflect.DeepEqual(MergeBalances(m, x), MergeBalances(x, m))
		},
		addrGen, addrGen,
	))

	properties.Property("merge covers exactly the union of addresses", prop.ForAll(
		func(a, b []int) bool {
			union := map[string]bool{}
			for _, n := range append(append([]int{}, a...), b...) {
				union[names[n]] = true
			}
			merged := MergeBalances(genDetails(a), genDetails(b))
			if len(merged) != len(union) {
				return false
			}
			for _, d := range merged {
				if !union[d.Address] {
					return false
				}
			}
			return true
		},
		addrGen, addrGen,
	))

	properties.TestingRun(t)
}

func TestAggregator_BalanceDetails(t *testing.T) {
	store := seedStore(t,
		mint("m1", "A", 100, at(1), ""),
		mint("m2", "A", 20, at(10), "R"),
		burn("b1", "A", 5, at(11)),
		transfer("t1", "A", "B", 30, at(5)),
		transfer("t2", "B", "C", 10, at(12)),
	)
	agg := NewAggregator(store, nil, testLogger())

	got, err := agg.BalanceDetails(context.Background(), []string{"A", "B", "C", "B", "ghost"})
	require.NoError(t, err)

	assert.Equal(t, []BalanceDetail{
		{Address: "A", Balance: 85, Start: at(1), End: at(11)},
		{Address: "B", Balance: 20, Start: at(5), End: at(12)},
		{Address: "C", Balance: 10, Start: at(12), End: at(12)},
	}, got)
}

func TestAggregator_Empty(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil, testLogger())
	got, err := agg.BalanceDetails(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingBalances struct{}

func (failingBalances) MintTotals(context.Context, []string) ([]BalanceDetail, error) {
	return nil, errors.New("mint query failed")
}

func (failingBalances) NetTransfers(context.Context, []string) ([]BalanceDetail, error) {
	return []BalanceDetail{{Address: "A", Balance: 1, Start: time.Now(), End: time.Now()}}, nil
}

func TestAggregator_SourceFailure(t *testing.T) {
	agg := NewAggregator(failingBalances{}, nil, testLogger())
	got, err := agg.BalanceDetails(context.Background(), []string{"A"})
	assert.Nil(t, got)
	assert.ErrorContains(t, err, "mint query failed")
}
