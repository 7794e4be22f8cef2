package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Leaderboard returns referral counts for referred mints in the optional
// [from, to] window, highest count first. Ties are broken by referrer.
func Leaderboard(ctx context.Context, src ReferralSource, from, to *time.Time) ([]ReferralCount, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, ErrInvalidWindow
	}
	counts, err := src.ReferralCounts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Referrer < counts[j].Referrer
	})
	return counts, nil
}
