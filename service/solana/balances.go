package solana

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of decimals of the gSOL mint.
const TokenDecimals = 9

// LamportsPerSOL converts native balances to SOL.
const LamportsPerSOL = 1_000_000_000

var (
	// ErrMalformedTransaction is returned when a payload lacks the fields
	// needed for classification or its balance arrays are inconsistent.
	ErrMalformedTransaction = errors.New("malformed transaction")

	// ErrUnsupportedTransaction is returned when a well-formed transaction
	// does not match any gSOL movement shape.
	ErrUnsupportedTransaction = errors.New("unsupported transaction")
)

// BalanceDifference is the change in native balance of one account.
type BalanceDifference struct {
	Owner solana.PublicKey
	Diff  int64 // lamports
}

// TokenBalanceDifference is the change in a token balance of one owner.
type TokenBalanceDifference struct {
	Owner solana.PublicKey
	Mint  solana.PublicKey
	Raw   decimal.Decimal // raw integer delta
	Diff  float64         // display units
}

// Display returns the delta scaled to display units.
func (d TokenBalanceDifference) Display() decimal.Decimal {
	return d.Raw.Shift(-TokenDecimals)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedTransaction, fmt.Sprintf(format, args...))
}

// Validate checks the structural requirements for balance extraction.
func (r *RawTransaction) Validate() error {
	switch {
	case r == nil:
		return malformed("empty payload")
	case r.Transaction == nil || r.Transaction.Message == nil:
		return malformed("missing message")
	case len(r.Transaction.Signatures) == 0 || r.Transaction.Signatures[0] == "":
		return malformed("missing signatures")
	case r.Meta == nil:
		return malformed("missing meta")
	case r.BlockTime == nil:
		return malformed("missing block time")
	}

	accounts := len(r.AccountList())
	if len(r.Meta.PreBalances) != len(r.Meta.PostBalances) {
		return malformed("pre/post balance length mismatch (%d != %d)",
			len(r.Meta.PreBalances), len(r.Meta.PostBalances))
	}
	if len(r.Meta.PreBalances) > accounts {
		return malformed("%d balances for %d accounts", len(r.Meta.PreBalances), accounts)
	}
	return nil
}

// TokenBalanceDifferences returns one difference per post token balance of
// mint. The pre balance is matched by owner and mint; a missing pre balance
// counts as zero.
func TokenBalanceDifferences(raw *RawTransaction, mint solana.PublicKey) ([]TokenBalanceDifference, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	var diffs []TokenBalanceDifference
	for _, post := range raw.Meta.PostTokenBalances {
		if !post.Mint.Equals(mint) {
			continue
		}
		if post.Owner == nil {
			return nil, malformed("token balance at index %d has no owner", post.AccountIndex)
		}
		postAmount, err := decimal.NewFromString(post.UITokenAmount.Amount)
		if err != nil {
			return nil, malformed("post token amount %q: %v", post.UITokenAmount.Amount, err)
		}

		preAmount := decimal.Zero
		for _, pre := range raw.Meta.PreTokenBalances {
			if pre.Owner == nil || !pre.Owner.Equals(*post.Owner) || !pre.Mint.Equals(mint) {
				continue
			}
			preAmount, err = decimal.NewFromString(pre.UITokenAmount.Amount)
			if err != nil {
				return nil, malformed("pre token amount %q: %v", pre.UITokenAmount.Amount, err)
			}
			break
		}

		delta := postAmount.Sub(preAmount)
		diffs = append(diffs, TokenBalanceDifference{
			Owner: *post.Owner,
			Mint:  mint,
			Raw:   delta,
			Diff:  delta.Shift(-TokenDecimals).InexactFloat64(),
		})
	}
	return diffs, nil
}

// NativeBalanceDifferences returns post minus pre lamports for every balance
// entry, attributed to the account at the same index of the account list.
func NativeBalanceDifferences(raw *RawTransaction) ([]BalanceDifference, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	accounts := raw.AccountList()
	diffs := make([]BalanceDifference, 0, len(raw.Meta.PreBalances))
	for i, pre := range raw.Meta.PreBalances {
		post := raw.Meta.PostBalances[i]
		diffs = append(diffs, BalanceDifference{
			Owner: accounts[i],
			Diff:  int64(post) - int64(pre),
		})
	}
	return diffs, nil
}
