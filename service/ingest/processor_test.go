package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/nats"
	"github.com/brojonat/gsoltrack/service/solana"
	sol "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mintPayload is a self-funded mint of 100 gSOL.
func mintPayload(sig string, owner sol.PublicKey) *solana.RawTransaction {
	bt := int64(1_690_000_000)
	return &solana.RawTransaction{
		BlockTime: &bt,
		Transaction: &solana.Transaction{
			Signatures: []string{sig},
			Message:    &solana.Message{AccountKeys: []sol.PublicKey{owner}},
		},
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{200 * solana.LamportsPerSOL},
			PostBalances: []uint64{100 * solana.LamportsPerSOL},
			PostTokenBalances: []solana.TokenBalance{{
				Mint:          solana.GSOLMint,
				Owner:         &owner,
				UITokenAmount: solana.UITokenAmount{Amount: "100000000000", Decimals: 9},
			}},
		},
	}
}

func newTestProcessor(store ledger.Writer, pub nats.Publisher) *Processor {
	classifier := solana.NewClassifier(solana.GSOLMint, solana.SunriseProgramID)
	return NewProcessor(classifier, NewDirectDispatcher(store, pub, nil, testLogger()), nil, testLogger())
}

func TestProcess_RecordsAndPublishes(t *testing.T) {
	store := ledger.NewMemoryStore()
	pub := nats.NewMockPublisher()
	p := newTestProcessor(store, pub)
	owner := sol.NewWallet().PublicKey()

	res := p.Process(context.Background(), mintPayload("sig-1", owner))

	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.Equal(t, ledger.TxTypeMint, res.Type)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, store.Len())

	events := pub.GetPublishedEventsForSubject("ledger.mint")
	require.Len(t, events, 1)
	assert.Equal(t, "sig-1", events[0].Signature)
	assert.Equal(t, owner.String(), events[0].Recipient)
}

func TestProcess_Duplicate(t *testing.T) {
	store := ledger.NewMemoryStore()
	pub := nats.NewMockPublisher()
	p := newTestProcessor(store, pub)
	raw := mintPayload("sig-1", sol.NewWallet().PublicKey())

	first := p.Process(context.Background(), raw)
	second := p.Process(context.Background(), raw)

	assert.Equal(t, OutcomeRecorded, first.Outcome)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, 1, store.Len())
	assert.Len(t, pub.GetPublishedEvents(), 1, "duplicates are not republished")
}

func TestProcess_Rejections(t *testing.T) {
	owner := sol.NewWallet().PublicKey()

	tests := []struct {
		name    string
		raw     func() *solana.RawTransaction
		outcome Outcome
	}{
		{
			name: "no gSOL movement",
			raw: func() *solana.RawTransaction {
				r := mintPayload("sig-u", owner)
				r.Meta.PostTokenBalances = nil
				return r
			},
			outcome: OutcomeUnsupported,
		},
		{
			name: "missing meta",
			raw: func() *solana.RawTransaction {
				r := mintPayload("sig-m", owner)
				r.Meta = nil
				return r
			},
			outcome: OutcomeMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ledger.NewMemoryStore()
			res := newTestProcessor(store, nil).Process(context.Background(), tt.raw())
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.NotEmpty(t, res.Error)
			assert.Zero(t, store.Len(), "nothing is written")
		})
	}
}

type dispatcherFunc func(ctx context.Context, tx *ledger.Transaction) error

func (f dispatcherFunc) Dispatch(ctx context.Context, tx *ledger.Transaction) error { return f(ctx, tx) }

func TestProcess_AcceptedDispatch(t *testing.T) {
	classifier := solana.NewClassifier(solana.GSOLMint, solana.SunriseProgramID)
	dispatcher := dispatcherFunc(func(context.Context, *ledger.Transaction) error {
		return fmt.Errorf("%w: workflow %q", ErrAccepted, "ledger-sig-1")
	})
	p := NewProcessor(classifier, dispatcher, nil, testLogger())

	res := p.Process(context.Background(), mintPayload("sig-1", sol.NewWallet().PublicKey()))
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, ledger.TxTypeMint, res.Type)
	assert.Empty(t, res.Error)
}

type failingWriter struct{ err error }

func (f failingWriter) AppendTransaction(context.Context, ledger.Transaction) error { return f.err }

func TestProcess_WriteFailure(t *testing.T) {
	pub := nats.NewMockPublisher()
	p := newTestProcessor(failingWriter{err: errors.New("db down")}, pub)

	res := p.Process(context.Background(), mintPayload("sig-1", sol.NewWallet().PublicKey()))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, "db down")
	assert.Empty(t, pub.GetPublishedEvents())
}

func TestProcess_PublishFailureIsNotFatal(t *testing.T) {
	store := ledger.NewMemoryStore()
	pub := nats.NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))
	p := newTestProcessor(store, pub)

	res := p.Process(context.Background(), mintPayload("sig-1", sol.NewWallet().PublicKey()))
	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.Equal(t, 1, store.Len())
}
