package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func transfer(sig, from, to string, amount float64, ts time.Time) Transaction {
	return Transaction{
		Signature: sig,
		Timestamp: ts,
		Sender:    from,
		Recipient: to,
		Amount:    amount,
		Type:      TxTypeTransfer,
	}
}

func mint(sig, to string, amount float64, ts time.Time, referrer string) Transaction {
	tx := Transaction{
		Signature: sig,
		Timestamp: ts,
		Sender:    to,
		Recipient: to,
		Amount:    amount,
		Type:      TxTypeMint,
	}
	if referrer != "" {
		tx.Referrer = &referrer
	}
	return tx
}

func burn(sig, owner string, amount float64, ts time.Time) Transaction {
	return Transaction{
		Signature: sig,
		Timestamp: ts,
		Sender:    owner,
		Recipient: owner,
		Amount:    amount,
		Type:      TxTypeBurn,
	}
}

func seedStore(t *testing.T, txs ...Transaction) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for _, tx := range txs {
		require.NoError(t, s.AppendTransaction(context.Background(), tx), "seeding %s", tx.Signature)
	}
	return s
}

// countingEdges wraps an EdgeSource and counts lookups per direction. The
// resolver queries both directions concurrently.
type countingEdges struct {
	EdgeSource
	outgoing atomic.Int32
	incoming atomic.Int32
}

func (c *countingEdges) OutgoingEdges(ctx context.Context, senders []string) ([]Edge, error) {
	c.outgoing.Add(1)
	return c.EdgeSource.OutgoingEdges(ctx, senders)
}

func (c *countingEdges) IncomingEdges(ctx context.Context, recipients []string) ([]Edge, error) {
	c.incoming.Add(1)
	return c.EdgeSource.IncomingEdges(ctx, recipients)
}

func (c *countingEdges) calls() int32 {
	return c.outgoing.Load() + c.incoming.Load()
}

type failingEdges struct{ err error }

func (f failingEdges) OutgoingEdges(context.Context, []string) ([]Edge, error) { return nil, f.err }
func (f failingEdges) IncomingEdges(context.Context, []string) ([]Edge, error) { return nil, f.err }

type blockingEdges struct{}

func (blockingEdges) OutgoingEdges(ctx context.Context, _ []string) ([]Edge, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingEdges) IncomingEdges(ctx context.Context, _ []string) ([]Edge, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func sig(i int) string {
	return fmt.Sprintf("sig-%03d", i)
}
