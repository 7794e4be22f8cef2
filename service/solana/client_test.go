package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	err          error
	calls        int
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, ClientConfig{
		Endpoint:    "test",
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, nil, logger)
}

const (
	testSig1 = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
	testSig2 = "2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG"
)

func TestSignatures_SkipsFailedTransactions(t *testing.T) {
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: solana.MustSignatureFromBase58(testSig1), Slot: 100},
			{Signature: solana.MustSignatureFromBase58(testSig2), Slot: 99, Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
		},
	}

	sigs, err := newTestClient(mock).Signatures(context.Background(), GSOLMint, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{testSig1}, sigs)
}

func TestSignatures_InvalidBefore(t *testing.T) {
	mock := &mockRPCClient{}
	_, err := newTestClient(mock).Signatures(context.Background(), GSOLMint, 10, "not-a-signature")
	assert.Error(t, err)
	assert.Zero(t, mock.calls)
}

func TestFetchRawTransaction_NotFound(t *testing.T) {
	mock := &mockRPCClient{err: rpc.ErrNotFound}

	raw, err := newTestClient(mock).FetchRawTransaction(context.Background(), testSig1)
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.Equal(t, 1, mock.calls, "not found is not retried")
}

func TestFetchRawTransaction_NilResult(t *testing.T) {
	mock := &mockRPCClient{}

	raw, err := newTestClient(mock).FetchRawTransaction(context.Background(), testSig1)
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestFetchRawTransaction_RetriesThenFails(t *testing.T) {
	boom := errors.New("connection reset by peer")
	mock := &mockRPCClient{err: boom}

	raw, err := newTestClient(mock).FetchRawTransaction(context.Background(), testSig1)
	assert.Nil(t, raw)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, mock.calls)
}

func TestFetchRawTransaction_ContextCancelled(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("429 Too Many Requests")}
	client := NewClient(mock, ClientConfig{MaxAttempts: 5, BaseBackoff: time.Hour}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchRawTransaction(ctx, testSig1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, mock.calls)
}

func TestFetchRawTransaction_InvalidSignature(t *testing.T) {
	mock := &mockRPCClient{}
	_, err := newTestClient(mock).FetchRawTransaction(context.Background(), "bogus")
	assert.Error(t, err)
	assert.Zero(t, mock.calls)
}
