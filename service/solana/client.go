package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/gsoltrack/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// ErrTransactionNotFound is returned when the node has no record of a signature.
var ErrTransactionNotFound = errors.New("transaction not found")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// ClientConfig controls RPC pacing and retries.
type ClientConfig struct {
	Endpoint          string  // identifier for metrics labels
	RequestsPerSecond float64 // 0 disables limiting
	MaxAttempts       int
	BaseBackoff       time.Duration
}

// Client fetches confirmed transactions for backfill and converts them into
// the same RawTransaction shape the webhook delivers.
type Client struct {
	rpc     RPCClient
	cfg     ClientConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new Solana client. If metrics is nil, no metrics are
// recorded.
func NewClient(rpcClient RPCClient, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		rpc:     rpcClient,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		metrics: m,
	}
}

// Signatures returns up to limit signatures involving address, newest first.
// If before is non-empty, only signatures older than it are returned.
func (c *Client) Signatures(ctx context.Context, address solana.PublicKey, limit int, before string) ([]string, error) {
	opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
	if before != "" {
		sig, err := solana.SignatureFromBase58(before)
		if err != nil {
			return nil, fmt.Errorf("invalid signature %q: %w", before, err)
		}
		opts.Before = sig
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.rpc.GetSignaturesForAddress(ctx, address, opts)
	c.metrics.RecordRPCCall("GetSignaturesForAddress", statusOf(err), c.cfg.Endpoint, time.Since(start).Seconds())
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", address.String(),
			"error", err,
		)
		return nil, err
	}

	out := make([]string, 0, len(res))
	for _, s := range res {
		if s.Err != nil {
			// failed transactions never move gSOL
			continue
		}
		out = append(out, s.Signature.String())
	}
	return out, nil
}

// FetchRawTransaction fetches a confirmed transaction by signature, retrying
// rate limits and transient errors with exponential backoff.
func (c *Client) FetchRawTransaction(ctx context.Context, signature string) (*RawTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	var result *rpc.GetTransactionResult
	for attempt := range c.cfg.MaxAttempts {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err = c.rpc.GetTransaction(ctx, sig, opts)
		c.metrics.RecordRPCCall("GetTransaction", statusOf(err), c.cfg.Endpoint, time.Since(start).Seconds())
		if err == nil {
			break
		}
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
		}

		backoff := c.cfg.BaseBackoff << uint(attempt)
		reason := "timeout_or_error"
		if strings.Contains(err.Error(), "429") {
			// Rate limited: back off twice as long
			backoff *= 2
			reason = "rate_limit"
		}
		c.metrics.RecordRPCRetry("GetTransaction", reason)
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", signature,
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s after %d attempts: %w", signature, c.cfg.MaxAttempts, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}

	return rawFromResult(result)
}

// rawFromResult converts an RPC result into the webhook wire shape.
func rawFromResult(res *rpc.GetTransactionResult) (*RawTransaction, error) {
	if res.Transaction == nil {
		return nil, malformed("rpc result has no transaction")
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	raw := &RawTransaction{Slot: res.Slot}
	if res.BlockTime != nil {
		bt := int64(*res.BlockTime)
		raw.BlockTime = &bt
	}

	msg := &Message{
		AccountKeys: tx.Message.AccountKeys,
		Header: MessageHeader{
			NumRequiredSignatures:       tx.Message.Header.NumRequiredSignatures,
			NumReadonlySignedAccounts:   tx.Message.Header.NumReadonlySignedAccounts,
			NumReadonlyUnsignedAccounts: tx.Message.Header.NumReadonlyUnsignedAccounts,
		},
		RecentBlockhash: tx.Message.RecentBlockhash.String(),
	}
	for _, ix := range tx.Message.Instructions {
		accounts := make([]int, len(ix.Accounts))
		for i, a := range ix.Accounts {
			accounts[i] = int(a)
		}
		msg.Instructions = append(msg.Instructions, Instruction{
			ProgramIDIndex: int(ix.ProgramIDIndex),
			Accounts:       accounts,
			Data:           ix.Data.String(),
		})
	}

	sigs := make([]string, len(tx.Signatures))
	for i, s := range tx.Signatures {
		sigs[i] = s.String()
	}
	raw.Transaction = &Transaction{Signatures: sigs, Message: msg}

	if res.Meta != nil {
		meta := &TransactionMeta{
			Fee:               res.Meta.Fee,
			PreBalances:       res.Meta.PreBalances,
			PostBalances:      res.Meta.PostBalances,
			PreTokenBalances:  tokenBalancesFromRPC(res.Meta.PreTokenBalances),
			PostTokenBalances: tokenBalancesFromRPC(res.Meta.PostTokenBalances),
			LoadedAddresses: LoadedAddresses{
				Writable: res.Meta.LoadedAddresses.Writable,
				Readonly: res.Meta.LoadedAddresses.ReadOnly,
			},
			LogMessages: res.Meta.LogMessages,
		}
		if res.Meta.Err != nil {
			b, err := json.Marshal(res.Meta.Err)
			if err != nil {
				return nil, fmt.Errorf("failed to encode transaction error: %w", err)
			}
			meta.Err = b
		}
		raw.Meta = meta
	}
	return raw, nil
}

func tokenBalancesFromRPC(in []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint,
			Owner:        b.Owner,
		}
		if b.UiTokenAmount != nil {
			tb.UITokenAmount = UITokenAmount{
				Amount:         b.UiTokenAmount.Amount,
				Decimals:       b.UiTokenAmount.Decimals,
				UIAmountString: b.UiTokenAmount.UiAmountString,
			}
		}
		out = append(out, tb)
	}
	return out
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
