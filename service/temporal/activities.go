package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/metrics"
	natspkg "github.com/brojonat/gsoltrack/service/nats"
	"go.temporal.io/sdk/temporal"
)

// errTypeInvalidTransaction marks write failures that a retry cannot fix.
const errTypeInvalidTransaction = "InvalidLedgerTransaction"

// IngestInput is the input of IngestLedgerTransactionWorkflow.
type IngestInput struct {
	Transaction ledger.Transaction `json:"transaction"`
}

// IngestResult summarizes one durable ingest.
type IngestResult struct {
	Signature string `json:"signature"`
	Recorded  bool   `json:"recorded"`
	Duplicate bool   `json:"duplicate"`
	Published bool   `json:"published"`
}

// WriteLedgerTransactionResult is the result of the WriteLedgerTransaction activity.
type WriteLedgerTransactionResult struct {
	Duplicate bool `json:"duplicate"`
}

// Activities holds the dependencies of the ingest activities.
type Activities struct {
	store     ledger.Writer
	publisher natspkg.Publisher // optional
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance. publisher may be nil, in
// which case publishing is a no-op.
func NewActivities(store ledger.Writer, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// WriteLedgerTransaction appends the transaction to the ledger. A duplicate
// signature is reported as success so that retried attempts converge.
func (a *Activities) WriteLedgerTransaction(ctx context.Context, tx ledger.Transaction) (*WriteLedgerTransactionResult, error) {
	logger := a.logger.With("signature", tx.Signature)

	err := a.store.AppendTransaction(ctx, tx)
	switch {
	case err == nil:
		a.metrics.RecordLedgerWrite(string(tx.Type), "success")
		logger.InfoContext(ctx, "ledger transaction written", "type", tx.Type)
		return &WriteLedgerTransactionResult{}, nil
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		a.metrics.RecordLedgerWrite(string(tx.Type), "duplicate")
		logger.DebugContext(ctx, "ledger transaction already written")
		return &WriteLedgerTransactionResult{Duplicate: true}, nil
	case errors.Is(err, ledger.ErrInvalidTransaction):
		a.metrics.RecordLedgerWrite(string(tx.Type), "invalid")
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeInvalidTransaction, err)
	default:
		a.metrics.RecordLedgerWrite(string(tx.Type), "error")
		logger.WarnContext(ctx, "ledger write failed", "error", err)
		return nil, fmt.Errorf("failed to write ledger transaction: %w", err)
	}
}

// PublishLedgerEvent publishes the ledger event for a written transaction.
func (a *Activities) PublishLedgerEvent(ctx context.Context, tx ledger.Transaction) error {
	if a.publisher == nil {
		return nil
	}
	if err := a.publisher.PublishLedgerEvent(ctx, natspkg.FromLedgerTransaction(&tx)); err != nil {
		return fmt.Errorf("failed to publish ledger event: %w", err)
	}
	return nil
}
