package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// IngestLedgerTransactionWorkflow durably records one classified transaction:
//  1. WriteLedgerTransaction appends it to the ledger (retried on store errors)
//  2. PublishLedgerEvent announces it on NATS (best effort)
//
// A duplicate write ends the workflow without publishing.
func IngestLedgerTransactionWorkflow(ctx workflow.Context, input IngestInput) (*IngestResult, error) {
	logger := workflow.GetLogger(ctx)
	tx := input.Transaction
	logger.Info("IngestLedgerTransactionWorkflow started", "signature", tx.Signature, "type", tx.Type)

	result := &IngestResult{Signature: tx.Signature}

	writeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{errTypeInvalidTransaction},
		},
	})

	var written *WriteLedgerTransactionResult
	if err := workflow.ExecuteActivity(writeCtx, a.WriteLedgerTransaction, tx).Get(ctx, &written); err != nil {
		logger.Error("failed to write ledger transaction", "signature", tx.Signature, "error", err)
		return result, fmt.Errorf("failed to write ledger transaction: %w", err)
	}
	if written.Duplicate {
		result.Duplicate = true
		logger.Info("ledger transaction already recorded", "signature", tx.Signature)
		return result, nil
	}
	result.Recorded = true

	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(publishCtx, a.PublishLedgerEvent, tx).Get(ctx, nil); err != nil {
		// The ledger write is the source of truth; a missed event is not fatal.
		logger.Warn("failed to publish ledger event", "signature", tx.Signature, "error", err)
		return result, nil
	}
	result.Published = true

	logger.Info("IngestLedgerTransactionWorkflow completed", "signature", tx.Signature)
	return result, nil
}
