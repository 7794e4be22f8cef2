package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/metrics"
	"github.com/brojonat/gsoltrack/service/nats"
	"github.com/brojonat/gsoltrack/service/solana"
)

// Outcome describes what happened to one ingested transaction.
type Outcome string

const (
	OutcomeRecorded    Outcome = "recorded"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeAccepted    Outcome = "accepted"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeFailed      Outcome = "failed"
)

// Result is the per-transaction ingest report.
type Result struct {
	Signature string              `json:"signature,omitempty"`
	Outcome   Outcome             `json:"outcome"`
	Type      ledger.TxType       `json:"type,omitempty"`
	Error     string              `json:"error,omitempty"`
	Tx        *ledger.Transaction `json:"-"`
}

// ErrAccepted is returned by a Dispatcher that took ownership of a transaction
// but stopped waiting before the write finished.
var ErrAccepted = errors.New("transaction accepted, ingest still running")

// Dispatcher persists a classified transaction. Returning
// ledger.ErrDuplicateTransaction marks it as already ingested; ErrAccepted
// marks it as handed off.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx *ledger.Transaction) error
}

// Processor classifies raw transactions and hands the results to a dispatcher.
type Processor struct {
	classifier *solana.Classifier
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(classifier *solana.Classifier, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		classifier: classifier,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
	}
}

// Classify runs the classifier only and records the outcome metric.
func (p *Processor) Classify(raw *solana.RawTransaction) (*ledger.Transaction, error) {
	tx, err := p.classifier.Classify(raw)
	switch {
	case err == nil:
		p.metrics.RecordClassification(strings.ToLower(string(tx.Type)))
	case errors.Is(err, solana.ErrUnsupportedTransaction):
		p.metrics.RecordClassification(string(OutcomeUnsupported))
	case errors.Is(err, solana.ErrMalformedTransaction):
		p.metrics.RecordClassification(string(OutcomeMalformed))
	default:
		p.metrics.RecordClassification("error")
	}
	return tx, err
}

// Process classifies and dispatches one raw transaction. It never returns an
// error; failures are reported in the Result.
func (p *Processor) Process(ctx context.Context, raw *solana.RawTransaction) Result {
	res := Result{Signature: raw.Signature()}

	tx, err := p.Classify(raw)
	if err != nil {
		res.Error = err.Error()
		switch {
		case errors.Is(err, solana.ErrUnsupportedTransaction):
			res.Outcome = OutcomeUnsupported
			p.logger.InfoContext(ctx, "skipping unsupported transaction",
				"signature", res.Signature,
				"reason", err,
			)
		case errors.Is(err, solana.ErrMalformedTransaction):
			res.Outcome = OutcomeMalformed
			p.logger.WarnContext(ctx, "rejecting malformed transaction",
				"signature", res.Signature,
				"error", err,
			)
		default:
			res.Outcome = OutcomeFailed
			p.logger.ErrorContext(ctx, "failed to classify transaction",
				"signature", res.Signature,
				"error", err,
			)
		}
		return res
	}
	res.Type = tx.Type
	res.Tx = tx

	err = p.dispatcher.Dispatch(ctx, tx)
	switch {
	case err == nil:
		res.Outcome = OutcomeRecorded
		p.logger.InfoContext(ctx, "recorded ledger transaction",
			"signature", tx.Signature,
			"type", tx.Type,
			"sender", tx.Sender,
			"recipient", tx.Recipient,
			"amount", tx.Amount,
		)
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		res.Outcome = OutcomeDuplicate
		p.logger.DebugContext(ctx, "transaction already recorded", "signature", tx.Signature)
	case errors.Is(err, ErrAccepted):
		res.Outcome = OutcomeAccepted
		p.logger.InfoContext(ctx, "transaction accepted for ingest",
			"signature", tx.Signature,
			"type", tx.Type,
		)
	default:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		p.logger.ErrorContext(ctx, "failed to dispatch transaction",
			"signature", tx.Signature,
			"error", err,
		)
	}
	return res
}

// DirectDispatcher writes to the ledger in-process and then publishes the
// ledger event. Publish failures are logged, not returned: the write is the
// source of truth.
type DirectDispatcher struct {
	writer    ledger.Writer
	publisher nats.Publisher // optional
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDirectDispatcher creates a dispatcher. publisher may be nil.
func NewDirectDispatcher(writer ledger.Writer, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *DirectDispatcher {
	return &DirectDispatcher{
		writer:    writer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Dispatch implements Dispatcher.
func (d *DirectDispatcher) Dispatch(ctx context.Context, tx *ledger.Transaction) error {
	err := d.writer.AppendTransaction(ctx, *tx)
	d.metrics.RecordLedgerWrite(string(tx.Type), writeStatus(err))
	if err != nil {
		return err
	}

	if d.publisher == nil {
		return nil
	}
	if err := d.publisher.PublishLedgerEvent(ctx, nats.FromLedgerTransaction(tx)); err != nil {
		d.logger.WarnContext(ctx, "failed to publish ledger event",
			"signature", tx.Signature,
			"error", err,
		)
	}
	return nil
}

func writeStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return "duplicate"
	default:
		return "error"
	}
}
