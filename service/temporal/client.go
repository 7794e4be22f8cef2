package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/gsoltrack/service/ingest"
	"github.com/brojonat/gsoltrack/service/ledger"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// DefaultResultWait is how long Dispatch waits for a workflow result when the
// client is built without an explicit wait.
const DefaultResultWait = 10 * time.Second

// Client starts ingest workflows on Temporal. It implements ingest.Dispatcher.
type Client struct {
	client     client.Client
	taskQueue  string
	resultWait time.Duration
	logger     *slog.Logger
}

// NewClient creates a new Temporal client. resultWait bounds how long Dispatch
// waits for each workflow; zero means DefaultResultWait.
func NewClient(host, namespace, taskQueue string, resultWait time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")
	tc := newClient(c, taskQueue, logger)
	if resultWait > 0 {
		tc.resultWait = resultWait
	}
	return tc, nil
}

func newClient(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	return &Client{
		client:     c,
		taskQueue:  taskQueue,
		resultWait: DefaultResultWait,
		logger:     logger,
	}
}

// WorkflowID is the ingest workflow ID for a transaction signature. One
// signature maps to at most one completed workflow.
func WorkflowID(signature string) string {
	return "ledger-" + signature
}

// Dispatch starts IngestLedgerTransactionWorkflow for tx and waits up to the
// result wait for it to finish. Returns ledger.ErrDuplicateTransaction when the
// signature was already ingested, either by an earlier workflow or directly in
// the ledger. Returns ingest.ErrAccepted when the workflow is still running
// once the wait (or ctx) runs out; Temporal keeps retrying it.
func (c *Client) Dispatch(ctx context.Context, tx *ledger.Transaction) error {
	opts := client.StartWorkflowOptions{
		ID:                                       WorkflowID(tx.Signature),
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := c.client.ExecuteWorkflow(ctx, opts, IngestLedgerTransactionWorkflow, IngestInput{Transaction: *tx})
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			c.logger.DebugContext(ctx, "ingest workflow already exists", "workflow_id", opts.ID)
			return ledger.ErrDuplicateTransaction
		}
		c.logger.ErrorContext(ctx, "failed to start ingest workflow",
			"workflow_id", opts.ID,
			"error", err,
		)
		return fmt.Errorf("failed to start ingest workflow %q: %w", opts.ID, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.resultWait)
	defer cancel()

	var result IngestResult
	if err := run.Get(waitCtx, &result); err != nil {
		if waitCtx.Err() != nil {
			c.logger.InfoContext(ctx, "ingest workflow still running, not waiting",
				"workflow_id", opts.ID,
				"wait", c.resultWait,
			)
			return fmt.Errorf("%w: workflow %q", ingest.ErrAccepted, opts.ID)
		}
		return fmt.Errorf("ingest workflow %q failed: %w", opts.ID, err)
	}
	if result.Duplicate {
		return ledger.ErrDuplicateTransaction
	}

	c.logger.DebugContext(ctx, "ingest workflow completed",
		"workflow_id", opts.ID,
		"run_id", run.GetRunID(),
		"published", result.Published,
	)
	return nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
