package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/gsoltrack/service/db"
	"github.com/brojonat/gsoltrack/service/ingest"
	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// classified is one classify or dry-run backfill result.
type classified struct {
	Signature   string              `json:"signature"`
	Outcome     ingest.Outcome      `json:"outcome"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Fetch transactions over Solana RPC, classify them and append them to the ledger",
		Description: `Backfill fills gaps left by missed webhook deliveries.

Either pass one or more --signature flags, or --address to walk that
address's recent signatures (newest first, up to --limit).

Example:
  gsol ledger backfill --signature 5h6x... --dry-run`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "signature",
				Aliases: []string{"s"},
				Usage:   "Transaction signature to backfill (repeatable)",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "Backfill recent signatures involving this address",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum signatures to fetch with --address",
				Value: 100,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Classify only, do not write to the ledger",
			},
			&cli.Float64Flag{
				Name:    "rps",
				Usage:   "RPC requests per second (0 disables limiting)",
				EnvVars: []string{"SOLANA_RPC_RPS"},
				Value:   5,
			},
		},
		Action: func(c *cli.Context) error {
			signatures := c.StringSlice("signature")
			address := c.String("address")
			if len(signatures) == 0 && address == "" {
				return fmt.Errorf("must specify --signature or --address")
			}

			logger := newLogger(c)
			classifier, err := newClassifier(c)
			if err != nil {
				return err
			}

			endpoint, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(c.String("rpc-url")))
			if err != nil {
				return err
			}
			rpcClient := solana.NewClient(solana.NewRPCClient(endpoint), solana.ClientConfig{
				Endpoint:          endpoint,
				RequestsPerSecond: c.Float64("rps"),
			}, nil, logger)

			ctx := c.Context
			if address != "" {
				pk, err := solanago.PublicKeyFromBase58(address)
				if err != nil {
					return fmt.Errorf("invalid --address: %w", err)
				}
				found, err := rpcClient.Signatures(ctx, pk, c.Int("limit"), "")
				if err != nil {
					return fmt.Errorf("failed to list signatures: %w", err)
				}
				signatures = append(signatures, found...)
			}

			var processor *ingest.Processor
			if c.Bool("dry-run") {
				processor = ingest.NewProcessor(classifier, nil, nil, logger)
			} else {
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()
				processor = ingest.NewProcessor(classifier, ingest.NewDirectDispatcher(store, nil, nil, logger), nil, logger)
			}

			results := make([]classified, 0, len(signatures))
			for _, sig := range signatures {
				raw, err := rpcClient.FetchRawTransaction(ctx, sig)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					results = append(results, classified{Signature: sig, Outcome: ingest.OutcomeFailed, Error: err.Error()})
					continue
				}
				if c.Bool("dry-run") {
					results = append(results, classify(processor, raw))
					continue
				}
				res := processor.Process(ctx, raw)
				results = append(results, classified{
					Signature:   res.Signature,
					Outcome:     res.Outcome,
					Transaction: res.Tx,
					Error:       res.Error,
				})
			}

			return printClassified(c, results)
		},
	}
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Classify a stored webhook payload without writing it",
		Description: `Reads a webhook payload (one transaction object or an array of them)
and prints how each entry would be recorded.

Example:
  gsol ledger classify --file payload.json --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the payload, or - for stdin",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			data, err := readInput(c.String("file"))
			if err != nil {
				return err
			}
			entries, err := splitPayload(data)
			if err != nil {
				return err
			}

			classifier, err := newClassifier(c)
			if err != nil {
				return err
			}
			processor := ingest.NewProcessor(classifier, nil, nil, newLogger(c))

			results := make([]classified, 0, len(entries))
			for _, entry := range entries {
				var raw solana.RawTransaction
				if err := json.Unmarshal(entry, &raw); err != nil {
					results = append(results, classified{
						Outcome: ingest.OutcomeMalformed,
						Error:   fmt.Sprintf("invalid transaction json: %v", err),
					})
					continue
				}
				results = append(results, classify(processor, &raw))
			}

			return printClassified(c, results)
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List ledger transactions sent or received by an address",
		Aliases: []string{"txns"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Address to list transactions for",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of transactions to show",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transactions to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txs, err := store.ListTransactions(c.Context, ledger.ListTransactionsParams{
				Address: c.String("address"),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			return printTransactions(c, txs)
		},
	}
}

func classify(p *ingest.Processor, raw *solana.RawTransaction) classified {
	out := classified{Signature: raw.Signature()}
	tx, err := p.Classify(raw)
	switch {
	case err == nil:
		out.Outcome = ingest.OutcomeRecorded
		out.Transaction = tx
	case errors.Is(err, solana.ErrUnsupportedTransaction):
		out.Outcome = ingest.OutcomeUnsupported
		out.Error = err.Error()
	case errors.Is(err, solana.ErrMalformedTransaction):
		out.Outcome = ingest.OutcomeMalformed
		out.Error = err.Error()
	default:
		out.Outcome = ingest.OutcomeFailed
		out.Error = err.Error()
	}
	return out
}

func printClassified(c *cli.Context, results []classified) error {
	if done, err := render(c, results); done {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tOUTCOME\tTYPE\tSENDER\tRECIPIENT\tAMOUNT\tDETAIL")
	for _, r := range results {
		if r.Transaction == nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t%s\n", r.Signature, r.Outcome, r.Error)
			continue
		}
		tx := r.Transaction
		detail := r.Error
		if tx.Referrer != nil {
			detail = "referrer=" + *tx.Referrer
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.9f\t%s\n",
			r.Signature, r.Outcome, tx.Type, tx.Sender, tx.Recipient, tx.Amount, detail)
	}
	return w.Flush()
}

func printTransactions(c *cli.Context, txs []ledger.Transaction) error {
	if done, err := render(c, txs); done {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tTIME\tTYPE\tSENDER\tRECIPIENT\tAMOUNT")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.9f\n",
			tx.Signature,
			tx.Timestamp.Format(time.RFC3339),
			tx.Type,
			tx.Sender,
			tx.Recipient,
			tx.Amount,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transactions\n", len(txs))
	return nil
}

// splitPayload accepts either a single transaction object or a webhook array.
func splitPayload(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		return entries, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid payload: not JSON")
	}
	return []json.RawMessage{data}, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// getStore connects to the ledger database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	if err := store.EnsureSchema(c.Context); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
