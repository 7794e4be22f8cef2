package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const pgErrUniqueViolation = "23505"

// Store is the Postgres-backed ledger. It implements ledger.Store.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

// EnsureSchema creates the ledger table and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) observe(op string, start time.Time, err *error) {
	s.metrics.RecordDBQuery(op, time.Since(start).Seconds(), *err)
}

// AppendTransaction inserts a ledger record. Returns
// ledger.ErrDuplicateTransaction if the signature already exists.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (err error) {
	if err := tx.Validate(); err != nil {
		return err
	}
	defer s.observe("append_transaction", time.Now(), &err)

	const query = `
		INSERT INTO ledger_transactions (signature, ts, sender, recipient, amount, type, referrer)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.pool.Exec(ctx, query,
		tx.Signature,
		pgtype.Timestamptz{Time: tx.Timestamp, Valid: true},
		tx.Sender,
		tx.Recipient,
		tx.Amount,
		string(tx.Type),
		pgtextFromStringPtr(tx.Referrer),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ledger.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

// OutgoingEdges implements ledger.EdgeSource.
func (s *Store) OutgoingEdges(ctx context.Context, senders []string) (edges []ledger.Edge, err error) {
	defer s.observe("outgoing_edges", time.Now(), &err)

	const query = `
		SELECT sender, recipient FROM ledger_transactions
		WHERE type = 'TRANSFER' AND sender = ANY($1)
		UNION
		SELECT referrer, recipient FROM ledger_transactions
		WHERE type = 'MINT' AND referrer = ANY($1)
	`
	return s.queryEdges(ctx, query, senders)
}

// IncomingEdges implements ledger.EdgeSource.
func (s *Store) IncomingEdges(ctx context.Context, recipients []string) (edges []ledger.Edge, err error) {
	defer s.observe("incoming_edges", time.Now(), &err)

	const query = `
		SELECT sender, recipient FROM ledger_transactions
		WHERE type = 'TRANSFER' AND recipient = ANY($1)
		UNION
		SELECT referrer, recipient FROM ledger_transactions
		WHERE type = 'MINT' AND referrer IS NOT NULL AND recipient = ANY($1)
	`
	return s.queryEdges(ctx, query, recipients)
}

func (s *Store) queryEdges(ctx context.Context, query string, frontier []string) ([]ledger.Edge, error) {
	if len(frontier) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, query, frontier)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Edge, error) {
		var e ledger.Edge
		err := row.Scan(&e.Sender, &e.Recipient)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan edges: %w", err)
	}
	return edges, nil
}

// MintTotals implements ledger.BalanceSource. Burns subtract from the total.
func (s *Store) MintTotals(ctx context.Context, addresses []string) (details []ledger.BalanceDetail, err error) {
	defer s.observe("mint_totals", time.Now(), &err)

	const query = `
		SELECT recipient,
		       SUM(CASE WHEN type = 'BURN' THEN -amount ELSE amount END),
		       MIN(ts),
		       MAX(ts)
		FROM ledger_transactions
		WHERE type IN ('MINT', 'BURN') AND recipient = ANY($1)
		GROUP BY recipient
		ORDER BY recipient
	`
	return s.queryBalances(ctx, query, addresses)
}

// NetTransfers implements ledger.BalanceSource.
func (s *Store) NetTransfers(ctx context.Context, addresses []string) (details []ledger.BalanceDetail, err error) {
	defer s.observe("net_transfers", time.Now(), &err)

	const query = `
		WITH legs AS (
			SELECT recipient AS address, amount, ts FROM ledger_transactions
			WHERE type = 'TRANSFER' AND recipient = ANY($1)
			UNION ALL
			SELECT sender AS address, -amount, ts FROM ledger_transactions
			WHERE type = 'TRANSFER' AND sender = ANY($1)
		)
		SELECT address, SUM(amount), MIN(ts), MAX(ts)
		FROM legs
		GROUP BY address
		ORDER BY address
	`
	return s.queryBalances(ctx, query, addresses)
}

func (s *Store) queryBalances(ctx context.Context, query string, addresses []string) ([]ledger.BalanceDetail, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, query, addresses)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	details, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.BalanceDetail, error) {
		var (
			d          ledger.BalanceDetail
			start, end pgtype.Timestamptz
		)
		if err := row.Scan(&d.Address, &d.Balance, &start, &end); err != nil {
			return d, err
		}
		d.Start = start.Time.UTC()
		d.End = end.Time.UTC()
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan balances: %w", err)
	}
	return details, nil
}

// ActivityWindow implements ledger.ActivitySource.
func (s *Store) ActivityWindow(ctx context.Context, address string) (w *ledger.ActivityWindow, err error) {
	defer s.observe("activity_window", time.Now(), &err)

	const query = `
		SELECT MIN(ts), MAX(ts) FROM ledger_transactions
		WHERE recipient = $1 AND type IN ('MINT', 'TRANSFER')
	`
	var first, last pgtype.Timestamptz
	if err := s.pool.QueryRow(ctx, query, address).Scan(&first, &last); err != nil {
		return nil, fmt.Errorf("query activity window: %w", err)
	}
	if !first.Valid {
		return nil, nil
	}
	return &ledger.ActivityWindow{First: first.Time.UTC(), Last: last.Time.UTC()}, nil
}

// ReferralCounts implements ledger.ReferralSource.
func (s *Store) ReferralCounts(ctx context.Context, from, to *time.Time) (counts []ledger.ReferralCount, err error) {
	defer s.observe("referral_counts", time.Now(), &err)

	const query = `
		SELECT referrer, COUNT(*)
		FROM ledger_transactions
		WHERE type = 'MINT' AND referrer IS NOT NULL
		  AND ($1::timestamptz IS NULL OR ts >= $1)
		  AND ($2::timestamptz IS NULL OR ts <= $2)
		GROUP BY referrer
		ORDER BY COUNT(*) DESC, referrer
	`
	rows, err := s.pool.Query(ctx, query, pgtimestamptzFromTimePtr(from), pgtimestamptzFromTimePtr(to))
	if err != nil {
		return nil, fmt.Errorf("query referral counts: %w", err)
	}
	counts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.ReferralCount, error) {
		var c ledger.ReferralCount
		err := row.Scan(&c.Referrer, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan referral counts: %w", err)
	}
	return counts, nil
}

// ListTransactions implements ledger.TransactionLister. Newest first.
func (s *Store) ListTransactions(ctx context.Context, params ledger.ListTransactionsParams) (txs []ledger.Transaction, err error) {
	defer s.observe("list_transactions", time.Now(), &err)

	const query = `
		SELECT signature, ts, sender, recipient, amount, type, referrer
		FROM ledger_transactions
		WHERE $1::text = '' OR sender = $1 OR recipient = $1
		ORDER BY ts DESC, signature
		LIMIT $2 OFFSET $3
	`
	limit := pgtype.Int4{Int32: params.Limit, Valid: params.Limit > 0}
	rows, err := s.pool.Query(ctx, query, params.Address, limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	txs, err = pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(row pgx.CollectableRow) (ledger.Transaction, error) {
	var (
		tx       ledger.Transaction
		ts       pgtype.Timestamptz
		txType   string
		referrer pgtype.Text
	)
	if err := row.Scan(&tx.Signature, &ts, &tx.Sender, &tx.Recipient, &tx.Amount, &txType, &referrer); err != nil {
		return tx, err
	}
	tx.Timestamp = ts.Time.UTC()
	tx.Type = ledger.TxType(txType)
	tx.Referrer = stringPtrFromPgtext(referrer)
	return tx, nil
}

// Helper functions for converting between Go types and pgtype

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgtimestamptzFromTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
