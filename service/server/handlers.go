package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/gsoltrack/service/ingest"
	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/metrics"
	"github.com/brojonat/gsoltrack/service/solana"
)

const (
	maxWebhookBodySize = 10 << 20 // webhook deliveries can batch many transactions
	maxAddressLength   = 100      // Solana addresses are 32-44 chars
	defaultListLimit   = 100
	maxListLimit       = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// neighbourQuerier answers neighbour graph queries.
type neighbourQuerier interface {
	Neighbours(ctx context.Context, address string, degree int) (*ledger.NeighbourReport, error)
	MaxDegree() int
}

// webhookResponse is the body returned for every webhook delivery.
type webhookResponse struct {
	Results []ingest.Result `json:"results"`
	Count   int             `json:"count"`
}

// handleWebhook returns a handler that ingests a batch of raw transactions.
// POST /api/v1/webhook
//
// The body is a JSON array of raw transactions. Each entry is decoded and
// processed on its own; one bad entry never affects the others. Any request
// that passes the auth check is answered with 200 so the upstream keeps the
// subscription alive. timeout bounds the whole batch, keeping the answer inside
// the server's write deadline.
func handleWebhook(processor *ingest.Processor, authToken string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != authToken {
			logger.Warn("invalid webhook auth header", "remote_addr", r.RemoteAddr)
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		var entries []json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			logger.Warn("failed to decode webhook body", "error", err)
			m.RecordWebhookEntry(string(ingest.OutcomeMalformed))
			writeJSON(w, webhookResponse{
				Results: []ingest.Result{{Outcome: ingest.OutcomeMalformed, Error: "invalid request body: " + err.Error()}},
				Count:   1,
			}, http.StatusOK)
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		results := make([]ingest.Result, 0, len(entries))
		for i, entry := range entries {
			res := processEntry(ctx, processor, entry)
			m.RecordWebhookEntry(string(res.Outcome))
			logger.Debug("webhook entry processed",
				"index", i,
				"signature", res.Signature,
				"outcome", res.Outcome,
			)
			results = append(results, res)
		}

		writeJSON(w, webhookResponse{Results: results, Count: len(results)}, http.StatusOK)
	})
}

func processEntry(ctx context.Context, processor *ingest.Processor, entry json.RawMessage) ingest.Result {
	var raw solana.RawTransaction
	if err := json.Unmarshal(entry, &raw); err != nil {
		return ingest.Result{
			Outcome: ingest.OutcomeMalformed,
			Error:   fmt.Errorf("%w: %v", solana.ErrMalformedTransaction, err).Error(),
		}
	}
	return processor.Process(ctx, &raw)
}

// neighboursResponse is the JSON response for a neighbour query. Transfer
// timestamps are unix milliseconds, or null when the address never received gSOL.
type neighboursResponse struct {
	Address       string                     `json:"address"`
	Degree        int                        `json:"degree"`
	Neighbours    ledger.AugmentedNeighbours `json:"neighbours"`
	FirstTransfer *int64                     `json:"first_transfer"`
	LastTransfer  *int64                     `json:"last_transfer"`
}

// handleGetNeighbours returns a handler that resolves the neighbour graph of an address.
// GET /api/v1/neighbours/{address}?degree=N
func handleGetNeighbours(queries neighbourQuerier, defaultDegree int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		degree, err := parseDegree(r.URL.Query().Get("degree"), defaultDegree, queries.MaxDegree())
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		report, err := queries.Neighbours(r.Context(), address, degree)
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrDegreeExceeded):
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, context.DeadlineExceeded):
				logger.Warn("neighbour query timed out", "address", address, "degree", degree)
				writeError(w, "neighbour query timed out", http.StatusGatewayTimeout)
			default:
				logger.Error("failed to resolve neighbours", "address", address, "degree", degree, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		resp := neighboursResponse{
			Address:    report.Address,
			Degree:     report.Degree,
			Neighbours: report.Neighbours,
		}
		if report.Activity != nil {
			resp.FirstTransfer = unixMillis(report.Activity.First)
			resp.LastTransfer = unixMillis(report.Activity.Last)
		}

		logger.Debug("neighbours resolved",
			"address", address,
			"degree", degree,
			"senders", len(report.Neighbours.SenderResult),
			"recipients", len(report.Neighbours.RecipientResult),
		)
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleGetLeaderboard returns a handler that ranks referrers by referred mints.
// GET /api/v1/leaderboard?from=MS&to=MS
func handleGetLeaderboard(src ledger.ReferralSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		from, err := parseMillis("from", query.Get("from"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		to, err := parseMillis("to", query.Get("to"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		rows, err := ledger.Leaderboard(r.Context(), src, from, to)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidWindow) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to build leaderboard", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []ledger.ReferralCount{}
		}

		writeJSON(w, map[string]interface{}{
			"leaderboard": rows,
			"count":       len(rows),
		}, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists ledger records touching an address.
// GET /api/v1/transactions?address=ADDRESS&limit=N&offset=N
func handleListTransactions(lister ledger.TransactionLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		address := query.Get("address")

		if address == "" {
			writeError(w, "address query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := int32(defaultListLimit)
		if limitStr := query.Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsed > maxListLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			parsed, err := strconv.Atoi(offsetStr)
			if err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsed)
		}

		txs, err := lister.ListTransactions(r.Context(), ledger.ListTransactionsParams{
			Address: address,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			logger.Error("failed to list transactions", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if txs == nil {
			txs = []ledger.Transaction{}
		}

		logger.Debug("transactions listed", "address", address, "count", len(txs))
		writeJSON(w, map[string]interface{}{
			"transactions": txs,
			"count":        len(txs),
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a Solana address for format and length.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}
	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}
	return nil
}

// parseDegree parses the degree query parameter. Empty means defaultDegree.
func parseDegree(value string, defaultDegree, maxDegree int) (int, error) {
	if value == "" {
		return defaultDegree, nil
	}
	degree, err := strconv.Atoi(value)
	if err != nil {
		return 0, errorf("invalid degree parameter: must be an integer")
	}
	if degree < 0 || degree > maxDegree {
		return 0, errorf("degree must be between 0 and %d", maxDegree)
	}
	return degree, nil
}

// parseMillis parses an optional unix-millisecond timestamp parameter.
func parseMillis(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, errorf("invalid %s parameter: must be unix milliseconds", name)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func unixMillis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

// errorf is a helper to format validation error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
