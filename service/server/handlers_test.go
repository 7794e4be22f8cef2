package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/gsoltrack/service/config"
	"github.com/brojonat/gsoltrack/service/ingest"
	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/solana"
	sol "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "helius-secret"

var t0 = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		WebhookAuthToken:   testToken,
		MaxGraphDegree:     6,
		DefaultGraphDegree: 2,
		GraphQueryTimeout:  5 * time.Second,
		WebhookTimeout:     5 * time.Second,
	}
}

func newTestServer(t *testing.T, store *ledger.MemoryStore) http.Handler {
	t.Helper()
	logger := testLogger()
	classifier := solana.NewClassifier(solana.GSOLMint, solana.SunriseProgramID)
	processor := ingest.NewProcessor(classifier, ingest.NewDirectDispatcher(store, nil, nil, logger), nil, logger)
	return New(":0", testConfig(), store, processor, nil, logger).Handler()
}

// addr returns a deterministic base58 address for fixture party i.
func addr(i byte) string {
	var pk sol.PublicKey
	pk[0] = i + 1
	return pk.String()
}

func seedLedger(t *testing.T) *ledger.MemoryStore {
	t.Helper()
	a, b, c, d := addr(0), addr(1), addr(2), addr(3)
	store := ledger.NewMemoryStore()
	txs := []ledger.Transaction{
		{Signature: "m1", Timestamp: t0, Sender: a, Recipient: a, Amount: 100, Type: ledger.TxTypeMint},
		{Signature: "m2", Timestamp: t0.Add(time.Hour), Sender: b, Recipient: b, Amount: 20, Type: ledger.TxTypeMint, Referrer: &a},
		{Signature: "m3", Timestamp: t0.Add(2 * time.Hour), Sender: c, Recipient: c, Amount: 5, Type: ledger.TxTypeMint, Referrer: &a},
		{Signature: "t1", Timestamp: t0.Add(3 * time.Hour), Sender: a, Recipient: d, Amount: 30, Type: ledger.TxTypeTransfer},
		{Signature: "t2", Timestamp: t0.Add(4 * time.Hour), Sender: d, Recipient: b, Amount: 10, Type: ledger.TxTypeTransfer},
	}
	for _, tx := range txs {
		require.NoError(t, store.AppendTransaction(context.Background(), tx))
	}
	return store
}

func mintPayload(t *testing.T, sig string, owner sol.PublicKey) json.RawMessage {
	t.Helper()
	bt := t0.Unix()
	raw := solana.RawTransaction{
		BlockTime: &bt,
		Transaction: &solana.Transaction{
			Signatures: []string{sig},
			Message:    &solana.Message{AccountKeys: []sol.PublicKey{owner}},
		},
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{10 * solana.LamportsPerSOL},
			PostBalances: []uint64{5 * solana.LamportsPerSOL},
			PostTokenBalances: []solana.TokenBalance{{
				Mint:          solana.GSOLMint,
				Owner:         &owner,
				UITokenAmount: solana.UITokenAmount{Amount: "5000000000", Decimals: 9},
			}},
		},
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	return b
}

func postWebhook(t *testing.T, h http.Handler, path, token string, body []byte) (*httptest.ResponseRecorder, webhookResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp webhookResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestWebhook_Auth(t *testing.T) {
	h := newTestServer(t, ledger.NewMemoryStore())

	for _, token := range []string{"", "wrong"} {
		w, _ := postWebhook(t, h, "/api/v1/webhook", token, []byte(`[]`))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "token %q", token)
	}
}

func TestWebhook_ProcessesEveryEntry(t *testing.T) {
	store := ledger.NewMemoryStore()
	h := newTestServer(t, store)
	owner := sol.NewWallet().PublicKey()

	body, err := json.Marshal([]json.RawMessage{
		mintPayload(t, "sig-1", owner),
		json.RawMessage(`{"transaction": "not an object"}`),
		json.RawMessage(`{}`),
		mintPayload(t, "sig-1", owner),
	})
	require.NoError(t, err)

	w, resp := postWebhook(t, h, "/api/v1/webhook", testToken, body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Results, 4)
	assert.Equal(t, 4, resp.Count)

	assert.Equal(t, ingest.OutcomeRecorded, resp.Results[0].Outcome)
	assert.Equal(t, ledger.TxTypeMint, resp.Results[0].Type)
	assert.Equal(t, ingest.OutcomeMalformed, resp.Results[1].Outcome)
	assert.Equal(t, ingest.OutcomeMalformed, resp.Results[2].Outcome)
	assert.Equal(t, ingest.OutcomeDuplicate, resp.Results[3].Outcome)
	assert.Equal(t, 1, store.Len())
}

func TestWebhook_LegacyPathAndBadBody(t *testing.T) {
	h := newTestServer(t, ledger.NewMemoryStore())

	w, resp := postWebhook(t, h, "/handleTransaction", testToken, []byte(`{"not": "an array"}`))
	require.Equal(t, http.StatusOK, w.Code, "bad bodies are still acknowledged")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, ingest.OutcomeMalformed, resp.Results[0].Outcome)
	assert.Contains(t, resp.Results[0].Error, "invalid request body")
}

type dispatcherFunc func(ctx context.Context, tx *ledger.Transaction) error

func (f dispatcherFunc) Dispatch(ctx context.Context, tx *ledger.Transaction) error { return f(ctx, tx) }

func TestWebhook_SlowDispatchStillAnswers(t *testing.T) {
	logger := testLogger()
	classifier := solana.NewClassifier(solana.GSOLMint, solana.SunriseProgramID)
	stuck := dispatcherFunc(func(ctx context.Context, _ *ledger.Transaction) error {
		<-ctx.Done()
		return ctx.Err()
	})
	processor := ingest.NewProcessor(classifier, stuck, nil, logger)
	h := handleWebhook(processor, testToken, 50*time.Millisecond, nil, logger)

	owner := sol.NewWallet().PublicKey()
	body, err := json.Marshal([]json.RawMessage{
		mintPayload(t, "sig-1", owner),
		mintPayload(t, "sig-2", owner),
	})
	require.NoError(t, err)

	start := time.Now()
	w, resp := postWebhook(t, h, "/api/v1/webhook", testToken, body)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Results, 2)
	for _, res := range resp.Results {
		assert.Equal(t, ingest.OutcomeFailed, res.Outcome)
		assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
	}
}

func getJSON(t *testing.T, h http.Handler, target string, into interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if into != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
	}
	return w
}

func TestGetNeighbours(t *testing.T) {
	h := newTestServer(t, seedLedger(t))
	a, b, c, d := addr(0), addr(1), addr(2), addr(3)

	var resp neighboursResponse
	w := getJSON(t, h, "/api/v1/neighbours/"+a+"?degree=0", &resp)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, a, resp.Address)
	assert.Equal(t, 0, resp.Degree)

	recipients := map[string]float64{}
	for _, n := range resp.Neighbours.SenderResult {
		assert.Equal(t, a, n.Sender)
		recipients[n.Recipient] = n.Balance
	}
	assert.Equal(t, map[string]float64{b: 30, c: 5, d: 20}, recipients)
	assert.Empty(t, resp.Neighbours.RecipientResult)

	require.NotNil(t, resp.FirstTransfer)
	require.NotNil(t, resp.LastTransfer)
	assert.Equal(t, t0.UnixMilli(), *resp.FirstTransfer)
	assert.Equal(t, t0.UnixMilli(), *resp.LastTransfer)
}

func TestGetNeighbours_DefaultDegreeAndNoHistory(t *testing.T) {
	h := newTestServer(t, seedLedger(t))
	stranger := addr(9)

	var resp neighboursResponse
	w := getJSON(t, h, "/api/v1/neighbours/"+stranger, &resp)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 2, resp.Degree)
	assert.Empty(t, resp.Neighbours.SenderResult)
	assert.Empty(t, resp.Neighbours.RecipientResult)
	assert.Nil(t, resp.FirstTransfer)
	assert.Contains(t, w.Body.String(), `"first_transfer":null`)
}

func TestGetNeighbours_BadRequests(t *testing.T) {
	h := newTestServer(t, seedLedger(t))
	a := addr(0)

	tests := []struct {
		name    string
		target  string
		wantErr string
	}{
		{name: "degree above ceiling", target: "/api/v1/neighbours/" + a + "?degree=7", wantErr: "degree must be between 0 and 6"},
		{name: "negative degree", target: "/api/v1/neighbours/" + a + "?degree=-1", wantErr: "degree must be between"},
		{name: "non-numeric degree", target: "/api/v1/neighbours/" + a + "?degree=two", wantErr: "must be an integer"},
		{name: "invalid address", target: "/api/v1/neighbours/0OIl", wantErr: "base58"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := getJSON(t, h, tt.target, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantErr)
		})
	}
}

type stubQuerier struct {
	err error
}

func (s stubQuerier) Neighbours(context.Context, string, int) (*ledger.NeighbourReport, error) {
	return nil, s.err
}

func (s stubQuerier) MaxDegree() int { return 6 }

func TestGetNeighbours_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "degree exceeded", err: ledger.ErrDegreeExceeded, wantStatus: http.StatusBadRequest},
		{name: "timeout", err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout},
		{name: "store failure", err: assert.AnError, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.Handle("GET /n/{address}", handleGetNeighbours(stubQuerier{err: tt.err}, 2, testLogger()))
			w := getJSON(t, mux, "/n/"+addr(0), nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetLeaderboard(t *testing.T) {
	h := newTestServer(t, seedLedger(t))

	var resp struct {
		Leaderboard []ledger.ReferralCount `json:"leaderboard"`
		Count       int                    `json:"count"`
	}
	w := getJSON(t, h, "/api/v1/leaderboard", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []ledger.ReferralCount{{Referrer: addr(0), Count: 2}}, resp.Leaderboard)

	from := t0.Add(90 * time.Minute).UnixMilli()
	w = getJSON(t, h, "/api/v1/leaderboard?from="+itoa(from), &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []ledger.ReferralCount{{Referrer: addr(0), Count: 1}}, resp.Leaderboard)

	to := t0.Add(30 * time.Minute).UnixMilli()
	w = getJSON(t, h, "/api/v1/leaderboard?to="+itoa(to), &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Leaderboard)
	assert.Contains(t, w.Body.String(), `"leaderboard":[]`)

	w = getJSON(t, h, "/api/v1/leaderboard?from="+itoa(from)+"&to="+itoa(to), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = getJSON(t, h, "/api/v1/leaderboard?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTransactions(t *testing.T) {
	h := newTestServer(t, seedLedger(t))

	var resp struct {
		Transactions []ledger.Transaction `json:"transactions"`
		Count        int                  `json:"count"`
	}
	w := getJSON(t, h, "/api/v1/transactions?address="+addr(0)+"&limit=2", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "t1", resp.Transactions[0].Signature, "newest first")

	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{name: "missing address", query: "", wantErr: "address query parameter is required"},
		{name: "limit zero", query: "address=" + addr(0) + "&limit=0", wantErr: "limit must be at least 1"},
		{name: "limit too large", query: "address=" + addr(0) + "&limit=5000", wantErr: "limit cannot exceed"},
		{name: "negative offset", query: "address=" + addr(0) + "&offset=-1", wantErr: "offset cannot be negative"},
		{name: "sql-ish address", query: "address=abc-drop", wantErr: "base58"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := getJSON(t, h, "/api/v1/transactions?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantErr)
		})
	}
}

func TestHealthAndCORS(t *testing.T) {
	h := newTestServer(t, ledger.NewMemoryStore())

	w := getJSON(t, h, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization"))
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "valid", address: "gso1xA56hacfgTHTF4F7wN5r4jbnJsKh99vR595uybA"},
		{name: "empty", address: "", wantErr: true},
		{name: "too long", address: strings.Repeat("A", maxAddressLength+1), wantErr: true},
		{name: "null byte", address: "abc\x00def", wantErr: true},
		{name: "non-base58", address: "0OIl", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAddress(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
