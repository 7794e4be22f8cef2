package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNeighbours_Success(t *testing.T) {
	first := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/neighbours/wallet123", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("degree"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address": "wallet123",
			"degree":  3,
			"neighbours": map[string]interface{}{
				"sender_result": []map[string]interface{}{
					{"sender": "wallet123", "recipient": "other", "degree": 0, "address": "other", "balance": 12.5},
				},
				"recipient_result": []interface{}{},
			},
			"first_transfer": first.UnixMilli(),
			"last_transfer":  first.Add(time.Hour).UnixMilli(),
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	n, err := c.GetNeighbours(context.Background(), "wallet123", 3)
	require.NoError(t, err)

	assert.Equal(t, 3, n.Degree)
	require.Len(t, n.Neighbours.SenderResult, 1)
	assert.Equal(t, "other", n.Neighbours.SenderResult[0].Recipient)
	assert.Equal(t, 12.5, n.Neighbours.SenderResult[0].Balance)
	require.NotNil(t, n.FirstTransfer)
	assert.Equal(t, first, *n.FirstTransfer)
	assert.Equal(t, first.Add(time.Hour), *n.LastTransfer)
}

func TestGetNeighbours_DefaultDegreeAndNullTimes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("degree"))
		w.Write([]byte(`{"address":"a","degree":2,"neighbours":{"sender_result":[],"recipient_result":[]},"first_transfer":null,"last_transfer":null}`))
	}))
	defer server.Close()

	n, err := NewClient(server.URL, nil, nil).GetNeighbours(context.Background(), "a", -1)
	require.NoError(t, err)
	assert.Nil(t, n.FirstTransfer)
	assert.Nil(t, n.LastTransfer)
}

func TestGetNeighbours_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "degree must be between 0 and 6",
		})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).GetNeighbours(context.Background(), "a", 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degree must be between 0 and 6")
}

func TestGetLeaderboard(t *testing.T) {
	from := time.UnixMilli(1_690_000_000_000).UTC()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/leaderboard", r.URL.Path)
		assert.Equal(t, "1690000000000", r.URL.Query().Get("from"))
		assert.Empty(t, r.URL.Query().Get("to"))
		w.Write([]byte(`{"leaderboard":[{"referrer":"a","count":3},{"referrer":"b","count":1}],"count":2}`))
	}))
	defer server.Close()

	rows, err := NewClient(server.URL, nil, nil).GetLeaderboard(context.Background(), &from, nil)
	require.NoError(t, err)
	assert.Equal(t, []ledger.ReferralCount{{Referrer: "a", Count: 3}, {Referrer: "b", Count: 1}}, rows)
}

func TestListTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "wallet123", q.Get("address"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.False(t, q.Has("offset"))
		w.Write([]byte(`{"transactions":[{"signature":"s1","timestamp":"2023-06-01T00:00:00Z","sender":"a","recipient":"wallet123","amount":2,"type":"TRANSFER"}],"count":1}`))
	}))
	defer server.Close()

	txs, err := NewClient(server.URL, nil, nil).ListTransactions(context.Background(), "wallet123", 5, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxTypeTransfer, txs[0].Type)
	assert.Equal(t, 2.0, txs[0].Amount)
}

func TestHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("down"))
			return
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	assert.NoError(t, c.Health(context.Background()))

	healthy = false
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
