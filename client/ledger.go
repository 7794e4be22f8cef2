package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/gsoltrack/service/ledger"
)

// Neighbours is the neighbour graph of an address as returned by the server.
type Neighbours struct {
	Address       string                     `json:"address"`
	Degree        int                        `json:"degree"`
	Neighbours    ledger.AugmentedNeighbours `json:"neighbours"`
	FirstTransfer *time.Time                 `json:"first_transfer,omitempty"`
	LastTransfer  *time.Time                 `json:"last_transfer,omitempty"`
}

type neighboursResponse struct {
	Address       string                     `json:"address"`
	Degree        int                        `json:"degree"`
	Neighbours    ledger.AugmentedNeighbours `json:"neighbours"`
	FirstTransfer *int64                     `json:"first_transfer"`
	LastTransfer  *int64                     `json:"last_transfer"`
}

// Client is the HTTP client for the gSOL ledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// GetNeighbours resolves the neighbour graph of address. A negative degree
// leaves the choice to the server default.
func (c *Client) GetNeighbours(ctx context.Context, address string, degree int) (*Neighbours, error) {
	params := url.Values{}
	if degree >= 0 {
		params.Set("degree", strconv.Itoa(degree))
	}

	var raw neighboursResponse
	if err := c.getJSON(ctx, "/api/v1/neighbours/"+url.PathEscape(address), params, &raw); err != nil {
		return nil, err
	}

	n := &Neighbours{
		Address:       raw.Address,
		Degree:        raw.Degree,
		Neighbours:    raw.Neighbours,
		FirstTransfer: fromMillis(raw.FirstTransfer),
		LastTransfer:  fromMillis(raw.LastTransfer),
	}
	c.logger.Debug("neighbours fetched",
		"address", address,
		"degree", n.Degree,
		"senders", len(n.Neighbours.SenderResult),
		"recipients", len(n.Neighbours.RecipientResult),
	)
	return n, nil
}

// GetLeaderboard returns referral counts in the optional [from, to] window.
func (c *Client) GetLeaderboard(ctx context.Context, from, to *time.Time) ([]ledger.ReferralCount, error) {
	params := url.Values{}
	if from != nil {
		params.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if to != nil {
		params.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	}

	var resp struct {
		Leaderboard []ledger.ReferralCount `json:"leaderboard"`
	}
	if err := c.getJSON(ctx, "/api/v1/leaderboard", params, &resp); err != nil {
		return nil, err
	}
	return resp.Leaderboard, nil
}

// ListTransactions lists ledger records touching address, newest first.
// Zero limit or offset uses the server defaults.
func (c *Client) ListTransactions(ctx context.Context, address string, limit, offset int) ([]ledger.Transaction, error) {
	params := url.Values{}
	params.Set("address", address)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	var resp struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	if err := c.getJSON(ctx, "/api/v1/transactions", params, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, into interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
