package enhanced

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// API abstracts the enhanced-transactions endpoints for testing.
type API interface {
	ParseTransactions(ctx context.Context, signatures []string) ([]Transaction, error)
	AddressHistory(ctx context.Context, address string, opts *HistoryOpts) ([]Transaction, error)
}

type HistoryOpts struct {
	Limit  int
	Before string
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger,
	}
}

// ParseTransactions resolves up to 100 signatures into enhanced transactions.
func (c *Client) ParseTransactions(ctx context.Context, signatures []string) ([]Transaction, error) {
	if len(signatures) == 0 {
		return []Transaction{}, nil
	}

	body, err := json.Marshal(map[string][]string{"transactions": signatures})
	if err != nil {
		return nil, fmt.Errorf("marshal parse request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v0/transactions?api-key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create parse request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq)
}

// AddressHistory walks the enhanced transaction history of an address,
// newest-first.
func (c *Client) AddressHistory(ctx context.Context, address string, opts *HistoryOpts) ([]Transaction, error) {
	q := url.Values{}
	q.Set("api-key", c.apiKey)
	if opts != nil {
		if opts.Limit > 0 {
			q.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Before != "" {
			q.Set("before", opts.Before)
		}
	}

	endpoint := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", c.baseURL, url.PathEscape(address), q.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) ([]Transaction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var txs []Transaction
	if err := json.Unmarshal(respBody, &txs); err != nil {
		return nil, fmt.Errorf("unmarshal transactions: %w", err)
	}
	for i, tx := range txs {
		if tx.Signature == "" {
			return nil, fmt.Errorf("transaction %d missing signature", i)
		}
	}
	return txs, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
