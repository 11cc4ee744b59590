package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// RPCClient abstracts the Solana JSON-RPC interface for testing.
type RPCClient interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*TransactionResponse, error)
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error)
	GetTokenAccountOwner(ctx context.Context, tokenAccount string) (string, error)
	Ping(ctx context.Context) error
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	apiKey     string
	requestID  atomic.Int64
	logger     *slog.Logger
}

func NewClient(rpcURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rpcURL: rpcURL,
		apiKey: apiKey,
		logger: logger,
	}
}

func (c *Client) endpoint() string {
	if c.apiKey == "" {
		return c.rpcURL
	}
	return c.rpcURL + "/?api-key=" + c.apiKey
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := int(c.requestID.Add(1))
	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

func (c *Client) newRequest(method string, params []interface{}) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      int(c.requestID.Add(1)),
		Method:  method,
		Params:  params,
	}
}

func (c *Client) callBatch(ctx context.Context, requests []Request) ([]Response, error) {
	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var responses []Response
	if err := json.Unmarshal(respBody, &responses); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	// Batch responses may arrive out of order; reorder by request ID.
	byID := make(map[int]Response, len(responses))
	for _, r := range responses {
		byID[r.ID] = r
	}
	ordered := make([]Response, len(requests))
	for i, req := range requests {
		r, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("batch response missing id %d", req.ID)
		}
		ordered[i] = r
	}
	return ordered, nil
}
