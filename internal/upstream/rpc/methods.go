package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

type GetSignaturesOpts struct {
	Limit  int
	Before string // signature to start searching backwards from
	Until  string // signature to search until (exclusive)
}

// GetSignaturesForAddress returns transaction signatures for an address.
// Results are returned newest-first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error) {
	config := map[string]interface{}{
		"commitment": "confirmed",
	}
	if opts != nil {
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
	}

	params := []interface{}{address, config}
	result, err := c.call(ctx, "getSignaturesForAddress", params)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("unmarshal signatures: %w", err)
	}
	return sigs, nil
}

// GetTransaction returns a parsed transaction by signature. A nil response
// with nil error means the transaction is unknown or unconfirmed.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionResponse, error) {
	result, err := c.call(ctx, "getTransaction", buildGetTransactionParams(signature))
	if err != nil {
		return nil, fmt.Errorf("getTransaction(%s): %w", signature, err)
	}
	if isJSONNull(result) {
		return nil, nil
	}

	var tx TransactionResponse
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// GetTokenLargestAccounts returns the largest token accounts for a mint,
// ordered by balance descending.
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error) {
	params := []interface{}{
		mint,
		map[string]string{"commitment": "confirmed"},
	}
	result, err := c.call(ctx, "getTokenLargestAccounts", params)
	if err != nil {
		return nil, fmt.Errorf("getTokenLargestAccounts: %w", err)
	}

	var res TokenLargestAccountsResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, fmt.Errorf("unmarshal largest accounts: %w", err)
	}
	return res.Value, nil
}

// GetTokenAccountOwner resolves an SPL token account to its owner wallet.
// Returns "" when the account does not exist or is not a token account.
func (c *Client) GetTokenAccountOwner(ctx context.Context, tokenAccount string) (string, error) {
	params := []interface{}{
		tokenAccount,
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
	}
	result, err := c.call(ctx, "getAccountInfo", params)
	if err != nil {
		return "", fmt.Errorf("getAccountInfo(%s): %w", tokenAccount, err)
	}

	var res AccountInfoResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", fmt.Errorf("unmarshal account info: %w", err)
	}
	if res.Value == nil || res.Value.Data.Parsed.Type != "account" {
		return "", nil
	}
	return res.Value.Data.Parsed.Info.Owner, nil
}

// Ping probes the RPC endpoint with a getHealth call.
func (c *Client) Ping(ctx context.Context) error {
	result, err := c.call(ctx, "getHealth", nil)
	if err != nil {
		return fmt.Errorf("getHealth: %w", err)
	}
	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("unmarshal health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("rpc health: %s", status)
	}
	return nil
}

// GetTransactions resolves multiple signatures in one JSON-RPC batch.
func (c *Client) GetTransactions(ctx context.Context, signatures []string) ([]*TransactionResponse, error) {
	if len(signatures) == 0 {
		return []*TransactionResponse{}, nil
	}

	requests := make([]Request, len(signatures))
	for i, signature := range signatures {
		requests[i] = c.newRequest("getTransaction", buildGetTransactionParams(signature))
	}

	responses, err := c.callBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("getTransaction batch: %w", err)
	}

	results := make([]*TransactionResponse, len(signatures))
	for i, response := range responses {
		if response.Error != nil {
			return nil, fmt.Errorf("getTransaction(%s): %w", signatures[i], response.Error)
		}
		if isJSONNull(response.Result) {
			continue
		}
		var tx TransactionResponse
		if err := json.Unmarshal(response.Result, &tx); err != nil {
			return nil, fmt.Errorf("unmarshal transaction %s: %w", signatures[i], err)
		}
		results[i] = &tx
	}
	return results, nil
}

func buildGetTransactionParams(signature string) []interface{} {
	return []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
