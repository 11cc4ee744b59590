package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/circuitbreaker"
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
	"github.com/Lew-Ashby/Token-Flow-API/internal/retry"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream/enhanced"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream/rpc"
)

const (
	maxPageSize      = 1000
	txResolveBatch   = 10
	fallbackAccounts = 3

	txCacheTTL       = time.Hour
	transferCacheTTL = 5 * time.Minute
	activityCacheTTL = 2 * time.Minute

	healthTimeout  = 2 * time.Second
	txTimeout      = 10 * time.Second
	historyTimeout = 30 * time.Second
)

// ActivityClassifier labels enhanced transactions relative to a target
// mint. Implemented by internal/classifier; injected to keep the adapter
// free of heuristic policy.
type ActivityClassifier interface {
	Classify(tx *enhanced.Transaction, targetMint string) model.TxType
	Direction(tx *enhanced.Transaction, targetMint string) (model.SwapDirection, bool)
	SwapMetadata(tx *enhanced.Transaction) *model.SwapInfo
}

// Adapter is the retry- and breaker-guarded gateway to the upstream
// provider. All upstream caching happens here: GetTransaction,
// GetTokenTransfers and GetRecentTokenActivity answer repeats from cache
// inside their TTL windows; GetAddressTransactions and
// GetEnhancedTransactions always go to the wire.
type Adapter struct {
	rpcClient  rpc.RPCClient
	enhanced   enhanced.API
	kv         cache.KV
	txCache    *cache.ShardedLRU[string, *model.ParsedTransaction]
	breaker    *circuitbreaker.Breaker
	classifier ActivityClassifier
	logger     *slog.Logger
}

const txCacheEntries = 4096

type Config struct {
	RPCURL      string
	EnhancedURL string
	APIKey      string
}

func NewAdapter(cfg Config, kv cache.KV, classifier ActivityClassifier, logger *slog.Logger) *Adapter {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.UpstreamBreakerState.Set(float64(to))
			logger.Warn("upstream circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return &Adapter{
		rpcClient:  rpc.NewClient(cfg.RPCURL, cfg.APIKey, logger),
		enhanced:   enhanced.NewClient(cfg.EnhancedURL, cfg.APIKey, logger),
		kv:         kv,
		txCache:    newTxCache(),
		breaker:    breaker,
		classifier: classifier,
		logger:     logger.With("component", "upstream"),
	}
}

// newTxCache is the in-process layer in front of the KV store for hot
// signatures: a hit skips both the network and a JSON decode.
func newTxCache() *cache.ShardedLRU[string, *model.ParsedTransaction] {
	return cache.NewShardedLRU[string, *model.ParsedTransaction](txCacheEntries, txCacheTTL, func(sig string) string { return sig })
}

// NewAdapterWithClients wires explicit clients; used by tests.
func NewAdapterWithClients(rpcClient rpc.RPCClient, api enhanced.API, kv cache.KV, classifier ActivityClassifier, logger *slog.Logger) *Adapter {
	return &Adapter{
		rpcClient:  rpcClient,
		enhanced:   api,
		kv:         kv,
		txCache:    newTxCache(),
		breaker:    circuitbreaker.New(circuitbreaker.Config{OpenTimeout: 60 * time.Second}),
		classifier: classifier,
		logger:     logger.With("component", "upstream"),
	}
}

// BreakerState exposes the circuit state for health reporting.
func (a *Adapter) BreakerState() circuitbreaker.State {
	return a.breaker.GetState()
}

// guard wraps one upstream operation in the breaker + retry policy and
// maps failures onto the sentinel error taxonomy.
func (a *Adapter) guard(ctx context.Context, method string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := a.breaker.Allow(); err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues(method, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", method, ErrUnavailable)
	}

	start := time.Now()
	err := retry.Do(ctx, retry.Policy{}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
	metrics.UpstreamCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		a.breaker.RecordFailure()
		mapped := mapError(err)
		metrics.UpstreamCallsTotal.WithLabelValues(method, errorLabel(mapped)).Inc()
		a.logger.Warn("upstream call failed", "method", method, "error", err)
		return fmt.Errorf("%s: %w", method, mapped)
	}

	a.breaker.RecordSuccess()
	metrics.UpstreamCallsTotal.WithLabelValues(method, "ok").Inc()
	return nil
}

func mapError(err error) error {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBadResponse) || errors.Is(err, ErrUnavailable) {
		return err
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit"):
		return ErrRateLimited
	case strings.Contains(lower, "unmarshal") || strings.Contains(lower, "missing signature") || strings.Contains(lower, "parse error"):
		return ErrBadResponse
	default:
		return ErrUnavailable
	}
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "unavailable"
	}
}

// Ping probes the RPC endpoint. Used by the health handler.
func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return a.rpcClient.Ping(ctx)
}

// GetTransaction fetches one transaction by signature, caching hits for 1h
// and misses under the negative-result policy. Returns nil for unknown or
// unconfirmed signatures.
func (a *Adapter) GetTransaction(ctx context.Context, signature string) (*model.ParsedTransaction, error) {
	key := "upstream:tx:" + signature

	if hit, ok := a.txCache.Get(signature); ok {
		metrics.CacheHitsTotal.WithLabelValues("tx").Inc()
		return hit, nil
	}

	var cached model.ParsedTransaction
	err := cache.GetJSON(ctx, a.kv, key, &cached)
	switch {
	case err == nil:
		metrics.CacheHitsTotal.WithLabelValues("tx").Inc()
		a.txCache.Put(signature, &cached)
		return &cached, nil
	case errors.Is(err, cache.ErrNegative):
		metrics.CacheHitsTotal.WithLabelValues("tx").Inc()
		return nil, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("tx").Inc()

	var resp *rpc.TransactionResponse
	gerr := a.guard(ctx, "getTransaction", txTimeout, func(ctx context.Context) error {
		var err error
		resp, err = a.rpcClient.GetTransaction(ctx, signature)
		return err
	})
	if gerr != nil {
		return nil, gerr
	}

	if resp == nil {
		if err := a.kv.SetNegative(ctx, key, transferCacheTTL); err != nil {
			a.logger.Debug("negative cache write failed", "key", key, "error", err)
		}
		return nil, nil
	}

	parsed, err := parseTransaction(signature, resp)
	if err != nil {
		return nil, fmt.Errorf("getTransaction: %w: %v", ErrBadResponse, err)
	}

	a.txCache.Put(signature, parsed)
	if err := cache.SetJSON(ctx, a.kv, key, parsed, txCacheTTL); err != nil {
		a.logger.Debug("cache write failed", "key", key, "error", err)
	}
	return parsed, nil
}

func parseTransaction(signature string, resp *rpc.TransactionResponse) (*model.ParsedTransaction, error) {
	if resp.Transaction == nil {
		return nil, fmt.Errorf("response missing transaction body")
	}

	accounts := make([]string, 0, len(resp.Transaction.Message.AccountKeys))
	for _, k := range resp.Transaction.Message.AccountKeys {
		accounts = append(accounts, k.Pubkey)
	}

	instructions := make([]model.InstructionInfo, 0, len(resp.Transaction.Message.Instructions))
	for _, inst := range resp.Transaction.Message.Instructions {
		instructions = append(instructions, model.InstructionInfo{
			ProgramID: inst.ProgramID,
			Accounts:  inst.Accounts,
			Data:      inst.Data,
		})
	}

	var blockTime int64
	if resp.BlockTime != nil {
		blockTime = *resp.BlockTime
	}

	parsed := &model.ParsedTransaction{
		Signature:    signature,
		BlockTime:    blockTime,
		Slot:         resp.Slot,
		Accounts:     accounts,
		Instructions: instructions,
	}
	if resp.Meta != nil {
		parsed.Fee = resp.Meta.Fee
		parsed.Success = resp.Meta.Err == nil
	}
	return parsed, nil
}

type AddressTxOpts struct {
	Limit  int
	Before string
	Until  string
}

// GetAddressTransactions returns up to opts.Limit parsed transactions for
// an address, newest-first. Pagination against the RPC happens under the
// hood with pages capped at 1000 signatures.
func (a *Adapter) GetAddressTransactions(ctx context.Context, address string, opts AddressTxOpts) ([]*model.ParsedTransaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	sigs, err := a.collectSignatures(ctx, address, limit, opts.Before, opts.Until)
	if err != nil {
		return nil, err
	}

	out := make([]*model.ParsedTransaction, 0, len(sigs))
	for start := 0; start < len(sigs); start += txResolveBatch {
		end := start + txResolveBatch
		if end > len(sigs) {
			end = len(sigs)
		}
		batch := make([]string, 0, end-start)
		for _, s := range sigs[start:end] {
			batch = append(batch, s.Signature)
		}

		var resolved []*rpc.TransactionResponse
		gerr := a.guard(ctx, "getTransactionBatch", txTimeout, func(ctx context.Context) error {
			var err error
			resolved, err = a.batchTransactions(ctx, batch)
			return err
		})
		if gerr != nil {
			return nil, gerr
		}

		for i, resp := range resolved {
			if resp == nil {
				continue
			}
			parsed, err := parseTransaction(batch[i], resp)
			if err != nil {
				return nil, fmt.Errorf("getAddressTransactions: %w: %v", ErrBadResponse, err)
			}
			out = append(out, parsed)
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *Adapter) batchTransactions(ctx context.Context, signatures []string) ([]*rpc.TransactionResponse, error) {
	if batchClient, ok := a.rpcClient.(interface {
		GetTransactions(ctx context.Context, signatures []string) ([]*rpc.TransactionResponse, error)
	}); ok {
		return batchClient.GetTransactions(ctx, signatures)
	}

	// Fall back to sequential fetches for clients without batch support.
	out := make([]*rpc.TransactionResponse, len(signatures))
	for i, sig := range signatures {
		resp, err := a.rpcClient.GetTransaction(ctx, sig)
		if err != nil {
			return nil, err
		}
		out[i] = resp
	}
	return out, nil
}

// collectSignatures pages through getSignaturesForAddress newest-first
// until limit signatures are collected or history is exhausted.
func (a *Adapter) collectSignatures(ctx context.Context, address string, limit int, before, until string) ([]rpc.SignatureInfo, error) {
	var all []rpc.SignatureInfo

	remaining := limit
	for remaining > 0 {
		pageSize := remaining
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}

		opts := &rpc.GetSignaturesOpts{
			Limit:  pageSize,
			Before: before,
			Until:  until,
		}

		var page []rpc.SignatureInfo
		gerr := a.guard(ctx, "getSignaturesForAddress", historyTimeout, func(ctx context.Context) error {
			var err error
			page, err = a.rpcClient.GetSignaturesForAddress(ctx, address, opts)
			return err
		})
		if gerr != nil {
			return nil, gerr
		}

		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		remaining -= len(page)

		if len(page) < pageSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
