package upstream

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream/enhanced"
)

// GetTokenTransfers returns transfers of tokenMint touching address,
// newest-first, flattened from the enhanced history. Decimal token amounts
// are converted to exact raw integers here and nowhere else.
func (a *Adapter) GetTokenTransfers(ctx context.Context, address, tokenMint string, limit int) ([]model.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	key := fmt.Sprintf("upstream:transfers:%s:%s:%d", address, tokenMint, limit)

	var cached []model.Transfer
	if err := cache.GetJSON(ctx, a.kv, key, &cached); err == nil {
		metrics.CacheHitsTotal.WithLabelValues("transfers").Inc()
		return cached, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("transfers").Inc()

	transfers, err := a.walkAddressTransfers(ctx, address, tokenMint, limit)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, a.kv, key, transfers, transferCacheTTL); err != nil {
		a.logger.Debug("cache write failed", "key", key, "error", err)
	}
	return transfers, nil
}

func (a *Adapter) walkAddressTransfers(ctx context.Context, address, tokenMint string, limit int) ([]model.Transfer, error) {
	var transfers []model.Transfer
	before := ""

	for len(transfers) < limit {
		var page []enhanced.Transaction
		gerr := a.guard(ctx, "addressHistory", historyTimeout, func(ctx context.Context) error {
			var err error
			page, err = a.enhanced.AddressHistory(ctx, address, &enhanced.HistoryOpts{
				Limit:  100,
				Before: before,
			})
			return err
		})
		if gerr != nil {
			return nil, gerr
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			tx := &page[i]
			flattened, err := a.flattenTransfers(tx, tokenMint)
			if err != nil {
				return nil, err
			}
			transfers = append(transfers, flattened...)
		}

		if len(page) < 100 {
			break
		}
		before = page[len(page)-1].Signature
	}

	if len(transfers) > limit {
		transfers = transfers[:limit]
	}
	return transfers, nil
}

// flattenTransfers emits one model.Transfer per token transfer of
// tokenMint inside tx, annotated with the tx-level classification.
func (a *Adapter) flattenTransfers(tx *enhanced.Transaction, tokenMint string) ([]model.Transfer, error) {
	txType := a.classifier.Classify(tx, tokenMint)
	var direction *model.SwapDirection
	var swapInfo *model.SwapInfo
	if txType == model.TxTypeSwap {
		if dir, ok := a.classifier.Direction(tx, tokenMint); ok {
			direction = &dir
		}
		swapInfo = a.classifier.SwapMetadata(tx)
	}

	var out []model.Transfer
	for i, tt := range tx.TokenTransfers {
		if tt.Mint != tokenMint {
			continue
		}
		amount, err := model.DecimalToRaw(tt.TokenAmount.String(), tt.Decimals)
		if err != nil {
			return nil, fmt.Errorf("transfer amount in %s: %w: %v", tx.Signature, ErrBadResponse, err)
		}
		out = append(out, model.Transfer{
			Signature:        tx.Signature,
			FromAddress:      tt.FromUserAccount,
			ToAddress:        tt.ToUserAccount,
			TokenMint:        tt.Mint,
			Amount:           amount,
			Decimals:         tt.Decimals,
			InstructionIndex: i,
			BlockTime:        tx.Timestamp,
			TxType:           txType,
			SwapDirection:    direction,
			SwapInfo:         swapInfo,
		})
	}
	return out, nil
}

// GetEnhancedTransactions batch-resolves signatures through the enhanced
// endpoint, dropping signatures the provider does not know.
func (a *Adapter) GetEnhancedTransactions(ctx context.Context, signatures []string) ([]enhanced.Transaction, error) {
	var out []enhanced.Transaction
	for start := 0; start < len(signatures); start += txResolveBatch {
		end := start + txResolveBatch
		if end > len(signatures) {
			end = len(signatures)
		}
		batch := signatures[start:end]

		var resolved []enhanced.Transaction
		gerr := a.guard(ctx, "parseTransactions", txTimeout, func(ctx context.Context) error {
			var err error
			resolved, err = a.enhanced.ParseTransactions(ctx, batch)
			return err
		})
		if gerr != nil {
			return nil, gerr
		}
		out = append(out, resolved...)
	}
	return out, nil
}

// GetRecentTokenActivity reconstructs the latest transfers of a mint.
// Pass 1 resolves the mint's own signature history through the enhanced
// endpoint; when that yields nothing, pass 2 walks the histories of the
// owners of the largest token accounts.
func (a *Adapter) GetRecentTokenActivity(ctx context.Context, tokenMint string, limit int) ([]model.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	key := fmt.Sprintf("upstream:activity:%s:%d", tokenMint, limit)

	var cached []model.Transfer
	if err := cache.GetJSON(ctx, a.kv, key, &cached); err == nil {
		metrics.CacheHitsTotal.WithLabelValues("activity").Inc()
		return cached, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("activity").Inc()

	transfers, err := a.activityFromMintHistory(ctx, tokenMint, limit)
	if err != nil {
		return nil, err
	}

	if len(transfers) == 0 {
		transfers, err = a.activityFromLargestHolders(ctx, tokenMint, limit)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].BlockTime > transfers[j].BlockTime
	})
	if len(transfers) > limit {
		transfers = transfers[:limit]
	}

	if err := cache.SetJSON(ctx, a.kv, key, transfers, activityCacheTTL); err != nil {
		a.logger.Debug("cache write failed", "key", key, "error", err)
	}
	return transfers, nil
}

func (a *Adapter) activityFromMintHistory(ctx context.Context, tokenMint string, limit int) ([]model.Transfer, error) {
	sigs, err := a.collectSignatures(ctx, tokenMint, limit, "", "")
	if err != nil {
		return nil, err
	}

	var transfers []model.Transfer
	for start := 0; start < len(sigs); start += txResolveBatch {
		end := start + txResolveBatch
		if end > len(sigs) {
			end = len(sigs)
		}
		batch := make([]string, 0, end-start)
		for _, s := range sigs[start:end] {
			batch = append(batch, s.Signature)
		}

		var resolved []enhanced.Transaction
		gerr := a.guard(ctx, "parseTransactions", txTimeout, func(ctx context.Context) error {
			var err error
			resolved, err = a.enhanced.ParseTransactions(ctx, batch)
			return err
		})
		if gerr != nil {
			// A single bad batch should not sink the whole pass.
			if errors.Is(gerr, ErrBadResponse) {
				a.logger.Warn("skipping unparseable batch", "error", gerr)
				continue
			}
			return nil, gerr
		}

		for i := range resolved {
			flattened, err := a.flattenTransfers(&resolved[i], tokenMint)
			if err != nil {
				return nil, err
			}
			transfers = append(transfers, flattened...)
		}
	}
	return transfers, nil
}

func (a *Adapter) activityFromLargestHolders(ctx context.Context, tokenMint string, limit int) ([]model.Transfer, error) {
	var largest []string
	gerr := a.guard(ctx, "getTokenLargestAccounts", txTimeout, func(ctx context.Context) error {
		bals, err := a.rpcClient.GetTokenLargestAccounts(ctx, tokenMint)
		if err != nil {
			return err
		}
		largest = largest[:0]
		for i, b := range bals {
			if i >= fallbackAccounts {
				break
			}
			largest = append(largest, b.Address)
		}
		return nil
	})
	if gerr != nil {
		return nil, gerr
	}

	seen := make(map[string]bool)
	var transfers []model.Transfer

	for _, tokenAccount := range largest {
		var owner string
		gerr := a.guard(ctx, "getTokenAccountOwner", txTimeout, func(ctx context.Context) error {
			var err error
			owner, err = a.rpcClient.GetTokenAccountOwner(ctx, tokenAccount)
			return err
		})
		if gerr != nil {
			a.logger.Warn("owner resolution failed", "token_account", tokenAccount, "error", gerr)
			continue
		}
		if owner == "" {
			continue
		}

		walked, err := a.walkAddressTransfers(ctx, owner, tokenMint, limit)
		if err != nil {
			a.logger.Warn("holder history walk failed", "owner", owner, "error", err)
			continue
		}
		for _, t := range walked {
			dedupeKey := t.Signature + ":" + t.FromAddress
			if seen[dedupeKey] {
				continue
			}
			seen[dedupeKey] = true
			transfers = append(transfers, t)
		}
	}
	return transfers, nil
}
