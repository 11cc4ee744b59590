package classifier

import (
	"strconv"
	"strings"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/entity"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream/enhanced"
)

// wsolDustThreshold excludes wrapped-SOL fee change from the significant
// mint count.
const wsolDustThreshold = 0.1

// Classifier applies deterministic transfer/swap heuristics to enhanced
// transactions. All methods are pure; the struct only carries the DEX
// program table.
type Classifier struct {
	dexPrograms map[string]string
}

func New() *Classifier {
	return &Classifier{dexPrograms: entity.DEXPrograms()}
}

// Classify labels tx relative to targetMint. A movement touching only one
// significant mint is a transfer for that mint even when the upstream tags
// the transaction SWAP: a swap routed through a DEX moves at least two.
func (c *Classifier) Classify(tx *enhanced.Transaction, targetMint string) model.TxType {
	significant := significantMints(tx)

	upstreamType := strings.ToUpper(tx.Type)
	if upstreamType == "TRANSFER" {
		return model.TxTypeTransfer
	}

	if len(significant) < 2 {
		return model.TxTypeTransfer
	}

	if tx.Events.Swap != nil || strings.Contains(upstreamType, "SWAP") || len(significant) >= 2 {
		return model.TxTypeSwap
	}

	return model.TxTypeUnknown
}

func significantMints(tx *enhanced.Transaction) map[string]bool {
	mints := make(map[string]bool)
	for _, tt := range tx.TokenTransfers {
		if tt.Mint == "" {
			continue
		}
		if tt.Mint == model.WrappedSOLMint {
			if amt, err := strconv.ParseFloat(tt.TokenAmount.String(), 64); err == nil && amt <= wsolDustThreshold {
				continue
			}
		}
		mints[tt.Mint] = true
	}
	return mints
}

// Direction infers buy/sell relative to targetMint from the fee payer's
// perspective. Returns false when no signal resolves.
func (c *Classifier) Direction(tx *enhanced.Transaction, targetMint string) (model.SwapDirection, bool) {
	wallet := tx.FeePayer
	if wallet == "" {
		wallet = firstNativeSource(tx)
	}

	if wallet != "" {
		for _, tt := range tx.TokenTransfers {
			if tt.Mint != targetMint {
				continue
			}
			if tt.ToUserAccount == wallet {
				return model.SwapDirectionBuy, true
			}
			if tt.FromUserAccount == wallet {
				return model.SwapDirectionSell, true
			}
		}
	}

	// Fall back to the swap event token flows.
	if tx.Events.Swap != nil {
		for _, out := range tx.Events.Swap.TokenOutputs {
			if out.Mint == targetMint {
				return model.SwapDirectionBuy, true
			}
		}
		for _, in := range tx.Events.Swap.TokenInputs {
			if in.Mint == targetMint {
				return model.SwapDirectionSell, true
			}
		}
	}

	return "", false
}

func firstNativeSource(tx *enhanced.Transaction) string {
	if len(tx.NativeTransfers) == 0 {
		return ""
	}
	return tx.NativeTransfers[0].FromUserAccount
}

// SwapMetadata extracts the DEX name and token flows from a swap
// transaction. Instruction program IDs win over account-key matches.
func (c *Classifier) SwapMetadata(tx *enhanced.Transaction) *model.SwapInfo {
	info := &model.SwapInfo{}

	for _, inst := range tx.Instructions {
		if name, ok := c.dexPrograms[inst.ProgramID]; ok {
			info.DEX = name
			break
		}
	}
	if info.DEX == "" {
	accountScan:
		for _, inst := range tx.Instructions {
			for _, acc := range inst.Accounts {
				if name, ok := c.dexPrograms[acc]; ok {
					info.DEX = name
					break accountScan
				}
			}
		}
	}
	if info.DEX == "" && tx.Events.Swap != nil && tx.Events.Swap.ProgramInfo != nil {
		info.DEX = tx.Events.Swap.ProgramInfo.Source
	}

	if tx.Events.Swap != nil {
		if len(tx.Events.Swap.TokenInputs) > 0 {
			in := tx.Events.Swap.TokenInputs[0]
			info.TokenIn = in.Mint
			info.AmountIn = in.RawTokenAmount.TokenAmount
		}
		if len(tx.Events.Swap.TokenOutputs) > 0 {
			out := tx.Events.Swap.TokenOutputs[0]
			info.TokenOut = out.Mint
			info.AmountOut = out.RawTokenAmount.TokenAmount
		}
	}

	if info.DEX == "" && info.TokenIn == "" && info.TokenOut == "" {
		return nil
	}
	return info
}

const (
	poolMinCounterparties = 10
	poolMinSwaps          = 5
)

// DetectPools finds likely liquidity-pool hubs in a batch of transfers: an
// address with at least 10 unique counterparties and 5 swap participations.
// Pure; callers decide whether to persist the result.
func DetectPools(transfers []model.Transfer) map[string]bool {
	counterparties := make(map[string]map[string]bool)
	swapCounts := make(map[string]int)

	touch := func(addr, other string) {
		if addr == "" {
			return
		}
		set, ok := counterparties[addr]
		if !ok {
			set = make(map[string]bool)
			counterparties[addr] = set
		}
		if other != "" {
			set[other] = true
		}
	}

	for _, t := range transfers {
		touch(t.FromAddress, t.ToAddress)
		touch(t.ToAddress, t.FromAddress)
		if t.TxType == model.TxTypeSwap {
			swapCounts[t.FromAddress]++
			swapCounts[t.ToAddress]++
		}
	}

	pools := make(map[string]bool)
	for addr, set := range counterparties {
		if len(set) >= poolMinCounterparties && swapCounts[addr] >= poolMinSwaps {
			pools[addr] = true
		}
	}
	return pools
}
