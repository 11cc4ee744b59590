package classifier

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream/enhanced"
)

const (
	mintT    = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	mintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func tokenTransfer(mint, from, to string, amount string, decimals int) enhanced.TokenTransfer {
	return enhanced.TokenTransfer{
		FromUserAccount: from,
		ToUserAccount:   to,
		Mint:            mint,
		TokenAmount:     json.Number(amount),
		Decimals:        decimals,
	}
}

func TestClassify_UpstreamTransferTag(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Type: "TRANSFER",
		TokenTransfers: []enhanced.TokenTransfer{
			tokenTransfer(mintT, "a", "b", "10", 6),
			tokenTransfer(mintUSDC, "b", "a", "5", 6),
		},
	}
	assert.Equal(t, model.TxTypeTransfer, c.Classify(tx, mintT))
}

func TestClassify_SingleMintSwapTagIsTransfer(t *testing.T) {
	t.Parallel()
	c := New()

	// Upstream says SWAP but only one significant mint moved: a DEX-routed
	// movement of a single token is a transfer for that token.
	tx := &enhanced.Transaction{
		Type: "SWAP",
		TokenTransfers: []enhanced.TokenTransfer{
			tokenTransfer(mintT, "a", "b", "10", 6),
		},
	}
	assert.Equal(t, model.TxTypeTransfer, c.Classify(tx, mintT))
}

func TestClassify_WrappedSOLDustExcluded(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Type: "UNKNOWN",
		TokenTransfers: []enhanced.TokenTransfer{
			tokenTransfer(mintT, "a", "b", "10", 6),
			tokenTransfer(model.WrappedSOLMint, "a", "b", "0.05", 9),
		},
	}
	assert.Equal(t, model.TxTypeTransfer, c.Classify(tx, mintT))
}

func TestClassify_WrappedSOLAboveDustCounts(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Type: "UNKNOWN",
		TokenTransfers: []enhanced.TokenTransfer{
			tokenTransfer(mintT, "a", "b", "10", 6),
			tokenTransfer(model.WrappedSOLMint, "b", "a", "2.5", 9),
		},
	}
	assert.Equal(t, model.TxTypeSwap, c.Classify(tx, mintT))
}

func TestClassify_TwoMintsIsSwap(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Type: "UNKNOWN",
		TokenTransfers: []enhanced.TokenTransfer{
			tokenTransfer(mintT, "pool", "user", "100", 6),
			tokenTransfer(mintUSDC, "user", "pool", "5", 6),
		},
	}
	assert.Equal(t, model.TxTypeSwap, c.Classify(tx, mintT))
}

func TestDirection_FeePayerCredit(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Type:     "SWAP",
		FeePayer: "user",
		TokenTransfers: []enhanced.TokenTransfer{
			tokenTransfer(mintT, "pool", "user", "100", 6),
			tokenTransfer(mintUSDC, "user", "pool", "5", 6),
		},
	}
	dir, ok := c.Direction(tx, mintT)
	require.True(t, ok)
	assert.Equal(t, model.SwapDirectionBuy, dir)

	dir, ok = c.Direction(tx, mintUSDC)
	require.True(t, ok)
	assert.Equal(t, model.SwapDirectionSell, dir)
}

func TestDirection_SwapEventFallback(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Type: "SWAP",
		Events: enhanced.Events{
			Swap: &enhanced.SwapEvent{
				TokenInputs:  []enhanced.SwapTokenIO{{Mint: mintUSDC}},
				TokenOutputs: []enhanced.SwapTokenIO{{Mint: mintT}},
			},
		},
	}
	dir, ok := c.Direction(tx, mintT)
	require.True(t, ok)
	assert.Equal(t, model.SwapDirectionBuy, dir)

	dir, ok = c.Direction(tx, mintUSDC)
	require.True(t, ok)
	assert.Equal(t, model.SwapDirectionSell, dir)
}

func TestDirection_NoSignal(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{Type: "SWAP"}
	_, ok := c.Direction(tx, mintT)
	assert.False(t, ok)
}

func TestSwapMetadata_InstructionProgramID(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Instructions: []enhanced.Instruction{
			{ProgramID: "11111111111111111111111111111111"},
			{ProgramID: "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"},
		},
		Events: enhanced.Events{
			Swap: &enhanced.SwapEvent{
				TokenInputs: []enhanced.SwapTokenIO{{
					Mint:           mintUSDC,
					RawTokenAmount: enhanced.RawTokenAmount{TokenAmount: "5000000", Decimals: 6},
				}},
				TokenOutputs: []enhanced.SwapTokenIO{{
					Mint:           mintT,
					RawTokenAmount: enhanced.RawTokenAmount{TokenAmount: "100000000", Decimals: 6},
				}},
			},
		},
	}

	info := c.SwapMetadata(tx)
	require.NotNil(t, info)
	assert.Equal(t, "Raydium", info.DEX)
	assert.Equal(t, mintUSDC, info.TokenIn)
	assert.Equal(t, mintT, info.TokenOut)
	assert.Equal(t, "5000000", info.AmountIn)
	assert.Equal(t, "100000000", info.AmountOut)
}

func TestSwapMetadata_AccountKeyFallback(t *testing.T) {
	t.Parallel()
	c := New()

	tx := &enhanced.Transaction{
		Instructions: []enhanced.Instruction{
			{ProgramID: "unknown", Accounts: []string{"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"}},
		},
	}
	info := c.SwapMetadata(tx)
	require.NotNil(t, info)
	assert.Equal(t, "Orca", info.DEX)
}

func TestSwapMetadata_NothingFound(t *testing.T) {
	t.Parallel()
	c := New()

	assert.Nil(t, c.SwapMetadata(&enhanced.Transaction{}))
}

func TestDetectPools(t *testing.T) {
	t.Parallel()

	var transfers []model.Transfer
	// hub trades with 10 distinct counterparties across 5 swaps
	for i := 0; i < 10; i++ {
		txType := model.TxTypeTransfer
		if i < 5 {
			txType = model.TxTypeSwap
		}
		transfers = append(transfers, model.Transfer{
			FromAddress: "hub",
			ToAddress:   fmt.Sprintf("cp-%d", i),
			TxType:      txType,
		})
	}
	// a quiet address below both thresholds
	transfers = append(transfers, model.Transfer{
		FromAddress: "quiet", ToAddress: "cp-0", TxType: model.TxTypeSwap,
	})

	pools := DetectPools(transfers)
	assert.True(t, pools["hub"])
	assert.False(t, pools["quiet"])
	assert.False(t, pools["cp-0"])
}

func TestDetectPools_RequiresBothThresholds(t *testing.T) {
	t.Parallel()

	// 10 counterparties but only 4 swaps
	var transfers []model.Transfer
	for i := 0; i < 10; i++ {
		txType := model.TxTypeTransfer
		if i < 4 {
			txType = model.TxTypeSwap
		}
		transfers = append(transfers, model.Transfer{
			FromAddress: "almost",
			ToAddress:   fmt.Sprintf("cp-%d", i),
			TxType:      txType,
		})
	}
	assert.False(t, DetectPools(transfers)["almost"])
}
