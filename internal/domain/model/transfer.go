package model

import (
	"time"
)

// Transfer is a single token movement parsed from an upstream transaction.
// Immutable once parsed. Self-transfers (from == to) are legal.
type Transfer struct {
	Signature        string         `db:"signature" json:"signature"`
	FromAddress      string         `db:"from_address" json:"fromAddress"`
	ToAddress        string         `db:"to_address" json:"toAddress"`
	TokenMint        string         `db:"token_mint" json:"tokenMint"`
	Amount           string         `db:"amount" json:"amount"` // NUMERIC(39,0) as string
	Decimals         int            `db:"decimals" json:"decimals"`
	InstructionIndex int            `db:"instruction_index" json:"instructionIndex"`
	BlockTime        int64          `db:"block_time" json:"blockTime"` // unix seconds
	TxType           TxType         `db:"tx_type" json:"txType"`
	SwapDirection    *SwapDirection `db:"swap_direction" json:"swapDirection,omitempty"`
	SwapInfo         *SwapInfo      `db:"swap_info" json:"swapInfo,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"-"`
}

// SwapInfo carries DEX metadata extracted from a swap transaction.
type SwapInfo struct {
	DEX       string `json:"dex"`
	TokenIn   string `json:"tokenIn,omitempty"`
	TokenOut  string `json:"tokenOut,omitempty"`
	AmountIn  string `json:"amountIn,omitempty"`
	AmountOut string `json:"amountOut,omitempty"`
}

// ParsedTransaction is the normalized view of an upstream transaction.
type ParsedTransaction struct {
	Signature    string            `db:"signature" json:"signature"`
	BlockTime    int64             `db:"block_time" json:"blockTime"`
	Slot         int64             `db:"slot" json:"slot"`
	Fee          uint64            `db:"fee" json:"fee"`
	Success      bool              `db:"success" json:"success"`
	Accounts     []string          `db:"accounts" json:"accounts"`
	Instructions []InstructionInfo `db:"instructions" json:"instructions"`
}

// InstructionInfo is the opaque structured instruction view the intent
// service and classifier consume.
type InstructionInfo struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts,omitempty"`
	Data      string   `json:"data,omitempty"`
}
