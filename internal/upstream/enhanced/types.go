package enhanced

import "encoding/json"

// Enhanced-transactions API payload. Amounts arrive as decimal token units;
// json.Number keeps the upstream literal intact so integer conversion
// happens exactly once, at the adapter boundary.
type Transaction struct {
	Signature        string           `json:"signature"`
	Type             string           `json:"type"` // TRANSFER, SWAP, UNKNOWN, ...
	Source           string           `json:"source"`
	Fee              uint64           `json:"fee"`
	FeePayer         string           `json:"feePayer"`
	Slot             int64            `json:"slot"`
	Timestamp        int64            `json:"timestamp"` // unix seconds
	TransactionError json.RawMessage  `json:"transactionError,omitempty"`
	TokenTransfers   []TokenTransfer  `json:"tokenTransfers"`
	NativeTransfers  []NativeTransfer `json:"nativeTransfers"`
	AccountData      []AccountData    `json:"accountData"`
	Instructions     []Instruction    `json:"instructions"`
	Events           Events           `json:"events"`
}

type TokenTransfer struct {
	FromUserAccount  string      `json:"fromUserAccount"`
	ToUserAccount    string      `json:"toUserAccount"`
	FromTokenAccount string      `json:"fromTokenAccount"`
	ToTokenAccount   string      `json:"toTokenAccount"`
	Mint             string      `json:"mint"`
	TokenAmount      json.Number `json:"tokenAmount"`
	Decimals         int         `json:"decimals"`
	TokenStandard    string      `json:"tokenStandard"`
}

type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"` // lamports
}

type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"`
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

type TokenBalanceChange struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

type Instruction struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"`
}

type Events struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

type SwapEvent struct {
	TokenInputs  []SwapTokenIO `json:"tokenInputs"`
	TokenOutputs []SwapTokenIO `json:"tokenOutputs"`
	ProgramInfo  *ProgramInfo  `json:"programInfo,omitempty"`
}

type SwapTokenIO struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

type ProgramInfo struct {
	Source          string `json:"source"`
	Account         string `json:"account"`
	ProgramName     string `json:"programName"`
	InstructionName string `json:"instructionName"`
}
