package model

type TxType string

const (
	TxTypeTransfer TxType = "transfer"
	TxTypeSwap     TxType = "swap"
	TxTypeUnknown  TxType = "unknown"
)

func (t TxType) String() string {
	return string(t)
}

type SwapDirection string

const (
	SwapDirectionBuy  SwapDirection = "buy"
	SwapDirectionSell SwapDirection = "sell"
)

type EntityKind string

const (
	EntityKindDEX        EntityKind = "dex"
	EntityKindBridge     EntityKind = "bridge"
	EntityKindLending    EntityKind = "lending"
	EntityKindMixer      EntityKind = "mixer"
	EntityKindSanctioned EntityKind = "sanctioned"
	EntityKindWallet     EntityKind = "wallet"
	EntityKindPool       EntityKind = "pool"
)

func (k EntityKind) String() string {
	return string(k)
}

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevelForScore derives the level bucket for a 0-100 score.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score < 25:
		return RiskLevelLow
	case score < 50:
		return RiskLevelMedium
	case score < 75:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

type Intent string

const (
	IntentTransfer    Intent = "transfer"
	IntentTrading     Intent = "trading"
	IntentArbitrage   Intent = "arbitrage"
	IntentBridging    Intent = "bridging"
	IntentYieldFarm   Intent = "yield_farming"
	IntentUnknown     Intent = "unknown"
)

// Solana native wrapped SOL mint address
const WrappedSOLMint = "So11111111111111111111111111111111111111112"
