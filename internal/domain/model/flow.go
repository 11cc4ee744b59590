package model

import (
	"time"

	"github.com/google/uuid"
)

// PathNode is one hop of a reconstructed flow path.
type PathNode struct {
	Address    string     `json:"address"`
	EntityKind EntityKind `json:"entityKind,omitempty"`
	EntityName string     `json:"entityName,omitempty"`
	AmountIn   string     `json:"amountIn"`
	AmountOut  string     `json:"amountOut"`
	Timestamp  *int64     `json:"timestamp,omitempty"` // unix seconds
}

// FlowPath is a canonical multi-hop token flow record.
type FlowPath struct {
	PathID           uuid.UUID  `db:"path_id" json:"pathId"`
	StartAddress     string     `db:"start_address" json:"startAddress"`
	EndAddress       string     `db:"end_address" json:"endAddress"`
	TokenMint        string     `db:"token_mint" json:"tokenMint"`
	Hops             []PathNode `db:"hops" json:"hops"`
	TotalAmount      string     `db:"total_amount" json:"totalAmount"`
	HopCount         int        `db:"hop_count" json:"hopCount"`
	ConfidenceScore  float64    `db:"confidence_score" json:"confidenceScore"`
	Intent           *Intent    `db:"intent" json:"intent,omitempty"`
	IntentConfidence *float64   `db:"intent_confidence" json:"intentConfidence,omitempty"`
	RiskScore        *int       `db:"risk_score" json:"riskScore,omitempty"`
	RiskLevel        *RiskLevel `db:"risk_level" json:"riskLevel,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"-"`
}

// CircularFlow is a cycle in the transfer graph returning to its origin.
// Addresses holds the full cycle with first == last, length > 2.
type CircularFlow struct {
	Addresses   []string `json:"addresses"`
	TotalAmount string   `json:"totalAmount"`
	CycleCount  int      `json:"cycleCount"`
}
