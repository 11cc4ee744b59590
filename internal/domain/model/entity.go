package model

import (
	"encoding/json"
	"time"
)

// Entity is a known address with a semantic role. Mutated only by the
// entity registry or the risk engine.
type Entity struct {
	Address   string          `db:"address"`
	Kind      EntityKind      `db:"entity_type"`
	Name      string          `db:"name"`
	RiskLevel RiskLevel       `db:"risk_level"`
	RiskScore int             `db:"risk_score"`
	Metadata  json.RawMessage `db:"metadata"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// RiskFlagType identifies the heuristic that raised a flag.
type RiskFlagType string

const (
	RiskFlagSanctionedDirect    RiskFlagType = "sanctioned_direct"
	RiskFlagSanctionedProximity RiskFlagType = "sanctioned_proximity"
	RiskFlagMixerProximity      RiskFlagType = "mixer_proximity"
	RiskFlagPeelChain           RiskFlagType = "peel_chain"
	RiskFlagCircularFlow        RiskFlagType = "circular_flow"
	RiskFlagHighVelocity        RiskFlagType = "high_velocity"
)

// RiskFlagSeverity ranks a flag.
type RiskFlagSeverity string

const (
	RiskSeverityWarning  RiskFlagSeverity = "warning"
	RiskSeverityCritical RiskFlagSeverity = "critical"
)

// RiskFlag is one positive heuristic hit recorded against an address.
type RiskFlag struct {
	ID        int64            `db:"id" json:"-"`
	Address   string           `db:"address" json:"address"`
	FlagType  RiskFlagType     `db:"flag_type" json:"flagType"`
	Severity  RiskFlagSeverity `db:"severity" json:"severity"`
	Details   json.RawMessage  `db:"details" json:"details,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// RiskAssessment is the composite scoring outcome for an address.
type RiskAssessment struct {
	Address      string     `json:"address"`
	RiskScore    int        `json:"riskScore"`
	RiskLevel    RiskLevel  `json:"riskLevel"`
	Flags        []RiskFlag `json:"flags"`
	LastAssessed time.Time  `json:"lastAssessed"`
}
