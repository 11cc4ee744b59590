package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalToRaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		amount   string
		decimals int
		expected string
		wantErr  bool
	}{
		{"whole units", "12", 6, "12000000", false},
		{"fractional", "12.5", 6, "12500000", false},
		{"floors sub-unit dust", "0.0000001", 6, "0", false},
		{"floor not round", "1.9999999", 6, "1999999", false},
		{"zero decimals", "42", 0, "42", false},
		{"max decimals", "1", 18, "1000000000000000000", false},
		{"zero", "0", 9, "0", false},
		{"empty", "", 6, "", true},
		{"garbage", "abc", 6, "", true},
		{"negative", "-1", 6, "", true},
		{"decimals out of range", "1", 19, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecimalToRaw(tc.amount, tc.decimals)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestAmountAdd(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3000000", AmountAdd("1000000", "2000000"))
	assert.Equal(t, "5", AmountAdd("5", ""))
	assert.Equal(t, "340282366920938463463374607431768211455",
		AmountAdd("340282366920938463463374607431768211454", "1"))
}

func TestAmountCmp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, AmountCmp("100", "100"))
	assert.Equal(t, -1, AmountCmp("99", "100"))
	assert.Equal(t, 1, AmountCmp("101", "100"))
}

func TestAmountRatio(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, AmountRatio("1000000", "1000000"), 1e-9)
	assert.InDelta(t, 0.92, AmountRatio("920", "1000"), 1e-9)
	assert.Equal(t, 0.0, AmountRatio("100", "0"))
	assert.Equal(t, 0.0, AmountRatio("bad", "100"))
}

func TestRiskLevelForScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score    int
		expected RiskLevel
	}{
		{0, RiskLevelLow},
		{24, RiskLevelLow},
		{25, RiskLevelMedium},
		{49, RiskLevelMedium},
		{50, RiskLevelHigh},
		{74, RiskLevelHigh},
		{75, RiskLevelCritical},
		{100, RiskLevelCritical},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, RiskLevelForScore(tc.score), "score %d", tc.score)
	}
}

func TestLookupPlan(t *testing.T) {
	t.Parallel()

	pro := LookupPlan(PlanPro)
	assert.Equal(t, int64(10000), pro.MonthlyQuota)
	assert.Equal(t, 60, pro.RateLimitPerMinute)

	unknown := LookupPlan(Plan("platinum"))
	assert.Equal(t, PlanStarter, unknown.Plan)
}
