package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"usdc mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", true},
		{"wrapped sol", "So11111111111111111111111111111111111111112", true},
		{"system program", "11111111111111111111111111111111", true},
		{"too short", "abc", false},
		{"too long", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1vEPjF", false},
		{"zero is not base58", "0PjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", false},
		{"hex address", "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidAddress(tc.input))
		})
	}
}

func TestValidSignature(t *testing.T) {
	t.Parallel()

	valid := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	assert.True(t, ValidSignature(valid))
	assert.False(t, ValidSignature("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"), "address-length input is not a signature")
	assert.False(t, ValidSignature(""))
}

func TestParseTimeRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"365d", 365 * 24 * time.Hour, false},
		{"366d", 0, true},
		{"720h", 720 * time.Hour, false},
		{"721h", 0, true},
		{"1440m", 1440 * time.Minute, false},
		{"1441m", 0, true},
		{"90m", 90 * time.Minute, false},
		{"0d", 0, true},
		{"1w", 0, true},
		{"d", 0, true},
		{"30", 0, true},
		{"", 0, true},
		{"-5h", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseTimeRange(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParsePositiveInt(t *testing.T) {
	t.Parallel()

	n, err := parsePositiveInt("", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	n, err = parsePositiveInt("250", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	_, err = parsePositiveInt("1001", 100, 1000)
	assert.Error(t, err)

	_, err = parsePositiveInt("-1", 100, 1000)
	assert.Error(t, err)

	_, err = parsePositiveInt("abc", 100, 1000)
	assert.Error(t, err)
}
