package model

import (
	"fmt"
	"math/big"
	"strings"
)

// Token amounts are decimal strings of an unsigned 128-bit integer
// (NUMERIC(39,0) in postgres). All arithmetic goes through math/big;
// floating point never touches an amount after the adapter boundary.

// ParseAmount parses a non-negative decimal amount string.
func ParseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

// AmountAdd returns a+b for two decimal amount strings. Malformed inputs
// count as zero.
func AmountAdd(a, b string) string {
	av, err := ParseAmount(a)
	if err != nil {
		av = big.NewInt(0)
	}
	bv, err := ParseAmount(b)
	if err != nil {
		bv = big.NewInt(0)
	}
	return new(big.Int).Add(av, bv).String()
}

// AmountCmp compares two decimal amount strings, returning -1, 0 or 1.
func AmountCmp(a, b string) int {
	av, err := ParseAmount(a)
	if err != nil {
		av = big.NewInt(0)
	}
	bv, err := ParseAmount(b)
	if err != nil {
		bv = big.NewInt(0)
	}
	return av.Cmp(bv)
}

// AmountRatio returns a/b as a float64 for heuristic scoring. Returns 0
// when b is zero. Precision loss here is acceptable: ratios only feed
// confidence buckets, never stored amounts.
func AmountRatio(a, b string) float64 {
	av, errA := ParseAmount(a)
	bv, errB := ParseAmount(b)
	if errA != nil || errB != nil || bv.Sign() == 0 {
		return 0
	}
	r := new(big.Rat).SetFrac(av, bv)
	f, _ := r.Float64()
	return f
}

// DecimalToRaw converts an upstream decimal token amount (e.g. "12.5" with
// 6 decimals) to the raw integer string floor(tokenAmount * 10^decimals).
func DecimalToRaw(tokenAmount string, decimals int) (string, error) {
	trimmed := strings.TrimSpace(tokenAmount)
	if trimmed == "" {
		return "", fmt.Errorf("empty token amount")
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return "", fmt.Errorf("invalid token amount %q", tokenAmount)
	}
	if r.Sign() < 0 {
		return "", fmt.Errorf("negative token amount %q", tokenAmount)
	}
	if decimals < 0 || decimals > 18 {
		return "", fmt.Errorf("decimals %d out of range", decimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	// floor(num/den)
	out := new(big.Int).Quo(r.Num(), r.Denom())
	return out.String(), nil
}
