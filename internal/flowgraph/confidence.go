package flowgraph

import (
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

const hopTimeGapPenaltySecs = 24 * 60 * 60

// ConfidenceScore rates how plausible a reconstructed path is, starting
// from 1.0 and applying a multiplicative penalty per consecutive hop:
// amount continuity, intermediate DEX routing, and long time gaps.
//
// Continuity compares the flow through the previous hop (what it received,
// or sent for the origin) against what the current hop received: a node
// that forwards much less than it took in weakens the path.
func ConfidenceScore(hops []model.PathNode) float64 {
	score := 1.0

	for i := 0; i < len(hops)-1; i++ {
		prev, curr := hops[i], hops[i+1]

		score *= amountContinuityFactor(flowThrough(i, prev), curr.AmountIn)

		// Routing through a DEX in the middle of a path weakens the claim
		// that the funds are the same funds.
		if i > 0 && prev.EntityKind == model.EntityKindDEX {
			score *= 0.98
		}

		if prev.Timestamp != nil && curr.Timestamp != nil {
			gap := *curr.Timestamp - *prev.Timestamp
			if gap < 0 {
				gap = -gap
			}
			if gap > hopTimeGapPenaltySecs {
				score *= 0.9
			}
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func flowThrough(i int, h model.PathNode) string {
	if i == 0 {
		return h.AmountOut
	}
	return h.AmountIn
}

func amountContinuityFactor(prevOut, currIn string) float64 {
	r := model.AmountRatio(prevOut, currIn)
	switch {
	case r >= 0.95 && r <= 1.05:
		return 1.0
	case r >= 0.90 && r <= 1.10:
		return 0.95
	case r >= 0.80 && r <= 1.20:
		return 0.85
	default:
		return 0.70
	}
}
