package flowgraph

import (
	"context"
	"fmt"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

const (
	maxCycleLength        = MaxDepth
	maxCycleNeighborhoods = 25
)

type cycleEdge struct {
	to     string
	amount string
	count  int
}

// DetectCircularFlows finds token flows that leave address and return to
// it. The adjacency map covers transfers touching address plus the
// one-hop neighborhoods of its counterparties, so an edge is visible only
// when it touches address or one of those counterparties: every cycle of up
// to four hops is found, and a longer one only when its intermediate
// addresses are themselves direct counterparties. The search stops at
// maxCycleLength hops.
func (e *Engine) DetectCircularFlows(ctx context.Context, address, tokenMint string) ([]model.CircularFlow, error) {
	adjacency, err := e.buildAdjacency(ctx, address, tokenMint)
	if err != nil {
		return nil, err
	}

	var cycles []model.CircularFlow
	seen := make(map[string]bool)

	var dfs func(current string, path []string) error
	dfs = func(current string, path []string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(path) > maxCycleLength {
			return nil
		}
		for _, edge := range adjacency[current] {
			if edge.to == address {
				// Self-loops and two-hop round trips are not circular flows.
				if len(path) > 2 {
					cycle := append(append([]string{}, path...), address)
					key := cycleKey(cycle)
					if !seen[key] {
						seen[key] = true
						cycles = append(cycles, e.describeCycle(cycle, adjacency))
					}
				}
				continue
			}
			if containsAddr(path, edge.to) {
				continue
			}
			if err := dfs(edge.to, append(path, edge.to)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := dfs(address, []string{address}); err != nil {
		return nil, err
	}
	return cycles, nil
}

func (e *Engine) buildAdjacency(ctx context.Context, address, tokenMint string) (map[string][]cycleEdge, error) {
	adjacency := make(map[string][]cycleEdge)
	fetched := map[string]bool{}
	seenTransfers := map[string]bool{}

	addTransfers := func(transfers []model.Transfer) {
		for _, t := range transfers {
			if t.FromAddress == "" || t.ToAddress == "" || t.FromAddress == t.ToAddress {
				continue
			}
			// The same transfer surfaces in both endpoints' histories.
			id := fmt.Sprintf("%s|%d|%s", t.Signature, t.InstructionIndex, t.FromAddress)
			if seenTransfers[id] {
				continue
			}
			seenTransfers[id] = true
			edges := adjacency[t.FromAddress]
			merged := false
			for i := range edges {
				if edges[i].to == t.ToAddress {
					edges[i].amount = model.AmountAdd(edges[i].amount, t.Amount)
					edges[i].count++
					merged = true
					break
				}
			}
			if !merged {
				edges = append(edges, cycleEdge{to: t.ToAddress, amount: t.Amount, count: 1})
			}
			adjacency[t.FromAddress] = edges
		}
	}

	root, err := e.source.GetTokenTransfers(ctx, address, tokenMint, transferFetchLimit)
	if err != nil {
		return nil, err
	}
	fetched[address] = true
	addTransfers(root)

	// Expand one neighborhood ring so multi-hop returns are visible.
	var counterparties []string
	for _, t := range root {
		for _, c := range []string{t.FromAddress, t.ToAddress} {
			if c == "" || fetched[c] {
				continue
			}
			fetched[c] = true
			counterparties = append(counterparties, c)
		}
	}
	if len(counterparties) > maxCycleNeighborhoods {
		counterparties = counterparties[:maxCycleNeighborhoods]
	}

	for _, c := range counterparties {
		transfers, err := e.source.GetTokenTransfers(ctx, c, tokenMint, transferFetchLimit)
		if err != nil {
			// A missing neighborhood narrows detection, it does not fail it.
			e.logger.Warn("cycle neighborhood fetch failed", "address", c, "error", err)
			continue
		}
		addTransfers(transfers)
	}

	return adjacency, nil
}

// describeCycle aggregates the amounts along a closed path. The cycle
// count is the number of complete rounds the thinnest edge supports.
func (e *Engine) describeCycle(cycle []string, adjacency map[string][]cycleEdge) model.CircularFlow {
	inCycle := make(map[string]bool, len(cycle))
	for _, a := range cycle {
		inCycle[a] = true
	}

	total := "0"
	minCount := 0
	for from, edges := range adjacency {
		if !inCycle[from] {
			continue
		}
		for _, edge := range edges {
			if !inCycle[edge.to] {
				continue
			}
			total = model.AmountAdd(total, edge.amount)
			if minCount == 0 || edge.count < minCount {
				minCount = edge.count
			}
		}
	}
	if minCount == 0 {
		minCount = 1
	}

	return model.CircularFlow{
		Addresses:   cycle,
		TotalAmount: total,
		CycleCount:  minCount,
	}
}

func cycleKey(cycle []string) string {
	key := ""
	for _, a := range cycle {
		key += a + ">"
	}
	return key
}

func containsAddr(path []string, addr string) bool {
	for _, a := range path {
		if a == addr {
			return true
		}
	}
	return false
}
