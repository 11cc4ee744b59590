package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

const (
	// MaxDepth is the hard ceiling any requested depth is clamped to.
	MaxDepth = 10

	maxVisitedNodes = 10000
	maxPaths        = 1000

	transferFetchLimit = 100
)

// TimeRange bounds traversal to transfers inside [Start, End] unix seconds.
// Zero values disable the respective bound.
type TimeRange struct {
	Start int64
	End   int64
}

func (r TimeRange) contains(blockTime int64) bool {
	if r.Start != 0 && blockTime < r.Start {
		return false
	}
	if r.End != 0 && blockTime > r.End {
		return false
	}
	return true
}

// TransferSource yields the transfers a node expansion walks.
type TransferSource interface {
	GetTokenTransfers(ctx context.Context, address, tokenMint string, limit int) ([]model.Transfer, error)
}

// EntityResolver annotates hops with known entity roles.
type EntityResolver interface {
	Lookup(ctx context.Context, address string) (*model.Entity, error)
}

// Engine reconstructs multi-hop token flows by bounded depth-first
// expansion over on-demand transfer fetches.
type Engine struct {
	source   TransferSource
	entities EntityResolver
	paths    store.FlowPathRepository // nil disables persistence
	logger   *slog.Logger
}

func NewEngine(source TransferSource, entities EntityResolver, paths store.FlowPathRepository, logger *slog.Logger) *Engine {
	return &Engine{
		source:   source,
		entities: entities,
		paths:    paths,
		logger:   logger.With("component", "flowgraph"),
	}
}

// ClampDepth bounds a requested traversal depth to [1, MaxDepth].
func ClampDepth(depth int) int {
	if depth < 1 {
		return 1
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}

type direction int

const (
	forward direction = iota
	backward
)

// traversal carries the shared state of one BuildForwardPath or
// BuildBackwardPath call. visited is recursion-local: addresses are pushed
// on entry and popped on every exit path so non-overlapping paths can
// reuse shared prefixes. nodesExpanded only grows and bounds total work.
type traversal struct {
	tokenMint     string
	window        TimeRange
	maxDepth      int
	dir           direction
	visited       map[string]bool
	nodesExpanded int
	paths         []model.FlowPath
	truncated     string
}

// BuildForwardPath expands downstream flows of tokenMint starting at start.
func (e *Engine) BuildForwardPath(ctx context.Context, start, tokenMint string, maxDepth int, window TimeRange) ([]model.FlowPath, error) {
	return e.build(ctx, start, tokenMint, maxDepth, window, forward)
}

// BuildBackwardPath expands upstream flows of tokenMint ending at end. The
// produced paths are reversed so hops always read source to destination.
func (e *Engine) BuildBackwardPath(ctx context.Context, end, tokenMint string, maxDepth int, window TimeRange) ([]model.FlowPath, error) {
	return e.build(ctx, end, tokenMint, maxDepth, window, backward)
}

func (e *Engine) build(ctx context.Context, origin, tokenMint string, maxDepth int, window TimeRange, dir direction) ([]model.FlowPath, error) {
	t := &traversal{
		tokenMint: tokenMint,
		window:    window,
		maxDepth:  ClampDepth(maxDepth),
		dir:       dir,
		visited:   make(map[string]bool),
	}

	rootEntity, err := e.entities.Lookup(ctx, origin)
	if err != nil {
		return nil, err
	}
	root := pathNode(origin, rootEntity)

	t.visited[origin] = true
	err = e.expand(ctx, t, origin, 0, []model.PathNode{root})
	delete(t.visited, origin)
	if err != nil {
		return nil, err
	}

	if t.truncated != "" {
		metrics.TraversalTruncationsTotal.WithLabelValues(t.truncated).Inc()
		e.logger.Warn("traversal truncated", "bound", t.truncated, "origin", origin)
	}

	label := "forward"
	if dir == backward {
		label = "backward"
	}
	metrics.FlowPathsBuiltTotal.WithLabelValues(label).Add(float64(len(t.paths)))

	e.persist(ctx, t.paths)
	return t.paths, nil
}

// expand grows the current branch from addr. The current path always has
// at least the origin node; emit drops paths with fewer than two nodes, so
// an origin with no qualifying flow yields no path at all.
func (e *Engine) expand(ctx context.Context, t *traversal, addr string, depth int, path []model.PathNode) error {
	// Safety bounds, checked before every expansion. Client disconnects
	// surface as a context error here and abandon the branch gracefully.
	if ctx.Err() != nil || depth >= t.maxDepth || t.nodesExpanded > maxVisitedNodes || len(t.paths) >= maxPaths {
		switch {
		case ctx.Err() != nil:
			t.truncated = "cancelled"
		case t.nodesExpanded > maxVisitedNodes:
			t.truncated = "visited"
		case len(t.paths) >= maxPaths:
			t.truncated = "paths"
		}
		t.emit(path)
		return nil
	}
	t.nodesExpanded++

	transfers, err := e.source.GetTokenTransfers(ctx, addr, t.tokenMint, transferFetchLimit)
	if err != nil {
		return err
	}

	edges := aggregateEdges(transfers, addr, t.dir, t.window)
	if len(edges) == 0 {
		t.emit(path)
		return nil
	}

	descended := false
	for _, edge := range edges {
		if t.visited[edge.counterparty] {
			continue
		}
		if len(t.paths) >= maxPaths {
			break
		}
		descended = true

		entity, err := e.entities.Lookup(ctx, edge.counterparty)
		if err != nil {
			return err
		}

		// Branch-local copy: the parent's outbound amount belongs to this
		// edge only.
		branch := make([]model.PathNode, len(path), len(path)+1)
		copy(branch, path)
		branch[len(branch)-1].AmountOut = edge.amount

		next := pathNode(edge.counterparty, entity)
		next.AmountIn = edge.amount
		ts := edge.earliest
		next.Timestamp = &ts
		branch = append(branch, next)

		t.visited[edge.counterparty] = true
		err = e.expand(ctx, t, edge.counterparty, depth+1, branch)
		delete(t.visited, edge.counterparty)
		if err != nil {
			return err
		}
	}

	if !descended {
		t.emit(path)
	}
	return nil
}

type aggregatedEdge struct {
	counterparty string
	amount       string
	earliest     int64
}

// aggregateEdges groups transfers by counterparty, summing amounts and
// keeping the earliest block time. First-seen order is preserved so the
// expansion is deterministic given the adapter's ordering.
func aggregateEdges(transfers []model.Transfer, addr string, dir direction, window TimeRange) []aggregatedEdge {
	index := make(map[string]int)
	var edges []aggregatedEdge

	for _, tr := range transfers {
		var counterparty string
		if dir == forward {
			if tr.FromAddress != addr {
				continue
			}
			counterparty = tr.ToAddress
		} else {
			if tr.ToAddress != addr {
				continue
			}
			counterparty = tr.FromAddress
		}
		if counterparty == "" || counterparty == addr {
			continue
		}
		if !window.contains(tr.BlockTime) {
			continue
		}

		if i, ok := index[counterparty]; ok {
			edges[i].amount = model.AmountAdd(edges[i].amount, tr.Amount)
			if tr.BlockTime < edges[i].earliest {
				edges[i].earliest = tr.BlockTime
			}
			continue
		}
		index[counterparty] = len(edges)
		edges = append(edges, aggregatedEdge{
			counterparty: counterparty,
			amount:       tr.Amount,
			earliest:     tr.BlockTime,
		})
	}
	return edges
}

// emit records the current branch as a finished FlowPath. Single-node
// paths (no flow found at all) are dropped.
func (t *traversal) emit(path []model.PathNode) {
	if len(path) < 2 || len(t.paths) >= maxPaths {
		return
	}

	hops := make([]model.PathNode, len(path))
	copy(hops, path)

	if t.dir == backward {
		reverseHops(hops)
	}

	t.paths = append(t.paths, model.FlowPath{
		PathID:          uuid.New(),
		StartAddress:    hops[0].Address,
		EndAddress:      hops[len(hops)-1].Address,
		TokenMint:       t.tokenMint,
		Hops:            hops,
		TotalAmount:     totalAmount(hops),
		HopCount:        len(hops),
		ConfidenceScore: ConfidenceScore(hops),
	})
}

// reverseHops flips a backward traversal into source-to-destination order,
// swapping each node's in/out amounts.
func reverseHops(hops []model.PathNode) {
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	for i := range hops {
		hops[i].AmountIn, hops[i].AmountOut = hops[i].AmountOut, hops[i].AmountIn
	}
}

// totalAmount sums the flow through every hop: the origin contributes what
// it sent onward, every later hop what it received.
func totalAmount(hops []model.PathNode) string {
	total := hops[0].AmountOut
	for _, h := range hops[1:] {
		total = model.AmountAdd(total, h.AmountIn)
	}
	return total
}

func pathNode(address string, entity *model.Entity) model.PathNode {
	n := model.PathNode{
		Address:   address,
		AmountIn:  "0",
		AmountOut: "0",
	}
	if entity != nil {
		n.EntityKind = entity.Kind
		n.EntityName = entity.Name
	}
	return n
}

// persist writes produced paths best-effort: enrichment may attach intent
// or risk later, but a failed write never fails the request.
func (e *Engine) persist(ctx context.Context, paths []model.FlowPath) {
	if e.paths == nil {
		return
	}
	for i := range paths {
		if err := e.paths.Upsert(ctx, &paths[i]); err != nil {
			e.logger.Warn("flow path persist failed", "path_id", paths[i].PathID, "error", err)
			return
		}
	}
}
