package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

const (
	assessmentCacheTTL = 10 * time.Minute

	proximityDepth  = 2
	proximityFanout = 10

	peelRatioLow   = 0.85
	peelRatioHigh  = 0.95
	peelMinLength  = 3

	velocityWindow    = time.Hour
	velocityThreshold = 100

	riskFetchLimit = 1000

	weightSanctionedProximity = 50
	weightMixerProximity      = 40
	weightPeelChain           = 35
	weightCircularFlow        = 25
	weightVelocity            = 20
)

// TransferSource yields the transfers the heuristics walk.
type TransferSource interface {
	GetTokenTransfers(ctx context.Context, address, tokenMint string, limit int) ([]model.Transfer, error)
}

// EntityStore provides the mixer/sanction sets and receives score writes.
type EntityStore interface {
	Lookup(ctx context.Context, address string) (*model.Entity, error)
	Upsert(ctx context.Context, e *model.Entity) error
	AddressesByKind(ctx context.Context, kind model.EntityKind) (map[string]bool, error)
}

// CycleDetector reuses the flow graph engine's circular-flow detection.
type CycleDetector interface {
	DetectCircularFlows(ctx context.Context, address, tokenMint string) ([]model.CircularFlow, error)
}

// Engine derives a composite 0-100 risk score from independent heuristics.
type Engine struct {
	source   TransferSource
	entities EntityStore
	cycles   CycleDetector
	flags    store.RiskFlagRepository // nil disables flag history
	kv       cache.KV
	logger   *slog.Logger
}

func NewEngine(source TransferSource, entities EntityStore, cycles CycleDetector, flags store.RiskFlagRepository, kv cache.KV, logger *slog.Logger) *Engine {
	return &Engine{
		source:   source,
		entities: entities,
		cycles:   cycles,
		flags:    flags,
		kv:       kv,
		logger:   logger.With("component", "risk"),
	}
}

// AssessRisk scores an address. Results are cached for 10 minutes and
// persisted onto the entity row plus one risk_flags row per positive check.
func (e *Engine) AssessRisk(ctx context.Context, address, tokenMint string) (*model.RiskAssessment, error) {
	key := fmt.Sprintf("risk:%s:%s", address, tokenMint)

	var cached model.RiskAssessment
	if err := cache.GetJSON(ctx, e.kv, key, &cached); err == nil {
		metrics.CacheHitsTotal.WithLabelValues("risk").Inc()
		return &cached, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("risk").Inc()

	assessment, err := e.assess(ctx, address, tokenMint)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, e.kv, key, assessment, assessmentCacheTTL); err != nil {
		e.logger.Debug("assessment cache write failed", "error", err)
	}

	e.persist(ctx, assessment)
	metrics.RiskAssessmentsTotal.WithLabelValues(string(assessment.RiskLevel)).Inc()
	return assessment, nil
}

func (e *Engine) assess(ctx context.Context, address, tokenMint string) (*model.RiskAssessment, error) {
	sanctioned, err := e.entities.AddressesByKind(ctx, model.EntityKindSanctioned)
	if err != nil {
		return nil, fmt.Errorf("load sanction set: %w", err)
	}

	assessment := &model.RiskAssessment{
		Address:      address,
		LastAssessed: time.Now().UTC(),
	}

	// A direct sanction hit short-circuits everything else.
	if sanctioned[address] {
		assessment.RiskScore = 100
		assessment.RiskLevel = model.RiskLevelCritical
		addFlag(assessment, address, model.RiskFlagSanctionedDirect, model.RiskSeverityCritical, map[string]any{})
		return assessment, nil
	}

	mixers, err := e.entities.AddressesByKind(ctx, model.EntityKindMixer)
	if err != nil {
		return nil, fmt.Errorf("load mixer set: %w", err)
	}

	score := 0

	reachable, err := e.proximitySet(ctx, address, tokenMint)
	if err != nil {
		return nil, err
	}

	if hit := firstIn(reachable, sanctioned); hit != "" {
		score += weightSanctionedProximity
		addFlag(assessment, address, model.RiskFlagSanctionedProximity, model.RiskSeverityCritical,
			map[string]any{"matchedAddress": hit, "maxHops": proximityDepth})
	}
	if hit := firstIn(reachable, mixers); hit != "" {
		score += weightMixerProximity
		addFlag(assessment, address, model.RiskFlagMixerProximity, model.RiskSeverityCritical,
			map[string]any{"matchedAddress": hit, "maxHops": proximityDepth})
	}

	outbound, err := e.outboundTransfers(ctx, address, tokenMint)
	if err != nil {
		return nil, err
	}

	if chainLength := peelChainLength(outbound); chainLength >= peelMinLength {
		score += weightPeelChain
		addFlag(assessment, address, model.RiskFlagPeelChain, model.RiskSeverityCritical,
			map[string]any{"chainLength": chainLength})
	}

	cycles, err := e.cycles.DetectCircularFlows(ctx, address, tokenMint)
	if err != nil {
		e.logger.Warn("cycle detection failed", "address", address, "error", err)
	} else if len(cycles) > 0 {
		score += weightCircularFlow
		addFlag(assessment, address, model.RiskFlagCircularFlow, model.RiskSeverityWarning,
			map[string]any{"addresses": cycles[0].Addresses, "cycles": len(cycles)})
	}

	if peak := peakHourlyRate(outbound); peak > velocityThreshold {
		score += weightVelocity
		addFlag(assessment, address, model.RiskFlagHighVelocity, model.RiskSeverityWarning,
			map[string]any{"transfersPerHour": peak})
	}

	if score > 100 {
		score = 100
	}
	assessment.RiskScore = score
	assessment.RiskLevel = model.RiskLevelForScore(score)
	return assessment, nil
}

// proximitySet walks outbound transfers breadth-first up to two hops with
// bounded fan-out, returning every address reached.
func (e *Engine) proximitySet(ctx context.Context, address, tokenMint string) (map[string]bool, error) {
	reached := make(map[string]bool)
	frontier := []string{address}

	for depth := 0; depth < proximityDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, addr := range frontier {
			transfers, err := e.source.GetTokenTransfers(ctx, addr, tokenMint, riskFetchLimit)
			if err != nil {
				return nil, err
			}
			fanout := 0
			for _, t := range transfers {
				if t.FromAddress != addr || t.ToAddress == "" || t.ToAddress == addr {
					continue
				}
				if reached[t.ToAddress] {
					continue
				}
				reached[t.ToAddress] = true
				next = append(next, t.ToAddress)
				fanout++
				if fanout >= proximityFanout {
					break
				}
			}
		}
		frontier = next
	}

	delete(reached, address)
	return reached, nil
}

func (e *Engine) outboundTransfers(ctx context.Context, address, tokenMint string) ([]model.Transfer, error) {
	transfers, err := e.source.GetTokenTransfers(ctx, address, tokenMint, riskFetchLimit)
	if err != nil {
		return nil, err
	}
	var outbound []model.Transfer
	for _, t := range transfers {
		if t.FromAddress == address && t.ToAddress != address {
			outbound = append(outbound, t)
		}
	}
	sort.SliceStable(outbound, func(i, j int) bool {
		return outbound[i].BlockTime < outbound[j].BlockTime
	})
	return outbound, nil
}

// peelChainLength finds the longest run of consecutive outbound transfers
// whose amount ratio stays inside the peel band.
func peelChainLength(outbound []model.Transfer) int {
	longest, run := 0, 0
	for i := 1; i < len(outbound); i++ {
		r := model.AmountRatio(outbound[i].Amount, outbound[i-1].Amount)
		if r >= peelRatioLow && r <= peelRatioHigh {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}

// peakHourlyRate returns the maximum number of outbound transfers inside
// any sliding one-hour window. outbound must be sorted by block time.
func peakHourlyRate(outbound []model.Transfer) int {
	peak := 0
	windowSecs := int64(velocityWindow / time.Second)
	start := 0
	for end := range outbound {
		for outbound[end].BlockTime-outbound[start].BlockTime > windowSecs {
			start++
		}
		if n := end - start + 1; n > peak {
			peak = n
		}
	}
	return peak
}

func firstIn(set, members map[string]bool) string {
	for addr := range set {
		if members[addr] {
			return addr
		}
	}
	return ""
}

func addFlag(a *model.RiskAssessment, address string, flagType model.RiskFlagType, severity model.RiskFlagSeverity, details map[string]any) {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	a.Flags = append(a.Flags, model.RiskFlag{
		Address:   address,
		FlagType:  flagType,
		Severity:  severity,
		Details:   raw,
		CreatedAt: a.LastAssessed,
	})
}

// persist caches the outcome on the entity row and appends flag history.
// Failures are logged, never surfaced: the assessment itself is the answer.
func (e *Engine) persist(ctx context.Context, a *model.RiskAssessment) {
	existing, err := e.entities.Lookup(ctx, a.Address)
	if err != nil {
		e.logger.Warn("entity lookup for persist failed", "address", a.Address, "error", err)
		return
	}

	entity := &model.Entity{
		Address:   a.Address,
		Kind:      model.EntityKindWallet,
		RiskLevel: a.RiskLevel,
		RiskScore: a.RiskScore,
		Metadata:  json.RawMessage(`{}`),
	}
	if existing != nil {
		entity.Kind = existing.Kind
		entity.Name = existing.Name
		entity.Metadata = existing.Metadata
	}
	if err := e.entities.Upsert(ctx, entity); err != nil {
		e.logger.Warn("entity risk persist failed", "address", a.Address, "error", err)
	}

	if e.flags == nil {
		return
	}
	for i := range a.Flags {
		if err := e.flags.Insert(ctx, &a.Flags[i]); err != nil {
			e.logger.Warn("risk flag persist failed", "address", a.Address, "error", err)
			return
		}
	}
}
