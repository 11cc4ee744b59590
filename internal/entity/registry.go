package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

const cacheSize = 4096

// Registry is the process-wide read-through cache over the entities table.
// Lookups populate the cache; writes go through Upsert, which invalidates
// the corresponding entry.
type Registry struct {
	repo   store.EntityRepository
	cache  *lru.Cache[string, *model.Entity]
	logger *slog.Logger
}

func NewRegistry(repo store.EntityRepository, logger *slog.Logger) (*Registry, error) {
	c, err := lru.New[string, *model.Entity](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("entity cache: %w", err)
	}
	return &Registry{
		repo:   repo,
		cache:  c,
		logger: logger.With("component", "entity"),
	}, nil
}

// SeedKnownPrograms loads the static program table into the entities table
// with low risk. Existing rows win: ops may have re-scored an entry.
func (r *Registry) SeedKnownPrograms(ctx context.Context) error {
	for address, seed := range KnownPrograms {
		existing, err := r.repo.FindByAddress(ctx, address)
		if err != nil {
			return fmt.Errorf("seed lookup %s: %w", address, err)
		}
		if existing != nil {
			continue
		}
		e := &model.Entity{
			Address:   address,
			Kind:      seed.Kind,
			Name:      seed.Name,
			RiskLevel: model.RiskLevelLow,
			RiskScore: 0,
			Metadata:  json.RawMessage(`{"source":"seed"}`),
		}
		if err := r.repo.Upsert(ctx, e); err != nil {
			return fmt.Errorf("seed %s: %w", address, err)
		}
	}
	r.logger.Info("seeded known programs", "count", len(KnownPrograms))
	return nil
}

// Lookup resolves an address to its entity, or nil for plain wallets.
func (r *Registry) Lookup(ctx context.Context, address string) (*model.Entity, error) {
	if e, ok := r.cache.Get(address); ok {
		return e, nil
	}

	e, err := r.repo.FindByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	// Negative results are cached too: most addresses are plain wallets.
	r.cache.Add(address, e)
	return e, nil
}

// Upsert persists an entity and invalidates its cache entry.
func (r *Registry) Upsert(ctx context.Context, e *model.Entity) error {
	if err := r.repo.Upsert(ctx, e); err != nil {
		return err
	}
	r.cache.Remove(e.Address)
	return nil
}

// AddressesByKind lists entity addresses of one kind; the risk engine uses
// this for its mixer and sanction sets.
func (r *Registry) AddressesByKind(ctx context.Context, kind model.EntityKind) (map[string]bool, error) {
	entities, err := r.repo.ListByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entities))
	for _, e := range entities {
		out[e.Address] = true
	}
	return out, nil
}
