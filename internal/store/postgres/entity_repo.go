package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type EntityRepo struct {
	db *DB
}

func NewEntityRepo(db *DB) *EntityRepo {
	return &EntityRepo{db: db}
}

const entityColumns = `address, entity_type, name, risk_level, risk_score, metadata, created_at, updated_at`

func (r *EntityRepo) FindByAddress(ctx context.Context, address string) (*model.Entity, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var e model.Entity
	err := r.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE address = $1`, address,
	).Scan(
		&e.Address, &e.Kind, &e.Name, &e.RiskLevel, &e.RiskScore,
		&e.Metadata, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entity: %w", err)
	}
	return &e, nil
}

func (r *EntityRepo) Upsert(ctx context.Context, e *model.Entity) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (address, entity_type, name, risk_level, risk_score, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			name = EXCLUDED.name,
			risk_level = EXCLUDED.risk_level,
			risk_score = EXCLUDED.risk_score,
			metadata = EXCLUDED.metadata,
			updated_at = now()
	`, e.Address, e.Kind, e.Name, e.RiskLevel, e.RiskScore, e.Metadata)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

func (r *EntityRepo) ListByKind(ctx context.Context, kind model.EntityKind) ([]model.Entity, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = $1`, kind)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		var e model.Entity
		if err := rows.Scan(
			&e.Address, &e.Kind, &e.Name, &e.RiskLevel, &e.RiskScore,
			&e.Metadata, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}
