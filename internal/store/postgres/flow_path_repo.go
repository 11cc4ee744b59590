package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type FlowPathRepo struct {
	db *DB
}

func NewFlowPathRepo(db *DB) *FlowPathRepo {
	return &FlowPathRepo{db: db}
}

func (r *FlowPathRepo) Upsert(ctx context.Context, p *model.FlowPath) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	hops, err := json.Marshal(p.Hops)
	if err != nil {
		return fmt.Errorf("marshal hops: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flow_paths (
			path_id, start_address, end_address, token_mint, hops, total_amount,
			hop_count, confidence_score, intent, intent_confidence, risk_score, risk_level
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (path_id) DO UPDATE SET
			intent = EXCLUDED.intent,
			intent_confidence = EXCLUDED.intent_confidence,
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level
	`, p.PathID, p.StartAddress, p.EndAddress, p.TokenMint, hops, p.TotalAmount,
		p.HopCount, p.ConfidenceScore, p.Intent, p.IntentConfidence, p.RiskScore, p.RiskLevel)
	if err != nil {
		return fmt.Errorf("upsert flow path: %w", err)
	}
	return nil
}

func (r *FlowPathRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.FlowPath, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var p model.FlowPath
	var hops []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT path_id, start_address, end_address, token_mint, hops, total_amount,
		       hop_count, confidence_score, intent, intent_confidence, risk_score, risk_level, created_at
		FROM flow_paths
		WHERE path_id = $1
	`, id).Scan(
		&p.PathID, &p.StartAddress, &p.EndAddress, &p.TokenMint, &hops, &p.TotalAmount,
		&p.HopCount, &p.ConfidenceScore, &p.Intent, &p.IntentConfidence,
		&p.RiskScore, &p.RiskLevel, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find flow path: %w", err)
	}
	if err := json.Unmarshal(hops, &p.Hops); err != nil {
		return nil, fmt.Errorf("unmarshal hops: %w", err)
	}
	return &p, nil
}
