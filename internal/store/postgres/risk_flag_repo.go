package postgres

import (
	"context"
	"fmt"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type RiskFlagRepo struct {
	db *DB
}

func NewRiskFlagRepo(db *DB) *RiskFlagRepo {
	return &RiskFlagRepo{db: db}
}

func (r *RiskFlagRepo) Insert(ctx context.Context, f *model.RiskFlag) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO risk_flags (address, flag_type, severity, details)
		VALUES ($1, $2, $3, $4)
	`, f.Address, f.FlagType, f.Severity, f.Details)
	if err != nil {
		return fmt.Errorf("insert risk flag: %w", err)
	}
	return nil
}

func (r *RiskFlagRepo) ListByAddress(ctx context.Context, address string, limit int) ([]model.RiskFlag, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, address, flag_type, severity, details, created_at
		FROM risk_flags
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("query risk flags: %w", err)
	}
	defer rows.Close()

	var flags []model.RiskFlag
	for rows.Next() {
		var f model.RiskFlag
		if err := rows.Scan(&f.ID, &f.Address, &f.FlagType, &f.Severity, &f.Details, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
