package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type TransferRepo struct {
	db *DB
}

func NewTransferRepo(db *DB) *TransferRepo {
	return &TransferRepo{db: db}
}

func (r *TransferRepo) BulkUpsertTx(ctx context.Context, tx *sql.Tx, transfers []model.Transfer) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transfers (
			signature, from_address, to_address, token_mint, amount, decimals,
			instruction_index, block_time, tx_type, swap_direction, swap_info
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (signature, instruction_index, from_address) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare transfer insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range transfers {
		var swapInfo []byte
		if t.SwapInfo != nil {
			swapInfo, err = json.Marshal(t.SwapInfo)
			if err != nil {
				return fmt.Errorf("marshal swap info: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			t.Signature, t.FromAddress, t.ToAddress, t.TokenMint, t.Amount, t.Decimals,
			t.InstructionIndex, t.BlockTime, t.TxType, t.SwapDirection, swapInfo,
		); err != nil {
			return fmt.Errorf("upsert transfer %s: %w", t.Signature, err)
		}
	}
	return nil
}

func (r *TransferRepo) ListByAddress(ctx context.Context, address, tokenMint string, limit int) ([]model.Transfer, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT signature, from_address, to_address, token_mint, amount, decimals,
		       instruction_index, block_time, tx_type, swap_direction, swap_info, created_at
		FROM transfers
		WHERE (from_address = $1 OR to_address = $1) AND token_mint = $2
		ORDER BY block_time DESC
		LIMIT $3
	`, address, tokenMint, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []model.Transfer
	for rows.Next() {
		var t model.Transfer
		var swapInfo []byte
		if err := rows.Scan(
			&t.Signature, &t.FromAddress, &t.ToAddress, &t.TokenMint, &t.Amount,
			&t.Decimals, &t.InstructionIndex, &t.BlockTime, &t.TxType,
			&t.SwapDirection, &swapInfo, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		if len(swapInfo) > 0 {
			var si model.SwapInfo
			if err := json.Unmarshal(swapInfo, &si); err != nil {
				return nil, fmt.Errorf("unmarshal swap info: %w", err)
			}
			t.SwapInfo = &si
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
