package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type TransactionRepo struct {
	db *DB
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

func (r *TransactionRepo) UpsertTx(ctx context.Context, tx *sql.Tx, t *model.ParsedTransaction) error {
	instructions, err := json.Marshal(t.Instructions)
	if err != nil {
		return fmt.Errorf("marshal instructions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (signature, block_time, slot, fee, success, accounts, instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signature) DO NOTHING
	`, t.Signature, t.BlockTime, t.Slot, t.Fee, t.Success, pq.Array(t.Accounts), instructions)
	if err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}
	return nil
}
