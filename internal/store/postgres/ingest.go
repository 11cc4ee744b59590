package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

// Ingestor persists fetched transactions and transfers in one transaction,
// so a partially written batch never becomes visible.
type Ingestor struct {
	db        *DB
	txRepo    *TransactionRepo
	transfers *TransferRepo
}

func NewIngestor(db *DB) *Ingestor {
	return &Ingestor{
		db:        db,
		txRepo:    NewTransactionRepo(db),
		transfers: NewTransferRepo(db),
	}
}

func (i *Ingestor) Ingest(ctx context.Context, txs []*model.ParsedTransaction, transfers []model.Transfer) error {
	if len(txs) == 0 && len(transfers) == 0 {
		return nil
	}
	err := i.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range txs {
			if err := i.txRepo.UpsertTx(ctx, tx, t); err != nil {
				return err
			}
		}
		if len(transfers) > 0 {
			return i.transfers.BulkUpsertTx(ctx, tx, transfers)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest batch: %w", err)
	}
	return nil
}
