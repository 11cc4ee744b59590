package postgres

import (
	"context"
	"fmt"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type WebhookEventRepo struct {
	db *DB
}

func NewWebhookEventRepo(db *DB) *WebhookEventRepo {
	return &WebhookEventRepo{db: db}
}

// Insert appends the event before any handling happens, so failed handlers
// leave an unprocessed row behind for the source to retry against.
func (r *WebhookEventRepo) Insert(ctx context.Context, e *model.WebhookEvent) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (source, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id
	`, e.Source, e.EventType, e.Payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert webhook event: %w", err)
	}
	return id, nil
}

func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, id int64, errorMessage *string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	processed := errorMessage == nil
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET
			processed = $2,
			processed_at = CASE WHEN $2 THEN now() ELSE NULL END,
			error_message = $3
		WHERE id = $1
	`, id, processed, errorMessage)
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}
