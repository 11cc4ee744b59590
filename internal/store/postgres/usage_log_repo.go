package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

type UsageLogRepo struct {
	db *DB
}

func NewUsageLogRepo(db *DB) *UsageLogRepo {
	return &UsageLogRepo{db: db}
}

func (r *UsageLogRepo) Insert(ctx context.Context, l *model.ApiUsageLog) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_usage_logs (
			user_id, api_key_id, endpoint, method, status_code,
			response_time_ms, user_agent, ip_address, request_id, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, l.UserID, l.ApiKeyID, l.Endpoint, l.Method, l.StatusCode,
		l.ResponseTimeMs, l.UserAgent, l.IPAddress, l.RequestID, l.Timestamp)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (r *UsageLogRepo) SummaryByUser(ctx context.Context, userID uuid.UUID, since time.Time) (store.UsageSummary, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	summary := store.UsageSummary{
		ByEndpoint:  make(map[string]int64),
		WindowStart: since,
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(avg(response_time_ms), 0)
		FROM api_usage_logs
		WHERE user_id = $1 AND timestamp >= $2
	`, userID, since).Scan(&summary.TotalCalls, &summary.AvgResponseMs)
	if err != nil {
		return summary, fmt.Errorf("usage summary totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT endpoint, count(*)
		FROM api_usage_logs
		WHERE user_id = $1 AND timestamp >= $2
		GROUP BY endpoint
		ORDER BY count(*) DESC
	`, userID, since)
	if err != nil {
		return summary, fmt.Errorf("usage summary endpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var endpoint string
		var n int64
		if err := rows.Scan(&endpoint, &n); err != nil {
			return summary, fmt.Errorf("scan usage summary: %w", err)
		}
		summary.ByEndpoint[endpoint] = n
	}
	return summary, rows.Err()
}
