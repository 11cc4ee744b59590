package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type SubscriptionRepo struct {
	db *DB
}

func NewSubscriptionRepo(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, plan, monthly_quota, rate_limit_per_minute, current_usage,
	billing_period_start, billing_period_end, status, price_cents, cancelled_at, created_at, updated_at`

func (r *SubscriptionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Subscription) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, user_id, plan, monthly_quota, rate_limit_per_minute, current_usage,
			billing_period_start, billing_period_end, status, price_cents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.UserID, s.Plan, s.MonthlyQuota, s.RateLimitPerMinute, s.CurrentUsage,
		s.BillingPeriodStart, s.BillingPeriodEnd, s.Status, s.PriceCents)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) FindActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var s model.Subscription
	err := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
	`, userID).Scan(
		&s.ID, &s.UserID, &s.Plan, &s.MonthlyQuota, &s.RateLimitPerMinute, &s.CurrentUsage,
		&s.BillingPeriodStart, &s.BillingPeriodEnd, &s.Status, &s.PriceCents,
		&s.CancelledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active subscription: %w", err)
	}
	return &s, nil
}

func (r *SubscriptionRepo) UpdatePlanTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, spec model.PlanSpec) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET
			plan = $2,
			monthly_quota = $3,
			rate_limit_per_minute = $4,
			price_cents = $5,
			updated_at = now()
		WHERE user_id = $1 AND status = 'active'
	`, userID, spec.Plan, spec.MonthlyQuota, spec.RateLimitPerMinute, spec.PriceCents)
	if err != nil {
		return fmt.Errorf("update subscription plan: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) CancelTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET
			status = 'cancelled',
			cancelled_at = $2,
			updated_at = now()
		WHERE user_id = $1 AND status = 'active'
	`, userID, at)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// RenewTx reactivates the user's most recent subscription, resets usage and
// advances the billing window.
func (r *SubscriptionRepo) RenewTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, periodStart, periodEnd time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET
			status = 'active',
			current_usage = 0,
			billing_period_start = $2,
			billing_period_end = $3,
			cancelled_at = NULL,
			updated_at = now()
		WHERE id = (
			SELECT id FROM subscriptions WHERE user_id = $1
			ORDER BY created_at DESC LIMIT 1
		)
	`, userID, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("renew subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET current_usage = current_usage + 1, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}
