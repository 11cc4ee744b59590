package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

type ApiKeyRepo struct {
	db *DB
}

func NewApiKeyRepo(db *DB) *ApiKeyRepo {
	return &ApiKeyRepo{db: db}
}

const apiKeyColumns = `id, user_id, key_hash, key_prefix, name, active, total_calls,
	created_at, last_used_at, revoked_at, expires_at`

const insertApiKeySQL = `
	INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, active, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (r *ApiKeyRepo) CreateTx(ctx context.Context, tx *sql.Tx, k *model.ApiKey) error {
	_, err := tx.ExecContext(ctx, insertApiKeySQL,
		k.ID, k.UserID, k.KeyHash, k.KeyPrefix, k.Name, k.Active, k.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *ApiKeyRepo) Create(ctx context.Context, k *model.ApiKey) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, insertApiKeySQL,
		k.ID, k.UserID, k.KeyHash, k.KeyPrefix, k.Name, k.Active, k.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *ApiKeyRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.ApiKey, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.ApiKey
	for rows.Next() {
		var k model.ApiKey
		if err := rows.Scan(
			&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Active,
			&k.TotalCalls, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt, &k.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke soft-deletes the key. Revoking an already-revoked key reports
// success so the owner-facing operation stays idempotent.
func (r *ApiKeyRepo) Revoke(ctx context.Context, keyID, userID uuid.UUID) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET active = false, revoked_at = COALESCE(revoked_at, now())
		WHERE id = $1 AND user_id = $2
	`, keyID, userID)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke api key rows: %w", err)
	}
	return n > 0, nil
}

// AuthLookup joins an active key with its user and the user's active
// subscription in a single parameterized query.
func (r *ApiKeyRepo) AuthLookup(ctx context.Context, keyHash string) (*store.AuthRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var rec store.AuthRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT
			k.id, k.user_id, k.key_hash, k.key_prefix, k.name, k.active,
			k.total_calls, k.created_at, k.last_used_at, k.revoked_at, k.expires_at,
			u.id, u.email, u.full_name, u.company_name, u.plan, u.status,
			u.external_user_id, u.created_at, u.last_login_at,
			s.id, s.user_id, s.plan, s.monthly_quota, s.rate_limit_per_minute,
			s.current_usage, s.billing_period_start, s.billing_period_end,
			s.status, s.price_cents, s.cancelled_at, s.created_at, s.updated_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		JOIN subscriptions s ON s.user_id = u.id AND s.status = 'active'
		WHERE k.key_hash = $1
		  AND k.active = true
		  AND (k.expires_at IS NULL OR k.expires_at > now())
	`, keyHash).Scan(
		&rec.Key.ID, &rec.Key.UserID, &rec.Key.KeyHash, &rec.Key.KeyPrefix, &rec.Key.Name,
		&rec.Key.Active, &rec.Key.TotalCalls, &rec.Key.CreatedAt, &rec.Key.LastUsedAt,
		&rec.Key.RevokedAt, &rec.Key.ExpiresAt,
		&rec.User.ID, &rec.User.Email, &rec.User.FullName, &rec.User.CompanyName,
		&rec.User.Plan, &rec.User.Status, &rec.User.ExternalUserID, &rec.User.CreatedAt,
		&rec.User.LastLoginAt,
		&rec.Subscription.ID, &rec.Subscription.UserID, &rec.Subscription.Plan,
		&rec.Subscription.MonthlyQuota, &rec.Subscription.RateLimitPerMinute,
		&rec.Subscription.CurrentUsage, &rec.Subscription.BillingPeriodStart,
		&rec.Subscription.BillingPeriodEnd, &rec.Subscription.Status,
		&rec.Subscription.PriceCents, &rec.Subscription.CancelledAt,
		&rec.Subscription.CreatedAt, &rec.Subscription.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth lookup: %w", err)
	}
	return &rec, nil
}

func (r *ApiKeyRepo) TouchLastUsed(ctx context.Context, keyID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

func (r *ApiKeyRepo) IncrementCalls(ctx context.Context, keyID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET total_calls = total_calls + 1 WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("increment api key calls: %w", err)
	}
	return nil
}

func (r *ApiKeyRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM api_keys WHERE active = true`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}
