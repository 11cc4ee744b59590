package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// PlanSpec is one row of the plan catalog.
type PlanSpec struct {
	Plan               Plan
	MonthlyQuota       int64
	RateLimitPerMinute int
	PriceCents         int
}

// PlanCatalog is the authoritative plan table, seeded at startup.
var PlanCatalog = map[Plan]PlanSpec{
	PlanStarter:    {Plan: PlanStarter, MonthlyQuota: 1000, RateLimitPerMinute: 10, PriceCents: 1000},
	PlanPro:        {Plan: PlanPro, MonthlyQuota: 10000, RateLimitPerMinute: 60, PriceCents: 5000},
	PlanEnterprise: {Plan: PlanEnterprise, MonthlyQuota: 100000, RateLimitPerMinute: 600, PriceCents: 20000},
}

// LookupPlan resolves a plan name, falling back to starter for unknown values.
func LookupPlan(p Plan) PlanSpec {
	if spec, ok := PlanCatalog[p]; ok {
		return spec
	}
	return PlanCatalog[PlanStarter]
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusCancelled UserStatus = "cancelled"
	UserStatusExpired   UserStatus = "expired"
)

type User struct {
	ID             uuid.UUID  `db:"id"`
	Email          string     `db:"email"` // canonical lowercase
	FullName       *string    `db:"full_name"`
	CompanyName    *string    `db:"company_name"`
	Plan           Plan       `db:"plan"`
	Status         UserStatus `db:"status"`
	ExternalUserID *string    `db:"external_user_id"`
	CreatedAt      time.Time  `db:"created_at"`
	LastLoginAt    *time.Time `db:"last_login_at"`
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Subscription tracks quota and billing state. At most one active row per user.
type Subscription struct {
	ID                 uuid.UUID          `db:"id"`
	UserID             uuid.UUID          `db:"user_id"`
	Plan               Plan               `db:"plan"`
	MonthlyQuota       int64              `db:"monthly_quota"`
	RateLimitPerMinute int                `db:"rate_limit_per_minute"`
	CurrentUsage       int64              `db:"current_usage"`
	BillingPeriodStart time.Time          `db:"billing_period_start"`
	BillingPeriodEnd   time.Time          `db:"billing_period_end"`
	Status             SubscriptionStatus `db:"status"`
	PriceCents         int                `db:"price_cents"`
	CancelledAt        *time.Time         `db:"cancelled_at"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

// ApiKey is the persisted form of an issued key. The raw key is never stored.
type ApiKey struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	KeyHash    string     `db:"key_hash"`   // HMAC-SHA256(salt, raw), hex
	KeyPrefix  string     `db:"key_prefix"` // first 16 chars of raw, display only
	Name       *string    `db:"name"`
	Active     bool       `db:"active"`
	TotalCalls int64      `db:"total_calls"`
	CreatedAt  time.Time  `db:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
	ExpiresAt  *time.Time `db:"expires_at"`
}

// WebhookEvent is an append-only audit record of a received webhook.
type WebhookEvent struct {
	ID           int64           `db:"id"`
	Source       string          `db:"source"`
	EventType    string          `db:"event_type"`
	Payload      json.RawMessage `db:"payload"`
	ReceivedAt   time.Time       `db:"received_at"`
	Processed    bool            `db:"processed"`
	ProcessedAt  *time.Time      `db:"processed_at"`
	ErrorMessage *string         `db:"error_message"`
}

// ApiUsageLog records one authenticated API call for billing reconciliation.
type ApiUsageLog struct {
	ID             int64     `db:"id"`
	UserID         uuid.UUID `db:"user_id"`
	ApiKeyID       uuid.UUID `db:"api_key_id"`
	Endpoint       string    `db:"endpoint"`
	Method         string    `db:"method"`
	StatusCode     int       `db:"status_code"`
	ResponseTimeMs int64     `db:"response_time_ms"`
	UserAgent      string    `db:"user_agent"`
	IPAddress      string    `db:"ip_address"`
	RequestID      string    `db:"request_id"`
	Timestamp      time.Time `db:"timestamp"`
}
