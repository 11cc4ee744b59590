package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// AuthRecord is the joined row the tenant gate authenticates against:
// an active key, its owner, and the owner's active subscription.
type AuthRecord struct {
	Key          model.ApiKey
	User         model.User
	Subscription model.Subscription
}

// UserRepository provides access to user rows.
type UserRepository interface {
	CreateTx(ctx context.Context, tx *sql.Tx, u *model.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)
	UpdatePlanStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, plan model.Plan, status model.UserStatus) error
	Count(ctx context.Context) (int, error)
}

// SubscriptionRepository provides access to subscription rows. The schema
// enforces at most one active row per user.
type SubscriptionRepository interface {
	CreateTx(ctx context.Context, tx *sql.Tx, s *model.Subscription) error
	FindActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error)
	UpdatePlanTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, spec model.PlanSpec) error
	CancelTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, at time.Time) error
	RenewTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, periodStart, periodEnd time.Time) error
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

// ApiKeyRepository provides access to API key rows. Raw keys never reach
// this layer; all lookups are by HMAC hash.
type ApiKeyRepository interface {
	CreateTx(ctx context.Context, tx *sql.Tx, k *model.ApiKey) error
	Create(ctx context.Context, k *model.ApiKey) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.ApiKey, error)
	// Revoke soft-deletes the key. Returns false when the key does not
	// belong to userID or does not exist.
	Revoke(ctx context.Context, keyID, userID uuid.UUID) (bool, error)
	AuthLookup(ctx context.Context, keyHash string) (*AuthRecord, error)
	TouchLastUsed(ctx context.Context, keyID uuid.UUID) error
	IncrementCalls(ctx context.Context, keyID uuid.UUID) error
	Count(ctx context.Context) (int, error)
}

// TransactionRepository persists parsed transactions.
type TransactionRepository interface {
	UpsertTx(ctx context.Context, tx *sql.Tx, t *model.ParsedTransaction) error
}

// TransferRepository persists token transfers.
type TransferRepository interface {
	BulkUpsertTx(ctx context.Context, tx *sql.Tx, transfers []model.Transfer) error
	ListByAddress(ctx context.Context, address, tokenMint string, limit int) ([]model.Transfer, error)
}

// FlowPathRepository persists reconstructed flow paths.
type FlowPathRepository interface {
	Upsert(ctx context.Context, p *model.FlowPath) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.FlowPath, error)
}

// EntityRepository provides access to known entities.
type EntityRepository interface {
	FindByAddress(ctx context.Context, address string) (*model.Entity, error)
	Upsert(ctx context.Context, e *model.Entity) error
	ListByKind(ctx context.Context, kind model.EntityKind) ([]model.Entity, error)
}

// RiskFlagRepository records risk flag history.
type RiskFlagRepository interface {
	Insert(ctx context.Context, f *model.RiskFlag) error
	ListByAddress(ctx context.Context, address string, limit int) ([]model.RiskFlag, error)
}

// WebhookEventRepository is the append-only webhook audit log.
type WebhookEventRepository interface {
	Insert(ctx context.Context, e *model.WebhookEvent) (int64, error)
	MarkProcessed(ctx context.Context, id int64, errorMessage *string) error
}

// UsageLogRepository records per-request usage for billing reconciliation.
type UsageLogRepository interface {
	Insert(ctx context.Context, l *model.ApiUsageLog) error
	SummaryByUser(ctx context.Context, userID uuid.UUID, since time.Time) (UsageSummary, error)
}

// UsageSummary aggregates a user's recent calls.
type UsageSummary struct {
	TotalCalls     int64
	AvgResponseMs  float64
	ByEndpoint     map[string]int64
	WindowStart    time.Time
}
