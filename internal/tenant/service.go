package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

// authFloor is the minimum wall time of a failed authentication, so key
// existence cannot be probed through response latency.
const authFloor = 50 * time.Millisecond

// TxRunner runs a function inside a database transaction with rollback on
// error. Satisfied by the postgres DB; tests substitute a pass-through.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Service owns the tenant lifecycle: registration, key issue/revocation,
// authentication, quota, and plan mutations.
type Service struct {
	db      TxRunner
	users   store.UserRepository
	subs    store.SubscriptionRepository
	keys    store.ApiKeyRepository
	usage   store.UsageLogRepository
	salt    string
	nowFn   func() time.Time
	sleepFn func(time.Duration)
	logger  *slog.Logger
}

func NewService(db TxRunner, users store.UserRepository, subs store.SubscriptionRepository, keys store.ApiKeyRepository, usage store.UsageLogRepository, salt string, logger *slog.Logger) *Service {
	return &Service{
		db:      db,
		users:   users,
		subs:    subs,
		keys:    keys,
		usage:   usage,
		salt:    salt,
		nowFn:   time.Now,
		sleepFn: time.Sleep,
		logger:  logger.With("component", "tenant"),
	}
}

// Authenticate resolves a raw API key to its tenant context. Failures take
// at least authFloor regardless of where they short-circuit.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*store.AuthRecord, error) {
	start := s.nowFn()
	fail := func() error {
		metrics.AuthFailuresTotal.Inc()
		if elapsed := s.nowFn().Sub(start); elapsed < authFloor {
			s.sleepFn(authFloor - elapsed)
		}
		return ErrInvalidKey
	}

	if !ValidKeyFormat(rawKey) {
		return nil, fail()
	}

	rec, err := s.keys.AuthLookup(ctx, HashKey(s.salt, rawKey))
	if err != nil {
		s.logger.Error("auth lookup failed", "error", err)
		return nil, fail()
	}
	if rec == nil {
		return nil, fail()
	}

	// Best-effort touch, detached from the request lifetime.
	keyID := rec.Key.ID
	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.keys.TouchLastUsed(bg, keyID); err != nil {
			s.logger.Debug("touch last used failed", "key_id", keyID, "error", err)
		}
	}()

	return rec, nil
}

// CheckQuota enforces subscription state and the monthly call budget.
func (s *Service) CheckQuota(sub *model.Subscription) error {
	if sub.Status != model.SubscriptionActive {
		return ErrSubscriptionInactive
	}
	if sub.CurrentUsage >= sub.MonthlyQuota {
		metrics.QuotaRejectionsTotal.Inc()
		return &QuotaExceededError{
			Limit:   sub.MonthlyQuota,
			Used:    sub.CurrentUsage,
			ResetAt: sub.BillingPeriodEnd,
		}
	}
	return nil
}

// RecordUsage increments the billing counters and appends the usage log.
// Called on a detached context after the response is underway; the design
// tolerates the resulting ±1 drift per burst.
func (s *Service) RecordUsage(ctx context.Context, rec *store.AuthRecord, entry *model.ApiUsageLog) {
	if err := s.subs.IncrementUsage(ctx, rec.Subscription.ID); err != nil {
		s.logger.Warn("usage increment failed", "subscription_id", rec.Subscription.ID, "error", err)
	}
	if err := s.keys.IncrementCalls(ctx, rec.Key.ID); err != nil {
		s.logger.Warn("key call increment failed", "key_id", rec.Key.ID, "error", err)
	}
	if err := s.usage.Insert(ctx, entry); err != nil {
		s.logger.Warn("usage log insert failed", "user_id", entry.UserID, "error", err)
	}
}

// RegistrationResult returns the raw key exactly once, at creation.
type RegistrationResult struct {
	User         model.User
	Subscription model.Subscription
	RawKey       string
	KeyPrefix    string
}

// Register creates a user with a subscription and one API key atomically.
func (s *Service) Register(ctx context.Context, email, fullName, companyName string, plan model.Plan) (*RegistrationResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	return s.createTenant(ctx, email, optional(fullName), optional(companyName), nil, plan)
}

// createTenant is the shared transactional path behind direct registration
// and the user.subscribed webhook.
func (s *Service) createTenant(ctx context.Context, email string, fullName, companyName, externalUserID *string, plan model.Plan) (*RegistrationResult, error) {
	spec := model.LookupPlan(plan)
	now := s.nowFn().UTC()

	rawKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	user := model.User{
		ID:             uuid.New(),
		Email:          email,
		FullName:       fullName,
		CompanyName:    companyName,
		Plan:           spec.Plan,
		Status:         model.UserStatusActive,
		ExternalUserID: externalUserID,
		CreatedAt:      now,
	}
	sub := model.Subscription{
		ID:                 uuid.New(),
		UserID:             user.ID,
		Plan:               spec.Plan,
		MonthlyQuota:       spec.MonthlyQuota,
		RateLimitPerMinute: spec.RateLimitPerMinute,
		BillingPeriodStart: now,
		BillingPeriodEnd:   now.AddDate(0, 1, 0),
		Status:             model.SubscriptionActive,
		PriceCents:         spec.PriceCents,
	}
	key := model.ApiKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		KeyHash:   HashKey(s.salt, rawKey),
		KeyPrefix: DisplayPrefix(rawKey),
		Active:    true,
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.users.CreateTx(ctx, tx, &user); err != nil {
			return err
		}
		if err := s.subs.CreateTx(ctx, tx, &sub); err != nil {
			return err
		}
		return s.keys.CreateTx(ctx, tx, &key)
	})
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	s.logger.Info("tenant created", "user_id", user.ID, "plan", spec.Plan, "key_prefix", key.KeyPrefix)
	return &RegistrationResult{
		User:         user,
		Subscription: sub,
		RawKey:       rawKey,
		KeyPrefix:    key.KeyPrefix,
	}, nil
}

// CreateKey issues an additional key for an existing user.
func (s *Service) CreateKey(ctx context.Context, userID uuid.UUID, name string) (*model.ApiKey, string, error) {
	rawKey, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}

	key := model.ApiKey{
		ID:        uuid.New(),
		UserID:    userID,
		KeyHash:   HashKey(s.salt, rawKey),
		KeyPrefix: DisplayPrefix(rawKey),
		Name:      optional(name),
		Active:    true,
		CreatedAt: s.nowFn().UTC(),
	}
	if err := s.keys.Create(ctx, &key); err != nil {
		return nil, "", fmt.Errorf("create key: %w", err)
	}

	s.logger.Info("api key created", "user_id", userID, "key_prefix", key.KeyPrefix)
	return &key, rawKey, nil
}

// ListKeys returns the user's keys with hashes blanked: even the HMAC has
// no business leaving the service.
func (s *Service) ListKeys(ctx context.Context, userID uuid.UUID) ([]model.ApiKey, error) {
	keys, err := s.keys.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// RevokeKey soft-deletes one of the user's keys. Unknown keys are a
// NotFound; re-revoking an already revoked key succeeds.
func (s *Service) RevokeKey(ctx context.Context, userID, keyID uuid.UUID) error {
	ok, err := s.keys.Revoke(ctx, keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePlan moves the user's active subscription to a new plan.
func (s *Service) UpdatePlan(ctx context.Context, userID uuid.UUID, plan model.Plan) (*model.PlanSpec, error) {
	spec, ok := model.PlanCatalog[plan]
	if !ok {
		return nil, fmt.Errorf("unknown plan %q", plan)
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.subs.UpdatePlanTx(ctx, tx, userID, spec); err != nil {
			return err
		}
		return s.users.UpdatePlanStatusTx(ctx, tx, userID, spec.Plan, model.UserStatusActive)
	})
	if err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return &spec, nil
}

// Cancel marks the user's subscription cancelled and mirrors the status.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("cancel lookup: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	now := s.nowFn().UTC()
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.subs.CancelTx(ctx, tx, userID, now); err != nil {
			return err
		}
		return s.users.UpdatePlanStatusTx(ctx, tx, userID, user.Plan, model.UserStatusCancelled)
	})
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
