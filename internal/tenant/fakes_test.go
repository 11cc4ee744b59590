package tenant

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

// passthroughTx runs the function without a real transaction.
type passthroughTx struct {
	fail error
}

func (p *passthroughTx) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if p.fail != nil {
		return p.fail
	}
	return fn(nil)
}

type fakeUserRepo struct {
	byID       map[uuid.UUID]*model.User
	byEmail    map[string]*model.User
	byExternal map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:       map[uuid.UUID]*model.User{},
		byEmail:    map[string]*model.User{},
		byExternal: map[string]*model.User{},
	}
}

func (f *fakeUserRepo) add(u *model.User) {
	f.byID[u.ID] = u
	f.byEmail[u.Email] = u
	if u.ExternalUserID != nil {
		f.byExternal[*u.ExternalUserID] = u
	}
}

func (f *fakeUserRepo) CreateTx(ctx context.Context, tx *sql.Tx, u *model.User) error {
	cp := *u
	f.add(&cp)
	return nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return f.byID[id], nil
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	return f.byExternal[externalID], nil
}

func (f *fakeUserRepo) UpdatePlanStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, plan model.Plan, status model.UserStatus) error {
	if u, ok := f.byID[id]; ok {
		u.Plan = plan
		u.Status = status
	}
	return nil
}

func (f *fakeUserRepo) Count(ctx context.Context) (int, error) {
	return len(f.byID), nil
}

type fakeSubRepo struct {
	byUser map[uuid.UUID]*model.Subscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{byUser: map[uuid.UUID]*model.Subscription{}}
}

func (f *fakeSubRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Subscription) error {
	cp := *s
	f.byUser[s.UserID] = &cp
	return nil
}

func (f *fakeSubRepo) FindActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	s := f.byUser[userID]
	if s == nil || s.Status != model.SubscriptionActive {
		return nil, nil
	}
	return s, nil
}

func (f *fakeSubRepo) UpdatePlanTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, spec model.PlanSpec) error {
	if s, ok := f.byUser[userID]; ok {
		s.Plan = spec.Plan
		s.MonthlyQuota = spec.MonthlyQuota
		s.RateLimitPerMinute = spec.RateLimitPerMinute
		s.PriceCents = spec.PriceCents
	}
	return nil
}

func (f *fakeSubRepo) CancelTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, at time.Time) error {
	if s, ok := f.byUser[userID]; ok {
		s.Status = model.SubscriptionCancelled
		s.CancelledAt = &at
	}
	return nil
}

func (f *fakeSubRepo) RenewTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, periodStart, periodEnd time.Time) error {
	if s, ok := f.byUser[userID]; ok {
		s.Status = model.SubscriptionActive
		s.CurrentUsage = 0
		s.BillingPeriodStart = periodStart
		s.BillingPeriodEnd = periodEnd
		s.CancelledAt = nil
	}
	return nil
}

func (f *fakeSubRepo) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	for _, s := range f.byUser {
		if s.ID == id {
			s.CurrentUsage++
		}
	}
	return nil
}

type fakeKeyRepo struct {
	byHash  map[string]*store.AuthRecord
	created []model.ApiKey
	revoked map[uuid.UUID]bool
	touched int
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{
		byHash:  map[string]*store.AuthRecord{},
		revoked: map[uuid.UUID]bool{},
	}
}

func (f *fakeKeyRepo) CreateTx(ctx context.Context, tx *sql.Tx, k *model.ApiKey) error {
	f.created = append(f.created, *k)
	return nil
}

func (f *fakeKeyRepo) Create(ctx context.Context, k *model.ApiKey) error {
	f.created = append(f.created, *k)
	return nil
}

func (f *fakeKeyRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.ApiKey, error) {
	var out []model.ApiKey
	for _, k := range f.created {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeKeyRepo) Revoke(ctx context.Context, keyID, userID uuid.UUID) (bool, error) {
	for _, k := range f.created {
		if k.ID == keyID && k.UserID == userID {
			f.revoked[keyID] = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeKeyRepo) AuthLookup(ctx context.Context, keyHash string) (*store.AuthRecord, error) {
	return f.byHash[keyHash], nil
}

func (f *fakeKeyRepo) TouchLastUsed(ctx context.Context, keyID uuid.UUID) error {
	f.touched++
	return nil
}

func (f *fakeKeyRepo) IncrementCalls(ctx context.Context, keyID uuid.UUID) error {
	return nil
}

func (f *fakeKeyRepo) Count(ctx context.Context) (int, error) {
	return len(f.created), nil
}

type fakeUsageRepo struct {
	inserted []model.ApiUsageLog
}

func (f *fakeUsageRepo) Insert(ctx context.Context, l *model.ApiUsageLog) error {
	f.inserted = append(f.inserted, *l)
	return nil
}

func (f *fakeUsageRepo) SummaryByUser(ctx context.Context, userID uuid.UUID, since time.Time) (store.UsageSummary, error) {
	return store.UsageSummary{ByEndpoint: map[string]int64{}}, nil
}

type fakeWebhookEvents struct {
	inserted  []model.WebhookEvent
	processed map[int64]*string
}

func newFakeWebhookEvents() *fakeWebhookEvents {
	return &fakeWebhookEvents{processed: map[int64]*string{}}
}

func (f *fakeWebhookEvents) Insert(ctx context.Context, e *model.WebhookEvent) (int64, error) {
	f.inserted = append(f.inserted, *e)
	return int64(len(f.inserted)), nil
}

func (f *fakeWebhookEvents) MarkProcessed(ctx context.Context, id int64, errorMessage *string) error {
	f.processed[id] = errorMessage
	return nil
}

const testSalt = "0123456789abcdef0123456789abcdef"

func newTestService(users *fakeUserRepo, subs *fakeSubRepo, keys *fakeKeyRepo, usage *fakeUsageRepo) *Service {
	if users == nil {
		users = newFakeUserRepo()
	}
	if subs == nil {
		subs = newFakeSubRepo()
	}
	if keys == nil {
		keys = newFakeKeyRepo()
	}
	if usage == nil {
		usage = &fakeUsageRepo{}
	}
	return NewService(&passthroughTx{}, users, subs, keys, usage, testSalt, slog.Default())
}
