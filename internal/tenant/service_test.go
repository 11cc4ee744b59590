package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

func TestRegister_CreatesUserSubscriptionAndKey(t *testing.T) {
	t.Parallel()

	users := newFakeUserRepo()
	subs := newFakeSubRepo()
	keys := newFakeKeyRepo()
	svc := newTestService(users, subs, keys, nil)

	reg, err := svc.Register(context.Background(), "A@B.co", "Ada", "Acme", model.PlanPro)
	require.NoError(t, err)

	// Email canonicalized to lowercase.
	assert.Equal(t, "a@b.co", reg.User.Email)
	assert.Equal(t, model.PlanPro, reg.User.Plan)

	sub := subs.byUser[reg.User.ID]
	require.NotNil(t, sub)
	assert.Equal(t, int64(10000), sub.MonthlyQuota)
	assert.Equal(t, 60, sub.RateLimitPerMinute)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.True(t, sub.BillingPeriodEnd.After(sub.BillingPeriodStart))

	require.Len(t, keys.created, 1)
	key := keys.created[0]
	assert.True(t, ValidKeyFormat(reg.RawKey))
	assert.Equal(t, HashKey(testSalt, reg.RawKey), key.KeyHash)
	assert.Equal(t, reg.RawKey[:16], key.KeyPrefix)
	assert.NotEqual(t, reg.RawKey, key.KeyHash, "raw key must never be persisted")
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	t.Parallel()

	users := newFakeUserRepo()
	users.add(&model.User{ID: uuid.New(), Email: "a@b.co"})
	svc := newTestService(users, nil, nil, nil)

	_, err := svc.Register(context.Background(), "a@b.co", "", "", model.PlanStarter)
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestRegister_UnknownPlanFallsBackToStarter(t *testing.T) {
	t.Parallel()

	svc := newTestService(nil, nil, nil, nil)
	reg, err := svc.Register(context.Background(), "x@y.co", "", "", model.Plan("platinum"))
	require.NoError(t, err)
	assert.Equal(t, model.PlanStarter, reg.User.Plan)
	assert.Equal(t, int64(1000), reg.Subscription.MonthlyQuota)
}

func authRecord(salt, rawKey string) *store.AuthRecord {
	userID := uuid.New()
	return &store.AuthRecord{
		Key:  model.ApiKey{ID: uuid.New(), UserID: userID, KeyHash: HashKey(salt, rawKey), Active: true},
		User: model.User{ID: userID, Email: "a@b.co", Status: model.UserStatusActive},
		Subscription: model.Subscription{
			ID: uuid.New(), UserID: userID, Status: model.SubscriptionActive,
			MonthlyQuota: 1000, RateLimitPerMinute: 10,
			BillingPeriodEnd: time.Now().Add(24 * time.Hour),
		},
	}
}

func TestAuthenticate_Success(t *testing.T) {
	t.Parallel()

	raw, err := GenerateKey()
	require.NoError(t, err)

	keys := newFakeKeyRepo()
	keys.byHash[HashKey(testSalt, raw)] = authRecord(testSalt, raw)
	svc := newTestService(nil, nil, keys, nil)

	rec, err := svc.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", rec.User.Email)
}

func TestAuthenticate_UnknownKeyPadsLatency(t *testing.T) {
	t.Parallel()

	raw, err := GenerateKey()
	require.NoError(t, err)

	svc := newTestService(nil, nil, nil, nil)

	var slept time.Duration
	svc.sleepFn = func(d time.Duration) { slept += d }

	_, err = svc.Authenticate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.GreaterOrEqual(t, slept, 40*time.Millisecond, "miss must be padded toward the 50ms floor")
}

func TestAuthenticate_MalformedKeyPadsToo(t *testing.T) {
	t.Parallel()

	svc := newTestService(nil, nil, nil, nil)

	var slept time.Duration
	svc.sleepFn = func(d time.Duration) { slept += d }

	_, err := svc.Authenticate(context.Background(), "not-a-key")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Greater(t, slept, time.Duration(0))
}

func TestCheckQuota(t *testing.T) {
	t.Parallel()

	svc := newTestService(nil, nil, nil, nil)
	end := time.Now().Add(time.Hour)

	t.Run("active under quota", func(t *testing.T) {
		err := svc.CheckQuota(&model.Subscription{
			Status: model.SubscriptionActive, CurrentUsage: 10, MonthlyQuota: 100,
		})
		assert.NoError(t, err)
	})

	t.Run("inactive", func(t *testing.T) {
		err := svc.CheckQuota(&model.Subscription{Status: model.SubscriptionCancelled})
		assert.ErrorIs(t, err, ErrSubscriptionInactive)
	})

	t.Run("quota exhausted carries reset", func(t *testing.T) {
		err := svc.CheckQuota(&model.Subscription{
			Status: model.SubscriptionActive, CurrentUsage: 100, MonthlyQuota: 100,
			BillingPeriodEnd: end,
		})
		var qe *QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, end, qe.ResetAt)
		assert.Equal(t, int64(100), qe.Limit)
	})
}

func TestCreateAndListKeys(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyRepo()
	svc := newTestService(nil, nil, keys, nil)
	userID := uuid.New()

	key, raw, err := svc.CreateKey(context.Background(), userID, "ci")
	require.NoError(t, err)
	assert.True(t, ValidKeyFormat(raw))
	require.NotNil(t, key.Name)
	assert.Equal(t, "ci", *key.Name)

	listed, err := svc.ListKeys(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].KeyHash, "hashes must not leave the service")
	assert.Equal(t, key.KeyPrefix, listed[0].KeyPrefix)
}

func TestRevokeKey(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyRepo()
	svc := newTestService(nil, nil, keys, nil)
	userID := uuid.New()

	key, _, err := svc.CreateKey(context.Background(), userID, "")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeKey(context.Background(), userID, key.ID))
	// Idempotent: revoking again still succeeds for the owner.
	require.NoError(t, svc.RevokeKey(context.Background(), userID, key.ID))

	// Someone else's key is a NotFound.
	err = svc.RevokeKey(context.Background(), uuid.New(), key.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdatePlan_MirrorsOntoUser(t *testing.T) {
	t.Parallel()

	users := newFakeUserRepo()
	subs := newFakeSubRepo()
	svc := newTestService(users, subs, nil, nil)

	reg, err := svc.Register(context.Background(), "a@b.co", "", "", model.PlanStarter)
	require.NoError(t, err)

	spec, err := svc.UpdatePlan(context.Background(), reg.User.ID, model.PlanEnterprise)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), spec.MonthlyQuota)

	assert.Equal(t, model.PlanEnterprise, users.byID[reg.User.ID].Plan)
	assert.Equal(t, int64(100000), subs.byUser[reg.User.ID].MonthlyQuota)
	assert.Equal(t, 600, subs.byUser[reg.User.ID].RateLimitPerMinute)
}

func TestUpdatePlan_UnknownPlanRejected(t *testing.T) {
	t.Parallel()

	svc := newTestService(nil, nil, nil, nil)
	_, err := svc.UpdatePlan(context.Background(), uuid.New(), model.Plan("platinum"))
	assert.Error(t, err)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	users := newFakeUserRepo()
	subs := newFakeSubRepo()
	svc := newTestService(users, subs, nil, nil)

	reg, err := svc.Register(context.Background(), "a@b.co", "", "", model.PlanPro)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), reg.User.ID))

	assert.Equal(t, model.UserStatusCancelled, users.byID[reg.User.ID].Status)
	assert.Equal(t, model.PlanPro, users.byID[reg.User.ID].Plan, "plan survives cancellation")
	sub := subs.byUser[reg.User.ID]
	assert.Equal(t, model.SubscriptionCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
}

func TestCancel_UnknownUser(t *testing.T) {
	t.Parallel()

	svc := newTestService(nil, nil, nil, nil)
	err := svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecordUsage(t *testing.T) {
	t.Parallel()

	subs := newFakeSubRepo()
	usage := &fakeUsageRepo{}
	svc := newTestService(nil, subs, nil, usage)

	rec := authRecord(testSalt, KeyPrefix+"00")
	subs.byUser[rec.User.ID] = &rec.Subscription

	svc.RecordUsage(context.Background(), rec, &model.ApiUsageLog{
		UserID:   rec.User.ID,
		ApiKeyID: rec.Key.ID,
		Endpoint: "/api/v1/analyze/path",
		Method:   "POST",
	})

	assert.Equal(t, int64(1), subs.byUser[rec.User.ID].CurrentUsage)
	require.Len(t, usage.inserted, 1)
	assert.Equal(t, "/api/v1/analyze/path", usage.inserted[0].Endpoint)
}

func TestRegister_TxFailureSurfaces(t *testing.T) {
	t.Parallel()

	svc := newTestService(nil, nil, nil, nil)
	svc.db = &passthroughTx{fail: errors.New("db down")}

	_, err := svc.Register(context.Background(), "a@b.co", "", "", model.PlanStarter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
