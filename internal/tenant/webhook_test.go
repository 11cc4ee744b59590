package tenant

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

const testSecret = "whsec-0123456789abcdef0123456789abcdef"

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"user.subscribed"}`)
	assert.True(t, VerifySignature(testSecret, body, sign(testSecret, body)))
	assert.True(t, VerifySignature(testSecret, body, " "+sign(testSecret, body)+" "))
	assert.False(t, VerifySignature(testSecret, body, sign("other-secret", body)))
	assert.False(t, VerifySignature(testSecret, body, "deadbeef"))
	assert.False(t, VerifySignature(testSecret, []byte(`tampered`), sign(testSecret, body)))
}

type processorFixture struct {
	proc   *WebhookProcessor
	users  *fakeUserRepo
	subs   *fakeSubRepo
	keys   *fakeKeyRepo
	events *fakeWebhookEvents
}

func newProcessor(t *testing.T) *processorFixture {
	t.Helper()
	users := newFakeUserRepo()
	subs := newFakeSubRepo()
	keys := newFakeKeyRepo()
	events := newFakeWebhookEvents()
	svc := newTestService(users, subs, keys, nil)
	return &processorFixture{
		proc:   NewWebhookProcessor(svc, events, slog.Default()),
		users:  users,
		subs:   subs,
		keys:   keys,
		events: events,
	}
}

func event(eventType string, data map[string]any) *Event {
	raw, _ := json.Marshal(data)
	return &Event{
		Event:     eventType,
		Timestamp: time.Now().Unix(),
		Data:      raw,
	}
}

func TestCheckReplay(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)

	fresh := &Event{Timestamp: time.Now().Unix()}
	assert.NoError(t, fx.proc.CheckReplay(fresh))

	stale := &Event{Timestamp: time.Now().Add(-6 * time.Minute).Unix()}
	assert.Error(t, fx.proc.CheckReplay(stale))

	missing := &Event{}
	assert.Error(t, fx.proc.CheckReplay(missing))
}

func TestProcess_UserSubscribed(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	e := event(EventUserSubscribed, map[string]any{
		"externalUserId": "ext-1",
		"email":          "a@b.co",
		"plan":           "pro",
	})

	result, err := fx.proc.Process(context.Background(), e, []byte(`{}`))
	require.NoError(t, err)

	resp, ok := result.(*SubscribedResponse)
	require.True(t, ok)
	assert.True(t, resp.Created)
	assert.Equal(t, "pro", resp.Plan)
	assert.Equal(t, int64(10000), resp.MonthlyQuota)
	assert.Len(t, resp.KeyPrefix, 16)
	assert.Contains(t, resp.KeyPrefix, KeyPrefix[:9])

	// DB state: user, active subscription, one hashed key.
	user := fx.users.byExternal["ext-1"]
	require.NotNil(t, user)
	assert.Equal(t, model.PlanPro, user.Plan)

	sub := fx.subs.byUser[user.ID]
	require.NotNil(t, sub)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Equal(t, int64(10000), sub.MonthlyQuota)

	require.Len(t, fx.keys.created, 1)
	assert.Len(t, fx.keys.created[0].KeyHash, 64)

	// Audit row recorded and flipped to processed.
	require.Len(t, fx.events.inserted, 1)
	assert.Equal(t, EventUserSubscribed, fx.events.inserted[0].EventType)
	assert.Nil(t, fx.events.processed[1])
}

func TestProcess_UserSubscribedIdempotent(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	e := event(EventUserSubscribed, map[string]any{
		"externalUserId": "ext-1", "email": "a@b.co", "plan": "pro",
	})

	_, err := fx.proc.Process(context.Background(), e, []byte(`{}`))
	require.NoError(t, err)

	result, err := fx.proc.Process(context.Background(), e, []byte(`{}`))
	require.NoError(t, err)

	resp := result.(*SubscribedResponse)
	assert.False(t, resp.Created)
	assert.Empty(t, resp.KeyPrefix, "no new key on replayed subscribe")
	assert.Len(t, fx.keys.created, 1)
	assert.Len(t, fx.users.byID, 1)
}

func TestProcess_PlanChanged(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	_, err := fx.proc.Process(context.Background(), event(EventUserSubscribed, map[string]any{
		"externalUserId": "ext-1", "email": "a@b.co", "plan": "starter",
	}), []byte(`{}`))
	require.NoError(t, err)

	_, err = fx.proc.Process(context.Background(), event(EventUserPlanChanged, map[string]any{
		"externalUserId": "ext-1", "plan": "enterprise",
	}), []byte(`{}`))
	require.NoError(t, err)

	user := fx.users.byExternal["ext-1"]
	assert.Equal(t, model.PlanEnterprise, user.Plan)
	sub := fx.subs.byUser[user.ID]
	assert.Equal(t, int64(100000), sub.MonthlyQuota)
	assert.Equal(t, 600, sub.RateLimitPerMinute)
}

func TestProcess_Cancelled(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	_, err := fx.proc.Process(context.Background(), event(EventUserSubscribed, map[string]any{
		"externalUserId": "ext-1", "email": "a@b.co", "plan": "pro",
	}), []byte(`{}`))
	require.NoError(t, err)

	_, err = fx.proc.Process(context.Background(), event(EventUserCancelled, map[string]any{
		"externalUserId": "ext-1",
	}), []byte(`{}`))
	require.NoError(t, err)

	user := fx.users.byExternal["ext-1"]
	assert.Equal(t, model.UserStatusCancelled, user.Status)
	sub := fx.subs.byUser[user.ID]
	assert.Equal(t, model.SubscriptionCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
}

func TestProcess_RenewedResetsUsageAndAdvancesWindow(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	_, err := fx.proc.Process(context.Background(), event(EventUserSubscribed, map[string]any{
		"externalUserId": "ext-1", "email": "a@b.co", "plan": "pro",
	}), []byte(`{}`))
	require.NoError(t, err)

	user := fx.users.byExternal["ext-1"]
	sub := fx.subs.byUser[user.ID]
	sub.CurrentUsage = 9999
	sub.Status = model.SubscriptionCancelled
	oldEnd := sub.BillingPeriodEnd

	_, err = fx.proc.Process(context.Background(), event(EventUserRenewed, map[string]any{
		"externalUserId": "ext-1",
	}), []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Zero(t, sub.CurrentUsage)
	assert.True(t, sub.BillingPeriodEnd.After(oldEnd.Add(-time.Hour)))
	assert.Equal(t, model.UserStatusActive, fx.users.byExternal["ext-1"].Status)
}

func TestProcess_UnknownEvent(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	_, err := fx.proc.Process(context.Background(), event("user.teleported", nil), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	// Audit row still written, marked with the error.
	require.Len(t, fx.events.inserted, 1)
	require.NotNil(t, fx.events.processed[1])
}

func TestProcess_UnknownUserLifecycleEvents(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	for _, eventType := range []string{EventUserPlanChanged, EventUserCancelled, EventUserRenewed} {
		_, err := fx.proc.Process(context.Background(), event(eventType, map[string]any{
			"externalUserId": "ghost",
		}), []byte(`{}`))
		assert.ErrorIs(t, err, ErrUserNotFound, eventType)
	}
}

func TestProcess_HandlerFailureLeavesUnprocessed(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	// Missing email makes the subscribe handler fail.
	_, err := fx.proc.Process(context.Background(), event(EventUserSubscribed, map[string]any{
		"externalUserId": "ext-1",
	}), []byte(`{}`))
	require.Error(t, err)

	require.Len(t, fx.events.inserted, 1)
	msg := fx.events.processed[1]
	require.NotNil(t, msg)
	assert.Contains(t, *msg, "email")
}

func TestNormalizePayload_FieldPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     string
		field    string
		expected string
	}{
		{"camelCase wins", `{"externalUserId":"camel","external_user_id":"snake"}`, "externalUserId", "camel"},
		{"snake_case second", `{"external_user_id":"snake","External User Id":"title"}`, "externalUserId", "snake"},
		{"title case last", `{"External User Id":"title"}`, "externalUserId", "title"},
		{"full name variants", `{"full_name":"Ada"}`, "fullName", "Ada"},
		{"missing", `{}`, "email", ""},
		{"invalid json", `not-json`, "email", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := normalizePayload(json.RawMessage(tc.data))
			assert.Equal(t, tc.expected, out[tc.field])
		})
	}
}

func TestProcess_SnakeCasePayloadAccepted(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	raw, _ := json.Marshal(map[string]any{
		"external_user_id": "ext-2",
		"email":            "c@d.co",
		"plan":             "starter",
	})
	e := &Event{Event: EventUserSubscribed, Timestamp: time.Now().Unix(), Data: raw}

	result, err := fx.proc.Process(context.Background(), e, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, result.(*SubscribedResponse).Created)
	assert.NotNil(t, fx.users.byExternal["ext-2"])
}

func TestProcess_AuditPayloadIsRawBody(t *testing.T) {
	t.Parallel()

	fx := newProcessor(t)
	rawBody := []byte(`{"event":"user.subscribed","data":{"externalUserId":"ext-1","email":"a@b.co"}}`)
	e := event(EventUserSubscribed, map[string]any{
		"externalUserId": "ext-1", "email": "a@b.co",
	})

	_, err := fx.proc.Process(context.Background(), e, rawBody)
	require.NoError(t, err)
	assert.JSONEq(t, string(rawBody), string(fx.events.inserted[0].Payload))
}
