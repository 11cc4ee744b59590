package tenant

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
)

// replayWindow bounds how old a webhook timestamp may be.
const replayWindow = 5 * time.Minute

const webhookSource = "apix"

// Webhook event types in the marketplace catalog.
const (
	EventUserSubscribed  = "user.subscribed"
	EventUserPlanChanged = "user.plan_changed"
	EventUserCancelled   = "user.cancelled"
	EventUserRenewed     = "user.renewed"
)

// VerifySignature checks hex(HMAC-SHA256(secret, rawBody)) against the
// header value in constant time.
func VerifySignature(secret string, rawBody []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(header)))
}

// WebhookProcessor applies marketplace lifecycle events to tenant state.
// Every event is logged to the audit table before handling; the processed
// flag flips only after the handler commits, so a retried identical event
// converges instead of double-applying.
type WebhookProcessor struct {
	svc    *Service
	events store.WebhookEventRepository
	nowFn  func() time.Time
	logger *slog.Logger
}

func NewWebhookProcessor(svc *Service, events store.WebhookEventRepository, logger *slog.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		svc:    svc,
		events: events,
		nowFn:  time.Now,
		logger: logger.With("component", "webhook"),
	}
}

// Event is the decoded webhook envelope.
type Event struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"` // unix seconds
	Data      json.RawMessage `json:"data"`
}

// SubscribedResponse is the reply for user.subscribed: the key prefix is
// included for display, the raw key is delivered out of band and never
// returned here.
type SubscribedResponse struct {
	UserID       string `json:"userId"`
	Plan         string `json:"plan"`
	MonthlyQuota int64  `json:"monthlyQuota"`
	KeyPrefix    string `json:"keyPrefix"`
	Created      bool   `json:"created"`
}

// CheckReplay rejects events whose timestamp is older than the window.
// Zero timestamps are rejected too: an attacker must not be able to strip
// the field to bypass the check.
func (p *WebhookProcessor) CheckReplay(e *Event) error {
	if e.Timestamp == 0 {
		return fmt.Errorf("missing timestamp")
	}
	age := p.nowFn().Sub(time.Unix(e.Timestamp, 0))
	if age > replayWindow {
		return fmt.Errorf("timestamp %ds old exceeds replay window", int(age.Seconds()))
	}
	return nil
}

// Process logs and applies one event. The returned payload is the handler
// response body; the error maps to a 4xx/5xx so the marketplace retries.
func (p *WebhookProcessor) Process(ctx context.Context, e *Event, rawBody []byte) (any, error) {
	auditID, err := p.events.Insert(ctx, &model.WebhookEvent{
		Source:    webhookSource,
		EventType: e.Event,
		Payload:   json.RawMessage(rawBody),
	})
	if err != nil {
		return nil, fmt.Errorf("audit webhook event: %w", err)
	}

	result, handleErr := p.handle(ctx, e)

	outcome := "ok"
	var auditErr *string
	if handleErr != nil {
		outcome = "error"
		msg := handleErr.Error()
		auditErr = &msg
	}
	if err := p.events.MarkProcessed(ctx, auditID, auditErr); err != nil {
		p.logger.Warn("webhook audit update failed", "audit_id", auditID, "error", err)
	}
	metrics.WebhookEventsTotal.WithLabelValues(e.Event, outcome).Inc()

	return result, handleErr
}

func (p *WebhookProcessor) handle(ctx context.Context, e *Event) (any, error) {
	payload := normalizePayload(e.Data)

	switch e.Event {
	case EventUserSubscribed:
		return p.handleSubscribed(ctx, payload)
	case EventUserPlanChanged:
		return p.handlePlanChanged(ctx, payload)
	case EventUserCancelled:
		return p.handleCancelled(ctx, payload)
	case EventUserRenewed:
		return p.handleRenewed(ctx, payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Event)
	}
}

func (p *WebhookProcessor) handleSubscribed(ctx context.Context, payload map[string]string) (any, error) {
	externalID := payload["externalUserId"]
	email := strings.ToLower(strings.TrimSpace(payload["email"]))
	plan := model.Plan(payload["plan"])

	if externalID == "" || email == "" {
		return nil, fmt.Errorf("user.subscribed requires externalUserId and email")
	}

	// Idempotent: a known external user is returned, not duplicated.
	existing, err := p.svc.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("lookup external user: %w", err)
	}
	if existing != nil {
		sub, err := p.svc.subs.FindActiveByUserID(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("lookup subscription: %w", err)
		}
		resp := &SubscribedResponse{
			UserID:  existing.ID.String(),
			Plan:    string(existing.Plan),
			Created: false,
		}
		if sub != nil {
			resp.MonthlyQuota = sub.MonthlyQuota
		}
		return resp, nil
	}

	reg, err := p.svc.createTenant(ctx, email, optional(payload["fullName"]), optional(payload["companyName"]), &externalID, plan)
	if err != nil {
		return nil, err
	}
	return &SubscribedResponse{
		UserID:       reg.User.ID.String(),
		Plan:         string(reg.User.Plan),
		MonthlyQuota: reg.Subscription.MonthlyQuota,
		KeyPrefix:    reg.KeyPrefix,
		Created:      true,
	}, nil
}

func (p *WebhookProcessor) handlePlanChanged(ctx context.Context, payload map[string]string) (any, error) {
	user, err := p.lookupByExternalID(ctx, payload)
	if err != nil {
		return nil, err
	}

	plan := model.Plan(payload["plan"])
	spec, err := p.svc.UpdatePlan(ctx, user.ID, plan)
	if err != nil {
		return nil, err
	}
	return map[string]any{"userId": user.ID.String(), "plan": spec.Plan}, nil
}

func (p *WebhookProcessor) handleCancelled(ctx context.Context, payload map[string]string) (any, error) {
	user, err := p.lookupByExternalID(ctx, payload)
	if err != nil {
		return nil, err
	}
	if err := p.svc.Cancel(ctx, user.ID); err != nil {
		return nil, err
	}
	return map[string]any{"userId": user.ID.String(), "status": model.UserStatusCancelled}, nil
}

func (p *WebhookProcessor) handleRenewed(ctx context.Context, payload map[string]string) (any, error) {
	user, err := p.lookupByExternalID(ctx, payload)
	if err != nil {
		return nil, err
	}

	now := p.nowFn().UTC()
	err = p.svc.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := p.svc.subs.RenewTx(ctx, tx, user.ID, now, now.AddDate(0, 1, 0)); err != nil {
			return err
		}
		return p.svc.users.UpdatePlanStatusTx(ctx, tx, user.ID, user.Plan, model.UserStatusActive)
	})
	if err != nil {
		return nil, fmt.Errorf("renew: %w", err)
	}
	return map[string]any{"userId": user.ID.String(), "status": model.UserStatusActive}, nil
}

func (p *WebhookProcessor) lookupByExternalID(ctx context.Context, payload map[string]string) (*model.User, error) {
	externalID := payload["externalUserId"]
	if externalID == "" {
		return nil, fmt.Errorf("missing externalUserId")
	}
	user, err := p.svc.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("lookup external user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// payloadAliases maps each canonical field to the variants the marketplace
// has been observed to send. Priority: camelCase, then snake_case, then
// Title Case.
var payloadAliases = map[string][]string{
	"externalUserId": {"externalUserId", "external_user_id", "External User Id", "userId", "user_id"},
	"email":          {"email", "Email"},
	"plan":           {"plan", "Plan"},
	"fullName":       {"fullName", "full_name", "Full Name", "name"},
	"companyName":    {"companyName", "company_name", "Company Name"},
}

// normalizePayload flattens the data object into canonical string fields.
func normalizePayload(data json.RawMessage) map[string]string {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]string{}
	}

	out := make(map[string]string, len(payloadAliases))
	for canonical, aliases := range payloadAliases {
		for _, alias := range aliases {
			if v, ok := raw[alias]; ok {
				if s, ok := v.(string); ok && s != "" {
					out[canonical] = s
					break
				}
			}
		}
	}
	return out
}
