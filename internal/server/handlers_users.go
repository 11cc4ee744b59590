package server

import (
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

type registerRequest struct {
	Email       string `json:"email"`
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName"`
	Plan        string `json:"plan"`
}

// handleRegister is the public signup path: user + subscription + first
// key in one transaction. The raw key appears in this response and nowhere
// else, ever.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "email is not valid")
		return
	}

	plan := model.PlanStarter
	if req.Plan != "" {
		if _, ok := model.PlanCatalog[model.Plan(req.Plan)]; !ok {
			writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "plan must be starter, pro or enterprise")
			return
		}
		plan = model.Plan(req.Plan)
	}

	reg, err := s.tenants.Register(r.Context(), email, req.FullName, req.CompanyName, plan)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"userId": reg.User.ID,
		"email":  reg.User.Email,
		"plan":   reg.User.Plan,
		"apiKey": reg.RawKey,
		"subscription": map[string]any{
			"monthlyQuota":       reg.Subscription.MonthlyQuota,
			"rateLimitPerMinute": reg.Subscription.RateLimitPerMinute,
			"billingPeriodEnd":   reg.Subscription.BillingPeriodEnd,
		},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	rec := authFrom(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      rec.User.ID,
		"email":       rec.User.Email,
		"fullName":    rec.User.FullName,
		"companyName": rec.User.CompanyName,
		"plan":        rec.User.Plan,
		"status":      rec.User.Status,
		"createdAt":   rec.User.CreatedAt,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	rec := authFrom(r.Context())
	sub := rec.Subscription

	summary, err := s.usage.SummaryByUser(r.Context(), rec.User.ID, sub.BillingPeriodStart)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	remaining := sub.MonthlyQuota - sub.CurrentUsage
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":               sub.Plan,
		"monthlyQuota":       sub.MonthlyQuota,
		"currentUsage":       sub.CurrentUsage,
		"remaining":          remaining,
		"billingPeriodStart": sub.BillingPeriodStart,
		"billingPeriodEnd":   sub.BillingPeriodEnd,
		"totalCalls":         summary.TotalCalls,
		"avgResponseMs":      summary.AvgResponseMs,
		"byEndpoint":         summary.ByEndpoint,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	rec := authFrom(r.Context())

	keys, err := s.tenants.ListKeys(r.Context(), rec.User.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	type keyView struct {
		ID         uuid.UUID  `json:"id"`
		KeyPrefix  string     `json:"keyPrefix"`
		Name       *string    `json:"name"`
		Active     bool       `json:"active"`
		TotalCalls int64      `json:"totalCalls"`
		CreatedAt  time.Time  `json:"createdAt"`
		LastUsedAt *time.Time `json:"lastUsedAt"`
		RevokedAt  *time.Time `json:"revokedAt"`
	}
	out := make([]keyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyView{
			ID:         k.ID,
			KeyPrefix:  k.KeyPrefix,
			Name:       k.Name,
			Active:     k.Active,
			TotalCalls: k.TotalCalls,
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
			RevokedAt:  k.RevokedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	rec := authFrom(r.Context())

	// An empty body means an unnamed key.
	var req createKeyRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	key, raw, err := s.tenants.CreateKey(r.Context(), rec.User.ID, req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        key.ID,
		"apiKey":    raw,
		"keyPrefix": key.KeyPrefix,
		"name":      key.Name,
	})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	rec := authFrom(r.Context())

	keyID, err := uuid.Parse(r.PathValue("keyId"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "keyId must be a UUID")
		return
	}

	if err := s.tenants.RevokeKey(r.Context(), rec.User.ID, keyID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

type updatePlanRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	rec := authFrom(r.Context())

	var req updatePlanRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	if _, ok := model.PlanCatalog[model.Plan(req.Plan)]; !ok {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "plan must be starter, pro or enterprise")
		return
	}

	spec, err := s.tenants.UpdatePlan(r.Context(), rec.User.ID, model.Plan(req.Plan))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plan":               spec.Plan,
		"monthlyQuota":       spec.MonthlyQuota,
		"rateLimitPerMinute": spec.RateLimitPerMinute,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec := authFrom(r.Context())

	if err := s.tenants.Cancel(r.Context(), rec.User.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": model.UserStatusCancelled})
}
