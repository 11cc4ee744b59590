package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Lew-Ashby/Token-Flow-API/internal/tenant"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream"
)

// Error codes carried in the {error, message, requestId} envelope.
const (
	codeInvalidRequest       = "invalid_request"
	codeInvalidTimeRange     = "invalid_time_range"
	codeUnauthenticated      = "unauthenticated"
	codeSubscriptionInactive = "subscription_inactive"
	codeQuotaExceeded        = "quota_exceeded"
	codeRateLimited          = "rate_limited"
	codeNotFound             = "not_found"
	codeConflict             = "conflict"
	codeUpstreamUnavailable  = "upstream_unavailable"
	codeUpstreamRateLimited  = "upstream_rate_limited"
	codeUpstreamBadResponse  = "upstream_bad_response"
	codeHTTPSRequired        = "https_required"
	codeUnknownEvent         = "unknown_event"
	codeInternal             = "internal"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	})
}

// writeDomainError maps service-layer failures onto the HTTP taxonomy.
// Upstream failures surface sanitized: the client gets the kind, the logs
// get the detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *tenant.QuotaExceededError
	var rateErr *tenant.RateLimitedError

	switch {
	case errors.Is(err, tenant.ErrInvalidKey):
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid or missing API key")
	case errors.Is(err, tenant.ErrSubscriptionInactive):
		writeError(w, r, http.StatusUnauthorized, codeSubscriptionInactive, "subscription is not active")
	case errors.As(err, &quotaErr):
		w.Header().Set("X-Quota-Reset", strconv.FormatInt(quotaErr.ResetAt.Unix(), 10))
		writeError(w, r, http.StatusTooManyRequests, codeQuotaExceeded, quotaErr.Error())
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())+1))
		writeError(w, r, http.StatusTooManyRequests, codeRateLimited, rateErr.Error())
	case errors.Is(err, tenant.ErrEmailExists):
		writeError(w, r, http.StatusConflict, codeConflict, "email already registered")
	case errors.Is(err, tenant.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, tenant.ErrUnknownEvent):
		writeError(w, r, http.StatusBadRequest, codeUnknownEvent, "unknown webhook event")
	case errors.Is(err, upstream.ErrRateLimited):
		writeError(w, r, http.StatusServiceUnavailable, codeUpstreamRateLimited, "upstream provider is rate limiting")
	case errors.Is(err, upstream.ErrBadResponse):
		writeError(w, r, http.StatusBadGateway, codeUpstreamBadResponse, "upstream provider returned an unusable response")
	case errors.Is(err, upstream.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, codeUpstreamUnavailable, "upstream provider is unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
