package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
	"github.com/Lew-Ashby/Token-Flow-API/internal/tenant"
)

// handlerDeadline is the overall per-request budget; upstream calls
// inherit what remains of it.
const handlerDeadline = 30 * time.Second

type contextKey int

const (
	requestIDKey contextKey = iota
	authKey
)

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func authFrom(ctx context.Context) *store.AuthRecord {
	if rec, ok := ctx.Value(authKey).(*store.AuthRecord); ok {
		return rec
	}
	return nil
}

// statusWriter captures the status code for metrics and the usage log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// wrap applies the outermost middleware stack: panic recovery, request id,
// deadline, security headers, HTTPS enforcement, CORS, and metrics.
func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		ctx, cancel := context.WithTimeout(r.Context(), handlerDeadline)
		defer cancel()
		ctx = context.WithValue(ctx, requestIDKey, reqID)
		r = r.WithContext(ctx)

		s.setSecurityHeaders(w)

		if s.cfg.IsProduction() && !isSecureRequest(r) {
			writeError(w, r, http.StatusForbidden, codeHTTPSRequired, "plain HTTP is not accepted")
			return
		}

		if s.handleCORS(w, r) {
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked", "panic", p, "path", r.URL.Path, "request_id", reqID)
				writeError(sw, r, http.StatusInternalServerError, codeInternal, "internal error")
			}
			endpoint := metricEndpoint(r.URL.Path)
			metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, strconv.Itoa(sw.status)).Inc()
			metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(sw, r)
	})
}

func (s *Server) setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	if s.cfg.IsProduction() {
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	}
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// handleCORS sets the allow headers and answers preflights. Returns true
// when the request was fully handled.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	allowed := !s.cfg.IsProduction()
	for _, o := range s.cfg.Server.AllowedOrigins {
		if o == origin || o == "*" {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, x-api-key, X-Request-Id")
	h.Set("Vary", "Origin")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// authed gates a handler behind the tenant pipeline: authenticate, check
// quota, rate-limit, then record usage after the response without holding
// the client.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rawKey := r.Header.Get("x-api-key")
		if rawKey == "" {
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "missing x-api-key header")
			return
		}

		rec, err := s.tenants.Authenticate(r.Context(), rawKey)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		setQuotaHeaders(w, &rec.Subscription)

		if err := s.tenants.CheckQuota(&rec.Subscription); err != nil {
			writeDomainError(w, r, err)
			return
		}

		res := s.limiter.Allow(r.Context(), rec.Key.ID.String(), rec.Subscription.RateLimitPerMinute)
		setRateHeaders(w, res)
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			writeError(w, r, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}

		sw, ok := w.(*statusWriter)
		if !ok {
			sw = &statusWriter{ResponseWriter: w, status: http.StatusOK}
		}

		ctx := context.WithValue(r.Context(), authKey, rec)
		next(sw, r.WithContext(ctx))

		// Billing counters are detached from the response path and survive
		// client disconnects; the design tolerates ±1 drift per burst.
		entry := &model.ApiUsageLog{
			UserID:         rec.User.ID,
			ApiKeyID:       rec.Key.ID,
			Endpoint:       r.URL.Path,
			Method:         r.Method,
			StatusCode:     sw.status,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			UserAgent:      r.UserAgent(),
			IPAddress:      clientIP(r),
			RequestID:      requestIDFrom(ctx),
			Timestamp:      time.Now().UTC(),
		}
		go func() {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			s.tenants.RecordUsage(bg, rec, entry)
		}()
	}
}

func setRateHeaders(w http.ResponseWriter, res tenant.RateLimitResult) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func setQuotaHeaders(w http.ResponseWriter, sub *model.Subscription) {
	remaining := sub.MonthlyQuota - sub.CurrentUsage
	if remaining < 0 {
		remaining = 0
	}
	h := w.Header()
	h.Set("X-Quota-Limit", strconv.FormatInt(sub.MonthlyQuota, 10))
	h.Set("X-Quota-Remaining", strconv.FormatInt(remaining, 10))
	h.Set("X-Quota-Reset", strconv.FormatInt(sub.BillingPeriodEnd.Unix(), 10))
}

// metricEndpoint collapses path parameters so label cardinality stays
// bounded.
func metricEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/risk/"):
		return "/api/v1/risk/:address"
	case strings.HasPrefix(path, "/api/v1/intent/"):
		return "/api/v1/intent/:signature"
	case strings.HasPrefix(path, "/api/v1/users/keys/"):
		return "/api/v1/users/keys/:keyId"
	default:
		return path
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	return host
}

// adminOnly guards operational endpoints with the admin key header,
// compared in constant time.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("x-admin-key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Tenant.AdminAPIKey)) != 1 {
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid admin key")
			return
		}
		next(w, r)
	}
}
