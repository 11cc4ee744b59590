package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/circuitbreaker"
	"github.com/Lew-Ashby/Token-Flow-API/internal/config"
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/entity"
	"github.com/Lew-Ashby/Token-Flow-API/internal/flowgraph"
	"github.com/Lew-Ashby/Token-Flow-API/internal/intent"
	"github.com/Lew-Ashby/Token-Flow-API/internal/risk"
	"github.com/Lew-Ashby/Token-Flow-API/internal/store"
	"github.com/Lew-Ashby/Token-Flow-API/internal/tenant"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream/enhanced"
)

// Ingestor persists fetched chain data transactionally; nil disables
// ingestion.
type Ingestor interface {
	Ingest(ctx context.Context, txs []*model.ParsedTransaction, transfers []model.Transfer) error
}

// Upstream is the slice of the adapter the handlers consume; tests swap in
// fakes.
type Upstream interface {
	GetTransaction(ctx context.Context, signature string) (*model.ParsedTransaction, error)
	GetRecentTokenActivity(ctx context.Context, tokenMint string, limit int) ([]model.Transfer, error)
	GetEnhancedTransactions(ctx context.Context, signatures []string) ([]enhanced.Transaction, error)
	Ping(ctx context.Context) error
	BreakerState() circuitbreaker.State
}

// Server is the HTTP surface. Routing uses stdlib method patterns; every
// dependency arrives as an interface or small struct so tests can build a
// Server around fakes.
type Server struct {
	cfg      *config.Config
	tenants  *tenant.Service
	limiter  *tenant.RateLimiter
	webhooks *tenant.WebhookProcessor
	upstream Upstream
	flows    *flowgraph.Engine
	risks    *risk.Engine
	intents  *intent.Client
	entities *entity.Registry
	users    store.UserRepository
	keys     store.ApiKeyRepository
	usage    store.UsageLogRepository
	kv       cache.KV
	ingest   Ingestor
	dbPing   func(ctx context.Context) error
	logger   *slog.Logger
}

type Deps struct {
	Config   *config.Config
	Tenants  *tenant.Service
	Limiter  *tenant.RateLimiter
	Webhooks *tenant.WebhookProcessor
	Upstream Upstream
	Flows    *flowgraph.Engine
	Risks    *risk.Engine
	Intents  *intent.Client
	Entities *entity.Registry
	Users    store.UserRepository
	Keys     store.ApiKeyRepository
	Usage    store.UsageLogRepository
	KV       cache.KV
	Ingest   Ingestor
	DBPing   func(ctx context.Context) error
}

func New(d Deps, logger *slog.Logger) *Server {
	return &Server{
		cfg:      d.Config,
		tenants:  d.Tenants,
		limiter:  d.Limiter,
		webhooks: d.Webhooks,
		upstream: d.Upstream,
		flows:    d.Flows,
		risks:    d.Risks,
		intents:  d.Intents,
		entities: d.Entities,
		users:    d.Users,
		keys:     d.Keys,
		usage:    d.Usage,
		kv:       d.KV,
		ingest:   d.Ingest,
		dbPing:   d.DBPing,
		logger:   logger.With("component", "server"),
	}
}

// Handler builds the routed, middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/analyze/path", s.authed(s.handleAnalyzePath))
	mux.HandleFunc("GET /api/v1/analyze/path", s.authed(s.handleAnalyzePath))
	mux.HandleFunc("GET /api/v1/risk/{address}", s.authed(s.handleRisk))
	mux.HandleFunc("GET /api/v1/intent/{signature}", s.authed(s.handleIntent))
	mux.HandleFunc("POST /api/v1/trace", s.authed(s.handleTrace))
	mux.HandleFunc("POST /api/v1/analyze/token", s.authed(s.handleAnalyzeToken))
	mux.HandleFunc("GET /api/v1/analyze/token", s.authed(s.handleAnalyzeToken))

	mux.HandleFunc("POST /api/v1/users/register", s.handleRegister)
	mux.HandleFunc("GET /api/v1/users/me", s.authed(s.handleMe))
	mux.HandleFunc("GET /api/v1/users/usage", s.authed(s.handleUsage))
	mux.HandleFunc("GET /api/v1/users/keys", s.authed(s.handleListKeys))
	mux.HandleFunc("POST /api/v1/users/keys", s.authed(s.handleCreateKey))
	mux.HandleFunc("DELETE /api/v1/users/keys/{keyId}", s.authed(s.handleRevokeKey))
	mux.HandleFunc("POST /api/v1/users/plan", s.authed(s.handleUpdatePlan))
	mux.HandleFunc("POST /api/v1/users/cancel", s.authed(s.handleCancel))

	mux.HandleFunc("POST /webhooks/apix", s.handleWebhook)

	mux.HandleFunc("GET /api/v1/admin/stats", s.adminOnly(s.handleAdminStats))

	return s.wrap(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth reports subsystem state. Liveness stays 200 even when a
// dependency is degraded; the payload says which.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "token-flow-api",
	}

	dbStatus := "ok"
	if s.dbPing != nil {
		if err := s.dbPing(ctx); err != nil {
			dbStatus = "down"
			health["status"] = "degraded"
		}
	}
	health["database"] = dbStatus

	kvStatus := "ok"
	if _, isNoop := s.kv.(*cache.Noop); isNoop {
		kvStatus = "disabled"
	} else if err := s.kv.Ping(ctx); err != nil {
		kvStatus = "down"
	}
	health["cache"] = kvStatus

	health["upstreamBreaker"] = s.upstream.BreakerState().String()
	if err := s.upstream.Ping(ctx); err != nil {
		health["upstream"] = "down"
		health["status"] = "degraded"
	} else {
		health["upstream"] = "ok"
	}

	if s.intents != nil {
		if ih, err := s.intents.CheckHealth(ctx); err != nil {
			health["intentService"] = "down"
		} else if ih != nil {
			health["intentService"] = map[string]any{
				"status":      ih.Status,
				"modelLoaded": ih.ModelLoaded,
			}
		}
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userCount, err := s.users.Count(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	keyCount, err := s.keys.Count(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":      userCount,
		"activeKeys": keyCount,
	})
}
